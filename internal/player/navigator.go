package player

import (
	"context"
	"log/slog"
	"sync"

	"github.com/p-n-ai/pai-player/internal/lesson"
)

// StepStarter issues the start-step signal.
type StepStarter interface {
	StartStep(ctx context.Context, stepID int64) error
}

// NavigatorConfig holds dependencies for the navigation controller.
type NavigatorConfig struct {
	Store    *Store
	Starter  StepStarter
	Notifier Notifier

	// OnStepChange runs after the current step changed to a different step.
	// prev is nil for the first step of a lesson.
	OnStepChange func(prev, next *lesson.Step)
	// OnScrollToHeader runs after every committed navigation.
	OnScrollToHeader func(stepID int64)
}

// Navigator owns the current step pointer of a session.
type Navigator struct {
	store          *Store
	starter        StepStarter
	notifier       Notifier
	onStepChange   func(prev, next *lesson.Step)
	onScrollHeader func(stepID int64)

	mu       sync.Mutex
	lessonID int64
	current  *lesson.Step
	index    int
	started  map[int64]bool
}

// NewNavigator creates a navigator. Call Sync whenever the store changes.
func NewNavigator(cfg NavigatorConfig) *Navigator {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Navigator{
		store:          cfg.Store,
		starter:        cfg.Starter,
		notifier:       notifier,
		onStepChange:   cfg.OnStepChange,
		onScrollHeader: cfg.OnScrollToHeader,
		started:        make(map[int64]bool),
	}
}

// Current returns the current step and its index.
func (n *Navigator) Current() (lesson.Step, int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return lesson.Step{}, 0, false
	}
	return *n.current, n.index, true
}

// Started reports whether stepID was started in this session.
func (n *Navigator) Started(stepID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started[stepID]
}

// initialIndex picks the first in-progress or available step, or 0.
func initialIndex(steps []lesson.Step) int {
	for i, s := range steps {
		if s.Status == lesson.StatusInProgress || s.Status == lesson.StatusAvailable {
			return i
		}
	}
	return 0
}

// Sync reconciles the pointer with a new snapshot: it resets on lesson
// change, initializes when unset and refreshes the held step when the server
// copy differs. A step entered for the first time is started once.
func (n *Navigator) Sync(ctx context.Context, snap lesson.Snapshot) {
	n.mu.Lock()
	if n.lessonID != snap.Lesson.ID {
		n.lessonID = snap.Lesson.ID
		n.current = nil
		n.index = 0
		n.started = make(map[int64]bool)
	}
	if len(snap.Steps) == 0 {
		n.mu.Unlock()
		return
	}

	var prev *lesson.Step
	changed := false
	if n.current != nil {
		if i := snap.StepIndex(n.current.ID); i >= 0 {
			n.index = i
			fresh := snap.Steps[i]
			if !n.current.SameState(fresh) || n.current.HasContent != fresh.HasContent {
				n.current = &fresh
			}
		} else {
			prev = n.current
			n.current = nil
		}
	}
	if n.current == nil {
		n.index = initialIndex(snap.Steps)
		step := snap.Steps[n.index]
		n.current = &step
		changed = true
	}

	cur := *n.current
	start := n.claimStartLocked(cur)
	n.mu.Unlock()

	if changed && n.onStepChange != nil {
		n.onStepChange(prev, &cur)
	}
	if start {
		n.start(ctx, cur.ID)
	}
}

// claimStartLocked marks step as started if it should be started now.
func (n *Navigator) claimStartLocked(step lesson.Step) bool {
	if !step.Status.Startable() || n.started[step.ID] {
		return false
	}
	n.started[step.ID] = true
	return true
}

func (n *Navigator) start(ctx context.Context, stepID int64) {
	if n.starter == nil {
		return
	}
	if err := n.starter.StartStep(ctx, stepID); err != nil {
		slog.Debug("auto-start failed", "step_id", stepID, "error", err)
	}
}

func (n *Navigator) reject(kind, msg string, stepID int64, err error) error {
	n.notifier.Notify(Notification{Kind: kind, Level: LevelWarning, Message: msg, StepID: stepID})
	return err
}

// NavigateToStep moves to the step at index if the lesson's policy allows it.
func (n *Navigator) NavigateToStep(ctx context.Context, index int) error {
	snap, ok := n.store.Snapshot()
	if !ok {
		return ErrNotLoaded
	}
	if index < 0 || index >= len(snap.Steps) {
		return ErrStepOutOfRange
	}
	target := snap.Steps[index]

	if target.Status == lesson.StatusLocked {
		return n.reject(KindStepLocked, "This step is locked.", target.ID, ErrStepLocked)
	}
	if !target.HasContent {
		return n.reject(KindContentMissing, "This step's content is not available yet.", target.ID, ErrContentUnavailable)
	}

	n.mu.Lock()
	from := n.index
	if n.current == nil {
		from = 0
	}
	if index > from && snap.Lesson.Config.SequentialGate() {
		for i := from; i < index; i++ {
			if snap.Steps[i].Status != lesson.StatusCompleted {
				n.mu.Unlock()
				return n.reject(KindCompleteEarlier, "Complete the earlier steps first.", target.ID, ErrCompleteEarlierSteps)
			}
		}
	}

	prev := n.current
	n.lessonID = snap.Lesson.ID
	n.current = &target
	n.index = index
	start := n.claimStartLocked(target)
	n.mu.Unlock()

	if n.onStepChange != nil && (prev == nil || prev.ID != target.ID) {
		n.onStepChange(prev, &target)
	}
	if n.onScrollHeader != nil {
		n.onScrollHeader(target.ID)
	}
	if start {
		n.start(ctx, target.ID)
	}
	return nil
}

// GoToNextStep advances one step. Under a sequential gate the current step
// must be completed first.
func (n *Navigator) GoToNextStep(ctx context.Context) error {
	snap, ok := n.store.Snapshot()
	if !ok {
		return ErrNotLoaded
	}
	n.mu.Lock()
	idx := n.index
	n.mu.Unlock()

	if idx+1 >= len(snap.Steps) {
		return ErrNoNextStep
	}
	if snap.Lesson.Config.SequentialGate() && snap.Steps[idx].Status != lesson.StatusCompleted {
		return n.reject(KindCompleteEarlier, "Complete this step first.", snap.Steps[idx].ID, ErrCompleteEarlierSteps)
	}
	return n.NavigateToStep(ctx, idx+1)
}

// GoToPreviousStep moves back one step.
func (n *Navigator) GoToPreviousStep(ctx context.Context) error {
	snap, ok := n.store.Snapshot()
	if !ok {
		return ErrNotLoaded
	}
	n.mu.Lock()
	idx := n.index
	n.mu.Unlock()

	if idx <= 0 {
		return ErrNoPreviousStep
	}
	if idx > len(snap.Steps) {
		return ErrStepOutOfRange
	}
	if snap.Steps[idx-1].Status == lesson.StatusLocked {
		return n.reject(KindStepLocked, "This step is locked.", snap.Steps[idx-1].ID, ErrStepLocked)
	}
	return n.NavigateToStep(ctx, idx-1)
}

// CanGoNext reports whether GoToNextStep would currently be allowed.
func (n *Navigator) CanGoNext(snap lesson.Snapshot) bool {
	n.mu.Lock()
	idx := n.index
	n.mu.Unlock()

	if idx+1 >= len(snap.Steps) {
		return false
	}
	next := snap.Steps[idx+1]
	if next.Status == lesson.StatusLocked || !next.HasContent {
		return false
	}
	return !snap.Lesson.Config.SequentialGate() || snap.Steps[idx].Status == lesson.StatusCompleted
}

// CanGoPrevious reports whether GoToPreviousStep would currently be allowed.
func (n *Navigator) CanGoPrevious(snap lesson.Snapshot) bool {
	n.mu.Lock()
	idx := n.index
	n.mu.Unlock()

	return idx > 0 && idx <= len(snap.Steps) && snap.Steps[idx-1].Status != lesson.StatusLocked
}
