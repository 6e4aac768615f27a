// Package player runs the lesson progress state machine for one learner
// session: the lesson cache, step completion, lesson completion, step
// navigation and the per-content-type progress emitters.
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

// Timings are the session's timer settings. Zero values use the defaults.
type Timings struct {
	CompletionCooldown  time.Duration
	LessonCheckDelay    time.Duration
	LessonGuardCooldown time.Duration
	ProgressDebounce    time.Duration
	TextSettleDelay     time.Duration
	TextTick            time.Duration
}

// DefaultTimings returns the standard timer settings.
func DefaultTimings() Timings {
	return Timings{
		CompletionCooldown:  defaultCompletionCooldown,
		LessonCheckDelay:    defaultLessonCheckDelay,
		LessonGuardCooldown: defaultLessonGuardCooldown,
		ProgressDebounce:    defaultProgressDebounce,
		TextSettleDelay:     defaultTextSettleDelay,
		TextTick:            defaultTextTick,
	}
}

// Hooks are the presentation callbacks of a session. All are optional.
type Hooks struct {
	OnState          func(View)
	OnLessonComplete func(lessonID int64, next *int64)
	OnNextLesson     func(lessonID, nextID int64)
	OnScrollToHeader func(stepID int64)
	OnTextProgress   func(stepID int64, p TextProgress)
}

// Config holds dependencies for a session.
type Config struct {
	API        API
	Clock      clock.Clock
	Guard      Guard
	Notifier   Notifier
	Events     events.Logger
	Normalizer *lesson.Normalizer
	SessionID  string
	LearnerKey string
	Timings    Timings
	Hooks      Hooks
}

// View is the render model pushed to the client.
type View struct {
	SessionID     string                    `json:"sessionId"`
	Loading       bool                      `json:"loading"`
	Lesson        *lesson.Lesson            `json:"lesson,omitempty"`
	Progress      *lesson.Progress          `json:"progress,omitempty"`
	Steps         []lesson.Step             `json:"steps,omitempty"`
	CurrentIndex  int                       `json:"currentIndex"`
	CurrentStep   *lesson.Step              `json:"currentStep,omitempty"`
	CanGoNext     bool                      `json:"canGoNext"`
	CanGoPrevious bool                      `json:"canGoPrevious"`
	Text          *TextProgress             `json:"text,omitempty"`
	NextLessonID  *int64                    `json:"nextLessonId,omitempty"`
	Course        []lessonapi.LessonSummary `json:"course,omitempty"`
}

// Session wires the player components for one learner connection.
type Session struct {
	id         string
	learnerKey string
	clock      clock.Clock
	hooks      Hooks

	store   *Store
	tracker *Tracker
	coord   *Coordinator
	nav     *Navigator
	video   *VideoTracker
	text    *TextTracker

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	mu     sync.Mutex
	closed bool
}

// NewSession creates a session. Nothing is fetched until Open.
func NewSession(cfg Config) *Session {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	t := cfg.Timings

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		learnerKey: cfg.LearnerKey,
		clock:      c,
		hooks:      cfg.Hooks,
		ctx:        ctx,
		cancel:     cancel,
	}

	s.store = NewStore(cfg.API, cfg.Normalizer)
	s.tracker = NewTracker(TrackerConfig{
		Store:            s.store,
		API:              cfg.API,
		Guard:            cfg.Guard,
		Notifier:         notifier,
		Events:           cfg.Events,
		Clock:            c,
		GuardPrefix:      cfg.LearnerKey,
		SessionID:        id,
		LearnerKey:       cfg.LearnerKey,
		Cooldown:         t.CompletionCooldown,
		LessonCheckDelay: t.LessonCheckDelay,
	})
	s.coord = NewCoordinator(CoordinatorConfig{
		Store:            s.store,
		API:              cfg.API,
		Events:           cfg.Events,
		Clock:            c,
		SessionID:        id,
		LearnerKey:       cfg.LearnerKey,
		GuardCooldown:    t.LessonGuardCooldown,
		ProgressDebounce: t.ProgressDebounce,
		OnLessonComplete: cfg.Hooks.OnLessonComplete,
		OnNextLesson:     cfg.Hooks.OnNextLesson,
	})
	s.tracker.OnSettled(func(ctx context.Context) {
		if _, err := s.coord.CheckLessonCompletion(ctx); err != nil {
			slog.Warn("lesson completion check failed", "session_id", id, "error", err)
		}
	})
	s.video = NewVideoTracker(s.store, s.coord, s.tracker)
	s.text = NewTextTracker(TextTrackerConfig{
		Store:       s.store,
		Coordinator: s.coord,
		Tracker:     s.tracker,
		Clock:       c,
		SettleDelay: t.TextSettleDelay,
		Tick:        t.TextTick,
		OnProgress:  cfg.Hooks.OnTextProgress,
	})
	s.nav = NewNavigator(NavigatorConfig{
		Store:            s.store,
		Starter:          s.coord,
		Notifier:         notifier,
		OnStepChange:     s.stepChanged,
		OnScrollToHeader: cfg.Hooks.OnScrollToHeader,
	})
	s.unsub = s.store.Subscribe(func(snap lesson.Snapshot) {
		s.nav.Sync(s.ctx, snap)
		s.emitState()
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// LearnerKey returns the key of the learner owning the session.
func (s *Session) LearnerKey() string { return s.learnerKey }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// stepChanged releases the reading timers of the step the learner left.
func (s *Session) stepChanged(prev, next *lesson.Step) {
	if prev != nil && prev.Type == lesson.StepText && (next == nil || next.ID != prev.ID) {
		s.text.Release(prev.ID)
	}
}

// Open loads a lesson into the session. Opening a different lesson resets
// the step pointer and all per-step state.
func (s *Session) Open(ctx context.Context, lessonID int64, modelID string) (View, error) {
	if s.isClosed() {
		return View{}, ErrSessionClosed
	}
	if cur := s.store.LessonID(); cur != 0 && cur != lessonID {
		s.text.Reset()
		s.video.Reset()
		s.coord.Reset()
	}

	if err := s.coord.StartLesson(ctx, lessonID); err != nil {
		slog.Warn("lesson start signal failed", "lesson_id", lessonID, "error", err)
	}

	if s.store.LessonID() != lessonID {
		s.emitLoading()
	}
	snap, err := s.store.Load(ctx, lessonID, modelID)
	if err != nil {
		return s.View(), err
	}
	s.coord.Observe(snap)
	slog.Info("lesson opened", "session_id", s.id, "lesson_id", lessonID, "steps", len(snap.Steps))

	if _, err := s.coord.CheckLessonCompletion(ctx); err != nil {
		slog.Warn("lesson completion check failed", "session_id", s.id, "error", err)
	}
	return s.View(), nil
}

// NavigateToStep moves to the step at index.
func (s *Session) NavigateToStep(ctx context.Context, index int) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.nav.NavigateToStep(ctx, index); err != nil {
		return err
	}
	s.emitState()
	return nil
}

// GoToNextStep advances one step.
func (s *Session) GoToNextStep(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.nav.GoToNextStep(ctx); err != nil {
		return err
	}
	s.emitState()
	return nil
}

// GoToPreviousStep moves back one step.
func (s *Session) GoToPreviousStep(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.nav.GoToPreviousStep(ctx); err != nil {
		return err
	}
	s.emitState()
	return nil
}

// VideoProgress handles a playback percentage for a video step.
func (s *Session) VideoProgress(ctx context.Context, stepID int64, percent float64) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	if err := s.currentStep(stepID, lesson.StepVideo); err != nil {
		return false, err
	}
	return s.video.Progress(ctx, stepID, percent)
}

// MarkVideoComplete completes a video step manually.
func (s *Session) MarkVideoComplete(ctx context.Context, stepID int64) (bool, error) {
	if s.isClosed() {
		return false, ErrSessionClosed
	}
	if err := s.currentStep(stepID, lesson.StepVideo); err != nil {
		return false, err
	}
	return s.video.MarkComplete(ctx, stepID)
}

// TextLayout reports the rendered geometry of a text step.
func (s *Session) TextLayout(ctx context.Context, stepID int64, contentHeight, viewportHeight float64) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.currentStep(stepID, lesson.StepText); err != nil {
		return err
	}
	return s.text.Layout(ctx, stepID, contentHeight, viewportHeight)
}

// TextScroll reports the scroll position of a text step.
func (s *Session) TextScroll(ctx context.Context, stepID int64, scrollTop, scrollHeight, clientHeight float64) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := s.currentStep(stepID, lesson.StepText); err != nil {
		return err
	}
	return s.text.Scroll(ctx, stepID, scrollTop, scrollHeight, clientHeight)
}

// currentStep accepts engagement signals only for an unlocked step of the
// wanted type that the learner is looking at.
func (s *Session) currentStep(stepID int64, want lesson.StepType) error {
	if _, err := s.typedStep(stepID, want); err != nil {
		return err
	}
	if cur, _, ok := s.nav.Current(); !ok || cur.ID != stepID {
		return fmt.Errorf("step %d: %w", stepID, ErrNotCurrentStep)
	}
	return nil
}

// SetVisible reports whether the learner's tab is visible.
func (s *Session) SetVisible(visible bool) {
	s.text.SetVisible(visible)
}

// Snapshot returns the cached lesson.
func (s *Session) Snapshot() (lesson.Snapshot, bool) {
	return s.store.Snapshot()
}

// View builds the current render model.
func (s *Session) View() View {
	v := View{SessionID: s.id}
	snap, ok := s.store.Snapshot()
	if !ok {
		v.Loading = s.store.Loading()
		return v
	}

	v.Lesson = &snap.Lesson
	v.Progress = &snap.Progress
	v.Steps = snap.Steps
	v.NextLessonID = snap.NextLessonID
	v.Course = s.store.Course()
	if step, idx, ok := s.nav.Current(); ok {
		v.CurrentIndex = idx
		v.CurrentStep = &step
		if step.Type == lesson.StepText {
			if p, ok := s.text.Progress(step.ID); ok {
				v.Text = &p
			}
		}
	}
	v.CanGoNext = s.nav.CanGoNext(snap)
	v.CanGoPrevious = s.nav.CanGoPrevious(snap)
	return v
}

func (s *Session) emitState() {
	if s.hooks.OnState == nil || s.isClosed() {
		return
	}
	s.hooks.OnState(s.View())
}

func (s *Session) emitLoading() {
	if s.hooks.OnState == nil {
		return
	}
	s.hooks.OnState(View{SessionID: s.id, Loading: true})
}

// Close stops every timer owned by the session. It is safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.unsub()
	s.text.Close()
	s.tracker.Close()
	s.coord.Close()
	slog.Debug("session closed", "session_id", s.id)
}
