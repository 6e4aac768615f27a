package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

const (
	defaultTextSettleDelay = 2 * time.Second
	defaultTextTick        = 100 * time.Millisecond
	progressBucket         = 10
)

type textMode int

const (
	textUnset textMode = iota
	textScroll
	textDwell
)

func (m textMode) String() string {
	switch m {
	case textScroll:
		return "scroll"
	case textDwell:
		return "time"
	default:
		return ""
	}
}

// RequiredDwell is the foreground reading time a short text step needs:
// the step duration scaled by the completion percentage. Steps without a
// duration count as one minute.
func RequiredDwell(durationMinutes int, completePercent float64) time.Duration {
	if durationMinutes <= 0 {
		durationMinutes = 1
	}
	secs := float64(durationMinutes) * 60 * completePercent / 100
	return time.Duration(secs * float64(time.Second))
}

// ScrollPercent is how far the reader has scrolled through scrollable content.
func ScrollPercent(scrollTop, scrollHeight, clientHeight float64) float64 {
	span := scrollHeight - clientHeight
	if span <= 0 {
		return 100
	}
	return min(max(scrollTop/span*100, 0), 100)
}

// TextProgress is the reading state of one text step.
type TextProgress struct {
	Mode      string        `json:"mode"`
	Percent   float64       `json:"percent"`
	Elapsed   time.Duration `json:"elapsed"`
	Required  time.Duration `json:"required,omitempty"`
	Paused    bool          `json:"paused,omitempty"`
	Completed bool          `json:"completed"`
}

type textStep struct {
	mode      textMode
	bucket    int
	scrolled  float64
	settle    clock.Timer
	dwell     *clock.Schedule
	ticker    *clock.Ticker
	reported  int
	firing    bool
	completed bool
}

func (s *textStep) stop() {
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if s.dwell != nil {
		s.dwell.Cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
}

// TextTrackerConfig holds dependencies for the text tracker.
type TextTrackerConfig struct {
	Store       *Store
	Coordinator *Coordinator
	Tracker     *Tracker
	Clock       clock.Clock

	SettleDelay time.Duration // wait after the scroll threshold before completing (default 2s)
	Tick        time.Duration // dwell progress resolution (default 100ms)

	// OnProgress runs when a step's reading progress crosses a 10% bucket.
	OnProgress func(stepID int64, p TextProgress)
}

// TextTracker owns the reading timers of every text step in a session.
// Tall content completes by scrolling; content that fits the viewport
// completes after a foreground dwell time that pauses while hidden.
type TextTracker struct {
	store       *Store
	coord       *Coordinator
	tracker     *Tracker
	clock       clock.Clock
	settleDelay time.Duration
	tick        time.Duration
	onProgress  func(stepID int64, p TextProgress)

	mu      sync.Mutex
	steps   map[int64]*textStep
	visible bool
	closed  bool
}

func NewTextTracker(cfg TextTrackerConfig) *TextTracker {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = defaultTextSettleDelay
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTextTick
	}
	return &TextTracker{
		store:       cfg.Store,
		coord:       cfg.Coordinator,
		tracker:     cfg.Tracker,
		clock:       c,
		settleDelay: settle,
		tick:        tick,
		onProgress:  cfg.OnProgress,
		steps:       make(map[int64]*textStep),
		visible:     true,
	}
}

func (t *TextTracker) textStep(stepID int64) (lesson.Step, lesson.ProgressConfig, error) {
	snap, ok := t.store.Snapshot()
	if !ok {
		return lesson.Step{}, lesson.ProgressConfig{}, ErrNotLoaded
	}
	step, ok := snap.Step(stepID)
	if !ok {
		return lesson.Step{}, lesson.ProgressConfig{}, fmt.Errorf("step %d: %w", stepID, ErrUnknownStep)
	}
	if step.Type != lesson.StepText {
		return lesson.Step{}, lesson.ProgressConfig{}, fmt.Errorf("step %d is %s: %w", stepID, step.Type, ErrStepTypeMismatch)
	}
	if step.Status == lesson.StatusLocked {
		return lesson.Step{}, lesson.ProgressConfig{}, ErrStepLocked
	}
	return step, snap.Lesson.Config, nil
}

func (t *TextTracker) stateLocked(stepID int64) *textStep {
	st, ok := t.steps[stepID]
	if !ok {
		st = &textStep{}
		t.steps[stepID] = st
	}
	return st
}

// Layout reports the rendered geometry of a text step and picks its
// completion strategy. Repeated calls with the same geometry are no-ops.
func (t *TextTracker) Layout(ctx context.Context, stepID int64, contentHeight, viewportHeight float64) error {
	step, cfg, err := t.textStep(stepID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrSessionClosed
	}
	st := t.stateLocked(stepID)
	if step.Status == lesson.StatusCompleted {
		st.completed = true
	}
	if st.completed {
		t.mu.Unlock()
		return nil
	}

	if contentHeight > viewportHeight {
		if st.mode == textDwell {
			st.dwell.Cancel()
			st.ticker.Stop()
			st.dwell, st.ticker = nil, nil
		}
		st.mode = textScroll
		t.mu.Unlock()
		return nil
	}

	if st.mode == textDwell {
		retry := st.dwell.Fired() && !st.firing
		required := st.dwell.Total()
		t.mu.Unlock()
		if retry {
			t.complete(ctx, stepID, dwellData(required))
		}
		return nil
	}
	if st.mode == textScroll && st.settle != nil {
		t.mu.Unlock()
		return nil
	}

	required := RequiredDwell(step.Duration, cfg.TextCompletePercent)
	st.mode = textDwell
	st.reported = 0
	st.dwell = clock.NewSchedule(t.clock, required, func() { t.dwellElapsed(stepID) })
	st.ticker = clock.NewTicker(t.clock, t.tick, func() { t.dwellTick(stepID) })
	if t.visible {
		st.dwell.Start()
		st.ticker.Start()
	}
	t.mu.Unlock()

	slog.Debug("text dwell started", "step_id", stepID, "required", required)
	return nil
}

// Scroll reports the scroll position of a text step.
func (t *TextTracker) Scroll(ctx context.Context, stepID int64, scrollTop, scrollHeight, clientHeight float64) error {
	step, cfg, err := t.textStep(stepID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrSessionClosed
	}
	st := t.stateLocked(stepID)
	if step.Status == lesson.StatusCompleted {
		st.completed = true
	}
	if st.completed {
		t.mu.Unlock()
		return nil
	}
	if st.mode == textUnset && scrollHeight > clientHeight {
		st.mode = textScroll
	}
	if st.mode != textScroll {
		t.mu.Unlock()
		return nil
	}

	pct := ScrollPercent(scrollTop, scrollHeight, clientHeight)
	st.scrolled = max(st.scrolled, pct)
	bucket := int(pct/progressBucket) * progressBucket
	report := bucket > st.bucket
	if report {
		st.bucket = bucket
	}
	if pct >= cfg.TextCompletePercent && st.settle == nil && !st.firing {
		st.settle = t.clock.AfterFunc(t.settleDelay, func() {
			ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			t.complete(ctx, stepID, map[string]any{"mode": textScroll.String(), "scrollPercent": pct})
		})
	}
	progress := TextProgress{Mode: textScroll.String(), Percent: float64(bucket)}
	t.mu.Unlock()

	if report {
		t.coord.UpdateStepProgress(stepID, float64(bucket), map[string]any{"scrollPercent": pct})
		if t.onProgress != nil {
			t.onProgress(stepID, progress)
		}
	}
	return nil
}

// SetVisible pauses every running dwell timer when the learner's tab is
// hidden and resumes them with the remaining time when it is shown again.
func (t *TextTracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = visible
	for _, st := range t.steps {
		if st.mode != textDwell || st.completed {
			continue
		}
		if visible {
			st.dwell.Start()
			st.dwell.Resume()
			st.ticker.Start()
		} else {
			st.dwell.Pause()
			st.ticker.Pause()
		}
	}
}

func (t *TextTracker) dwellTick(stepID int64) {
	t.mu.Lock()
	st, ok := t.steps[stepID]
	if !ok || st.dwell == nil || st.completed {
		t.mu.Unlock()
		return
	}
	p := dwellProgress(st)
	bucket := int(p.Percent/progressBucket) * progressBucket
	report := bucket > st.reported
	if report {
		st.reported = bucket
	}
	t.mu.Unlock()

	if report {
		t.coord.UpdateStepProgress(stepID, float64(bucket), map[string]any{
			"mode":        textDwell.String(),
			"readingTime": p.Elapsed.Seconds(),
		})
		if t.onProgress != nil {
			t.onProgress(stepID, p)
		}
	}
}

func (t *TextTracker) dwellElapsed(stepID int64) {
	t.mu.Lock()
	st, ok := t.steps[stepID]
	if !ok || st.completed || st.mode != textDwell || st.dwell == nil {
		t.mu.Unlock()
		return
	}
	st.ticker.Stop()
	required := st.dwell.Total()
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	t.complete(ctx, stepID, dwellData(required))
}

func dwellData(required time.Duration) map[string]any {
	return map[string]any{
		"mode":        textDwell.String(),
		"readingTime": required.Seconds(),
	}
}

func (t *TextTracker) complete(ctx context.Context, stepID int64, data map[string]any) {
	t.mu.Lock()
	st, ok := t.steps[stepID]
	if !ok || st.completed || st.firing {
		t.mu.Unlock()
		return
	}
	st.firing = true
	t.mu.Unlock()

	_, err := t.tracker.CompleteStep(ctx, stepID, lesson.StepText, data)

	t.mu.Lock()
	st.firing = false
	st.settle = nil
	if err != nil {
		t.mu.Unlock()
		slog.Debug("text completion not recorded", "step_id", stepID, "error", err)
		return
	}
	st.completed = true
	st.stop()
	p := TextProgress{Mode: st.mode.String(), Percent: 100, Completed: true}
	t.mu.Unlock()

	if t.onProgress != nil {
		t.onProgress(stepID, p)
	}
}

func dwellProgress(st *textStep) TextProgress {
	total := st.dwell.Total()
	elapsed := st.dwell.Elapsed()
	pct := 100.0
	if total > 0 {
		pct = min(float64(elapsed)/float64(total)*100, 100)
	}
	return TextProgress{
		Mode:      textDwell.String(),
		Percent:   pct,
		Elapsed:   elapsed,
		Required:  total,
		Paused:    !st.dwell.Running() && !st.dwell.Fired(),
		Completed: st.completed,
	}
}

// Progress returns the reading state of a text step.
func (t *TextTracker) Progress(stepID int64) (TextProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.steps[stepID]
	if !ok {
		return TextProgress{}, false
	}
	switch {
	case st.mode == textDwell && st.dwell != nil:
		return dwellProgress(st), true
	case st.completed:
		return TextProgress{Mode: st.mode.String(), Percent: 100, Completed: true}, true
	default:
		return TextProgress{Mode: st.mode.String(), Percent: st.scrolled}, true
	}
}

// Release stops and forgets the timers of a step the learner left.
func (t *TextTracker) Release(stepID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.steps[stepID]; ok {
		st.stop()
		delete(t.steps, stepID)
	}
}

// Reset releases every step, used when the lesson changes.
func (t *TextTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, st := range t.steps {
		st.stop()
		delete(t.steps, id)
	}
}

// Close releases every timer. Later calls are rejected.
func (t *TextTracker) Close() {
	t.Reset()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
