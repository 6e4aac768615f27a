package player

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

const (
	defaultLessonGuardCooldown = 3 * time.Second
	defaultProgressDebounce    = 1500 * time.Millisecond
)

// CoordinatorConfig holds dependencies for the progress coordinator.
type CoordinatorConfig struct {
	Store      *Store
	API        API
	Events     events.Logger
	Clock      clock.Clock
	SessionID  string
	LearnerKey string

	GuardCooldown    time.Duration // pending flag lifetime after lesson completion settles (default 3s)
	ProgressDebounce time.Duration // per-step quiet window for progress updates (default 1.5s)

	// OnLessonComplete runs once per lesson per session after the lesson
	// was marked complete. next is nil when the next lesson is not known yet.
	OnLessonComplete func(lessonID int64, next *int64)
	// OnNextLesson runs once when the next lesson id becomes known.
	OnNextLesson func(lessonID, nextID int64)
}

// Coordinator starts steps, forwards progress telemetry and decides when a
// lesson is complete.
type Coordinator struct {
	store      *Store
	api        API
	events     events.Logger
	clock      clock.Clock
	debouncer  *clock.Debouncer
	sessionID  string
	learnerKey string
	cooldown   time.Duration

	onLessonComplete func(lessonID int64, next *int64)
	onNextLesson     func(lessonID, nextID int64)

	mu         sync.Mutex
	pending    bool
	clearTimer clock.Timer
	done       map[int64]bool
	watching   map[int64]bool
	unsub      func()
}

// NewCoordinator creates a coordinator and subscribes it to store updates.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	logger := cfg.Events
	if logger == nil {
		logger = events.NopLogger{}
	}
	cooldown := cfg.GuardCooldown
	if cooldown <= 0 {
		cooldown = defaultLessonGuardCooldown
	}
	debounce := cfg.ProgressDebounce
	if debounce <= 0 {
		debounce = defaultProgressDebounce
	}

	co := &Coordinator{
		store:            cfg.Store,
		api:              cfg.API,
		events:           logger,
		clock:            c,
		debouncer:        clock.NewDebouncer(c, debounce),
		sessionID:        cfg.SessionID,
		learnerKey:       cfg.LearnerKey,
		cooldown:         cooldown,
		onLessonComplete: cfg.OnLessonComplete,
		onNextLesson:     cfg.OnNextLesson,
		done:             make(map[int64]bool),
		watching:         make(map[int64]bool),
	}
	co.unsub = cfg.Store.Subscribe(co.watchNextLesson)
	return co
}

// StartLesson sends the idempotent lesson-start signal.
func (c *Coordinator) StartLesson(ctx context.Context, lessonID int64) error {
	if err := c.api.StartLesson(ctx, lessonID); err != nil {
		logBackground("start lesson", err, "lesson_id", lessonID)
		return fmt.Errorf("start lesson %d: %w", lessonID, err)
	}
	c.logEvent(events.LessonOpened, lessonID, 0, nil)
	return nil
}

// Observe records the state of a freshly opened lesson. A lesson that is
// already complete is never completed again in this session.
func (c *Coordinator) Observe(snap lesson.Snapshot) {
	if snap.Progress.Status != lesson.LessonCompleted {
		return
	}
	c.mu.Lock()
	c.done[snap.Lesson.ID] = true
	c.mu.Unlock()
}

// StartStep marks a step as entered and refetches the lesson so the new
// status is visible immediately.
func (c *Coordinator) StartStep(ctx context.Context, stepID int64) error {
	if err := c.api.StartStep(ctx, stepID); err != nil {
		logBackground("start step", err, "step_id", stepID)
		return fmt.Errorf("start step %d: %w", stepID, err)
	}
	c.logEvent(events.StepStarted, c.store.LessonID(), stepID, nil)

	if _, err := c.store.Refetch(ctx); err != nil {
		slog.Warn("refetch after step start failed", "step_id", stepID, "error", err)
	}
	return nil
}

// UpdateStepProgress queues a progress update for stepID. Only the latest
// update per step within the debounce window is sent, and failures are
// logged only.
func (c *Coordinator) UpdateStepProgress(stepID int64, percent float64, data map[string]any) {
	c.debouncer.Do(strconv.FormatInt(stepID, 10), func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		if err := c.api.UpdateStepProgress(ctx, stepID, percent, data); err != nil {
			logBackground("update step progress", err, "step_id", stepID)
		}
	})
}

// CheckLessonCompletion completes the current lesson when every step is
// completed or the server counters say so. It reports whether this call
// completed the lesson.
func (c *Coordinator) CheckLessonCompletion(ctx context.Context) (bool, error) {
	snap, ok := c.store.Snapshot()
	if !ok {
		return false, nil
	}
	lessonID := snap.Lesson.ID

	c.mu.Lock()
	if c.pending || c.done[lessonID] {
		c.mu.Unlock()
		return false, nil
	}
	if !snap.AllStepsCompleted() && !snap.CounterComplete() {
		c.mu.Unlock()
		return false, nil
	}
	c.pending = true
	c.mu.Unlock()

	resp, err := c.api.CompleteLesson(ctx, lessonID)
	c.settle()
	if err != nil {
		logBackground("complete lesson", err, "lesson_id", lessonID)
		return false, fmt.Errorf("complete lesson %d: %w", lessonID, err)
	}

	c.mu.Lock()
	c.done[lessonID] = true
	c.mu.Unlock()

	c.logEvent(events.LessonCompleted, lessonID, 0, map[string]any{
		"completedSteps": snap.Progress.CompletedSteps,
		"totalSteps":     snap.Progress.TotalSteps,
	})
	slog.Info("lesson completed", "session_id", c.sessionID, "lesson_id", lessonID)

	next := c.refresh(ctx, snap.Lesson.CourseID, resp)

	if c.onLessonComplete != nil {
		c.onLessonComplete(lessonID, next)
	}
	if next != nil {
		c.fireNextLesson(lessonID, *next)
	} else {
		c.mu.Lock()
		c.watching[lessonID] = true
		c.mu.Unlock()
		// The refetch may have landed between refresh and registering the watcher.
		if cur, ok := c.store.Snapshot(); ok {
			c.watchNextLesson(cur)
		}
	}
	return true, nil
}

// refresh refetches the lesson and its course and returns the next lesson id
// if it is known.
func (c *Coordinator) refresh(ctx context.Context, courseID int64, resp *lessonapi.LessonCompletion) *int64 {
	var next *int64
	if resp != nil && resp.NextLesson != nil {
		n := *resp.NextLesson
		next = &n
	}

	snap, err := c.store.Refetch(ctx)
	if err != nil {
		slog.Warn("refetch after lesson completion failed", "error", err)
	} else if next == nil && snap.NextLessonID != nil {
		n := *snap.NextLessonID
		next = &n
	}

	if courseID > 0 {
		if _, err := c.store.RefetchCourse(ctx, courseID); err != nil {
			slog.Warn("course refetch after lesson completion failed", "course_id", courseID, "error", err)
		}
	}
	return next
}

// settle clears the pending flag once the cooldown has passed.
func (c *Coordinator) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}
	c.clearTimer = c.clock.AfterFunc(c.cooldown, func() {
		c.mu.Lock()
		c.pending = false
		c.clearTimer = nil
		c.mu.Unlock()
	})
}

// Reset drops the lesson completion cooldown when the learner switches lessons.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
}

// Pending reports whether a lesson completion is outstanding or cooling down.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) watchNextLesson(snap lesson.Snapshot) {
	if snap.NextLessonID == nil {
		return
	}
	c.mu.Lock()
	if !c.watching[snap.Lesson.ID] {
		c.mu.Unlock()
		return
	}
	delete(c.watching, snap.Lesson.ID)
	c.mu.Unlock()

	c.fireNextLesson(snap.Lesson.ID, *snap.NextLessonID)
}

func (c *Coordinator) fireNextLesson(lessonID, nextID int64) {
	slog.Info("next lesson available", "lesson_id", lessonID, "next_lesson_id", nextID)
	if c.onNextLesson != nil {
		c.onNextLesson(lessonID, nextID)
	}
}

func (c *Coordinator) logEvent(eventType string, lessonID, stepID int64, data map[string]any) {
	err := c.events.LogEvent(events.Event{
		SessionID:  c.sessionID,
		LearnerKey: c.learnerKey,
		LessonID:   lessonID,
		StepID:     stepID,
		EventType:  eventType,
		Data:       data,
		CreatedAt:  c.clock.Now(),
	})
	if err != nil {
		slog.Warn("failed to log event", "type", eventType, "error", err)
	}
}

// Close drops queued progress updates and timers.
func (c *Coordinator) Close() {
	c.debouncer.Stop()
	c.mu.Lock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// logBackground logs a failed background call at a level matching its class.
func logBackground(op string, err error, args ...any) {
	args = append(args, "class", lessonapi.Classify(err).String(), "error", err)
	switch lessonapi.Classify(err) {
	case lessonapi.ClassNetwork, lessonapi.ClassRateLimited, lessonapi.ClassValidation:
		slog.Warn(op+" failed", args...)
	default:
		slog.Error(op+" failed", args...)
	}
}
