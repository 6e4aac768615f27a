package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-player/internal/events"
	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/platform/clock"
)

const (
	defaultCompletionCooldown = 5 * time.Second
	defaultLessonCheckDelay   = time.Second
	callbackTimeout           = 15 * time.Second
)

// TrackerConfig holds dependencies for the completion tracker.
type TrackerConfig struct {
	Store    *Store
	API      API
	Guard    Guard
	Notifier Notifier
	Events   events.Logger
	Clock    clock.Clock

	// GuardPrefix namespaces guard keys, normally by learner.
	GuardPrefix string
	SessionID   string
	LearnerKey  string

	Cooldown         time.Duration // in-flight window when a call never settles (default 5s)
	LessonCheckDelay time.Duration // wait before checking lesson completion (default 1s)
}

// Tracker reports step completions. At most one completion per step is in
// flight at a time.
type Tracker struct {
	store      *Store
	api        API
	guard      Guard
	notifier   Notifier
	events     events.Logger
	clock      clock.Clock
	prefix     string
	sessionID  string
	learnerKey string
	cooldown   time.Duration
	checkDelay time.Duration

	mu         sync.Mutex
	checkTimer clock.Timer
	onCheck    func(ctx context.Context)
	closed     bool
}

// NewTracker creates a completion tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = NewMemoryGuard(c)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := cfg.Events
	if logger == nil {
		logger = events.NopLogger{}
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCompletionCooldown
	}
	delay := cfg.LessonCheckDelay
	if delay <= 0 {
		delay = defaultLessonCheckDelay
	}
	return &Tracker{
		store:      cfg.Store,
		api:        cfg.API,
		guard:      guard,
		notifier:   notifier,
		events:     logger,
		clock:      c,
		prefix:     cfg.GuardPrefix,
		sessionID:  cfg.SessionID,
		learnerKey: cfg.LearnerKey,
		cooldown:   cooldown,
		checkDelay: delay,
	}
}

// OnSettled sets the lesson completion check run after a successful step
// completion.
func (t *Tracker) OnSettled(fn func(ctx context.Context)) {
	t.mu.Lock()
	t.onCheck = fn
	t.mu.Unlock()
}

func (t *Tracker) guardKey(stepID int64) string {
	if t.prefix == "" {
		return fmt.Sprintf("step:%d", stepID)
	}
	return fmt.Sprintf("%s:step:%d", t.prefix, stepID)
}

// CompleteStep reports stepID as complete. A second call for the same step
// while the first is in flight returns ErrCompletionInFlight without a
// network call.
func (t *Tracker) CompleteStep(ctx context.Context, stepID int64, stepType lesson.StepType, data map[string]any) (*lessonapi.StepCompletion, error) {
	key := t.guardKey(stepID)
	ok, err := t.guard.Acquire(ctx, key, t.cooldown)
	if err != nil {
		slog.Warn("completion guard unavailable, proceeding", "step_id", stepID, "error", err)
		ok = true
	}
	if !ok {
		slog.Debug("completion already in flight", "step_id", stepID)
		return nil, ErrCompletionInFlight
	}
	defer func() {
		if err := t.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			slog.Warn("failed to release completion guard", "step_id", stepID, "error", err)
		}
	}()

	resp, err := t.api.CompleteStep(ctx, stepID, stepType.String(), data)
	if err != nil {
		t.handleFailure(stepID, stepType, err)
		return nil, fmt.Errorf("complete step %d: %w", stepID, err)
	}

	now := t.clock.Now()
	t.store.PatchStep(stepID, func(step *lesson.Step, progress *lesson.Progress) {
		if step.Status != lesson.StatusCompleted {
			progress.CompletedSteps++
		}
		step.Status = lesson.StatusCompleted
		step.Progress = 100
		step.CompletedAt = &now
	})
	if _, err := t.store.Refetch(ctx); err != nil {
		slog.Warn("refetch after step completion failed", "step_id", stepID, "error", err)
	}

	t.notifier.Notify(Notification{
		Kind:    KindStepCompleted,
		Level:   LevelSuccess,
		Message: "Step completed!",
		StepID:  stepID,
	})
	t.logEvent(events.StepCompleted, stepID, map[string]any{
		"type": stepType.String(),
		"data": data,
	})
	slog.Info("step completed", "session_id", t.sessionID, "step_id", stepID, "type", stepType.String())

	t.scheduleLessonCheck()
	return resp, nil
}

func (t *Tracker) handleFailure(stepID int64, stepType lesson.StepType, err error) {
	class := lessonapi.Classify(err)
	t.logEvent(events.StepCompletionFailed, stepID, map[string]any{
		"type":  stepType.String(),
		"class": class.String(),
		"error": err.Error(),
	})

	switch class {
	case lessonapi.ClassNetwork:
		slog.Warn("step completion failed: network", "step_id", stepID, "error", err)
		t.notifier.Notify(Notification{
			Kind:      KindConnectionError,
			Level:     LevelError,
			Message:   "Connection problem. Check your internet connection and try again.",
			StepID:    stepID,
			Retryable: true,
		})
	case lessonapi.ClassRateLimited:
		slog.Warn("step completion rate limited", "step_id", stepID, "error", err)
		t.notifier.Notify(Notification{
			Kind:      KindRateLimited,
			Level:     LevelWarning,
			Message:   "Too many requests. Please wait a moment and try again.",
			StepID:    stepID,
			Retryable: true,
		})
	case lessonapi.ClassValidation:
		slog.Warn("step completion rejected", "step_id", stepID, "error", err)
	default:
		if errors.Is(err, context.Canceled) {
			slog.Debug("step completion cancelled", "step_id", stepID)
			return
		}
		slog.Error("step completion failed", "step_id", stepID, "error", err)
		t.notifier.Notify(Notification{
			Kind:      KindProgressNotSaved,
			Level:     LevelError,
			Message:   "Progress not saved. Please try again.",
			StepID:    stepID,
			Retryable: true,
		})
	}
}

// scheduleLessonCheck runs the lesson completion check after the refetch
// had time to land. A newer completion replaces a pending check.
func (t *Tracker) scheduleLessonCheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.onCheck == nil {
		return
	}
	if t.checkTimer != nil {
		t.checkTimer.Stop()
	}
	check := t.onCheck
	t.checkTimer = t.clock.AfterFunc(t.checkDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		check(ctx)
	})
}

func (t *Tracker) logEvent(eventType string, stepID int64, data map[string]any) {
	err := t.events.LogEvent(events.Event{
		SessionID:  t.sessionID,
		LearnerKey: t.learnerKey,
		LessonID:   t.store.LessonID(),
		StepID:     stepID,
		EventType:  eventType,
		Data:       data,
		CreatedAt:  t.clock.Now(),
	})
	if err != nil {
		slog.Warn("failed to log event", "type", eventType, "error", err)
	}
}

// Close cancels a pending lesson check.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.checkTimer != nil {
		t.checkTimer.Stop()
		t.checkTimer = nil
	}
}
