package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/p-n-ai/pai-player/internal/lesson"
)

// VideoTracker turns playback percentages into progress updates and a single
// completion per step once the lesson's video threshold is crossed.
type VideoTracker struct {
	store   *Store
	coord   *Coordinator
	tracker *Tracker

	mu        sync.Mutex
	completed map[int64]bool
}

func NewVideoTracker(store *Store, coord *Coordinator, tracker *Tracker) *VideoTracker {
	return &VideoTracker{
		store:     store,
		coord:     coord,
		tracker:   tracker,
		completed: make(map[int64]bool),
	}
}

func (v *VideoTracker) videoStep(stepID int64) (lesson.Step, lesson.ProgressConfig, error) {
	snap, ok := v.store.Snapshot()
	if !ok {
		return lesson.Step{}, lesson.ProgressConfig{}, ErrNotLoaded
	}
	step, ok := snap.Step(stepID)
	if !ok {
		return lesson.Step{}, lesson.ProgressConfig{}, fmt.Errorf("step %d: %w", stepID, ErrUnknownStep)
	}
	if step.Type != lesson.StepVideo {
		return lesson.Step{}, lesson.ProgressConfig{}, fmt.Errorf("step %d is %s: %w", stepID, step.Type, ErrStepTypeMismatch)
	}
	if step.Status == lesson.StatusLocked {
		return lesson.Step{}, lesson.ProgressConfig{}, ErrStepLocked
	}
	return step, snap.Lesson.Config, nil
}

// Progress handles one playback update. It reports whether this update
// completed the step.
func (v *VideoTracker) Progress(ctx context.Context, stepID int64, percent float64) (bool, error) {
	step, cfg, err := v.videoStep(stepID)
	if err != nil {
		return false, err
	}
	percent = min(max(percent, 0), 100)

	v.coord.UpdateStepProgress(stepID, percent, map[string]any{"watchedPercent": percent})

	if step.Status == lesson.StatusCompleted || percent < cfg.VideoCompletePercent {
		return false, nil
	}
	return v.complete(ctx, stepID, map[string]any{"watchedPercent": percent})
}

// MarkComplete completes a video step regardless of the watched percentage.
// It is only allowed when the lesson permits skipping.
func (v *VideoTracker) MarkComplete(ctx context.Context, stepID int64) (bool, error) {
	step, cfg, err := v.videoStep(stepID)
	if err != nil {
		return false, err
	}
	if !cfg.AllowSkip {
		return false, ErrManualCompleteDisabled
	}
	if step.Status == lesson.StatusCompleted {
		return false, nil
	}
	return v.complete(ctx, stepID, map[string]any{
		"watchedPercent": step.Progress,
		"manual":         true,
	})
}

func (v *VideoTracker) complete(ctx context.Context, stepID int64, data map[string]any) (bool, error) {
	v.mu.Lock()
	if v.completed[stepID] {
		v.mu.Unlock()
		return false, nil
	}
	v.completed[stepID] = true
	v.mu.Unlock()

	if _, err := v.tracker.CompleteStep(ctx, stepID, lesson.StepVideo, data); err != nil {
		if !errors.Is(err, ErrCompletionInFlight) {
			// Let a later update try again.
			v.mu.Lock()
			delete(v.completed, stepID)
			v.mu.Unlock()
		}
		return false, err
	}
	return true, nil
}

// Reset forgets completion state, used when the lesson changes.
func (v *VideoTracker) Reset() {
	v.mu.Lock()
	v.completed = make(map[int64]bool)
	v.mu.Unlock()
}
