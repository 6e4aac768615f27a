package player

import (
	"context"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-player/internal/lesson"
	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

func (s *Session) typedStep(stepID int64, want lesson.StepType) (lesson.Step, error) {
	snap, ok := s.store.Snapshot()
	if !ok {
		return lesson.Step{}, ErrNotLoaded
	}
	step, ok := snap.Step(stepID)
	if !ok {
		return lesson.Step{}, fmt.Errorf("step %d: %w", stepID, ErrUnknownStep)
	}
	if step.Type != want {
		return lesson.Step{}, fmt.Errorf("step %d is %s: %w", stepID, step.Type, ErrStepTypeMismatch)
	}
	if step.Status == lesson.StatusLocked {
		return lesson.Step{}, ErrStepLocked
	}
	return step, nil
}

// SubmitQuiz completes a quiz step with the learner's answers and returns
// the scored result computed upstream.
func (s *Session) SubmitQuiz(ctx context.Context, stepID int64, answers map[string]any) (*lessonapi.StepCompletion, error) {
	if _, err := s.typedStep(stepID, lesson.StepQuiz); err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]any{}
	}
	return s.tracker.CompleteStep(ctx, stepID, lesson.StepQuiz, map[string]any{
		"answers":     answers,
		"submittedAt": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

// CompleteDownload records a file download. The first download completes
// the step; later ones are ignored.
func (s *Session) CompleteDownload(ctx context.Context, stepID int64, fileID string) (*lessonapi.StepCompletion, error) {
	step, err := s.typedStep(stepID, lesson.StepDownload)
	if err != nil {
		return nil, err
	}
	if content, ok := step.Typed.(lesson.DownloadContent); ok && fileID != "" {
		found := false
		for _, f := range content.Files {
			if string(f.ID) == fileID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("file %q in step %d: %w", fileID, stepID, ErrUnknownFile)
		}
	}
	if step.Status == lesson.StatusCompleted {
		return nil, nil
	}
	return s.tracker.CompleteStep(ctx, stepID, lesson.StepDownload, map[string]any{
		"fileId":       fileID,
		"downloadedAt": s.clock.Now().UTC().Format(time.RFC3339),
	})
}
