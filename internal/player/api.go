package player

import (
	"context"

	"github.com/p-n-ai/pai-player/internal/lessonapi"
)

// API is the upstream backend the player drives. *lessonapi.Client and
// *lessonapi.MockAPI both implement it.
type API interface {
	GetLessonContent(ctx context.Context, lessonID int64, modelID string) (*lessonapi.LessonResponse, error)
	GetCourseLessons(ctx context.Context, courseID int64) ([]lessonapi.LessonSummary, error)
	StartLesson(ctx context.Context, lessonID int64) error
	CompleteLesson(ctx context.Context, lessonID int64) (*lessonapi.LessonCompletion, error)
	StartStep(ctx context.Context, stepID int64) error
	UpdateStepProgress(ctx context.Context, stepID int64, percent float64, data map[string]any) error
	CompleteStep(ctx context.Context, stepID int64, contentType string, data map[string]any) (*lessonapi.StepCompletion, error)
}

var (
	_ API = (*lessonapi.Client)(nil)
	_ API = (*lessonapi.MockAPI)(nil)
)
