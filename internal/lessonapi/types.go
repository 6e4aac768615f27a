// Package lessonapi is the client for the upstream student-lessons REST API.
package lessonapi

import (
	"encoding/json"
	"time"
)

// LessonResponse is the payload of GET /student-lessons/{id}/content.
type LessonResponse struct {
	Lesson       LessonInfo         `json:"lesson"`
	Progress     *ProgressInfo      `json:"progress,omitempty"`
	Steps        []StepOverview     `json:"steps"`
	StepContents []StepContentBlock `json:"stepContents"`
	NextLesson   *int64             `json:"nextLesson,omitempty"`
}

// LessonInfo is lesson metadata. ProgressConfig fields are optional upstream.
type LessonInfo struct {
	ID             int64          `json:"id"`
	CourseID       int64          `json:"courseId,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	TotalSteps     int            `json:"totalSteps"`
	ProgressConfig ProgressConfig `json:"progressConfig"`
}

// ProgressConfig is the lesson's navigation and completion policy as sent upstream.
type ProgressConfig struct {
	ProgressMode         string   `json:"progressMode,omitempty"`
	RequireSequential    *bool    `json:"requireSequential,omitempty"`
	AllowSkip            *bool    `json:"allowSkip,omitempty"`
	VideoCompletePercent *float64 `json:"videoCompletePercent,omitempty"`
	TextCompletePercent  *float64 `json:"textCompletePercent,omitempty"`
	GroupSize            int      `json:"groupSize,omitempty"`
	UnlockPercent        float64  `json:"unlockPercent,omitempty"`
}

// ProgressInfo is the learner's aggregate progress on a lesson.
type ProgressInfo struct {
	Status         string     `json:"status"`
	Progress       float64    `json:"progress"`
	CompletedSteps int        `json:"completedSteps"`
	TotalSteps     int        `json:"totalSteps"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// StepOverview is the lightweight per-step record (status, order, progress).
type StepOverview struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Type        string     `json:"type"`
	Order       int        `json:"order"`
	Duration    int        `json:"duration,omitempty"` // minutes
	Status      string     `json:"status"`
	Progress    float64    `json:"progress"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// StepContentBlock is the heavyweight per-step payload. Content and Progress
// may arrive either as JSON values or as strings holding serialized JSON.
type StepContentBlock struct {
	ID       int64           `json:"id"`
	Content  json.RawMessage `json:"content,omitempty"`
	Progress json.RawMessage `json:"progress,omitempty"`
}

// StepCompletion is the response of POST /student-progress/step/{id}/complete.
type StepCompletion struct {
	StepID int64          `json:"stepId"`
	Status string         `json:"status,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// LessonCompletion is the response of POST /student-lessons/{id}/complete.
type LessonCompletion struct {
	LessonID   int64  `json:"lessonId"`
	Status     string `json:"status,omitempty"`
	NextLesson *int64 `json:"nextLesson,omitempty"`
}

// LessonSummary is one entry of a course's lesson list.
type LessonSummary struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Order    int     `json:"order"`
	Status   string  `json:"status"`
	Locked   bool    `json:"locked"`
	Progress float64 `json:"progress"`
}

type updateProgressRequest struct {
	ProgressPercent float64        `json:"progressPercent"`
	ProgressData    map[string]any `json:"progressData,omitempty"`
}

type completeStepRequest struct {
	ContentType  string         `json:"contentType"`
	ProgressData map[string]any `json:"progressData,omitempty"`
}
