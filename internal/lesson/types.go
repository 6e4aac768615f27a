// Package lesson holds the canonical lesson model used by the player and the
// normalizer that builds it from upstream responses.
package lesson

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	DefaultVideoCompletePercent = 90
	DefaultTextCompletePercent  = 80
)

// ProgressConfig is a lesson's navigation and completion policy.
type ProgressConfig struct {
	Mode                 ProgressMode `json:"mode"`
	RequireSequential    bool         `json:"requireSequential"`
	AllowSkip            bool         `json:"allowSkip"`
	VideoCompletePercent float64      `json:"videoCompletePercent"`
	TextCompletePercent  float64      `json:"textCompletePercent"`
	GroupSize            int          `json:"groupSize,omitempty"`
	UnlockPercent        float64      `json:"unlockPercent,omitempty"`
}

// SequentialGate reports whether forward navigation requires every earlier
// step to be completed. RequireSequential defaults to true in sequential mode.
func (c ProgressConfig) SequentialGate() bool {
	return c.RequireSequential && !c.AllowSkip
}

// Lesson is read-only lesson metadata.
type Lesson struct {
	ID          int64          `json:"id"`
	CourseID    int64          `json:"courseId,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	TotalSteps  int            `json:"totalSteps"`
	Config      ProgressConfig `json:"progressConfig"`
}

// Progress is the learner's aggregate state for one lesson.
type Progress struct {
	Status         LessonStatus `json:"status"`
	Percent        float64      `json:"progress"`
	CompletedSteps int          `json:"completedSteps"`
	TotalSteps     int          `json:"totalSteps"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	LastAccessedAt *time.Time   `json:"lastAccessedAt,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

// Step is the merged view of a step overview and its content block.
type Step struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Type        StepType       `json:"type"`
	Order       int            `json:"order"`
	Duration    int            `json:"duration,omitempty"` // minutes
	Status      StepStatus     `json:"status"`
	Progress    float64        `json:"progress"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	HasContent  bool           `json:"hasContent"`
	Content     any            `json:"content,omitempty"`
	Typed       any            `json:"-"`
	Prior       map[string]any `json:"priorProgress,omitempty"`
}

// SameState reports whether two copies of a step agree on the fields the
// server owns: status, progress and completion time.
func (s Step) SameState(o Step) bool {
	if s.Status != o.Status || s.Progress != o.Progress {
		return false
	}
	switch {
	case s.CompletedAt == nil && o.CompletedAt == nil:
		return true
	case s.CompletedAt == nil || o.CompletedAt == nil:
		return false
	default:
		return s.CompletedAt.Equal(*o.CompletedAt)
	}
}

// Snapshot is the normalized "current lesson data".
type Snapshot struct {
	Lesson       Lesson   `json:"lesson"`
	Progress     Progress `json:"progress"`
	Steps        []Step   `json:"steps"`
	NextLessonID *int64   `json:"nextLesson,omitempty"`
}

// StepIndex returns the position of stepID in the snapshot, or -1.
func (s Snapshot) StepIndex(stepID int64) int {
	for i, st := range s.Steps {
		if st.ID == stepID {
			return i
		}
	}
	return -1
}

// Step returns the step with the given id.
func (s Snapshot) Step(stepID int64) (Step, bool) {
	if i := s.StepIndex(stepID); i >= 0 {
		return s.Steps[i], true
	}
	return Step{}, false
}

// AllStepsCompleted reports whether every step is completed. A lesson with
// no steps is never considered complete.
func (s Snapshot) AllStepsCompleted() bool {
	if len(s.Steps) == 0 {
		return false
	}
	for _, st := range s.Steps {
		if st.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// CounterComplete reports whether the server-side counters say every step is done.
func (s Snapshot) CounterComplete() bool {
	total := s.Progress.TotalSteps
	if total == 0 {
		total = s.Lesson.TotalSteps
	}
	return total > 0 && s.Progress.CompletedSteps >= total
}

// Clone returns a deep enough copy for independent patching of steps.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Steps = append([]Step(nil), s.Steps...)
	if s.NextLessonID != nil {
		n := *s.NextLessonID
		out.NextLessonID = &n
	}
	return out
}

// VideoContent is the payload of a video step.
type VideoContent struct {
	URL         string `json:"url"`
	VideoID     string `json:"videoId,omitempty"`
	Description string `json:"description,omitempty"`
}

// TextContent is the payload of a text step.
type TextContent struct {
	HTML string `json:"html"`
}

// FlexID is an identifier that upstream sends either as a string or a number.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	*id = FlexID(data)
	return nil
}

// QuizOption is one answer option of a quiz question.
type QuizOption struct {
	ID   FlexID `json:"id"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts both option objects and bare option strings.
func (o *QuizOption) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &o.Text)
	}
	type plain QuizOption
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = QuizOption(p)
	return nil
}

// QuizQuestion is one quiz question.
type QuizQuestion struct {
	ID       FlexID       `json:"id"`
	Question string       `json:"question"`
	Options  []QuizOption `json:"options"`
	Multiple bool         `json:"multiple,omitempty"`
}

// QuizContent is the payload of a quiz step.
type QuizContent struct {
	Questions    []QuizQuestion `json:"questions"`
	PassingScore float64        `json:"passingScore,omitempty"`
}

// DownloadFile describes one downloadable file.
type DownloadFile struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// DownloadContent is the payload of a download step.
type DownloadContent struct {
	Files []DownloadFile `json:"files"`
}
