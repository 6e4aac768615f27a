package lesson

import (
	"strings"

	"golang.org/x/text/cases"
)

// fold is shared by the parsers below; upstream enum strings arrive in
// mixed case and with either '_', '-' or ' ' as separators.
var fold = cases.Fold()

func canonical(s string) string {
	s = fold.String(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// StepType is the kind of content a step carries.
type StepType int

const (
	StepUnknown StepType = iota
	StepVideo
	StepText
	StepQuiz
	StepDownload
)

// ParseStepType maps an upstream type string to a StepType.
func ParseStepType(s string) StepType {
	switch canonical(s) {
	case "video":
		return StepVideo
	case "text":
		return StepText
	case "quiz":
		return StepQuiz
	case "download":
		return StepDownload
	default:
		return StepUnknown
	}
}

// String returns the upstream wire form.
func (t StepType) String() string {
	switch t {
	case StepVideo:
		return "VIDEO"
	case StepText:
		return "TEXT"
	case StepQuiz:
		return "QUIZ"
	case StepDownload:
		return "DOWNLOAD"
	default:
		return "UNKNOWN"
	}
}

func (t StepType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// StepStatus is a step's lifecycle state. Transitions are server driven:
// locked → available → in_progress → completed.
type StepStatus int

const (
	StatusLocked StepStatus = iota
	StatusAvailable
	StatusInProgress
	StatusCompleted
)

// ParseStepStatus maps an upstream status string to a StepStatus.
// Unrecognised values are treated as locked.
func ParseStepStatus(s string) StepStatus {
	switch canonical(s) {
	case "available":
		return StatusAvailable
	case "in_progress", "inprogress", "started":
		return StatusInProgress
	case "completed", "complete", "done":
		return StatusCompleted
	default:
		return StatusLocked
	}
}

func (s StepStatus) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	default:
		return "locked"
	}
}

func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Startable reports whether entering a step in this state should notify the server.
func (s StepStatus) Startable() bool {
	return s == StatusAvailable || s == StatusInProgress
}

// LessonStatus is the learner's aggregate state on a lesson.
type LessonStatus int

const (
	LessonNotStarted LessonStatus = iota
	LessonInProgress
	LessonCompleted
)

// ParseLessonStatus maps an upstream lesson status string.
func ParseLessonStatus(s string) LessonStatus {
	switch canonical(s) {
	case "in_progress", "inprogress", "started":
		return LessonInProgress
	case "completed", "complete":
		return LessonCompleted
	default:
		return LessonNotStarted
	}
}

func (s LessonStatus) String() string {
	switch s {
	case LessonInProgress:
		return "IN_PROGRESS"
	case LessonCompleted:
		return "COMPLETED"
	default:
		return "NOT_STARTED"
	}
}

func (s LessonStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ProgressMode controls whether steps must be taken in order.
type ProgressMode int

const (
	ModeSequential ProgressMode = iota
	ModeFree
	ModeGrouped
)

// ParseProgressMode maps an upstream progress mode. Empty means sequential.
func ParseProgressMode(s string) ProgressMode {
	switch canonical(s) {
	case "free":
		return ModeFree
	case "grouped":
		return ModeGrouped
	default:
		return ModeSequential
	}
}

func (m ProgressMode) String() string {
	switch m {
	case ModeFree:
		return "free"
	case ModeGrouped:
		return "grouped"
	default:
		return "sequential"
	}
}

func (m ProgressMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
