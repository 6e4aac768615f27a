package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-player/internal/lessonapi"
	"github.com/p-n-ai/pai-player/internal/player"
)

// Client message types.
const (
	MsgOpen          = "open"
	MsgNavigate      = "navigate"
	MsgNext          = "next"
	MsgPrevious      = "previous"
	MsgVideoProgress = "video_progress"
	MsgVideoComplete = "video_complete"
	MsgTextLayout    = "text_layout"
	MsgTextScroll    = "text_scroll"
	MsgVisibility    = "visibility"
	MsgQuizSubmit    = "quiz_submit"
	MsgDownload      = "download"
)

// Server message types.
const (
	MsgState           = "state"
	MsgNotification    = "notification"
	MsgLessonCompleted = "lesson_completed"
	MsgNextLesson      = "next_lesson"
	MsgScrollToHeader  = "scroll_to_header"
	MsgTextProgress    = "text_progress"
	MsgResult          = "result"
	MsgError           = "error"
)

// ErrInvalidMessage is returned for client messages that fail decoding or validation.
var ErrInvalidMessage = errors.New("invalid message")

type envelope struct {
	Type string `json:"type" validate:"required,oneof=open navigate next previous video_progress video_complete text_layout text_scroll visibility quiz_submit download"`
	ID   string `json:"id" validate:"max=64"`
}

type OpenMessage struct {
	LessonID int64  `json:"lessonId" validate:"required,gt=0"`
	ModelID  string `json:"modelId" validate:"max=128"`
}

type NavigateMessage struct {
	Index *int `json:"index" validate:"required,gte=0"`
}

type VideoProgressMessage struct {
	StepID  int64    `json:"stepId" validate:"required,gt=0"`
	Percent *float64 `json:"percent" validate:"required"`
}

type StepMessage struct {
	StepID int64 `json:"stepId" validate:"required,gt=0"`
}

type TextLayoutMessage struct {
	StepID         int64   `json:"stepId" validate:"required,gt=0"`
	ContentHeight  float64 `json:"contentHeight" validate:"gte=0"`
	ViewportHeight float64 `json:"viewportHeight" validate:"gt=0"`
}

type TextScrollMessage struct {
	StepID       int64   `json:"stepId" validate:"required,gt=0"`
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight" validate:"gte=0"`
	ClientHeight float64 `json:"clientHeight" validate:"gte=0"`
}

type VisibilityMessage struct {
	Visible *bool `json:"visible" validate:"required"`
}

type QuizSubmitMessage struct {
	StepID  int64          `json:"stepId" validate:"required,gt=0"`
	Answers map[string]any `json:"answers" validate:"required"`
}

type DownloadMessage struct {
	StepID int64  `json:"stepId" validate:"required,gt=0"`
	FileID string `json:"fileId" validate:"required,max=256"`
}

// ServerMessage is every message pushed to the client.
type ServerMessage struct {
	Type         string               `json:"type"`
	ID           string               `json:"id,omitempty"`
	State        *player.View         `json:"state,omitempty"`
	Notification *player.Notification `json:"notification,omitempty"`
	Text         *player.TextProgress `json:"text,omitempty"`
	LessonID     int64                `json:"lessonId,omitempty"`
	NextLessonID *int64               `json:"nextLessonId,omitempty"`
	StepID       int64                `json:"stepId,omitempty"`
	Result       *StepResult          `json:"result,omitempty"`
	Code         string               `json:"code,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// StepResult reports the outcome of a completion request.
type StepResult struct {
	StepID    int64          `json:"stepId"`
	Completed bool           `json:"completed"`
	Data      map[string]any `json:"data,omitempty"`
}

// completionResult builds the reply to a completion request. A duplicate of
// a request still in flight is answered as a no-op rather than an error.
func completionResult(stepID int64, completed bool, data map[string]any, err error) (*StepResult, error) {
	if errors.Is(err, player.ErrCompletionInFlight) {
		return &StepResult{StepID: stepID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &StepResult{StepID: stepID, Completed: completed, Data: data}, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeMessage parses and validates one client message. The returned
// payload is nil for messages without fields.
func decodeMessage(v *validator.Validate, raw []byte) (envelope, any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := v.Struct(env); err != nil {
		return env, nil, validationError(err)
	}

	var msg any
	switch env.Type {
	case MsgNext, MsgPrevious:
		return env, nil, nil
	case MsgOpen:
		msg = &OpenMessage{}
	case MsgNavigate:
		msg = &NavigateMessage{}
	case MsgVideoProgress:
		msg = &VideoProgressMessage{}
	case MsgVideoComplete:
		msg = &StepMessage{}
	case MsgTextLayout:
		msg = &TextLayoutMessage{}
	case MsgTextScroll:
		msg = &TextScrollMessage{}
	case MsgVisibility:
		msg = &VisibilityMessage{}
	case MsgQuizSubmit:
		msg = &QuizSubmitMessage{}
	case MsgDownload:
		msg = &DownloadMessage{}
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return env, nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	if err := v.Struct(msg); err != nil {
		return env, nil, validationError(err)
	}
	return env, msg, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(parts, "; "))
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidMessage, "invalid_message"},
	{player.ErrCompletionInFlight, "completion_in_flight"},
	{player.ErrStepLocked, "step_locked"},
	{player.ErrNotCurrentStep, "not_current_step"},
	{player.ErrContentUnavailable, "content_unavailable"},
	{player.ErrCompleteEarlierSteps, "complete_earlier_steps"},
	{player.ErrNoNextStep, "no_next_step"},
	{player.ErrNoPreviousStep, "no_previous_step"},
	{player.ErrStepOutOfRange, "step_out_of_range"},
	{player.ErrUnknownStep, "unknown_step"},
	{player.ErrStepTypeMismatch, "step_type_mismatch"},
	{player.ErrUnknownFile, "unknown_file"},
	{player.ErrManualCompleteDisabled, "manual_complete_disabled"},
	{player.ErrNotLoaded, "not_loaded"},
	{player.ErrSessionClosed, "session_closed"},
}

// errorCode maps an error to the stable code sent to the client.
func errorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	switch lessonapi.Classify(err) {
	case lessonapi.ClassNetwork:
		return "network"
	case lessonapi.ClassRateLimited:
		return "rate_limited"
	case lessonapi.ClassValidation:
		return "rejected"
	default:
		return "internal"
	}
}

func errorMessage(id string, err error) ServerMessage {
	return ServerMessage{Type: MsgError, ID: id, Code: errorCode(err), Error: err.Error()}
}
