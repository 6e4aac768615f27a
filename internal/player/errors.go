package player

import "errors"

// Local rejections. None of these involve a network call.
var (
	ErrCompletionInFlight     = errors.New("step completion already in flight")
	ErrStepLocked             = errors.New("step is locked")
	ErrNotCurrentStep         = errors.New("step is not the current step")
	ErrContentUnavailable     = errors.New("step content not available")
	ErrCompleteEarlierSteps   = errors.New("complete earlier steps first")
	ErrNoNextStep             = errors.New("no next step")
	ErrNoPreviousStep         = errors.New("no previous step")
	ErrStepOutOfRange         = errors.New("step index out of range")
	ErrUnknownStep            = errors.New("unknown step")
	ErrStepTypeMismatch       = errors.New("step type mismatch")
	ErrUnknownFile            = errors.New("unknown file")
	ErrManualCompleteDisabled = errors.New("manual completion not allowed for this lesson")
	ErrNotLoaded              = errors.New("lesson not loaded")
	ErrSessionClosed          = errors.New("session closed")
)
