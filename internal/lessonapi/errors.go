package lessonapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("lesson API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("lesson API error %d", e.Status)
}

// ErrorClass groups upstream failures by how the player reacts to them.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassNetwork
	ClassRateLimited
	ClassValidation
	ClassOther
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNetwork:
		return "network"
	case ClassRateLimited:
		return "rate_limited"
	case ClassValidation:
		return "validation"
	default:
		return "other"
	}
}

// Classify maps an error returned by Client to an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests:
			return ClassRateLimited
		case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity:
			return ClassValidation
		default:
			return ClassOther
		}
	}

	if errors.Is(err, context.Canceled) {
		return ClassOther
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, ErrNetwork) {
		return ClassNetwork
	}
	return ClassOther
}

// ErrNetwork marks transport failures in test doubles.
var ErrNetwork = errors.New("network unavailable")
