package backend

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable = errors.New("movie service unavailable")
	ErrTimeout     = errors.New("movie service timed out")
	ErrBadStatus   = errors.New("movie service returned an error status")
	ErrBadResponse = errors.New("malformed response from movie service")
	// ErrCircuitOpen is returned without contacting the service while the
	// breaker is open.
	ErrCircuitOpen = errors.New("movie service circuit open")
)

// maxBodyExcerpt bounds the response body kept on a RequestError.
const maxBodyExcerpt = 200

// RequestError describes one failed call. It unwraps to both Kind (one of the
// sentinels above) and Cause.
type RequestError struct {
	Op     string // "search" or "recommend"
	Status int    // HTTP status, 0 when no response arrived
	Body   string // response body excerpt for bad statuses
	Kind   error
	Cause  error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		body = body[:maxBodyExcerpt]
	}
	return string(body)
}
