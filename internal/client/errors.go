package client

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Client other than caller cancellation matches
// exactly one of these with errors.Is.
var (
	ErrTransport         = errors.New("transport error")
	ErrServiceFailure    = errors.New("service failure")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrEmptyInput        = errors.New("empty input")
	ErrTimeout           = errors.New("timeout")
)

// Error describes a failed collaborator call.
type Error struct {
	Op         string
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
