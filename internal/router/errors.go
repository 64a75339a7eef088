package router

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField = errors.New("missing payload field")
	ErrInvalidField = errors.New("invalid payload field")

	// ErrUnhandled means a recognized kind has no dispatch branch.
	ErrUnhandled = errors.New("unhandled event kind")
)

// PayloadError reports a recognized event whose payload lacks a required key
// or carries it with the wrong type. No engine call was made.
type PayloadError struct {
	Event string
	Field string
	Kind  error
	// Absent is set when the envelope carried no payload at all.
	Absent bool
}

func (e *PayloadError) Error() string {
	if e.Absent {
		return fmt.Sprintf("%s: payload absent, %v %q", e.Event, e.Kind, e.Field)
	}
	return fmt.Sprintf("%s: %v %q", e.Event, e.Kind, e.Field)
}

func (e *PayloadError) Unwrap() error {
	return e.Kind
}

// EngineError wraps a failure returned by the engine. The engine may have
// partially applied the mutation.
type EngineError struct {
	Event string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine rejected %s: %v", e.Event, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
