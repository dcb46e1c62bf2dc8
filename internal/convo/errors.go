package convo

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures the orchestrator surfaces to callers.
type ErrorKind string

const (
	KindCaptureUnsupported ErrorKind = "capture_unsupported"
	KindCaptureError       ErrorKind = "capture_error"
	KindStorageError       ErrorKind = "storage_error"
	KindGenerationError    ErrorKind = "generation_error"
	KindSynthesisError     ErrorKind = "synthesis_error"
)

// ErrBusy rejects an utterance submitted while a prior one is still in flight.
var ErrBusy = errors.New("conversation busy: utterance already in flight")

// ErrEmptyUtterance rejects blank submissions.
var ErrEmptyUtterance = errors.New("empty utterance")

// Error is the single surfaced failure value of the orchestrator. Newer
// errors overwrite older unacknowledged ones; ClearError drops the current
// one without touching conversation state.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError wraps a cause with its kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns a short user-facing description for the error kind.
func (e *Error) Message() string {
	switch e.Kind {
	case KindCaptureUnsupported:
		return "Speech capture is not supported on this device."
	case KindCaptureError:
		return "Speech capture failed. Try the mic again."
	case KindStorageError:
		return "Could not save the conversation. Please try again."
	case KindGenerationError:
		return "Could not generate a reply. Please try again."
	case KindSynthesisError:
		return "Could not play the reply out loud."
	default:
		return "Something went wrong."
	}
}
