package ingest

import (
	"errors"
	"fmt"
	"net/http"

	"cardtracker/processor"
)

// Kind tags a pipeline failure with who is at fault.
type Kind int

const (
	ValidationFault Kind = iota + 1
	ProcessingFault
	StorageFault
)

func (k Kind) String() string {
	switch k {
	case ValidationFault:
		return "validation"
	case ProcessingFault:
		return "processing"
	case StorageFault:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is returned by Ingest for every failure that rolled the card back.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s fault: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Message is the text safe to show a client. Validation faults carry their
// reason; server side faults stay generic.
func (e *Error) Message() string {
	if e.Kind == ValidationFault {
		return e.Err.Error()
	}
	return "Failed to process card image"
}

func (e *Error) HTTPStatus() int {
	switch {
	case e.Kind != ValidationFault:
		return http.StatusInternalServerError
	case errors.Is(e.Err, processor.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// KindOf reports the fault kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}
