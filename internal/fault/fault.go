package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that branch on failure class,
// primarily the HTTP layer when mapping to status codes.
type Kind int

const (
	Unknown Kind = iota
	Transport
	Storage
	Validation
	Capacity
	TimeUnavailable
	UpstreamRejected
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Storage:
		return "storage"
	case Validation:
		return "validation"
	case Capacity:
		return "capacity"
	case TimeUnavailable:
		return "time-unavailable"
	case UpstreamRejected:
		return "upstream-rejected"
	default:
		return "unknown"
	}
}

// Error carries a kind plus a human-readable message. It wraps an
// underlying cause when one exists.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or Unknown for foreign errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}
