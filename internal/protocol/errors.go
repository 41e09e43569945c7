package protocol

import (
	"errors"
	"syscall"
)

var (
	ErrInvalidArgument = errors.New("protocol: invalid argument")
	ErrTypeMismatch    = errors.New("protocol: pdu type mismatch")
	ErrProtocol        = errors.New("protocol: protocol violation")
	ErrSchemaMismatch  = errors.New("protocol: struct schema mismatch")
	ErrNoMemory        = errors.New("protocol: out of memory")
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrUnknownStruct   = errors.New("protocol: unknown struct")
	ErrAlignment       = errors.New("protocol: misaligned struct buffer")
	ErrIO              = errors.New("protocol: i/o failure")
	ErrTimeout         = errors.New("protocol: deadline exceeded")
	ErrCanceled        = errors.New("protocol: canceled")
	ErrStreamBroken    = errors.New("protocol: stream broken")
	ErrFinalized       = errors.New("protocol: stream already finalized")
	ErrBusy            = errors.New("protocol: catalogue in use")
)

// Kind classifies an error into the engine's error taxonomy.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidArgument
	KindTypeMismatch
	KindProtocol
	KindSchemaMismatch
	KindResource
	KindUnknownType
	KindAlignment
	KindIO
	KindTimeout
	KindCanceled
	KindState
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindProtocol:
		return "protocol"
	case KindSchemaMismatch:
		return "schema_mismatch"
	case KindResource:
		return "resource"
	case KindUnknownType:
		return "unknown_type"
	case KindAlignment:
		return "alignment"
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindState:
		return "state"
	default:
		return "other"
	}
}

// KindOf maps err to its taxonomy kind. Wrapped errors are unwrapped with errors.Is.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCanceled):
		return KindCanceled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrTypeMismatch):
		return KindTypeMismatch
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrUnknownStruct):
		return KindUnknownType
	case errors.Is(err, ErrAlignment):
		return KindAlignment
	case errors.Is(err, ErrStreamBroken), errors.Is(err, ErrFinalized), errors.Is(err, ErrBusy):
		return KindState
	case IsTransient(err), errors.Is(err, ErrMessageTooLarge):
		return KindResource
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindOther
	}
}

// IsTransient reports resource-exhaustion failures that may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoMemory) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.EAGAIN)
}

// IsCanceled reports cooperative cancellation, which callers must not treat as a failure to log.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}
