package dma

import (
	"fmt"

	"github.com/tphakala/pcmstream/internal/audio"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindConfiguration ErrorKind = iota + 1
	KindResourceExhaustion
	KindProtocolViolation
	KindWithdrawalFailure
	KindSubmitFailure
	KindInvalidState
	KindClosed
)

// Sentinels matched by StreamError.Is.
var (
	ErrConfiguration      = audio.Error("configuration error")
	ErrResourceExhaustion = audio.Error("resource exhaustion")
	ErrProtocolViolation  = audio.Error("protocol violation")
	ErrWithdrawalFailure  = audio.Error("engine withdrawal failure")
	ErrSubmitFailure      = audio.Error("descriptor submission failed")
	ErrInvalidState       = audio.Error("invalid state transition")
	ErrSessionClosed      = audio.Error("session closed")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindResourceExhaustion:
		return ErrResourceExhaustion
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindWithdrawalFailure:
		return ErrWithdrawalFailure
	case KindSubmitFailure:
		return ErrSubmitFailure
	case KindInvalidState:
		return ErrInvalidState
	case KindClosed:
		return ErrSessionClosed
	default:
		return nil
	}
}

// String returns the sentinel text for the kind.
func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// StreamError is an error raised by a session operation or its completion path.
type StreamError struct {
	Kind    ErrorKind
	Op      string
	Session uint32
	Err     error
}

func newError(kind ErrorKind, op string, session uint32, err error) *StreamError {
	return &StreamError{Kind: kind, Op: op, Session: session, Err: err}
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dma: %s session %d: %s", e.Op, e.Session, e.Kind)
	}
	return fmt.Sprintf("dma: %s session %d: %s: %v", e.Op, e.Session, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error kind.
func (e *StreamError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}
