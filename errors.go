package farcall

import (
	"errors"
	"fmt"

	"github.com/machinefabric/farcall-go/wire"
)

// Sentinels matched by CallError.Is.
var (
	ErrTimeout      = errors.New("farcall: call timed out")
	ErrClosed       = errors.New("farcall: consumer closed")
	ErrAccessDenied = errors.New("farcall: access denied")
)

// CallErrorType classifies a failed remote operation.
type CallErrorType int

const (
	// CallErrorTypeTarget: the target itself returned an error or panicked.
	CallErrorTypeTarget CallErrorType = iota
	CallErrorTypeValidation
	CallErrorTypeAccessDenied
	CallErrorTypeTimeout
	CallErrorTypeClosed
	CallErrorTypeTransport
	CallErrorTypeCanceled
	CallErrorTypeDecode
	CallErrorTypeEncode
)

// CallError is returned by every Remote operation that does not succeed.
// Code is set for protocol failures reported by the provider.
type CallError struct {
	Type    CallErrorType
	Code    wire.ErrorCode
	Message string
	Err     error
}

func (e *CallError) Error() string {
	switch e.Type {
	case CallErrorTypeTarget:
		return fmt.Sprintf("remote error: %s", e.Message)
	case CallErrorTypeValidation:
		return fmt.Sprintf("remote rejected request: %s", e.Message)
	case CallErrorTypeAccessDenied:
		return fmt.Sprintf("remote access denied: %s", e.Message)
	case CallErrorTypeTimeout:
		return fmt.Sprintf("call timed out: %s", e.Message)
	case CallErrorTypeClosed:
		return "consumer is closed"
	case CallErrorTypeTransport:
		return fmt.Sprintf("transport error: %s", e.Message)
	case CallErrorTypeCanceled:
		return fmt.Sprintf("call canceled: %s", e.Message)
	case CallErrorTypeDecode:
		return fmt.Sprintf("decode error: %s", e.Message)
	case CallErrorTypeEncode:
		return fmt.Sprintf("encode error: %s", e.Message)
	default:
		return fmt.Sprintf("unknown error: %s", e.Message)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Type == CallErrorTypeTimeout
	case ErrClosed:
		return e.Type == CallErrorTypeClosed
	case ErrAccessDenied:
		return e.Type == CallErrorTypeAccessDenied
	}
	return false
}

// errorFromPayload maps an error response onto a CallError.
func errorFromPayload(payload wire.ErrorPayload) *CallError {
	code := wire.ErrorCode(payload.Code)
	e := &CallError{Type: CallErrorTypeTarget, Code: code, Message: payload.Message}
	switch {
	case code == "":
	case code.AccessDenied():
		e.Type = CallErrorTypeAccessDenied
	default:
		e.Type = CallErrorTypeValidation
	}
	return e
}

func closedError() *CallError {
	return &CallError{Type: CallErrorTypeClosed, Err: ErrClosed}
}
