package wire

import "fmt"

// ErrorCode identifies a protocol-level failure.
type ErrorCode string

const (
	CodeInvalidChannelID ErrorCode = "E001"
	CodeMalformedRequest ErrorCode = "E003"
	CodeSetRoot          ErrorCode = "E004"
	CodeForbiddenPath    ErrorCode = "E005"
	CodeNotCallable      ErrorCode = "E007"
	CodeForbiddenWrite   ErrorCode = "E008"
	CodeNotWritable      ErrorCode = "E009"
	CodeWriteDisabled    ErrorCode = "E010"
	CodeUnknownOperation ErrorCode = "E011"
)

var codeMessages = map[ErrorCode]string{
	CodeInvalidChannelID: "invalid channel id for wrapped argument",
	CodeMalformedRequest: "malformed request",
	CodeSetRoot:          "cannot set the root of a provided object",
	CodeForbiddenPath:    "access denied: forbidden or non-navigable property in path",
	CodeNotCallable:      "target is not a function",
	CodeForbiddenWrite:   "access denied: forbidden property on write",
	CodeNotWritable:      "access denied: property is not writable",
	CodeWriteDisabled:    "access denied: writes are not allowed",
	CodeUnknownOperation: "unknown operation",
}

// AccessDenied reports whether the code belongs to the access-control class.
func (c ErrorCode) AccessDenied() bool {
	switch c {
	case CodeSetRoot, CodeForbiddenPath, CodeForbiddenWrite, CodeNotWritable, CodeWriteDisabled:
		return true
	default:
		return false
	}
}

// Validation reports whether the code belongs to the envelope validation class.
func (c ErrorCode) Validation() bool {
	switch c {
	case CodeInvalidChannelID, CodeMalformedRequest, CodeUnknownOperation, CodeNotCallable:
		return true
	default:
		return false
	}
}

// ProtocolError is a validation or access-control failure raised by a provider.
// Detail is only rendered by development builds.
type ProtocolError struct {
	Code   ErrorCode
	Detail string
}

// NewProtocolError creates a ProtocolError without detail.
func NewProtocolError(code ErrorCode) *ProtocolError {
	return &ProtocolError{Code: code}
}

// NewProtocolErrorf creates a ProtocolError with a formatted detail.
func NewProtocolErrorf(code ErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	if !descriptiveErrors {
		return string(e.Code)
	}
	msg := codeMessages[e.Code]
	if msg == "" {
		msg = "protocol error"
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, msg, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}
