// Package wire defines the envelopes exchanged between consumers and
// providers, their CBOR encoding, and the protocol error codes.
package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Envelope type discriminators
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// OperationType selects what a provider does with the value at a property path.
type OperationType string

const (
	OpCall       OperationType = "call"
	OpConstruct  OperationType = "construct"
	OpSet        OperationType = "set"
	OpAwait      OperationType = "await"
	OpGCRegister OperationType = "gc-register"
	OpGCCollect  OperationType = "gc-collect"
	OpPing       OperationType = "ping"
)

// Known reports whether op is one of the protocol operations.
func (op OperationType) Known() bool {
	switch op {
	case OpCall, OpConstruct, OpSet, OpAwait, OpGCRegister, OpGCCollect, OpPing:
		return true
	default:
		return false
	}
}

// ResultType tells a consumer how to read Response.Result.
type ResultType string

const (
	ResultOK    ResultType = "result"
	ResultError ResultType = "error"
)

// Argument tags. Any other tag names a registered value codec.
const (
	ArgRaw     = "raw"
	ArgWrapped = "wrapped"
)

// PathSeparator joins property names in Request.PropertyPath and channel ids.
const PathSeparator = "/"

// WrappedArgument is one argument or result as it travels on the wire.
// Value holds the encoded payload: the data itself for "raw", the channel id
// for "wrapped", and the codec representation otherwise.
type WrappedArgument struct {
	Type  string          `cbor:"type"`
	Value cbor.RawMessage `cbor:"value"`
}

// Request is sent by a consumer to a provider.
type Request struct {
	Type          string            `cbor:"type"`
	RequestID     string            `cbor:"requestID"`
	ConsumerID    string            `cbor:"consumerID"`
	RealmID       string            `cbor:"realmID"`
	OperationType OperationType     `cbor:"operationType"`
	PropertyPath  string            `cbor:"propertyPath"`
	Args          []WrappedArgument `cbor:"args"`
}

// Response answers exactly one Request. Result is a WrappedArgument when
// ResultType is "result" and an ErrorPayload when it is "error".
type Response struct {
	Type       string          `cbor:"type"`
	RequestID  string          `cbor:"requestID"`
	ResultType ResultType      `cbor:"resultType"`
	Result     cbor.RawMessage `cbor:"result"`
	ProviderID string          `cbor:"providerID"`
	ConsumerID string          `cbor:"consumerID"`
}

// ErrorPayload is the result of an error response.
type ErrorPayload struct {
	Code    string `cbor:"code,omitempty"`
	Message string `cbor:"message"`
}

// MuxEnvelope is the multiplexer frame carried by a physical transport.
type MuxEnvelope struct {
	ChannelID string          `cbor:"channelId"`
	Data      cbor.RawMessage `cbor:"data"`
}

// NewRaw tags a copyable value.
func NewRaw(value any) (WrappedArgument, error) {
	data, err := Marshal(value)
	if err != nil {
		return WrappedArgument{}, fmt.Errorf("encode raw argument: %w", err)
	}
	return WrappedArgument{Type: ArgRaw, Value: data}, nil
}

// NewWrapped tags a live reference living on channelID.
func NewWrapped(channelID string) WrappedArgument {
	data, _ := Marshal(channelID)
	return WrappedArgument{Type: ArgWrapped, Value: data}
}

// ChannelID extracts the channel id of a "wrapped" argument.
func (a WrappedArgument) ChannelID() (string, error) {
	if a.Type != ArgWrapped {
		return "", fmt.Errorf("argument of type %q is not a reference", a.Type)
	}
	var id string
	if err := Unmarshal(a.Value, &id); err != nil || id == "" {
		return "", NewProtocolError(CodeInvalidChannelID)
	}
	return id, nil
}

// NewResultResponse builds a successful response.
func NewResultResponse(req *Request, providerID string, result WrappedArgument) (*Response, error) {
	data, err := Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{
		Type:       TypeResponse,
		RequestID:  req.RequestID,
		ResultType: ResultOK,
		Result:     data,
		ProviderID: providerID,
		ConsumerID: req.ConsumerID,
	}, nil
}

// NewErrorResponse builds an error response. Protocol errors keep their code.
func NewErrorResponse(req *Request, providerID string, cause error) *Response {
	payload := ErrorPayload{Message: cause.Error()}
	var perr *ProtocolError
	if errors.As(cause, &perr) {
		payload.Code = string(perr.Code)
	}
	data, err := Marshal(payload)
	if err != nil {
		data, _ = Marshal(ErrorPayload{Message: "unencodable error"})
	}
	return &Response{
		Type:       TypeResponse,
		RequestID:  req.RequestID,
		ResultType: ResultError,
		Result:     data,
		ProviderID: providerID,
		ConsumerID: req.ConsumerID,
	}
}

// Argument decodes the result of a successful response.
func (r *Response) Argument() (WrappedArgument, error) {
	var arg WrappedArgument
	if r.ResultType != ResultOK {
		return arg, errors.New("not a result response")
	}
	if err := Unmarshal(r.Result, &arg); err != nil {
		return arg, fmt.Errorf("decode response result: %w", err)
	}
	return arg, nil
}

// Error decodes the payload of an error response.
func (r *Response) Error() (ErrorPayload, error) {
	var payload ErrorPayload
	if r.ResultType != ResultError {
		return payload, errors.New("not an error response")
	}
	if err := Unmarshal(r.Result, &payload); err != nil {
		return payload, fmt.Errorf("decode response error: %w", err)
	}
	return payload, nil
}
