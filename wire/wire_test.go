package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest(t *testing.T) *Request {
	t.Helper()
	arg, err := NewRaw(map[string]any{"x": 1})
	require.NoError(t, err)
	return &Request{
		Type:          TypeRequest,
		RequestID:     NewID(),
		ConsumerID:    NewID(),
		RealmID:       NewID(),
		OperationType: OpCall,
		PropertyPath:  "math/add",
		Args:          []WrappedArgument{arg, NewWrapped("/root/abc")},
	}
}

func TestRequestRoundtrip(t *testing.T) {
	req := sampleRequest(t)
	data, err := Marshal(req)
	require.NoError(t, err)

	kind, err := Peek(data)
	require.NoError(t, err)
	assert.Equal(t, TypeRequest, kind)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, decoded.RequestID)
	assert.Equal(t, req.ConsumerID, decoded.ConsumerID)
	assert.Equal(t, OpCall, decoded.OperationType)
	assert.Equal(t, []string{"math", "add"}, SplitPath(decoded.PropertyPath))
	require.Len(t, decoded.Args, 2)

	var raw map[string]int
	require.NoError(t, Unmarshal(decoded.Args[0].Value, &raw))
	assert.Equal(t, 1, raw["x"])

	id, err := decoded.Args[1].ChannelID()
	require.NoError(t, err)
	assert.Equal(t, "/root/abc", id)
}

func TestDecodeRequestRejectsBadShapes(t *testing.T) {
	cases := map[string]any{
		"not a map":        "hello",
		"missing args":     map[string]any{"requestID": "1", "operationType": "call", "propertyPath": ""},
		"path not string":  map[string]any{"requestID": "1", "operationType": "call", "propertyPath": 3, "args": []any{}},
		"args not array":   map[string]any{"requestID": "1", "operationType": "call", "propertyPath": "", "args": "x"},
		"arg without type": map[string]any{"requestID": "1", "operationType": "call", "propertyPath": "", "args": []any{map[string]any{"value": 1}}},
		"empty request id": map[string]any{"requestID": "", "operationType": "call", "propertyPath": "", "args": []any{}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(doc)
			require.NoError(t, err)
			_, err = DecodeRequest(data)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.Equal(t, CodeMalformedRequest, perr.Code)
		})
	}
}

func TestUnknownOperationPassesShapeValidation(t *testing.T) {
	req := sampleRequest(t)
	req.OperationType = "explode"
	data, err := Marshal(req)
	require.NoError(t, err)

	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.False(t, decoded.OperationType.Known())
	assert.True(t, OpGCCollect.Known())
}

func TestResponseRoundtrip(t *testing.T) {
	req := sampleRequest(t)
	arg, err := NewRaw(8)
	require.NoError(t, err)
	resp, err := NewResultResponse(req, "provider", arg)
	require.NoError(t, err)

	data, err := Marshal(resp)
	require.NoError(t, err)
	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, decoded.RequestID)
	assert.Equal(t, req.ConsumerID, decoded.ConsumerID)

	got, err := decoded.Argument()
	require.NoError(t, err)
	var n int
	require.NoError(t, Unmarshal(got.Value, &n))
	assert.Equal(t, 8, n)

	_, err = decoded.Error()
	assert.Error(t, err)
}

func TestErrorResponseKeepsCode(t *testing.T) {
	req := sampleRequest(t)
	resp := NewErrorResponse(req, "provider", NewProtocolErrorf(CodeForbiddenPath, "segment %q", "__proto__"))

	payload, err := resp.Error()
	require.NoError(t, err)
	assert.Equal(t, "E005", payload.Code)
	assert.Contains(t, payload.Message, "E005")

	plain := NewErrorResponse(req, "provider", errors.New("boom"))
	payload, err = plain.Error()
	require.NoError(t, err)
	assert.Empty(t, payload.Code)
	assert.Equal(t, "boom", payload.Message)
}

func TestDecodeResponseRejectsRequests(t *testing.T) {
	data, err := Marshal(sampleRequest(t))
	require.NoError(t, err)
	_, err = DecodeResponse(data)
	assert.Error(t, err)
}

func TestChannelIDRejectsEmpty(t *testing.T) {
	_, err := NewWrapped("").ChannelID()
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, CodeInvalidChannelID, perr.Code)

	raw, _ := NewRaw("x")
	_, err = raw.ChannelID()
	assert.Error(t, err)
}

func TestErrorCodeClasses(t *testing.T) {
	for _, c := range []ErrorCode{CodeSetRoot, CodeForbiddenPath, CodeForbiddenWrite, CodeNotWritable, CodeWriteDisabled} {
		assert.True(t, c.AccessDenied(), string(c))
	}
	assert.False(t, CodeMalformedRequest.AccessDenied())
	assert.True(t, CodeMalformedRequest.Validation())
}

func TestNewIDIsUnique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.True(t, ValidID(a))
	assert.False(t, ValidID("nope"))
}

func TestSplitJoinPath(t *testing.T) {
	assert.Nil(t, SplitPath(""))
	assert.Equal(t, "a/b/c", JoinPath(SplitPath("a/b/c")))
}
