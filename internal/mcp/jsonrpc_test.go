package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGenerator_Sequential(t *testing.T) {
	gen := NewRequestIDGenerator()

	assert.Equal(t, int64(1), gen.Next())
	assert.Equal(t, int64(2), gen.Next())
	assert.Equal(t, int64(3), gen.Next())
}

func TestNewRequest(t *testing.T) {
	req := NewRequest(int64(1), "tools/call", map[string]any{"name": "echo"})

	assert.Equal(t, JSONRPCVersion, req.JSONRPC)
	assert.EqualValues(t, 1, req.ID)
	assert.Equal(t, "tools/call", req.Method)
	assert.Equal(t, "echo", req.Params["name"])
	assert.False(t, req.IsNotification())
}

func TestNewNotification_HasNoID(t *testing.T) {
	notif := NewNotification("notifications/initialized", nil)

	assert.Equal(t, JSONRPCVersion, notif.JSONRPC)
	assert.Equal(t, "notifications/initialized", notif.Method)
	assert.True(t, notif.IsNotification())
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(int64(1), map[string]any{"tools": []any{}})

	assert.Equal(t, JSONRPCVersion, resp.JSONRPC)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.IsError())
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("7", MethodNotFound, "tool not found", "echo")

	require.NotNil(t, resp.Error)
	assert.Equal(t, MethodNotFound, resp.Error.Code)
	assert.Equal(t, "tool not found", resp.Error.Message)
	assert.True(t, resp.IsError())
}

func TestRPCError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RPCError
		expected string
	}{
		{
			name:     "without data",
			err:      &RPCError{Code: ParseError, Message: "malformed frame"},
			expected: "JSON-RPC error -32700: malformed frame",
		},
		{
			name:     "with data",
			err:      &RPCError{Code: InvalidRequest, Message: "bad envelope", Data: "missing method"},
			expected: "JSON-RPC error -32600: bad envelope (data: missing method)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestMarshalUnmarshal_RoundTripsRequestAndResponse(t *testing.T) {
	req := NewRequest(int64(42), "tools/call", map[string]any{"name": "echo"})

	data, err := Marshal(req)
	require.NoError(t, err)

	parsed, err := UnmarshalRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.Method, parsed.Method)

	// A numeric id round-trips through JSON as float64.
	parsedID, ok := parsed.ID.(float64)
	require.True(t, ok, "expected ID to decode as float64, got %T", parsed.ID)
	assert.Equal(t, float64(42), parsedID)

	resp := NewResponse(int64(42), map[string]any{"status": "ok"})

	data, err = Marshal(resp)
	require.NoError(t, err)

	parsedResp, err := UnmarshalResponse(data)
	require.NoError(t, err)

	parsedRespID, ok := parsedResp.ID.(float64)
	require.True(t, ok, "expected ID to decode as float64, got %T", parsedResp.ID)
	assert.Equal(t, float64(42), parsedRespID)
}

func TestUnmarshalResponse_RejectsInvalidJSON(t *testing.T) {
	_, err := UnmarshalResponse([]byte("not json at all"))
	require.Error(t, err)

	rpcErr, ok := err.(*RPCError)
	require.True(t, ok, "expected *RPCError, got %T", err)
	assert.Equal(t, ParseError, rpcErr.Code)
}

func TestUnmarshalResponse_RejectsWrongVersion(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":"1.0","id":1,"result":"test"}`))
	require.Error(t, err)

	rpcErr, ok := err.(*RPCError)
	require.True(t, ok, "expected *RPCError, got %T", err)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestUnmarshalResponse_RejectsBothResultAndError(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":"ok","error":{"code":-32603,"message":"boom"}}`))
	require.Error(t, err)

	rpcErr, ok := err.(*RPCError)
	require.True(t, ok, "expected *RPCError, got %T", err)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestUnmarshalResponse_RejectsNeitherResultNorError(t *testing.T) {
	_, err := UnmarshalResponse([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)

	rpcErr, ok := err.(*RPCError)
	require.True(t, ok, "expected *RPCError, got %T", err)
	assert.Equal(t, InvalidRequest, rpcErr.Code)
}

func TestRequest_IsNotification(t *testing.T) {
	req := NewRequest(int64(1), "initialize", nil)
	assert.False(t, req.IsNotification())

	req.ID = nil
	assert.True(t, req.IsNotification())
}

func TestResponseIDKey_NormalizesNumericAndStringForms(t *testing.T) {
	assert.Equal(t, "7", ResponseIDKey("7"))
	assert.Equal(t, "7", ResponseIDKey(float64(7)))
	assert.Equal(t, "7", ResponseIDKey(int64(7)))
	assert.Equal(t, "7", ResponseIDKey(7))
}
