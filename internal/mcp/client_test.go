package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_handleLine_RoutesNumericResponseID(t *testing.T) {
	c := NewClient("echomcp", nil)

	ch := make(chan *Response, 1)
	c.pendingCalls["42"] = ch

	c.handleLine([]byte(`{"jsonrpc":"2.0","id":42,"result":{"tools":[]}}`))

	select {
	case resp := <-ch:
		require.NotNil(t, resp)
		assert.False(t, resp.IsError())
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for routed response")
	}
}

func TestClient_handleLine_RoutesStringResponseID(t *testing.T) {
	c := NewClient("echomcp", nil)

	ch := make(chan *Response, 1)
	c.pendingCalls["req-1"] = ch

	c.handleLine([]byte(`{"jsonrpc":"2.0","id":"req-1","result":"hi"}`))

	select {
	case resp := <-ch:
		require.NotNil(t, resp)
		got, ok := resp.Result.(string)
		require.True(t, ok)
		assert.Equal(t, "hi", got)
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for routed response")
	}
}

func TestClient_handleLine_IgnoresUnmatchedResponseID(t *testing.T) {
	c := NewClient("echomcp", nil)

	ch := make(chan *Response, 1)
	c.pendingCalls["known"] = ch

	// No pending caller registered under "stale" — handleLine must drop it
	// rather than panic or deliver it to the wrong channel.
	c.handleLine([]byte(`{"jsonrpc":"2.0","id":"stale","result":"ignored"}`))

	select {
	case resp := <-ch:
		t.Fatalf("unexpected delivery to unrelated pending call: %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_handleLine_DispatchesNotifications(t *testing.T) {
	c := NewClient("echomcp", nil)

	received := make(chan string, 1)
	c.SetNotificationHandler(func(method string, params map[string]any) {
		received <- method
	})

	c.handleLine([]byte(`{"jsonrpc":"2.0","method":"notifications/tools/list_changed","params":{}}`))

	select {
	case method := <-received:
		assert.Equal(t, "notifications/tools/list_changed", method)
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for notification")
	}
}

func TestClient_initialize_IncludesCapabilitiesAndNormalizesResponseID(t *testing.T) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	pm := &ProcessManager{
		stdin:    stdinW,
		stdout:   stdoutR,
		running:  true,
		stopChan: make(chan struct{}),
	}
	c := NewClient("echomcp", pm)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readLoop()
	}()

	serverErr := make(chan error, 1)
	go func() {
		br := bufio.NewReader(stdinR)

		line, err := br.ReadBytes('\n')
		if err != nil {
			serverErr <- err
			return
		}

		var req map[string]any
		if err := json.Unmarshal(line, &req); err != nil {
			serverErr <- err
			return
		}
		params, _ := req["params"].(map[string]any)
		if params == nil {
			serverErr <- strconv.ErrSyntax
			return
		}
		if _, ok := params["capabilities"]; !ok {
			serverErr <- strconv.ErrSyntax
			return
		}

		idRaw := req["id"]
		idStr, ok := idRaw.(string)
		if !ok {
			serverErr <- strconv.ErrSyntax
			return
		}
		idNum, err := strconv.Atoi(idStr)
		if err != nil {
			serverErr <- err
			return
		}

		resp := map[string]any{
			"jsonrpc": JSONRPCVersion,
			"id":      idNum, // intentionally numeric to validate normalization
			"result": map[string]any{
				"protocolVersion": MCPProtocolVersion,
				"serverInfo": map[string]any{
					"name":    "echomcp",
					"version": "0.1.0",
				},
				"capabilities": map[string]any{},
			},
		}
		b, err := json.Marshal(resp)
		if err != nil {
			serverErr <- err
			return
		}
		if _, err := stdoutW.Write(append(b, '\n')); err != nil {
			serverErr <- err
			return
		}

		// Consume the best-effort notifications/initialized ack.
		if _, err := br.ReadBytes('\n'); err != nil {
			serverErr <- err
			return
		}

		_ = stdoutW.Close()
		_ = stdinR.Close()
		serverErr <- nil
	}()

	require.NoError(t, c.initialize(ctx))
	require.NoError(t, <-serverErr)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
}
