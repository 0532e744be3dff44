package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cloudcompilerr/mcp-runtime/internal/shared/async"
	"github.com/cloudcompilerr/mcp-runtime/internal/shared/logging"
)

// ClientInfo identifies this client to an MCP server during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the server-advertised identity captured from a successful
// initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities is the server's advertised capability set, passed
// through opaquely.
type ServerCapabilities map[string]any

// ToolInputSchema is the JSON-schema-shaped description of a tool's
// arguments.
type ToolInputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// ToolSchema is one server-advertised tool.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolCallResult is the result of a tools/call invocation. A result with
// IsError=true is ordinary data, not a raised error: only a JSON-RPC error
// response becomes a RemoteError.
type ToolCallResult struct {
	Content  any    `json:"content"`
	IsError  bool   `json:"isError"`
	MimeType string `json:"mimeType,omitempty"`
}

// Resource is one server-advertised readable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one entry of a resources/read result.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// DefaultClientInfo is used when a caller does not supply its own identity.
var DefaultClientInfo = ClientInfo{Name: "mcp-runtime", Version: "0.1.0"}

// Client is a stateful protocol object wrapping one child-process transport:
// the initialize handshake, the typed MCP operations, and connection-state
// tracking (spec.md §4.3). It owns the process's stdio framing directly
// (write mutex + pending-response table + reader goroutine) rather than
// delegating to a separate transport object, mirroring the teacher's single
// Client type.
type Client struct {
	name    string
	process *ProcessManager
	logger  logging.Logger

	clientInfo     ClientInfo
	requestTimeout time.Duration
	idGen          *RequestIDGenerator

	writeMu sync.Mutex

	mu           sync.Mutex
	state        ConnectionState
	pendingCalls map[string]chan *Response
	initialized  bool
	serverInfo   *ServerInfo
	capabilities *ServerCapabilities
	lastError    error

	notificationHandler func(method string, params map[string]any)

	readerDone chan struct{}
}

// ClientOption customizes Client construction.
type ClientOption func(*Client)

// WithClientInfo overrides the identity sent during initialize.
func WithClientInfo(info ClientInfo) ClientOption {
	return func(c *Client) { c.clientInfo = info }
}

// WithRequestTimeout overrides the per-request timeout (default 30s).
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient builds a Client named name over the given process manager. The
// process is not started; call Start to connect and initialize.
func NewClient(name string, process *ProcessManager, opts ...ClientOption) *Client {
	c := &Client{
		name:           name,
		process:        process,
		logger:         logging.NewComponentLogger("mcp.client." + name),
		clientInfo:     DefaultClientInfo,
		requestTimeout: 30 * time.Second,
		idGen:          NewRequestIDGenerator(),
		state:          Disconnected,
		pendingCalls:   make(map[string]chan *Response),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetNotificationHandler registers a callback invoked for every inbound
// JSON-RPC notification (a message with no id). Server notifications are
// otherwise ignored, per spec.md's non-goals.
func (c *Client) SetNotificationHandler(fn func(method string, params map[string]any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notificationHandler = fn
}

// State returns the client's current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Start spawns the child process, begins the reader loop, and performs the
// initialize handshake: DISCONNECTED -> CONNECTING -> CONNECTED ->
// INITIALIZING -> READY, or -> ERROR on any failure.
func (c *Client) Start(ctx context.Context) error {
	c.setState(Connecting)

	if err := c.process.Start(ctx); err != nil {
		c.recordError(err)
		return err
	}

	c.readerDone = make(chan struct{})
	async.Go(c.logger, "mcp.client.readLoop."+c.name, c.readLoop)

	c.setState(Connected)

	if err := c.Initialize(ctx); err != nil {
		c.recordError(err)
		return err
	}

	return nil
}

func (c *Client) recordError(err error) {
	c.mu.Lock()
	c.state = Errored
	c.lastError = err
	c.initialized = false
	c.mu.Unlock()
}

// Initialize may only be attempted from CONNECTED; it sends the
// initialize request (with capabilities, per the Open Question in
// spec.md §9), stores server_info/capabilities on success, sends the
// notifications/initialized notification, and transitions to READY.
func (c *Client) Initialize(ctx context.Context) error {
	if c.State() != Connected {
		return &ClientError{Kind: ClientNotInitialized, Message: "initialize attempted outside CONNECTED state"}
	}
	c.setState(Initializing)
	if err := c.initialize(ctx); err != nil {
		c.recordError(err)
		return &ClientError{Kind: ClientInitFailed, Message: "initialize failed", Cause: err}
	}
	c.setState(Ready)
	return nil
}

// initialize performs the low-level initialize handshake without touching
// the connection-state machine, so it can be driven directly in isolation
// (as the unit tests do) from any CONNECTED-equivalent transport.
func (c *Client) initialize(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, "initialize", map[string]any{
		"protocolVersion": MCPProtocolVersion,
		"clientInfo": map[string]any{
			"name":    c.clientInfo.Name,
			"version": c.clientInfo.Version,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &RemoteError{RPCError: resp.Error}
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		return &ClientError{Kind: ClientDecode, Message: "initialize result is not an object"}
	}

	if infoRaw, ok := result["serverInfo"].(map[string]any); ok {
		info := &ServerInfo{}
		if name, ok := infoRaw["name"].(string); ok {
			info.Name = name
		}
		if version, ok := infoRaw["version"].(string); ok {
			info.Version = version
		}
		c.mu.Lock()
		c.serverInfo = info
		c.mu.Unlock()
	}

	if capsRaw, ok := result["capabilities"].(map[string]any); ok {
		caps := ServerCapabilities(capsRaw)
		c.mu.Lock()
		c.capabilities = &caps
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	// Best-effort: the MCP handshake completes with a notification, no
	// response expected and failures here do not fail initialize.
	_ = c.sendNotification("notifications/initialized", nil)

	return nil
}

// IsConnected reports whether the underlying process is alive and the
// handshake has completed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	return c.process.IsRunning() && initialized
}

// GetServerInfo returns the last server_info snapshot captured during
// initialize, or nil if none.
func (c *Client) GetServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// GetCapabilities returns the server's advertised capabilities, or nil.
func (c *Client) GetCapabilities() *ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// LastError returns the most recently recorded client-level error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Client) requireInitialized() error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return &ClientError{Kind: ClientNotInitialized, Message: "method called before a successful initialize"}
	}
	return nil
}

// ListTools issues tools/list and returns the server's tool catalogue
// (possibly empty).
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &RemoteError{RPCError: resp.Error}
	}

	var payload struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := remarshalInto(resp.Result, &payload); err != nil {
		return nil, &ClientError{Kind: ClientDecode, Message: "decoding tools/list result", Cause: err}
	}
	return payload.Tools, nil
}

// CallTool issues tools/call. A result with IsError=true is returned, not
// raised; only a JSON-RPC-level error becomes a RemoteError.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	resp, err := c.sendRequest(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &RemoteError{RPCError: resp.Error}
	}

	var result ToolCallResult
	if err := remarshalInto(resp.Result, &result); err != nil {
		return nil, &ClientError{Kind: ClientDecode, Message: "decoding tools/call result", Cause: err}
	}
	return &result, nil
}

// ListResources issues resources/list.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	if err := c.requireInitialized(); err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &RemoteError{RPCError: resp.Error}
	}

	var payload struct {
		Resources []Resource `json:"resources"`
	}
	if err := remarshalInto(resp.Result, &payload); err != nil {
		return nil, &ClientError{Kind: ClientDecode, Message: "decoding resources/list result", Cause: err}
	}
	return payload.Resources, nil
}

// ReadResource issues resources/read and returns the text of the first
// content entry. A missing contents array, an empty one, or a first entry
// without text is a BadResourceShape error.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	if err := c.requireInitialized(); err != nil {
		return "", err
	}
	resp, err := c.sendRequest(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", &RemoteError{RPCError: resp.Error}
	}

	var payload struct {
		Contents []ResourceContent `json:"contents"`
	}
	if err := remarshalInto(resp.Result, &payload); err != nil {
		return "", &ClientError{Kind: ClientDecode, Message: "decoding resources/read result", Cause: err}
	}
	if len(payload.Contents) == 0 || payload.Contents[0].Text == "" {
		return "", &ClientError{Kind: ClientBadResourceShape, Message: fmt.Sprintf("resource %q returned no readable text content", uri)}
	}
	return payload.Contents[0].Text, nil
}

// Close marks the client uninitialized, clears server_info, and closes the
// underlying process. Idempotent.
func (c *Client) Close() error {
	return c.Stop()
}

// Stop is an alias for Close matching the registry's call sites.
func (c *Client) Stop() error {
	c.mu.Lock()
	c.initialized = false
	c.serverInfo = nil
	c.capabilities = nil
	pending := c.pendingCalls
	c.pendingCalls = make(map[string]chan *Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	err := c.process.Stop(5 * time.Second)

	if c.readerDone != nil {
		<-c.readerDone
	}

	c.setState(Disconnected)
	return err
}

// sendRequest writes a framed request and blocks for its response or
// timeout/cancellation, whichever comes first.
func (c *Client) sendRequest(ctx context.Context, method string, params map[string]any) (*Response, error) {
	if !c.process.IsRunning() {
		return nil, &TransportError{Kind: TransportNotConnected, Message: "send_request on disconnected transport"}
	}

	// Request ids are generated as an atomic counter and sent as decimal
	// strings, per spec.md §4.2/§6.1; responses may echo either shape back
	// (ResponseIDKey normalizes on receipt).
	idStr := fmt.Sprintf("%d", c.idGen.Next())
	req := NewRequest(idStr, method, params)
	key := idStr

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pendingCalls[key] = ch
	c.mu.Unlock()

	if err := c.writeLine(req); err != nil {
		c.mu.Lock()
		delete(c.pendingCalls, key)
		c.mu.Unlock()
		return nil, err
	}

	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			// Stop or a reader EOF failed every pending call by closing its channel.
			return nil, &TransportError{Kind: TransportClosed, Message: fmt.Sprintf("request %q failed: connection closed", method)}
		}
		return resp, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pendingCalls, key)
		c.mu.Unlock()
		return nil, &TransportError{Kind: TransportTimeout, Message: fmt.Sprintf("request %q timed out after %s", method, timeout)}
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingCalls, key)
		c.mu.Unlock()
		return nil, &TransportError{Kind: TransportTimeout, Message: "request cancelled", Cause: ctx.Err()}
	}
}

func (c *Client) sendNotification(method string, params map[string]any) error {
	return c.writeLine(NewNotification(method, params))
}

func (c *Client) writeLine(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return &TransportError{Kind: TransportWrite, Message: "marshal failed", Cause: err}
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	w := c.process.Writer()
	if w == nil {
		return &TransportError{Kind: TransportNotConnected, Message: "no writer available"}
	}
	if _, err := w.Write(data); err != nil {
		return &TransportError{Kind: TransportWrite, Message: "write failed", Cause: err}
	}
	return nil
}

// readLoop consumes framed lines from the child's stdout for the lifetime
// of the connection, dispatching responses to pending callers and
// notifications to the registered handler. Malformed lines are logged and
// skipped; they never crash the reader.
func (c *Client) readLoop() {
	defer func() {
		if c.readerDone != nil {
			close(c.readerDone)
		}
	}()

	r := c.process.Reader()
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		c.handleLine(cp)
	}

	c.mu.Lock()
	wasInitialized := c.initialized
	c.mu.Unlock()
	if wasInitialized {
		c.logger.Warn("reader loop for %q ended unexpectedly (EOF)", c.name)
		c.failAllPending()
		c.recordError(&TransportError{Kind: TransportRead, Message: "reader EOF"})
	}
}

func (c *Client) failAllPending() {
	c.mu.Lock()
	pending := c.pendingCalls
	c.pendingCalls = make(map[string]chan *Response)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) handleLine(line []byte) {
	var envelope struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      any            `json:"id,omitempty"`
		Method  string         `json:"method,omitempty"`
		Params  map[string]any `json:"params,omitempty"`
		Result  any            `json:"result,omitempty"`
		Error   *RPCError      `json:"error,omitempty"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		c.logger.Warn("discarding malformed line: %v", err)
		return
	}

	if envelope.Method != "" && envelope.ID == nil {
		c.mu.Lock()
		handler := c.notificationHandler
		c.mu.Unlock()
		if handler != nil {
			handler(envelope.Method, envelope.Params)
		}
		return
	}

	if envelope.ID == nil {
		c.logger.Warn("discarding line with neither response id nor notification method")
		return
	}

	resp := &Response{JSONRPC: envelope.JSONRPC, ID: envelope.ID, Result: envelope.Result, Error: envelope.Error}
	key := ResponseIDKey(resp.ID)

	c.mu.Lock()
	ch, ok := c.pendingCalls[key]
	if ok {
		delete(c.pendingCalls, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("discarding response for unknown id %q (likely already timed out)", key)
		return
	}
	ch <- resp
}

// remarshalInto round-trips v through JSON to decode it into dst, since
// JSON-RPC results arrive already decoded into `any` by encoding/json.
func remarshalInto(v any, dst any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
