package mcp

import "fmt"

// TransportKind classifies a TransportError.
type TransportKind string

const (
	TransportSpawn       TransportKind = "spawn"
	TransportNotConnected TransportKind = "not_connected"
	TransportWrite       TransportKind = "write"
	TransportRead        TransportKind = "read"
	TransportDecode      TransportKind = "decode"
	TransportTimeout     TransportKind = "timeout"
	TransportClosed      TransportKind = "closed"
)

// TransportError is a failure at the stdio/framing layer.
type TransportError struct {
	Kind    TransportKind
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error [%s]: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error [%s]: %s", e.Kind, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable reports whether this transport failure is a connect-phase
// failure add_server's retry budget should act on, as opposed to a
// per-request failure that should simply surface to the caller.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case TransportSpawn, TransportNotConnected, TransportRead, TransportClosed:
		return true
	default:
		return false
	}
}

// RemoteError wraps a well-formed JSON-RPC error object returned by a
// server; it is the only case in which a remote failure is raised as an
// error rather than returned as data (tools/call's isError results are
// data, never a RemoteError).
type RemoteError struct {
	*RPCError
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.RPCError.Error()
}

func (e *RemoteError) Unwrap() error { return e.RPCError }

// ClientKind classifies a ClientError.
type ClientKind string

const (
	ClientNotInitialized  ClientKind = "not_initialized"
	ClientInitFailed      ClientKind = "init_failed"
	ClientDecode          ClientKind = "decode"
	ClientBadResourceShape ClientKind = "bad_resource_shape"
	ClientNullConfig      ClientKind = "null_config"
	ClientServerRemoved   ClientKind = "server_removed"
)

// ClientError is a failure in the client's protocol layer, as opposed to
// the transport beneath it.
type ClientError struct {
	Kind    ClientKind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("client error [%s]: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("client error [%s]: %s", e.Kind, e.Message)
}

func (e *ClientError) Unwrap() error { return e.Cause }

// ManagerKind classifies a ManagerError.
type ManagerKind string

const (
	ManagerUnknownServer ManagerKind = "unknown_server"
)

// ManagerError is raised by pool-manager observer calls that require a
// present server id (observers may alternatively choose to return absent;
// this type exists for the callers that want an error instead).
type ManagerError struct {
	Kind     ManagerKind
	ServerID string
}

func (e *ManagerError) Error() string {
	return fmt.Sprintf("manager error [%s]: server %q", e.Kind, e.ServerID)
}
