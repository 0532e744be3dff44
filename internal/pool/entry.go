package pool

import (
	"time"

	"github.com/cloudcompilerr/mcp-runtime/internal/mcp"
	"github.com/sony/gobreaker"
)

// ServerConfig is the pool's view of one configured server (spec.md §3's
// data model), distinct from mcp.ServerConfig which describes a single
// entry inside a .mcp.json manifest.
type ServerConfig struct {
	ID      string
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Enabled bool
}

// ServerStatus is the observable snapshot of one pool entry (spec.md §3).
type ServerStatus struct {
	ServerID string
	State    mcp.ConnectionState

	LastError string
	HasError  bool

	LastHealthCheck time.Time
	HasHealthCheck  bool

	LastLatency time.Duration
	HasLatency  bool
}

// Healthy reports state == READY && no recorded error, per spec.md §3.
func (s ServerStatus) Healthy() bool {
	return s.State == mcp.Ready && !s.HasError
}

// serverEntry is the pool manager's private record for one server: its
// configuration, transport/client pair, health-probe circuit breaker, and
// the latency/health-check bookkeeping the Client type itself doesn't
// carry (spec.md §3's "server status" fields live here, not on Client).
type serverEntry struct {
	config  ServerConfig
	process *mcp.ProcessManager
	client  *mcp.Client
	breaker *gobreaker.CircuitBreaker

	restartStop chan struct{}

	// overrideErrored records a health-probe failure distinct from the
	// client's own transport-level state machine: a slow or failing
	// tools/list probe marks the entry's observable status ERROR even
	// though the underlying transport may still consider itself READY
	// until the next reader EOF.
	overrideErrored bool

	lastErr         error
	lastHealthCheck time.Time
	hasHealthCheck  bool
	lastLatency     time.Duration
	hasLatency      bool

	removed bool
}

func newBreaker(id string, cooldown time.Duration) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        "health-probe." + id,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func (e *serverEntry) status() ServerStatus {
	st := ServerStatus{
		ServerID:        e.config.ID,
		State:           e.client.State(),
		LastHealthCheck: e.lastHealthCheck,
		HasHealthCheck:  e.hasHealthCheck,
		LastLatency:     e.lastLatency,
		HasLatency:      e.hasLatency,
	}
	if e.overrideErrored {
		st.State = mcp.Errored
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
		st.HasError = true
	} else if err := e.client.LastError(); err != nil {
		st.LastError = err.Error()
		st.HasError = true
	}
	return st
}
