// Package pool implements the server-pool manager (spec.md §4.4): a set of
// named MCP server entries, their async connect/retry sequences, a
// background health-check loop, a tool-name-to-server-id index with
// conflict tracking, and routing through a pluggable selection.Strategy.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudcompilerr/mcp-runtime/internal/mcp"
	"github.com/cloudcompilerr/mcp-runtime/internal/selection"
	"github.com/cloudcompilerr/mcp-runtime/internal/shared/async"
	"github.com/cloudcompilerr/mcp-runtime/internal/shared/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Manager owns a set of named server entries, a tool-name index, and the
// active selection strategy (spec.md §4.4).
type Manager struct {
	logger logging.Logger
	cfg    ManagerConfig

	mu        sync.RWMutex
	entries   map[string]*serverEntry
	toolIndex map[string]map[string]struct{} // toolName -> set of server ids
	pending   []ServerConfig                 // registered via WithServer, connected on Start

	strategy selection.Strategy
	metrics  *Metrics

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// ManagerOption customizes Manager construction.
type ManagerOption func(*Manager)

// WithManagerConfig overrides the default operational configuration.
func WithManagerConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

// WithStrategy overrides the default (health-based) selection strategy.
func WithStrategy(s selection.Strategy) ManagerOption {
	return func(m *Manager) { m.strategy = s }
}

// WithMetrics enables Prometheus instrumentation through m2, as built by
// NewMetrics.
func WithMetrics(m2 *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = m2 }
}

// WithServer programmatically pre-registers a server configuration to be
// connected when Start runs, generalizing the teacher's
// WithPlaywrightBrowser pattern beyond a single hard-coded server.
func WithServer(cfg ServerConfig) ManagerOption {
	return func(m *Manager) { m.pending = append(m.pending, cfg) }
}

// NewManager builds a Manager. The manager does nothing until Start is
// called.
func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logging.NewComponentLogger("pool.manager"),
		cfg:       DefaultManagerConfig(),
		entries:   make(map[string]*serverEntry),
		toolIndex: make(map[string]map[string]struct{}),
		strategy:  selection.NewHealthBased(),
		limiters:  make(map[string]*rate.Limiter),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start starts the background health-check loop and connects every
// pre-registered (WithServer) enabled server in parallel (spec.md §4.4).
// Servers passed to AddServer begin connecting as soon as they are added.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var g errgroup.Group
	for _, cfg := range pending {
		cfg := cfg
		g.Go(func() error {
			return m.AddServer(ctx, &cfg)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("one or more pre-registered servers failed to start: %v", err)
	}

	async.Go(m.logger, "pool.healthCheckLoop", m.healthCheckLoop)
	return nil
}

// Stop cancels the health-check loop, closes every entry's client, and
// clears all state. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	entries := m.entries
	m.entries = make(map[string]*serverEntry)
	m.toolIndex = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.cancel()

	var errs []error
	for id, e := range entries {
		if e.restartStop != nil {
			close(e.restartStop)
		}
		if err := e.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("server %q: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AddServer registers cfg and, if enabled, begins an asynchronous
// connect sequence (spec.md §4.4). The returned error only reflects
// immediate validation failures; connect-sequence failures surface
// through ServerStatuses, not here.
func (m *Manager) AddServer(ctx context.Context, cfg *ServerConfig) error {
	if cfg == nil {
		return &mcp.ClientError{Kind: mcp.ClientNullConfig, Message: "add_server requires a configuration"}
	}
	if cfg.ID == "" {
		return fmt.Errorf("server config requires a non-empty id")
	}
	if !cfg.Enabled {
		m.logger.Debug("server %q is disabled, not adding", cfg.ID)
		return nil
	}

	process := mcp.NewProcessManager(mcp.ProcessConfig{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
	})
	client := mcp.NewClient(cfg.ID, process, mcp.WithRequestTimeout(m.cfg.ConnectionTimeout))

	entry := &serverEntry{
		config:      *cfg,
		process:     process,
		client:      client,
		breaker:     newBreaker(cfg.ID, m.cfg.RetryDelay*4),
		restartStop: make(chan struct{}),
	}

	m.mu.Lock()
	m.entries[cfg.ID] = entry
	m.mu.Unlock()

	async.Go(m.logger, "pool.connect."+cfg.ID, func() {
		m.connectSequence(ctx, entry)
	})
	return nil
}

// connectSequence drives CONNECTING -> CONNECTED -> INITIALIZING -> READY
// with bounded retries on transport/connect failures only; a remote
// initialize error (a well-formed JSON-RPC error response) is not
// retried, per spec.md §4.4.
func (m *Manager) connectSequence(ctx context.Context, entry *serverEntry) {
	limiter := m.reconnectLimiter(entry.config.ID)

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		err := entry.client.Start(ctx)
		if err == nil {
			m.metrics.recordConnect(entry.config.ID, "success")
			m.onServerReady(ctx, entry)
			async.Go(m.logger, "pool.restartWatch."+entry.config.ID, func() {
				m.watchRestart(entry)
			})
			return
		}

		lastErr = err
		m.metrics.recordConnect(entry.config.ID, "failure")
		if !isRetryableConnectFailure(err) {
			break
		}
		m.logger.Warn("connect attempt %d/%d for server %q failed: %v", attempt+1, m.cfg.MaxRetries+1, entry.config.ID, err)
	}

	m.mu.Lock()
	entry.lastErr = lastErr
	m.mu.Unlock()
	m.logger.Error("server %q exhausted connect retries: %v", entry.config.ID, lastErr)
}

// isRetryableConnectFailure classifies a Client.Start failure: a
// transport-level failure is retried only when TransportError.Retryable
// reports true (spawn, not-connected, read, closed); a remote-protocol
// failure surfaced through ClientError{InitFailed} wrapping a RemoteError
// is not; any other failure is retried (spec.md §9 warns against
// conflating the two retry concepts).
func isRetryableConnectFailure(err error) bool {
	var remoteErr *mcp.RemoteError
	if errors.As(err, &remoteErr) {
		return false
	}
	var transportErr *mcp.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Retryable()
	}
	return true
}

func (m *Manager) reconnectLimiter(id string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	if l, ok := m.limiters[id]; ok {
		return l
	}
	delay := m.cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	l := rate.NewLimiter(rate.Every(delay), 1)
	m.limiters[id] = l
	return l
}

// onServerReady loads the tool catalogue from a freshly-READY server and
// unions it into the tool index (spec.md §4.4).
func (m *Manager) onServerReady(ctx context.Context, entry *serverEntry) {
	m.mu.Lock()
	entry.overrideErrored = false
	entry.lastErr = nil
	m.mu.Unlock()

	tools, err := entry.client.ListTools(ctx)
	if err != nil {
		m.logger.Warn("server %q became ready but tools/list failed: %v", entry.config.ID, err)
		return
	}

	m.mu.Lock()
	for _, tool := range tools {
		set, ok := m.toolIndex[tool.Name]
		if !ok {
			set = make(map[string]struct{})
			m.toolIndex[tool.Name] = set
		}
		set[entry.config.ID] = struct{}{}
	}
	m.mu.Unlock()
}

// dropFromToolIndex removes id from every tool-index entry, called when a
// server leaves READY for any reason (spec.md §4.4).
func (m *Manager) dropFromToolIndex(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, set := range m.toolIndex {
		delete(set, id)
		if len(set) == 0 {
			delete(m.toolIndex, name)
		}
	}
}

// watchRestart supervises an unexpectedly-dead child process, restarting
// it with backoff distinct from the initial-connect retry budget above
// (spec.md §9; SPEC_FULL.md §4).
func (m *Manager) watchRestart(entry *serverEntry) {
	restartChan := entry.process.RestartChannel()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-entry.restartStop:
			return
		case <-restartChan:
			m.mu.RLock()
			removed := entry.removed
			m.mu.RUnlock()
			if removed {
				return
			}
			m.logger.Warn("server %q crashed, restarting", entry.config.ID)
			m.dropFromToolIndex(entry.config.ID)
			m.mu.Lock()
			entry.overrideErrored = true
			m.mu.Unlock()

			// Client.Start both respawns the process and redoes the
			// initialize handshake; this backoff is a distinct state
			// machine from add_server's initial-connect retry budget
			// (spec.md §9), even though both ultimately call Start.
			backoff := 200 * time.Millisecond
			var err error
			for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
				if attempt > 0 {
					select {
					case <-m.ctx.Done():
						return
					case <-time.After(backoff):
					}
					backoff *= 2
				}
				if err = entry.client.Start(m.ctx); err == nil {
					break
				}
			}
			if err != nil {
				m.mu.Lock()
				entry.lastErr = err
				m.mu.Unlock()
				m.logger.Error("server %q failed to restart: %v", entry.config.ID, err)
				continue
			}
			m.onServerReady(m.ctx, entry)
		}
	}
}

// RemoveServer is idempotent: absent ids succeed silently. It closes the
// removed entry's client, so later operations on that client fail with
// ClientError{NotInitialized} and calls still in flight fail with
// TransportError{Closed}; ClientError{ServerRemoved} is not produced.
func (m *Manager) RemoveServer(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	entry.removed = true
	delete(m.entries, id)
	m.mu.Unlock()

	m.dropFromToolIndex(id)
	if entry.restartStop != nil {
		close(entry.restartStop)
	}
	return entry.client.Close()
}

// healthCheckLoop invokes HealthCheckAll every HealthCheckInterval until
// the manager is stopped.
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			cycleID := uuid.NewString()
			m.logger.Debug("health-check cycle %s starting", cycleID)
			_ = m.HealthCheckAll(m.ctx)
		}
	}
}

// HealthCheck probes a single server by issuing tools/list and measuring
// elapsed time (spec.md §4.4).
func (m *Manager) HealthCheck(ctx context.Context, id string) error {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return &mcp.ManagerError{Kind: mcp.ManagerUnknownServer, ServerID: id}
	}
	return m.probe(ctx, entry)
}

// HealthCheckAll probes every READY server in parallel.
func (m *Manager) HealthCheckAll(ctx context.Context) error {
	m.mu.RLock()
	targets := make([]*serverEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.client.State() == mcp.Ready {
			targets = append(targets, e)
		}
	}
	m.mu.RUnlock()
	m.metrics.setReadyServers(len(targets))

	var g errgroup.Group
	for _, e := range targets {
		e := e
		g.Go(func() error {
			return m.probe(ctx, e)
		})
	}
	return g.Wait()
}

func (m *Manager) probe(ctx context.Context, entry *serverEntry) error {
	result, err := entry.breaker.Execute(func() (interface{}, error) {
		start := time.Now()
		_, listErr := entry.client.ListTools(ctx)
		return time.Since(start), listErr
	})

	m.mu.Lock()
	if err != nil {
		entry.overrideErrored = true
		entry.lastErr = err
	} else {
		latency, _ := result.(time.Duration)
		entry.overrideErrored = false
		entry.lastErr = nil
		entry.lastHealthCheck = time.Now()
		entry.hasHealthCheck = true
		entry.lastLatency = latency
		entry.hasLatency = true
	}
	m.mu.Unlock()

	if err != nil {
		// A server that fails its probe is no longer READY; every tool it
		// advertised must stop resolving to it (spec.md §4.4/§8.7), same as
		// the crash path in watchRestart.
		m.dropFromToolIndex(entry.config.ID)
		m.metrics.recordHealthCheck(entry.config.ID, "failure", 0)
		return err
	}

	latency, _ := result.(time.Duration)
	m.metrics.recordHealthCheck(entry.config.ID, "success", latency.Seconds())
	return nil
}

// ServerStatuses returns a snapshot of every entry, in no particular
// order.
func (m *Manager) ServerStatuses() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerStatus, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.status())
	}
	return out
}

// ServerIDs returns every currently registered server id.
func (m *Manager) ServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStatus returns the status of id, or false if absent.
func (m *Manager) GetStatus(id string) (ServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return ServerStatus{}, false
	}
	return e.status(), true
}

// GetClient returns the client for id, or false if absent.
func (m *Manager) GetClient(id string) (*mcp.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.client, true
}

// IsReady implements selection.ReadinessProvider.
func (m *Manager) IsReady(id string) bool {
	return m.IsServerReady(id)
}

// IsServerReady reports whether id is registered, its client is READY, and
// its last health probe did not fail.
func (m *Manager) IsServerReady(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	return e.client.State() == mcp.Ready && !e.overrideErrored
}

// Latency implements selection.ReadinessProvider.
func (m *Manager) Latency(id string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || !e.hasLatency {
		return 0, false
	}
	return e.lastLatency, true
}

// GetAllTools returns, for every tool name in the index, the winning
// server id: for a conflicted name the lexicographically smallest server
// id wins, making the result reproducible (spec.md §4.4).
func (m *Manager) GetAllTools() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.toolIndex))
	for name, set := range m.toolIndex {
		winner := ""
		for id := range set {
			if winner == "" || id < winner {
				winner = id
			}
		}
		out[name] = winner
	}
	return out
}

// GetConflicts returns only the tool names advertised by more than one
// server, each with its advertising server ids sorted ascending.
func (m *Manager) GetConflicts() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string)
	for name, set := range m.toolIndex {
		if len(set) <= 1 {
			continue
		}
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[name] = ids
	}
	return out
}

// GetClientForTool returns the client of the server the active strategy
// picks among the ready servers advertising toolName, or false if none
// qualify.
func (m *Manager) GetClientForTool(toolName string) (*mcp.Client, bool) {
	m.mu.RLock()
	set, ok := m.toolIndex[toolName]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	candidates := make([]string, 0, len(set))
	for id := range set {
		candidates = append(candidates, id)
	}
	m.mu.RUnlock()
	sort.Strings(candidates)

	id, ok := m.strategy.Select(candidates, m)
	if !ok {
		return nil, false
	}
	return m.GetClient(id)
}
