package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cloudcompilerr/mcp-runtime/internal/shared/logging"
)

// ProcessConfig describes how to spawn an MCP server child process.
type ProcessConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

const stderrTailLimit = 4096

// ProcessManager owns a single child process and its stdio pipes. It does
// not know about JSON-RPC framing; Client layers that on top.
type ProcessManager struct {
	config ProcessConfig
	logger logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	running bool

	stopChan chan struct{}
	waitDone chan error

	stderrMu   sync.Mutex
	stderrTail bytes.Buffer

	restartChan chan struct{}
}

// NewProcessManager creates a manager for the given child-process config.
func NewProcessManager(cfg ProcessConfig) *ProcessManager {
	return &ProcessManager{
		config:      cfg,
		logger:      logging.NewComponentLogger("mcp.process"),
		restartChan: make(chan struct{}, 1),
	}
}

// Start spawns the child process. Args are appended in order; Env entries
// are added to (not a replacement of) the parent environment.
func (p *ProcessManager) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return &TransportError{Kind: TransportSpawn, Message: "process already running"}
	}

	cmd := exec.CommandContext(ctx, p.config.Command, p.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range p.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Kind: TransportSpawn, Message: "stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &TransportError{Kind: TransportSpawn, Message: "stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &TransportError{Kind: TransportSpawn, Message: "stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return &TransportError{Kind: TransportSpawn, Message: "spawn failed", Cause: err}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = stdout
	p.running = true
	p.stopChan = make(chan struct{})
	p.waitDone = make(chan error, 1)
	p.stderrTail.Reset()

	go p.tailStderr(stderr)
	go p.wait()

	return nil
}

func (p *ProcessManager) tailStderr(r io.ReadCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.stderrMu.Lock()
			p.stderrTail.Write(buf[:n])
			if p.stderrTail.Len() > stderrTailLimit {
				trimmed := p.stderrTail.Bytes()
				trimmed = trimmed[len(trimmed)-stderrTailLimit:]
				p.stderrTail.Reset()
				p.stderrTail.Write(trimmed)
			}
			p.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (p *ProcessManager) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.mu.Unlock()

	p.waitDone <- err

	if wasRunning {
		select {
		case p.restartChan <- struct{}{}:
		default:
		}
	}
}

// StderrTail returns the most recent bytes of stderr captured from the
// child, bounded to a fixed-size ring for diagnostics. Stderr is never
// consumed by the JSON-RPC reader.
func (p *ProcessManager) StderrTail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return p.stderrTail.String()
}

// RestartChannel signals once whenever the child process exits while the
// manager still believed it was running (i.e. an unexpected exit, not one
// driven by Stop).
func (p *ProcessManager) RestartChannel() <-chan struct{} {
	return p.restartChan
}

// IsRunning reports whether the child process is currently alive.
func (p *ProcessManager) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop asks the child to exit by closing stdin, waiting up to grace for a
// clean exit, then forcibly killing it. Stop is idempotent.
func (p *ProcessManager) Stop(grace time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stdin := p.stdin
	cmd := p.cmd
	stopChan := p.stopChan
	waitDone := p.waitDone
	p.running = false
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case <-waitDone:
	case <-time.After(grace):
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-waitDone
	}

	if stopChan != nil {
		select {
		case <-stopChan:
		default:
			close(stopChan)
		}
	}

	return nil
}

// Restart stops the current process (if any) and starts a fresh one: one
// attempt plus up to maxRetries retries, separated by a doubling backoff
// that starts at 200ms. This is the
// supervised-restart path for an unexpectedly-dead child; it is distinct
// from add_server's initial-connect retry budget.
func (p *ProcessManager) Restart(ctx context.Context, maxRetries int) error {
	_ = p.Stop(5 * time.Second)

	var lastErr error
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := p.Start(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return &TransportError{Kind: TransportSpawn, Message: "restart exhausted retries", Cause: lastErr}
}

// Writer exposes the stdin pipe for the transport's framed writer.
func (p *ProcessManager) Writer() io.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin
}

// Reader exposes the stdout pipe for the transport's line reader.
func (p *ProcessManager) Reader() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}
