package async

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	mu   sync.Mutex
	logs []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.logs))
	copy(out, l.logs)
	return out
}

func TestGo_RecoversPanicInHealthCheckLoop(t *testing.T) {
	logger := &recordingLogger{}
	stopped := make(chan struct{})

	Go(logger, "pool.healthCheckLoop", func() {
		defer close(stopped)
		panic("server s1 unreachable")
	})

	select {
	case <-stopped:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for recovered goroutine to finish")
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		for _, msg := range logger.snapshot() {
			if strings.Contains(msg, "goroutine panic [pool.healthCheckLoop]") {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected a logged panic, got %v", logger.snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGo_DoesNotBlockCallerWhileFnRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})

	Go(&recordingLogger{}, "pool.connect.s1", func() {
		close(started)
		<-release
	})

	select {
	case <-started:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Go should launch fn asynchronously")
	}
	close(release)
}

func TestRecover_SwallowsPanicEvenWithNilLogger(t *testing.T) {
	defer func() {
		assert.Nil(t, recover(), "Recover should have already consumed the panic")
	}()

	func() {
		defer Recover(nil, "pool.connect.s1")
		panic("spawn failed")
	}()
}

func TestRecover_NoopWhenNoPanicOccurred(t *testing.T) {
	logger := &recordingLogger{}

	func() {
		defer Recover(logger, "pool.healthCheckLoop")
	}()

	assert.Empty(t, logger.snapshot())
}
