// Package shutdown coordinates graceful teardown of the daemon: hooks are
// registered as subsystems come up and executed in reverse order when a
// termination signal arrives.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/procbox/pkg/logging"
)

// Manager runs registered shutdown hooks in LIFO order.
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// New creates a shutdown manager. The timeout bounds the whole hook chain.
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a named shutdown hook. Hooks run in reverse registration
// order, so dependents register after their dependencies.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Done returns a channel closed once shutdown has been initiated.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Trigger initiates shutdown without an OS signal. Safe to call more than
// once; only the first call runs the hooks.
func (m *Manager) Trigger() {
	m.once.Do(func() {
		close(m.done)
		m.run()
	})
}

// Wait blocks until SIGTERM or SIGINT arrives, then runs the hooks.
func (m *Manager) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		m.logger.Info("Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case <-m.done:
	}
	m.Trigger()
}

func (m *Manager) run() {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			m.logger.Error("Shutdown hook failed", map[string]interface{}{
				"hook": h.name, "error": err.Error(),
			})
			continue
		}
		m.logger.Debug("Shutdown hook completed", map[string]interface{}{"hook": h.name})
	}
	m.logger.Info("Graceful shutdown complete")
}

// CloseResource wraps an io.Closer as a shutdown hook.
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}

// StopHTTPServer wraps an http.Server-style Shutdown as a hook.
func StopHTTPServer(server interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}
