package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the engine's lifecycle state.
type State string

const (
	StateStartup  State = "startup"
	StateReady    State = "ready"
	StateShutdown State = "shutdown"
)

// ShutdownHandler runs when an emergency shutdown is invoked. Handlers run
// in registration order.
type ShutdownHandler func()

// Coordinator tracks the engine state and runs registered handlers on the
// first shutdown request. Repeated invocations are ignored, so a fault that
// keeps firing (a stalled tachometer sampled every second) shuts the
// machine down exactly once.
type Coordinator struct {
	log *zap.Logger

	mu           sync.Mutex
	state        State
	message      string
	shutdownTime time.Time
	handlers     []namedHandler
}

type namedHandler struct {
	name    string
	handler ShutdownHandler
}

// NewCoordinator creates a coordinator in the startup state.
func NewCoordinator(log *zap.Logger) *Coordinator {
	return &Coordinator{log: log, state: StateStartup}
}

// RegisterHandler adds a shutdown handler. The name is used for logging.
func (c *Coordinator) RegisterHandler(name string, h ShutdownHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, namedHandler{name, h})
	c.mu.Unlock()
}

// SetReady transitions startup to ready.
func (c *Coordinator) SetReady() {
	c.mu.Lock()
	if c.state == StateStartup {
		c.state = StateReady
	}
	c.mu.Unlock()
}

// Invoke triggers the shutdown sequence. Safe to call repeatedly; only the
// first call runs the handlers.
func (c *Coordinator) Invoke(reason string) {
	c.mu.Lock()
	if c.state == StateShutdown {
		c.mu.Unlock()
		return
	}
	c.state = StateShutdown
	c.message = reason
	c.shutdownTime = time.Now()
	handlers := make([]namedHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	c.log.Error("emergency shutdown", zap.String("reason", reason))
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("panic in shutdown handler",
						zap.String("handler", h.name), zap.Any("panic", r))
				}
			}()
			h.handler()
		}()
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsShutdown reports whether a shutdown has occurred.
func (c *Coordinator) IsShutdown() bool {
	return c.State() == StateShutdown
}

// Message returns the shutdown reason, empty before shutdown.
func (c *Coordinator) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}
