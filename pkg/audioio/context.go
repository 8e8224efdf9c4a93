package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrContextClosed is returned by a closed Context.
var ErrContextClosed = errors.New("audioio: context closed")

// ContextState is the lifecycle state of a Context.
type ContextState int

const (
	// ContextSuspended holds the sink stopped; rendered audio is discarded.
	ContextSuspended ContextState = iota
	// ContextRunning passes rendered audio to the sink.
	ContextRunning
	// ContextClosed is terminal.
	ContextClosed
)

func (s ContextState) String() string {
	switch s {
	case ContextSuspended:
		return "suspended"
	case ContextRunning:
		return "running"
	case ContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context is the process-wide audio output: a sink plus whether it is
// currently accepting audio. It starts suspended.
type Context struct {
	sink   Sink
	logger *slog.Logger

	mu    sync.Mutex
	state ContextState
}

// NewContext wraps sink. The sink is not started until Resume.
func NewContext(sink Sink, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{sink: sink, logger: logger.With("component", "audio")}
}

// State returns the current state.
func (c *Context) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the sink configuration.
func (c *Context) Config() Config {
	return c.sink.Config()
}

// Resume starts the sink if suspended.
func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ContextClosed:
		return ErrContextClosed
	case ContextRunning:
		return nil
	}

	if err := c.sink.Start(ctx); err != nil {
		return err
	}
	c.state = ContextRunning
	c.logger.Info("audio context running", "backend", c.sink.Name())
	return nil
}

// Suspend stops the sink if running.
func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != ContextRunning {
		return nil
	}
	if err := c.sink.Stop(); err != nil {
		return err
	}
	c.state = ContextSuspended
	c.logger.Info("audio context suspended")
	return nil
}

// Write passes chunk to the sink while running and drops it otherwise.
func (c *Context) Write(ctx context.Context, chunk AudioChunk) error {
	c.mu.Lock()
	running := c.state == ContextRunning
	c.mu.Unlock()

	if !running {
		return nil
	}
	return c.sink.Write(ctx, chunk)
}

// Clear discards audio buffered in the sink.
func (c *Context) Clear() error {
	return c.sink.Clear()
}

// Close closes the sink. The context cannot be resumed afterwards.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ContextClosed {
		return nil
	}
	c.state = ContextClosed
	return c.sink.Close()
}
