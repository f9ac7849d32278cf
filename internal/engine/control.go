package engine

import (
	"context"
	"sync"
)

// Control is the per-task cooperative signal handed to engines. Pausing does
// not preempt the engine; it closes a gate the engine is expected to check
// between units of work. Cancellation flows through the run context.
type Control struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewControl returns a control in the running (unpaused) state.
func NewControl() *Control {
	return &Control{resume: make(chan struct{})}
}

// Pause closes the gate. Idempotent.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume reopens the gate and releases any engine blocked in Wait.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// Paused reports whether the gate is currently closed.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Wait blocks while the task is paused. It returns the context error if the
// run is cancelled while waiting, nil otherwise.
func (c *Control) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return ctx.Err()
		}
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}
