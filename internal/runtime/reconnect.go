package runtime

import (
	"log/slog"
	"sync"
	"time"
)

// Reconnector decides whether and when to re-attempt a connection
// after a disconnect. The policy is a fixed delay with no backoff, no
// jitter, and no attempt cap; at most one attempt is pending at a time.
// The retry flag is set at construction and cleared by Disable (the
// stop signal), which also cancels a pending attempt.
type Reconnector struct {
	mu      sync.Mutex
	delay   time.Duration
	logger  *slog.Logger
	enabled bool
	timer   *time.Timer
}

// NewReconnector creates an enabled controller with the given fixed delay.
func NewReconnector(delay time.Duration, logger *slog.Logger) *Reconnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconnector{
		delay:   delay,
		logger:  logger,
		enabled: true,
	}
}

// Schedule arms one future attempt. It reports false, and arms
// nothing, when retrying is disabled or an attempt is already pending.
func (c *Reconnector) Schedule(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}
	if c.timer != nil {
		return false
	}

	c.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.timer = nil
		enabled := c.enabled
		c.mu.Unlock()

		// A stop signal that raced the timer still wins.
		if !enabled {
			return
		}
		fn()
	})

	c.logger.Info("reconnection scheduled", "delay", c.delay)
	return true
}

// Disable clears the retry flag and cancels any pending attempt.
func (c *Reconnector) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Enabled reports whether retrying is still allowed.
func (c *Reconnector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Pending reports whether an attempt is currently scheduled.
func (c *Reconnector) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}
