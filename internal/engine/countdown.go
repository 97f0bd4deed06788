package engine

import (
	"sync"
	"time"
)

// Countdown decrements a whole-second counter and fires onExpire exactly once at zero.
type Countdown struct {
	mu        sync.Mutex
	remaining int

	onTick   func(remaining int)
	onExpire func()

	expireOnce sync.Once
	stopOnce   sync.Once
	stop       chan struct{}
}

// NewCountdown creates a stopped countdown. Either callback may be nil.
func NewCountdown(seconds int, onTick func(int), onExpire func()) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{
		remaining: seconds,
		onTick:    onTick,
		onExpire:  onExpire,
		stop:      make(chan struct{}),
	}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the countdown has reached zero.
func (c *Countdown) Expired() bool {
	return c.Remaining() == 0
}

// Start runs the countdown on its own goroutine, ticking every interval until Stop or expiry.
func (c *Countdown) Start(interval time.Duration) {
	if c.Expired() {
		c.fireExpire()
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if c.Tick() == 0 {
					return
				}
			}
		}
	}()
}

// Tick decrements once and returns the new remaining value. Ticks after zero are no-ops.
func (c *Countdown) Tick() int {
	c.mu.Lock()
	if c.remaining == 0 {
		c.mu.Unlock()
		return 0
	}
	c.remaining--
	left := c.remaining
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(left)
	}
	if left == 0 {
		c.fireExpire()
	}
	return left
}

// Stop ends the ticking goroutine. Safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Countdown) fireExpire() {
	c.expireOnce.Do(func() {
		if c.onExpire != nil {
			c.onExpire()
		}
	})
}
