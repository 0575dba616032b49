package executor

import (
	"sync"
	"time"
)

// Cooldown prevents re-entering the same market within a configurable
// time-to-live window, so one persistent mispricing does not spawn a new
// position every cycle. It is safe for concurrent use.
type Cooldown struct {
	entered map[string]time.Time // marketID -> last entry time
	ttl     time.Duration
	mu      sync.Mutex
}

// NewCooldown creates a Cooldown that blocks a market for ttl after entry.
func NewCooldown(ttl time.Duration) *Cooldown {
	return &Cooldown{
		entered: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Enter returns false if the market was entered within the TTL window.
// Otherwise it records the entry and returns true.
func (c *Cooldown) Enter(marketID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if last, ok := c.entered[marketID]; ok {
		if now.Sub(last) < c.ttl {
			return false
		}
	}

	c.entered[marketID] = now
	return true
}

// Sweep removes entries older than the TTL. Call periodically to keep the
// map bounded.
func (c *Cooldown) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, ts := range c.entered {
		if now.Sub(ts) >= c.ttl {
			delete(c.entered, id)
		}
	}
}
