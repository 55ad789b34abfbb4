package queue

import (
	"sync"
	"time"
)

// circuit trips a lane after consecutive job failures so a dead transport
// is not hammered by every queued job. While open, workers wait for the
// cooldown instead of running jobs.
type circuit struct {
	trip      int // <=0 disables
	baseDelay time.Duration
	maxDelay  time.Duration

	mu        sync.Mutex
	fails     int
	openUntil time.Time
}

func (c *circuit) openUntilAt(now time.Time) (time.Time, bool) {
	if c == nil || c.trip <= 0 {
		return time.Time{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.openUntil.IsZero() && now.Before(c.openUntil) {
		return c.openUntil, true
	}
	return time.Time{}, false
}

func (c *circuit) record(now time.Time, failed bool) {
	if c == nil || c.trip <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !failed {
		c.fails = 0
		c.openUntil = time.Time{}
		return
	}
	c.fails++
	if c.fails < c.trip {
		return
	}
	d := c.baseDelay
	for i := 0; i < c.fails-c.trip && d < c.maxDelay; i++ {
		d *= 2
	}
	c.openUntil = now.Add(min(d, c.maxDelay))
}
