package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type Real struct{}

func NewReal() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

// Mock is a manually driven clock for expiry tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (c *Mock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Mock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Mock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
