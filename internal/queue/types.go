package queue

import (
	"context"
	"time"

	"outreach/internal/channel"
	"outreach/internal/dispatch"
)

// Config controls the per-channel lanes.
type Config struct {
	// Workers is the number of jobs a channel runs at once.
	Workers   map[channel.Channel]int
	QueueSize int

	// RetryMax is the number of extra attempts after the first one.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// RetryJitter spreads retry delays by +-RetryJitter (0.2 = 20%). 0 disables.
	RetryJitter float64

	// CircuitTripFailures is the number of consecutive failed jobs that pause
	// a lane. 0 applies the default, <0 disables.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers == nil {
		c.Workers = map[channel.Channel]int{channel.Chat: 1, channel.Email: 2}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.CircuitTripFailures == 0 {
		c.CircuitTripFailures = 5
	}
	if c.CircuitBaseDelay <= 0 {
		c.CircuitBaseDelay = 5 * time.Second
	}
	if c.CircuitMaxDelay <= 0 {
		c.CircuitMaxDelay = 2 * time.Minute
	}
	return c
}

// Runner executes one attempt of a job.
type Runner interface {
	Run(ctx context.Context, j dispatch.Job) (dispatch.Result, error)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type entry struct {
	job        dispatch.Job
	attempts   int
	enqueuedAt time.Time
}

type lane struct {
	ch      channel.Channel
	workers int
	items   chan entry
	breaker *circuit
}
