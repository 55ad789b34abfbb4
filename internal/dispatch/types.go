package dispatch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/channel"
	"outreach/internal/status"
)

var (
	// ErrAllRecipientsFailed is returned when no recipient of a job was
	// delivered. The queue retries such jobs.
	ErrAllRecipientsFailed = errors.New("all recipients failed")
	// ErrUnsupportedChannel is returned for jobs whose channel has no sender.
	ErrUnsupportedChannel = errors.New("no sender registered for channel")
)

// Job is the unit handed to Run.
type Job struct {
	ID         string              `json:"id"`
	Channel    channel.Channel     `json:"channel"`
	Recipients []channel.Recipient `json:"recipients"`
	Content    channel.Content     `json:"content"`
}

// Result summarizes one run.
type Result struct {
	Processed int
	Failed    int
	Skipped   int
	Status    status.State
}

// LaneConfig configures one channel.
type LaneConfig struct {
	// WindowSize is the number of recipients between two status writes.
	WindowSize int
	// RatePerSec caps sends per second across every job of the channel.
	RatePerSec int
}

// Ledger remembers recipients that were already sent.
type Ledger interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
