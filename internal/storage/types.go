package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps, nothing survives a restart
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StatusRecord is the persisted form of a job status.
type StatusRecord struct {
	JobID     string
	Channel   string
	Total     int
	Completed int
	Failed    int
	State     string
	Error     string
	Progress  int
	UpdatedAt time.Time
}

// JobRecord is a queued job kept until it reaches a terminal state.
type JobRecord struct {
	ID         string
	Channel    string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// MessageLogEntry records one successful send.
type MessageLogEntry struct {
	JobID      string
	Channel    string
	Recipient  string
	ProviderID string
	Kind       string
	At         time.Time
}
