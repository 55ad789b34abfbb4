package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"outreach/internal/pkg/clock"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	clk clock.Clock

	mu       sync.Mutex
	closed   bool
	statuses map[string]memStatus
	jobs     map[string]JobRecord
	dedup    map[string]time.Time
	messages []MessageLogEntry
}

type memStatus struct {
	rec       StatusRecord
	expiresAt time.Time
}

func NewMemory(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &MemoryStore{
		clk:      clk,
		statuses: make(map[string]memStatus),
		jobs:     make(map[string]JobRecord),
		dedup:    make(map[string]time.Time),
	}
}

func (m *MemoryStore) PutStatus(_ context.Context, rec StatusRecord, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.statuses[rec.JobID] = memStatus{rec: rec, expiresAt: expiresAt}
	return nil
}

func (m *MemoryStore) GetStatus(_ context.Context, jobID string) (StatusRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return StatusRecord{}, false, ErrClosed
	}
	s, ok := m.statuses[jobID]
	if !ok || !m.clk.Now().Before(s.expiresAt) {
		return StatusRecord{}, false, nil
	}
	return s.rec, true, nil
}

func (m *MemoryStore) SaveJob(_ context.Context, job JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	job.Payload = slices.Clone(job.Payload)
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) PendingJobs(_ context.Context) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]JobRecord, 0, len(m.jobs))
	for _, j := range m.jobs {
		j.Payload = slices.Clone(j.Payload)
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].EnqueuedAt.Equal(out[k].EnqueuedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].EnqueuedAt.Before(out[k].EnqueuedAt)
	})
	return out, nil
}

func (m *MemoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dedup[key] = until
	return nil
}

func (m *MemoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	if !ok || until.Before(m.clk.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *MemoryStore) AppendMessageLog(_ context.Context, e MessageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = m.clk.Now()
	}
	m.messages = append(m.messages, e)
	return nil
}

// Messages returns a copy of the message log.
func (m *MemoryStore) Messages() []MessageLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.messages)
}

func (m *MemoryStore) PruneExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	now := m.clk.Now()
	n := 0
	for id, s := range m.statuses {
		if !now.Before(s.expiresAt) {
			delete(m.statuses, id)
			n++
		}
	}
	for k, until := range m.dedup {
		if until.Before(now) {
			delete(m.dedup, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
