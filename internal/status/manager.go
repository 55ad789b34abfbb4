package status

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/pkg/clock"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

const DefaultTTL = 24 * time.Hour

// Manager reads and writes job status records through a storage.Store.
type Manager struct {
	store storage.Store
	clk   clock.Clock
	ttl   time.Duration
	log   logx.Logger

	// stripes serialize read-modify-write per job id within this process.
	stripes [32]sync.Mutex
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clk = c
		}
	}
}

func WithLogger(l logx.Logger) Option { return func(m *Manager) { m.log = l } }

func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{store: store, clk: clock.NewReal(), ttl: DefaultTTL, log: logx.Nop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create writes the initial pending record for a freshly enqueued job.
func (m *Manager) Create(ctx context.Context, jobID, channel string, total int) (JobStatus, error) {
	if total < 0 {
		return JobStatus{}, errors.Wrap(ErrInvalidPatch, "total must be >= 0")
	}
	mu := m.lock(jobID)
	mu.Lock()
	defer mu.Unlock()

	return m.put(ctx, JobStatus{JobID: jobID, Channel: channel, Total: total, Status: Pending})
}

// Update merges p into the current record and slides its expiry.
// Writes to an unknown job start from an empty pending record.
func (m *Manager) Update(ctx context.Context, jobID string, p Patch) (JobStatus, error) {
	mu := m.lock(jobID)
	mu.Lock()
	defer mu.Unlock()

	cur, err := m.get(ctx, jobID)
	switch {
	case errors.Is(err, ErrNotFound):
		cur = JobStatus{JobID: jobID, Status: Pending}
	case err != nil:
		return JobStatus{}, err
	}

	next, err := merge(cur, p)
	if err != nil {
		m.log.Debug("status update rejected", logx.String("job", jobID), logx.Err(err))
		return cur, err
	}
	return m.put(ctx, next)
}

// Get returns the current record or ErrNotFound.
func (m *Manager) Get(ctx context.Context, jobID string) (JobStatus, error) {
	return m.get(ctx, jobID)
}

func (m *Manager) get(ctx context.Context, jobID string) (JobStatus, error) {
	rec, ok, err := m.store.GetStatus(ctx, jobID)
	if err != nil {
		return JobStatus{}, errors.Wrapf(err, "read status %s", jobID)
	}
	if !ok {
		return JobStatus{}, errors.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return JobStatus{
		JobID:     rec.JobID,
		Channel:   rec.Channel,
		Total:     rec.Total,
		Completed: rec.Completed,
		Failed:    rec.Failed,
		Status:    State(rec.State),
		Error:     rec.Error,
		Progress:  rec.Progress,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func (m *Manager) put(ctx context.Context, st JobStatus) (JobStatus, error) {
	now := m.clk.Now()
	st.UpdatedAt = now
	rec := storage.StatusRecord{
		JobID:     st.JobID,
		Channel:   st.Channel,
		Total:     st.Total,
		Completed: st.Completed,
		Failed:    st.Failed,
		State:     string(st.Status),
		Error:     st.Error,
		Progress:  st.Progress,
		UpdatedAt: now,
	}
	if err := m.store.PutStatus(ctx, rec, now.Add(m.ttl)); err != nil {
		return JobStatus{}, errors.Wrapf(err, "write status %s", st.JobID)
	}
	return st, nil
}

func (m *Manager) lock(jobID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return &m.stripes[h.Sum32()%uint32(len(m.stripes))]
}
