// Package status owns the caller-visible progress record of every job.
//
// A record is created when a job is enqueued and is only mutated by the
// worker running that job. Every write slides the expiry forward by the
// configured TTL; once expired the record reads as not found.
package status

import (
	"time"

	"github.com/cockroachdb/errors"
)

type State string

const (
	Pending             State = "pending"
	Processing          State = "processing"
	Completed           State = "completed"
	Failed              State = "failed"
	CompletedWithErrors State = "completed_with_errors"
)

var (
	// ErrNotFound is returned for unknown or expired job ids.
	ErrNotFound = errors.New("job not found or expired")
	// ErrTerminal is returned when a write targets a job that already finished.
	ErrTerminal = errors.New("job status is terminal")
	// ErrInvalidPatch is returned when a write would break completed+failed <= total.
	ErrInvalidPatch = errors.New("invalid status patch")
)

func (s State) Terminal() bool {
	switch s {
	case Completed, Failed, CompletedWithErrors:
		return true
	}
	return false
}

func (s State) Valid() bool {
	switch s {
	case Pending, Processing, Completed, Failed, CompletedWithErrors:
		return true
	}
	return false
}

func (s State) rank() int {
	switch s {
	case Pending:
		return 0
	case Processing:
		return 1
	case Completed, Failed, CompletedWithErrors:
		return 2
	}
	return -1
}

// JobStatus is the record returned to status queries.
type JobStatus struct {
	JobID     string    `json:"jobId"`
	Channel   string    `json:"channel,omitempty"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Status    State     `json:"status"`
	Error     string    `json:"error,omitempty"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Patch is a partial update. Nil fields are left as they are.
//
// Restart zeroes the counters and the error before the rest of the patch
// is applied. A worker sets it when it begins a new attempt so counters
// only grow within one attempt.
type Patch struct {
	Restart   bool
	Channel   *string
	Total     *int
	Completed *int
	Failed    *int
	Status    *State
	Error     *string
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

// merge applies p on top of cur and enforces the record invariants:
// total is set once, counters never decrease within an attempt, state only
// moves forward.
func merge(cur JobStatus, p Patch) (JobStatus, error) {
	if cur.Status.Terminal() {
		return cur, errors.Wrapf(ErrTerminal, "job %s is %s", cur.JobID, cur.Status)
	}
	next := cur
	if p.Restart {
		next.Completed, next.Failed, next.Error = 0, 0, ""
	}
	if p.Channel != nil && next.Channel == "" {
		next.Channel = *p.Channel
	}
	if p.Total != nil && next.Total == 0 {
		if *p.Total < 0 {
			return cur, errors.Wrap(ErrInvalidPatch, "total must be >= 0")
		}
		next.Total = *p.Total
	}
	if p.Completed != nil && *p.Completed > next.Completed {
		next.Completed = *p.Completed
	}
	if p.Failed != nil && *p.Failed > next.Failed {
		next.Failed = *p.Failed
	}
	if next.Completed+next.Failed > next.Total {
		return cur, errors.Wrapf(ErrInvalidPatch, "completed %d + failed %d exceeds total %d",
			next.Completed, next.Failed, next.Total)
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return cur, errors.Wrapf(ErrInvalidPatch, "unknown status %q", *p.Status)
		}
		if p.Status.rank() >= next.Status.rank() {
			next.Status = *p.Status
		}
	}
	if p.Error != nil {
		next.Error = *p.Error
	}
	next.Progress = percent(next.Completed, next.Total)
	return next, nil
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}
