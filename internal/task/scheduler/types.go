package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "outreach/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// JobFunc is one scheduled run.
type JobFunc func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string        // cron spec; empty for intervals
	every   time.Duration // interval; 0 for cron specs
	timeout time.Duration
	job     JobFunc
	entryID cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	Skipped  uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	// base context of every run; cancelled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}
