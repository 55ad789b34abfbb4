package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"outreach/internal/pkg/clock"
	logx "outreach/pkg/logx"
)

// Store is the persistence API used by the status manager, the queue and the dispatcher.
type Store interface {
	// PutStatus upserts a status record that stays readable until expiresAt.
	PutStatus(ctx context.Context, rec StatusRecord, expiresAt time.Time) error
	// GetStatus returns ok=false for missing or expired records.
	GetStatus(ctx context.Context, jobID string) (rec StatusRecord, ok bool, err error)

	SaveJob(ctx context.Context, job JobRecord) error
	DeleteJob(ctx context.Context, id string) error
	PendingJobs(ctx context.Context) ([]JobRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	AppendMessageLog(ctx context.Context, e MessageLogEntry) error

	// PruneExpired deletes expired status and ledger rows and reports how many went.
	PruneExpired(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured store. A nil clk uses the wall clock.
func Open(ctx context.Context, cfg Config, log logx.Logger, clk clock.Clock) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.NewReal()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "memory", "":
		return NewMemory(clk), nil
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log, clk)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log, clk)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
