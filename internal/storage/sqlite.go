package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"outreach/internal/pkg/clock"
	logx "outreach/pkg/logx"
)

//go:embed migrations.sql
var sqliteSchema string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	clk clock.Clock
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger, clk clock.Clock) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, clk: clk}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutStatus(ctx context.Context, rec StatusRecord, expiresAt time.Time) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.clk.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_status(job_id, channel, total, completed, failed, state, err, progress, updated_at, expires_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   channel=excluded.channel, total=excluded.total, completed=excluded.completed,
		   failed=excluded.failed, state=excluded.state, err=excluded.err,
		   progress=excluded.progress, updated_at=excluded.updated_at, expires_at=excluded.expires_at`,
		rec.JobID, rec.Channel, rec.Total, rec.Completed, rec.Failed, rec.State, nullStr(rec.Error),
		rec.Progress, rec.UpdatedAt.UnixMilli(), expiresAt.UnixMilli(),
	)
	return errors.Wrap(err, "put status")
}

func (s *sqliteStore) GetStatus(ctx context.Context, jobID string) (StatusRecord, bool, error) {
	var (
		rec     StatusRecord
		errStr  sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, channel, total, completed, failed, state, err, progress, updated_at
		 FROM job_status WHERE job_id = ? AND expires_at > ?`,
		jobID, s.clk.Now().UnixMilli(),
	).Scan(&rec.JobID, &rec.Channel, &rec.Total, &rec.Completed, &rec.Failed, &rec.State, &errStr, &rec.Progress, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusRecord{}, false, nil
	}
	if err != nil {
		return StatusRecord{}, false, errors.Wrap(err, "get status")
	}
	rec.Error = errStr.String
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, true, nil
}

func (s *sqliteStore) SaveJob(ctx context.Context, job JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, channel, payload, attempts, enqueued_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, attempts=excluded.attempts`,
		job.ID, job.Channel, job.Payload, job.Attempts, job.EnqueuedAt.UnixMilli(),
	)
	return errors.Wrap(err, "save job")
}

func (s *sqliteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return errors.Wrap(err, "delete job")
}

func (s *sqliteStore) PendingJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, payload, attempts, enqueued_at FROM jobs ORDER BY enqueued_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "pending jobs")
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			j  JobRecord
			at int64
		)
		if err := rows.Scan(&j.ID, &j.Channel, &j.Payload, &j.Attempts, &at); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		j.EnqueuedAt = time.UnixMilli(at)
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "pending jobs")
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	return errors.Wrap(err, "put dedup")
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ? AND until >= ?`, key, s.clk.Now().UnixMilli()).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "get dedup")
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) AppendMessageLog(ctx context.Context, e MessageLogEntry) error {
	if e.At.IsZero() {
		e.At = s.clk.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_log(job_id, channel, recipient, provider_id, kind, at) VALUES(?,?,?,?,?,?)`,
		e.JobID, e.Channel, e.Recipient, nullStr(e.ProviderID), nullStr(e.Kind), e.At.UnixMilli(),
	)
	return errors.Wrap(err, "append message log")
}

func (s *sqliteStore) PruneExpired(ctx context.Context) (int, error) {
	now := s.clk.Now().UnixMilli()
	total := 0
	for _, q := range []string{
		`DELETE FROM job_status WHERE expires_at <= ?`,
		`DELETE FROM dedup WHERE until < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, now)
		if err != nil {
			return total, errors.Wrap(err, "prune expired")
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
