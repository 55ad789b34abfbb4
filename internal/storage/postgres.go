package storage

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreach/internal/pkg/clock"
	logx "outreach/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	clk  clock.Clock
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger, clk clock.Clock) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate postgres")
	}
	log.Info("postgres store opened")
	return &postgresStore{pool: pool, log: log, clk: clk}, nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) PutStatus(ctx context.Context, rec StatusRecord, expiresAt time.Time) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.clk.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_status(job_id, channel, total, completed, failed, state, err, progress, updated_at, expires_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT(job_id) DO UPDATE SET
		   channel=EXCLUDED.channel, total=EXCLUDED.total, completed=EXCLUDED.completed,
		   failed=EXCLUDED.failed, state=EXCLUDED.state, err=EXCLUDED.err,
		   progress=EXCLUDED.progress, updated_at=EXCLUDED.updated_at, expires_at=EXCLUDED.expires_at`,
		rec.JobID, rec.Channel, rec.Total, rec.Completed, rec.Failed, rec.State, nullStr(rec.Error),
		rec.Progress, rec.UpdatedAt.UnixMilli(), expiresAt.UnixMilli(),
	)
	return errors.Wrap(err, "put status")
}

func (s *postgresStore) GetStatus(ctx context.Context, jobID string) (StatusRecord, bool, error) {
	var (
		rec     StatusRecord
		errStr  *string
		updated int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, channel, total, completed, failed, state, err, progress, updated_at
		 FROM job_status WHERE job_id = $1 AND expires_at > $2`,
		jobID, s.clk.Now().UnixMilli(),
	).Scan(&rec.JobID, &rec.Channel, &rec.Total, &rec.Completed, &rec.Failed, &rec.State, &errStr, &rec.Progress, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusRecord{}, false, nil
	}
	if err != nil {
		return StatusRecord{}, false, errors.Wrap(err, "get status")
	}
	if errStr != nil {
		rec.Error = *errStr
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, true, nil
}

func (s *postgresStore) SaveJob(ctx context.Context, job JobRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs(id, channel, payload, attempts, enqueued_at) VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(id) DO UPDATE SET payload=EXCLUDED.payload, attempts=EXCLUDED.attempts`,
		job.ID, job.Channel, job.Payload, job.Attempts, job.EnqueuedAt.UnixMilli(),
	)
	return errors.Wrap(err, "save job")
}

func (s *postgresStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	return errors.Wrap(err, "delete job")
}

func (s *postgresStore) PendingJobs(ctx context.Context) ([]JobRecord, error) {
	rows, err := s.pool.Query(ctx,
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

func (s *postgresStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2)
		 ON CONFLICT(key) DO UPDATE SET until=EXCLUDED.until`,
		key, until.UnixMilli(),
	)
	return errors.Wrap(err, "put dedup")
}

func (s *postgresStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.pool.QueryRow(ctx, `SELECT until FROM dedup WHERE key = $1 AND until >= $2`, key, s.clk.Now().UnixMilli()).Scan(&ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "get dedup")
	}
	return time.UnixMilli(ms), true, nil
}

func (s *postgresStore) AppendMessageLog(ctx context.Context, e MessageLogEntry) error {
	if e.At.IsZero() {
		e.At = s.clk.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_log(job_id, channel, recipient, provider_id, kind, at) VALUES($1,$2,$3,$4,$5,$6)`,
		e.JobID, e.Channel, e.Recipient, nullStr(e.ProviderID), nullStr(e.Kind), e.At.UnixMilli(),
	)
	return errors.Wrap(err, "append message log")
}

func (s *postgresStore) PruneExpired(ctx context.Context) (int, error) {
	now := s.clk.Now().UnixMilli()
	var total int64
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM job_status WHERE expires_at <= $1`, now)
	batch.Queue(`DELETE FROM dedup WHERE until < $1`, now)
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return int(total), errors.Wrap(err, "prune expired")
		}
		total += tag.RowsAffected()
	}
	return int(total), nil
}
