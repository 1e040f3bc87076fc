// Package postgres provides a Postgres-backed JobStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapfeed/postshot/internal/capture"
)

// buildLockLease bounds how long a crashed archive builder can hold the
// lock before another finisher may retry.
const buildLockLease = 120 * time.Second

// Config controls the Postgres connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JobStore persists jobs, items, and archive locks in Postgres. Counter
// mutations ride a single UPDATE with RETURNING, so the completion
// threshold crossing is observed by exactly one caller even across
// processes.
type JobStore struct {
	pool pgxPool
	now  func() time.Time
}

// NewJobStore connects a pool using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, now: time.Now}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool pgxPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the schema when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			total INT NOT NULL,
			completed INT NOT NULL DEFAULT 0,
			success INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			zip_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS job_items (
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			idx INT NOT NULL,
			url TEXT NOT NULL,
			platform TEXT NOT NULL,
			status TEXT NOT NULL,
			image_path TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			debug_image_path TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS archive_locks (
			job_id TEXT PRIMARY KEY,
			locked_until TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// InitJob creates the job and all its items in one transaction.
func (s *JobStore) InitJob(ctx context.Context, job capture.Job, items []capture.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin init job: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobs (id, status, created_at, total) VALUES ($1, $2, $3, $4)`,
		job.ID, string(job.Status), job.CreatedAt, job.Total,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, item := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO job_items (job_id, idx, url, platform, status) VALUES ($1, $2, $3, $4, $5)`,
			job.ID, item.Index, item.URL, string(item.Platform), string(item.Status),
		); err != nil {
			return fmt.Errorf("insert item %d: %w", item.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit init job: %w", err)
	}
	return nil
}

// GetJob returns the job with items ordered by index, or capture.ErrNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (capture.Job, error) {
	var job capture.Job
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, created_at, total, completed, success, failed, zip_path
		 FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&job.ID, &status, &job.CreatedAt, &job.Total, &job.Completed, &job.Success, &job.Failed, &job.ZipPath)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.Job{}, capture.ErrNotFound
		}
		return capture.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = capture.JobStatus(status)

	rows, err := s.pool.Query(ctx,
		`SELECT idx, url, platform, status, image_path, file_name, error_code, error_message, debug_image_path
		 FROM job_items WHERE job_id = $1 ORDER BY idx`,
		jobID,
	)
	if err != nil {
		return capture.Job{}, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item capture.Item
		var platform, itemStatus string
		if err := rows.Scan(
			&item.Index, &item.URL, &platform, &itemStatus,
			&item.ImagePath, &item.FileName, &item.ErrorCode, &item.ErrorMessage, &item.DebugImagePath,
		); err != nil {
			return capture.Job{}, fmt.Errorf("scan item: %w", err)
		}
		item.Platform = capture.Platform(platform)
		item.Status = capture.ItemStatus(itemStatus)
		job.Items = append(job.Items, item)
	}
	if err := rows.Err(); err != nil {
		return capture.Job{}, fmt.Errorf("iterate items: %w", err)
	}
	return job, nil
}

// MarkItemStarted transitions an item to processing.
func (s *JobStore) MarkItemStarted(ctx context.Context, jobID string, index int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_items SET status = $3 WHERE job_id = $1 AND idx = $2`,
		jobID, index, string(capture.ItemStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("mark item started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return capture.ErrNotFound
	}
	return nil
}

// MarkItemFinished writes the item's terminal fields and bumps the job
// counters in one statement. The RETURNING clause exposes the post-update
// counters, so completed == total is observed by exactly the increment
// that crossed the threshold.
func (s *JobStore) MarkItemFinished(
	ctx context.Context,
	jobID string,
	index int,
	outcome capture.Outcome,
) (bool, error) {
	status := capture.ItemStatusFailed
	if outcome.OK {
		status = capture.ItemStatusSuccess
	}

	var completed, total int
	err := s.pool.QueryRow(ctx,
		`WITH item AS (
			UPDATE job_items SET
				status = $3,
				image_path = $4,
				file_name = $5,
				error_code = $6,
				error_message = $7,
				debug_image_path = $8
			WHERE job_id = $1 AND idx = $2
			RETURNING job_id
		)
		UPDATE jobs SET
			completed = jobs.completed + 1,
			success = jobs.success + CASE WHEN $9 THEN 1 ELSE 0 END,
			failed = jobs.failed + CASE WHEN $9 THEN 0 ELSE 1 END,
			status = CASE WHEN jobs.completed + 1 >= jobs.total THEN 'completed' ELSE jobs.status END
		FROM item
		WHERE jobs.id = item.job_id
		RETURNING jobs.completed, jobs.total`,
		jobID, index,
		string(status),
		outcome.ImagePath, outcome.FileName,
		outcome.ErrorCode, outcome.ErrorMessage, outcome.DebugImagePath,
		outcome.OK,
	).Scan(&completed, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, capture.ErrNotFound
		}
		return false, fmt.Errorf("mark item finished: %w", err)
	}
	return completed == total, nil
}

// SetZipPath records the archive location; once set it never changes.
func (s *JobStore) SetZipPath(ctx context.Context, jobID string, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET zip_path = $2 WHERE id = $1 AND zip_path = ''`,
		jobID, path,
	)
	if err != nil {
		return fmt.Errorf("set zip path: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Either the job is unknown or the path was already set; only the
	// former is an error.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return capture.ErrNotFound
	}
	return nil
}

// TryAcquireBuildLock grants the archive-build lock with a bounded lease.
// The conditional upsert succeeds only when no live lease exists.
func (s *JobStore) TryAcquireBuildLock(ctx context.Context, jobID string) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO archive_locks (job_id, locked_until) VALUES ($1, $2)
		 ON CONFLICT (job_id) DO UPDATE SET locked_until = $2
		 WHERE archive_locks.locked_until <= $3`,
		jobID, now.Add(buildLockLease), now,
	)
	if err != nil {
		return false, fmt.Errorf("acquire build lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
