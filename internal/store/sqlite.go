package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vclabel/spool/internal/config"
	"github.com/vclabel/spool/internal/printer"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidState = errors.New("job is not in a valid state for this transition")
)

// Store is the durable job store backing the queue worker and the API.
// Claiming is exclusive at the database level, so multiple worker
// processes can share one database file safely.
type Store struct {
	db *sql.DB
}

func Open(cfg config.DatabaseConfig) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "0001_print_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS print_jobs (
				id TEXT PRIMARY KEY,
				image BLOB NOT NULL,
				print_mode TEXT NOT NULL,
				cut_mode TEXT NOT NULL,
				use_lock INTEGER NOT NULL DEFAULT 0,
				wait_for_idle INTEGER NOT NULL DEFAULT 0,
				state TEXT NOT NULL DEFAULT 'held',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				result TEXT NOT NULL DEFAULT '',
				submitted_by TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				retry_at DATETIME,
				claimed_at DATETIME,
				completed_at DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_print_jobs_state ON print_jobs(state, created_at);
		`,
	},
	{
		version: "0002_settings",
		sql: `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`,
	},
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

// Submit stores a new held job and returns its id.
func (s *Store) Submit(ctx context.Context, req printer.PrintRequest, submittedBy string) (string, error) {
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx, insertJob,
		id, req.Image, string(req.Mode), string(req.Cut),
		req.UseLock, req.WaitForIdle, submittedBy,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}

	return id, nil
}

// ClaimNext atomically claims the oldest held job whose retry time has
// passed. It returns nil when nothing is claimable. The claim is
// exclusive: concurrent callers never receive the same job.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	job, err := scanJob(tx.QueryRowContext(ctx, selectClaimable, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query claimable job: %w", err)
	}

	res, err := tx.ExecContext(ctx, claimJob, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected != 1 {
		// Another worker claimed it between select and update.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.State = StateClaimed
	job.ClaimedAt = &now

	return job, nil
}

// MarkCompleted records a terminal success for a claimed job. The
// attempt counter charges the completed execution.
func (s *Store) MarkCompleted(ctx context.Context, id, result string) error {
	return s.transition(ctx, completeJob, result, time.Now().UTC(), id)
}

// MarkFailed records a terminal failure for a claimed job. The attempt
// counter charges the failed execution.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, failJob, errMsg, time.Now().UTC(), id)
}

// ReturnToHeld puts a claimed job back in the held state. With
// incrementAttempts the attempt counter advances (busy retry); without
// it the claim is reverted untouched (worker interrupted mid-cycle).
func (s *Store) ReturnToHeld(ctx context.Context, id string, retryAt time.Time, incrementAttempts bool, lastError string) error {
	increment := 0
	if incrementAttempts {
		increment = 1
	}

	var retry any
	if !retryAt.IsZero() {
		retry = retryAt.UTC()
	}

	return s.transition(ctx, returnJobToHeld, retry, increment, lastError, id)
}

func (s *Store) transition(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrInvalidState
	}

	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, getJob, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, state State, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if state == "" {
		rows, err = s.db.QueryContext(ctx, listJobs, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, listJobsByState, state, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// CancelJob cancels a held job. Claimed jobs finish their cycle.
func (s *Store) CancelJob(ctx context.Context, id string) error {
	return s.transition(ctx, cancelJob, time.Now().UTC(), id)
}

// CancelAllHeld cancels every held job and reports how many. Claimed
// jobs finish their cycle.
func (s *Store) CancelAllHeld(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, cancelAllHeldJobs, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// RetryJob puts a failed job back in the held state with a fresh
// attempt budget.
func (s *Store) RetryJob(ctx context.Context, id string) error {
	return s.transition(ctx, retryFailedJob, id)
}

// RecoverClaimed sweeps jobs left claimed by a crashed worker back to
// held. Called once at worker startup.
func (s *Store) RecoverClaimed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, recoverClaimedJobs)
	if err != nil {
		return 0, fmt.Errorf("failed to recover claimed jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, countJobsByState)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats[State(state)] = count
	}

	return stats, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getSetting, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, setSetting, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job      Job
		mode     string
		cut      string
		retryAt  sql.NullTime
		claimed  sql.NullTime
		complete sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.Request.Image, &mode, &cut,
		&job.Request.UseLock, &job.Request.WaitForIdle,
		&job.State, &job.Attempts, &job.LastError, &job.Result,
		&job.SubmittedBy, &job.CreatedAt, &retryAt, &claimed, &complete,
	)
	if err != nil {
		return nil, err
	}

	job.Request.Mode = printer.PrintMode(mode)
	job.Request.Cut = printer.CutMode(cut)

	if retryAt.Valid {
		job.RetryAt = &retryAt.Time
	}
	if claimed.Valid {
		job.ClaimedAt = &claimed.Time
	}
	if complete.Valid {
		job.CompletedAt = &complete.Time
	}

	return &job, nil
}
