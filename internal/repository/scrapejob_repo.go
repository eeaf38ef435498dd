package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// SQLiteScrapeJobRepository implements ScrapeJobRepository for SQLite.
type SQLiteScrapeJobRepository struct {
	db *sql.DB
}

// NewSQLiteScrapeJobRepository creates a new SQLite scrape job repository.
func NewSQLiteScrapeJobRepository(db *sql.DB) *SQLiteScrapeJobRepository {
	return &SQLiteScrapeJobRepository{db: db}
}

const scrapeJobColumns = `id, organiser, event_url, status, results_count, error_message,
	retry_count, max_retries, next_retry_at, notification_sent,
	started_at, completed_at, created_at, updated_at`

func (r *SQLiteScrapeJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (` + scrapeJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	notificationSent := 0
	if job.NotificationSent {
		notificationSent = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		nullString(job.Organiser),
		job.EventURL,
		job.Status,
		job.ResultsCount,
		nullString(job.ErrorMessage),
		job.RetryCount,
		job.MaxRetries,
		nullTime(job.NextRetryAt),
		notificationSent,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create scrape job: %w", err)
	}
	return nil
}

func (r *SQLiteScrapeJobRepository) GetByID(ctx context.Context, id string) (*models.ScrapeJob, error) {
	query := `SELECT ` + scrapeJobColumns + ` FROM scrape_jobs WHERE id = ?`
	return r.scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteScrapeJobRepository) Update(ctx context.Context, job *models.ScrapeJob) error {
	query := `
		UPDATE scrape_jobs SET status = ?, results_count = ?, error_message = ?,
			retry_count = ?, next_retry_at = ?, notification_sent = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	notificationSent := 0
	if job.NotificationSent {
		notificationSent = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		job.Status,
		job.ResultsCount,
		nullString(job.ErrorMessage),
		job.RetryCount,
		nullTime(job.NextRetryAt),
		notificationSent,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		time.Now().UTC().Format(time.RFC3339),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scrape job: %w", err)
	}
	return nil
}

func (r *SQLiteScrapeJobRepository) List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error) {
	query := `SELECT ` + scrapeJobColumns + ` FROM scrape_jobs
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		job, err := r.scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimPending atomically claims the oldest pending job using
// UPDATE ... RETURNING, so concurrent workers never pick the same job.
func (r *SQLiteScrapeJobRepository) ClaimPending(ctx context.Context) (*models.ScrapeJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		UPDATE scrape_jobs
		SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM scrape_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING ` + scrapeJobColumns

	job, err := r.scanJob(tx.QueryRowContext(ctx, query, now, now))
	if err == sql.ErrNoRows || job == nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return job, nil
}

// ClaimRetryable atomically claims the failed job with the earliest due
// next_retry_at. The claim flips status to running and clears next_retry_at,
// so the job is either retried to completion or re-failed with a fresh
// schedule; it can never be drained twice for the same attempt.
func (r *SQLiteScrapeJobRepository) ClaimRetryable(ctx context.Context, now time.Time) (*models.ScrapeJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	nowStr := now.UTC().Format(time.RFC3339)
	query := `
		UPDATE scrape_jobs
		SET status = 'running', next_retry_at = NULL, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM scrape_jobs
			WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
			ORDER BY next_retry_at ASC
			LIMIT 1
		)
		RETURNING ` + scrapeJobColumns

	job, err := r.scanJob(tx.QueryRowContext(ctx, query, nowStr, nowStr, nowStr))
	if err == sql.ErrNoRows || job == nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim retryable job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return job, nil
}

// MarkStaleRunningFailed marks jobs that have been running longer than maxAge
// as failed. Used on startup to clean up jobs orphaned by a restart.
func (r *SQLiteScrapeJobRepository) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		UPDATE scrape_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusFailed,
		"Job terminated: server restart or timeout",
		now,
		now,
		models.JobStatusRunning,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteScrapeJobRepository) scanJob(row *sql.Row) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var organiser, errorMessage sql.NullString
	var nextRetryAt, startedAt, completedAt sql.NullString
	var notificationSent int
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &organiser, &job.EventURL, &job.Status, &job.ResultsCount,
		&errorMessage, &job.RetryCount, &job.MaxRetries, &nextRetryAt,
		&notificationSent, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scrape job: %w", err)
	}

	fillScrapeJob(&job, organiser, errorMessage, nextRetryAt, startedAt, completedAt,
		notificationSent, createdAt, updatedAt)
	return &job, nil
}

func (r *SQLiteScrapeJobRepository) scanJobFromRows(rows *sql.Rows) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	var organiser, errorMessage sql.NullString
	var nextRetryAt, startedAt, completedAt sql.NullString
	var notificationSent int
	var createdAt, updatedAt string

	err := rows.Scan(
		&job.ID, &organiser, &job.EventURL, &job.Status, &job.ResultsCount,
		&errorMessage, &job.RetryCount, &job.MaxRetries, &nextRetryAt,
		&notificationSent, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan scrape job: %w", err)
	}

	fillScrapeJob(&job, organiser, errorMessage, nextRetryAt, startedAt, completedAt,
		notificationSent, createdAt, updatedAt)
	return &job, nil
}

func fillScrapeJob(job *models.ScrapeJob,
	organiser, errorMessage, nextRetryAt, startedAt, completedAt sql.NullString,
	notificationSent int, createdAt, updatedAt string,
) {
	job.Organiser = organiser.String
	job.ErrorMessage = errorMessage.String
	job.NotificationSent = notificationSent == 1
	if nextRetryAt.Valid {
		t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
		job.NextRetryAt = &t
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
