package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// SQLiteEndpointRepository implements EndpointRepository for SQLite.
type SQLiteEndpointRepository struct {
	db *sql.DB
}

// NewSQLiteEndpointRepository creates a new SQLite endpoint repository.
func NewSQLiteEndpointRepository(db *sql.DB) *SQLiteEndpointRepository {
	return &SQLiteEndpointRepository{db: db}
}

const endpointColumns = `id, organiser, name, url, enabled, check_interval_minutes, created_at, updated_at`

func (r *SQLiteEndpointRepository) Create(ctx context.Context, endpoint *models.MonitoredEndpoint) error {
	query := `
		INSERT INTO monitored_endpoints (` + endpointColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	enabled := 0
	if endpoint.Enabled {
		enabled = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		endpoint.ID,
		endpoint.Organiser,
		endpoint.Name,
		endpoint.URL,
		enabled,
		endpoint.CheckIntervalMinutes,
		endpoint.CreatedAt.Format(time.RFC3339),
		endpoint.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create monitored endpoint: %w", err)
	}
	return nil
}

func (r *SQLiteEndpointRepository) GetByID(ctx context.Context, id string) (*models.MonitoredEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM monitored_endpoints WHERE id = ?`
	return r.scanEndpoint(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteEndpointRepository) List(ctx context.Context) ([]*models.MonitoredEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM monitored_endpoints ORDER BY organiser ASC, name ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitored endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.MonitoredEndpoint
	for rows.Next() {
		endpoint, err := r.scanEndpointFromRows(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, rows.Err()
}

// ListDue returns enabled endpoints whose last check is older than their
// per-endpoint interval. Endpoints never checked are always due.
func (r *SQLiteEndpointRepository) ListDue(ctx context.Context, now time.Time) ([]*models.MonitoredEndpoint, error) {
	query := `
		SELECT e.id, e.organiser, e.name, e.url, e.enabled, e.check_interval_minutes,
			e.created_at, e.updated_at
		FROM monitored_endpoints e
		LEFT JOIN endpoint_status_current c ON c.endpoint_id = e.id
		WHERE e.enabled = 1 AND (
			c.last_checked IS NULL
			OR datetime(c.last_checked) <= datetime(?, '-' || e.check_interval_minutes || ' minutes')
		)
		ORDER BY c.last_checked ASC
	`
	rows, err := r.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query due endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*models.MonitoredEndpoint
	for rows.Next() {
		endpoint, err := r.scanEndpointFromRows(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, rows.Err()
}

func (r *SQLiteEndpointRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE monitored_endpoints SET enabled = ?, updated_at = ? WHERE id = ?",
		enabledInt, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set endpoint enabled: %w", err)
	}
	return nil
}

func (r *SQLiteEndpointRepository) scanEndpoint(row *sql.Row) (*models.MonitoredEndpoint, error) {
	var endpoint models.MonitoredEndpoint
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&endpoint.ID, &endpoint.Organiser, &endpoint.Name, &endpoint.URL,
		&enabled, &endpoint.CheckIntervalMinutes, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitored endpoint: %w", err)
	}

	endpoint.Enabled = enabled == 1
	endpoint.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	endpoint.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &endpoint, nil
}

func (r *SQLiteEndpointRepository) scanEndpointFromRows(rows *sql.Rows) (*models.MonitoredEndpoint, error) {
	var endpoint models.MonitoredEndpoint
	var enabled int
	var createdAt, updatedAt string

	err := rows.Scan(
		&endpoint.ID, &endpoint.Organiser, &endpoint.Name, &endpoint.URL,
		&enabled, &endpoint.CheckIntervalMinutes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitored endpoint: %w", err)
	}

	endpoint.Enabled = enabled == 1
	endpoint.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	endpoint.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &endpoint, nil
}

func (r *SQLiteEndpointRepository) GetCurrent(ctx context.Context, endpointID string) (*models.EndpointStatusCurrent, error) {
	query := `
		SELECT endpoint_id, status, http_code, response_time_ms, has_results,
			last_checked, last_status_change, consecutive_failures
		FROM endpoint_status_current WHERE endpoint_id = ?
	`
	var current models.EndpointStatusCurrent
	var httpCode, responseTimeMs sql.NullInt64
	var hasResults int
	var lastChecked string
	var lastStatusChange sql.NullString

	err := r.db.QueryRowContext(ctx, query, endpointID).Scan(
		&current.EndpointID, &current.Status, &httpCode, &responseTimeMs,
		&hasResults, &lastChecked, &lastStatusChange, &current.ConsecutiveFailures,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan endpoint status: %w", err)
	}

	if httpCode.Valid {
		v := int(httpCode.Int64)
		current.HTTPCode = &v
	}
	if responseTimeMs.Valid {
		v := int(responseTimeMs.Int64)
		current.ResponseTimeMs = &v
	}
	current.HasResults = hasResults == 1
	current.LastChecked, _ = time.Parse(time.RFC3339, lastChecked)
	if lastStatusChange.Valid {
		t, _ := time.Parse(time.RFC3339, lastStatusChange.String)
		current.LastStatusChange = &t
	}

	return &current, nil
}

func (r *SQLiteEndpointRepository) UpsertCurrent(ctx context.Context, current *models.EndpointStatusCurrent) error {
	query := `
		INSERT INTO endpoint_status_current (endpoint_id, status, http_code, response_time_ms,
			has_results, last_checked, last_status_change, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint_id) DO UPDATE SET
			status = excluded.status,
			http_code = excluded.http_code,
			response_time_ms = excluded.response_time_ms,
			has_results = excluded.has_results,
			last_checked = excluded.last_checked,
			last_status_change = excluded.last_status_change,
			consecutive_failures = excluded.consecutive_failures
	`
	hasResults := 0
	if current.HasResults {
		hasResults = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		current.EndpointID,
		current.Status,
		nullIntPtr(current.HTTPCode),
		nullIntPtr(current.ResponseTimeMs),
		hasResults,
		current.LastChecked.Format(time.RFC3339),
		nullTime(current.LastStatusChange),
		current.ConsecutiveFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert endpoint status: %w", err)
	}
	return nil
}

func (r *SQLiteEndpointRepository) AppendHistory(ctx context.Context, entry *models.EndpointStatusHistory) error {
	query := `
		INSERT INTO endpoint_status_history (id, endpoint_id, status, http_code,
			response_time_ms, has_results, error_message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	hasResults := 0
	if entry.HasResults {
		hasResults = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.EndpointID,
		entry.Status,
		nullIntPtr(entry.HTTPCode),
		nullIntPtr(entry.ResponseTimeMs),
		hasResults,
		nullString(entry.ErrorMessage),
		entry.CheckedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append endpoint history: %w", err)
	}
	return nil
}

// GetHistory returns the newest history rows first. IDs are ULIDs, so
// ordering by id descending is ordering by time.
func (r *SQLiteEndpointRepository) GetHistory(ctx context.Context, endpointID string, limit int) ([]*models.EndpointStatusHistory, error) {
	query := `
		SELECT id, endpoint_id, status, http_code, response_time_ms,
			has_results, error_message, checked_at
		FROM endpoint_status_history WHERE endpoint_id = ?
		ORDER BY id DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint history: %w", err)
	}
	defer rows.Close()

	var entries []*models.EndpointStatusHistory
	for rows.Next() {
		var entry models.EndpointStatusHistory
		var httpCode, responseTimeMs sql.NullInt64
		var hasResults int
		var errorMessage sql.NullString
		var checkedAt string
		if err := rows.Scan(&entry.ID, &entry.EndpointID, &entry.Status,
			&httpCode, &responseTimeMs, &hasResults, &errorMessage, &checkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint history: %w", err)
		}
		if httpCode.Valid {
			v := int(httpCode.Int64)
			entry.HTTPCode = &v
		}
		if responseTimeMs.Valid {
			v := int(responseTimeMs.Int64)
			entry.ResponseTimeMs = &v
		}
		entry.HasResults = hasResults == 1
		entry.ErrorMessage = errorMessage.String
		entry.CheckedAt, _ = time.Parse(time.RFC3339, checkedAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
