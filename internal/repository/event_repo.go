package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new SQLite event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Create(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (id, url, organiser, name, date, location, metadata_json,
			scraped_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.URL,
		event.Organiser,
		event.Name,
		event.Date,
		nullString(event.Location),
		nullString(event.MetadataJSON),
		nullTime(event.ScrapedAt),
		event.CreatedAt.Format(time.RFC3339),
		event.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	query := `
		SELECT id, url, organiser, name, date, location, metadata_json,
			scraped_at, created_at, updated_at
		FROM events WHERE id = ?
	`
	return r.scanEvent(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteEventRepository) GetByURL(ctx context.Context, url string) (*models.Event, error) {
	query := `
		SELECT id, url, organiser, name, date, location, metadata_json,
			scraped_at, created_at, updated_at
		FROM events WHERE url = ?
	`
	return r.scanEvent(r.db.QueryRowContext(ctx, query, url))
}

func (r *SQLiteEventRepository) List(ctx context.Context, limit, offset int) ([]*models.Event, error) {
	query := `
		SELECT id, url, organiser, name, date, location, metadata_json,
			scraped_at, created_at, updated_at
		FROM events ORDER BY date DESC, created_at DESC LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := r.scanEventFromRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) SetScrapedAt(ctx context.Context, id string, scrapedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE events SET scraped_at = ?, updated_at = ? WHERE id = ?",
		scrapedAt.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to set scraped_at: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) UpdateMetadata(ctx context.Context, id string, metadataJSON string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE events SET metadata_json = ?, updated_at = ? WHERE id = ?",
		nullString(metadataJSON),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update event metadata: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) scanEvent(row *sql.Row) (*models.Event, error) {
	var event models.Event
	var location, metadataJSON, scrapedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&event.ID, &event.URL, &event.Organiser, &event.Name, &event.Date,
		&location, &metadataJSON, &scrapedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Location = location.String
	event.MetadataJSON = metadataJSON.String
	if scrapedAt.Valid {
		t, _ := time.Parse(time.RFC3339, scrapedAt.String)
		event.ScrapedAt = &t
	}
	event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	event.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &event, nil
}

func (r *SQLiteEventRepository) scanEventFromRows(rows *sql.Rows) (*models.Event, error) {
	var event models.Event
	var location, metadataJSON, scrapedAt sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&event.ID, &event.URL, &event.Organiser, &event.Name, &event.Date,
		&location, &metadataJSON, &scrapedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Location = location.String
	event.MetadataJSON = metadataJSON.String
	if scrapedAt.Valid {
		t, _ := time.Parse(time.RFC3339, scrapedAt.String)
		event.ScrapedAt = &t
	}
	event.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	event.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &event, nil
}

func (r *SQLiteEventRepository) CreateDistance(ctx context.Context, distance *models.EventDistance) error {
	var checkpointsJSON sql.NullString
	if len(distance.ExpectedCheckpoints) > 0 {
		b, _ := json.Marshal(distance.ExpectedCheckpoints)
		checkpointsJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO event_distances (id, event_id, name, distance_meters, race_type,
			expected_checkpoints, participant_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		distance.ID,
		distance.EventID,
		distance.Name,
		distance.DistanceMeters,
		distance.RaceType,
		checkpointsJSON,
		distance.ParticipantCount,
		distance.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create event distance: %w", err)
	}
	return nil
}

func (r *SQLiteEventRepository) GetDistances(ctx context.Context, eventID string) ([]*models.EventDistance, error) {
	query := `
		SELECT id, event_id, name, distance_meters, race_type,
			expected_checkpoints, participant_count, created_at
		FROM event_distances WHERE event_id = ? ORDER BY distance_meters ASC
	`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event distances: %w", err)
	}
	defer rows.Close()

	var distances []*models.EventDistance
	for rows.Next() {
		var d models.EventDistance
		var checkpointsJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&d.ID, &d.EventID, &d.Name, &d.DistanceMeters, &d.RaceType,
			&checkpointsJSON, &d.ParticipantCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event distance: %w", err)
		}
		if checkpointsJSON.Valid {
			json.Unmarshal([]byte(checkpointsJSON.String), &d.ExpectedCheckpoints)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		distances = append(distances, &d)
	}
	return distances, rows.Err()
}

func (r *SQLiteEventRepository) GetDistanceByName(ctx context.Context, eventID, name string) (*models.EventDistance, error) {
	query := `
		SELECT id, event_id, name, distance_meters, race_type,
			expected_checkpoints, participant_count, created_at
		FROM event_distances WHERE event_id = ? AND name = ?
	`
	var d models.EventDistance
	var checkpointsJSON sql.NullString
	var createdAt string
	err := r.db.QueryRowContext(ctx, query, eventID, name).Scan(
		&d.ID, &d.EventID, &d.Name, &d.DistanceMeters, &d.RaceType,
		&checkpointsJSON, &d.ParticipantCount, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event distance: %w", err)
	}
	if checkpointsJSON.Valid {
		json.Unmarshal([]byte(checkpointsJSON.String), &d.ExpectedCheckpoints)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &d, nil
}

func (r *SQLiteEventRepository) SetParticipantCount(ctx context.Context, distanceID string, count int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE event_distances SET participant_count = ? WHERE id = ?",
		count, distanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to set participant count: %w", err)
	}
	return nil
}

// SQLiteEventLinkRepository implements EventLinkRepository for SQLite.
type SQLiteEventLinkRepository struct {
	db *sql.DB
}

// NewSQLiteEventLinkRepository creates a new SQLite event link repository.
func NewSQLiteEventLinkRepository(db *sql.DB) *SQLiteEventLinkRepository {
	return &SQLiteEventLinkRepository{db: db}
}

func (r *SQLiteEventLinkRepository) Create(ctx context.Context, link *models.EventSourceLink) error {
	if link.EventAID == link.EventBID {
		return fmt.Errorf("cannot link event %s to itself", link.EventAID)
	}
	// Store the pair sorted so the undirected UNIQUE constraint holds.
	a, b := link.EventAID, link.EventBID
	if b < a {
		a, b = b, a
	}

	query := `
		INSERT INTO event_source_links (id, event_a_id, event_b_id, link_type, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, a, b, link.LinkType, link.Confidence,
		link.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to create event link: %w", err)
	}
	return nil
}

func (r *SQLiteEventLinkRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.EventSourceLink, error) {
	query := `
		SELECT id, event_a_id, event_b_id, link_type, confidence, created_at
		FROM event_source_links WHERE event_a_id = ? OR event_b_id = ?
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, eventID, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event links: %w", err)
	}
	defer rows.Close()

	var links []*models.EventSourceLink
	for rows.Next() {
		var link models.EventSourceLink
		var createdAt string
		if err := rows.Scan(&link.ID, &link.EventAID, &link.EventBID,
			&link.LinkType, &link.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event link: %w", err)
		}
		link.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		links = append(links, &link)
	}
	return links, rows.Err()
}
