package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// SQLiteResultRepository implements ResultRepository for SQLite.
type SQLiteResultRepository struct {
	db *sql.DB
}

// NewSQLiteResultRepository creates a new SQLite result repository.
func NewSQLiteResultRepository(db *sql.DB) *SQLiteResultRepository {
	return &SQLiteResultRepository{db: db}
}

const resultColumns = `id, event_id, event_distance_id, position, bib, name, normalized_name,
	gender, category, finish_time, gun_time, chip_time, pace,
	gender_position, category_position, country, club, age, status, time_behind,
	athlete_id, validation_json, metadata_json, created_at`

// CreateBatch inserts results one at a time inside a transaction, swallowing
// unique-index conflicts so a re-scrape of the same event never duplicates
// rows. Returns the number of rows actually inserted.
func (r *SQLiteResultRepository) CreateBatch(ctx context.Context, results []*models.RaceResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO race_results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, result := range results {
		_, err := stmt.ExecContext(ctx,
			result.ID,
			result.EventID,
			nullStringPtr(result.EventDistanceID),
			nullIntPtr(result.Position),
			nullString(result.Bib),
			result.Name,
			result.NormalizedName,
			nullString(result.Gender),
			nullString(result.Category),
			nullString(result.FinishTime),
			nullString(result.GunTime),
			nullString(result.ChipTime),
			nullString(result.Pace),
			nullIntPtr(result.GenderPosition),
			nullIntPtr(result.CategoryPosition),
			nullString(result.Country),
			nullString(result.Club),
			nullIntPtr(result.Age),
			result.Status,
			nullString(result.TimeBehind),
			nullStringPtr(result.AthleteID),
			nullString(result.ValidationJSON),
			nullString(result.MetadataJSON),
			result.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return 0, fmt.Errorf("failed to insert race result: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (r *SQLiteResultRepository) GetByID(ctx context.Context, id string) (*models.RaceResult, error) {
	query := `SELECT ` + resultColumns + ` FROM race_results WHERE id = ?`
	return r.scanResult(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteResultRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.RaceResult, error) {
	query := `SELECT ` + resultColumns + ` FROM race_results
		WHERE event_id = ? ORDER BY IFNULL(position, 999999) ASC, normalized_name ASC`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query race results: %w", err)
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteResultRepository) CountByEventID(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM race_results WHERE event_id = ?", eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count race results: %w", err)
	}
	return count, nil
}

func (r *SQLiteResultRepository) GetUnlinked(ctx context.Context, limit int) ([]*models.RaceResult, error) {
	query := `SELECT ` + resultColumns + ` FROM race_results
		WHERE athlete_id IS NULL ORDER BY created_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked results: %w", err)
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteResultRepository) GetUnlinkedMatchingName(ctx context.Context, normalizedName string, limit int) ([]*models.RaceResult, error) {
	// Substring both ways narrows the candidate set before fuzzy scoring;
	// "jon smith" vs "jonathan smith" still passes because "smith" alone
	// is matched via the last token.
	tokens := strings.Fields(normalizedName)
	needle := normalizedName
	if len(tokens) > 0 {
		needle = tokens[len(tokens)-1]
	}

	query := `SELECT ` + resultColumns + ` FROM race_results
		WHERE athlete_id IS NULL
		AND (normalized_name LIKE '%' || ? || '%' OR ? LIKE '%' || normalized_name || '%')
		ORDER BY created_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, needle, normalizedName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked results by name: %w", err)
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteResultRepository) LinkAthlete(ctx context.Context, resultID, athleteID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE race_results SET athlete_id = ? WHERE id = ?",
		athleteID, resultID,
	)
	if err != nil {
		return fmt.Errorf("failed to link athlete: %w", err)
	}
	return nil
}

func (r *SQLiteResultRepository) GetByAthleteID(ctx context.Context, athleteID string) ([]*models.RaceResult, error) {
	query := `
		SELECT ` + prefixColumns("r", resultColumns) + `
		FROM race_results r
		JOIN events e ON e.id = r.event_id
		WHERE r.athlete_id = ?
		ORDER BY e.date DESC, r.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, athleteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query athlete results: %w", err)
	}
	defer rows.Close()

	return r.scanResults(rows)
}

func (r *SQLiteResultRepository) scanResult(row *sql.Row) (*models.RaceResult, error) {
	var result models.RaceResult
	var eventDistanceID, bib, gender, category sql.NullString
	var finishTime, gunTime, chipTime, pace, country, club, timeBehind sql.NullString
	var athleteID, validationJSON, metadataJSON sql.NullString
	var position, genderPosition, categoryPosition, age sql.NullInt64
	var createdAt string

	err := row.Scan(
		&result.ID, &result.EventID, &eventDistanceID, &position, &bib,
		&result.Name, &result.NormalizedName, &gender, &category,
		&finishTime, &gunTime, &chipTime, &pace,
		&genderPosition, &categoryPosition, &country, &club, &age,
		&result.Status, &timeBehind, &athleteID, &validationJSON, &metadataJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan race result: %w", err)
	}

	fillResult(&result, eventDistanceID, bib, gender, category,
		finishTime, gunTime, chipTime, pace, country, club, timeBehind,
		athleteID, validationJSON, metadataJSON,
		position, genderPosition, categoryPosition, age, createdAt)
	return &result, nil
}

func (r *SQLiteResultRepository) scanResults(rows *sql.Rows) ([]*models.RaceResult, error) {
	var results []*models.RaceResult
	for rows.Next() {
		var result models.RaceResult
		var eventDistanceID, bib, gender, category sql.NullString
		var finishTime, gunTime, chipTime, pace, country, club, timeBehind sql.NullString
		var athleteID, validationJSON, metadataJSON sql.NullString
		var position, genderPosition, categoryPosition, age sql.NullInt64
		var createdAt string

		err := rows.Scan(
			&result.ID, &result.EventID, &eventDistanceID, &position, &bib,
			&result.Name, &result.NormalizedName, &gender, &category,
			&finishTime, &gunTime, &chipTime, &pace,
			&genderPosition, &categoryPosition, &country, &club, &age,
			&result.Status, &timeBehind, &athleteID, &validationJSON, &metadataJSON, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan race result: %w", err)
		}

		fillResult(&result, eventDistanceID, bib, gender, category,
			finishTime, gunTime, chipTime, pace, country, club, timeBehind,
			athleteID, validationJSON, metadataJSON,
			position, genderPosition, categoryPosition, age, createdAt)
		results = append(results, &result)
	}
	return results, rows.Err()
}

func fillResult(result *models.RaceResult,
	eventDistanceID, bib, gender, category sql.NullString,
	finishTime, gunTime, chipTime, pace, country, club, timeBehind sql.NullString,
	athleteID, validationJSON, metadataJSON sql.NullString,
	position, genderPosition, categoryPosition, age sql.NullInt64,
	createdAt string,
) {
	if eventDistanceID.Valid {
		result.EventDistanceID = &eventDistanceID.String
	}
	if athleteID.Valid {
		result.AthleteID = &athleteID.String
	}
	result.Bib = bib.String
	result.Gender = gender.String
	result.Category = category.String
	result.FinishTime = finishTime.String
	result.GunTime = gunTime.String
	result.ChipTime = chipTime.String
	result.Pace = pace.String
	result.Country = country.String
	result.Club = club.String
	result.TimeBehind = timeBehind.String
	result.ValidationJSON = validationJSON.String
	result.MetadataJSON = metadataJSON.String
	if position.Valid {
		v := int(position.Int64)
		result.Position = &v
	}
	if genderPosition.Valid {
		v := int(genderPosition.Int64)
		result.GenderPosition = &v
	}
	if categoryPosition.Valid {
		v := int(categoryPosition.Int64)
		result.CategoryPosition = &v
	}
	if age.Valid {
		v := int(age.Int64)
		result.Age = &v
	}
	result.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for use in joined queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func (r *SQLiteResultRepository) CreateCheckpoints(ctx context.Context, checkpoints []*models.TimingCheckpoint) error {
	if len(checkpoints) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO timing_checkpoints (id, result_id, checkpoint_type, checkpoint_name,
			checkpoint_order, split_time, cumulative_time, pace, segment_distance_meters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, cp := range checkpoints {
		_, err := stmt.ExecContext(ctx,
			cp.ID,
			cp.ResultID,
			cp.Type,
			cp.Name,
			cp.Order,
			nullString(cp.SplitTime),
			nullString(cp.CumulativeTime),
			nullString(cp.Pace),
			nullIntPtr(cp.SegmentDistance),
			cp.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteResultRepository) GetCheckpoints(ctx context.Context, resultID string) ([]*models.TimingCheckpoint, error) {
	query := `
		SELECT id, result_id, checkpoint_type, checkpoint_name, checkpoint_order,
			split_time, cumulative_time, pace, segment_distance_meters, created_at
		FROM timing_checkpoints WHERE result_id = ? ORDER BY checkpoint_order ASC
	`
	rows, err := r.db.QueryContext(ctx, query, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.TimingCheckpoint
	for rows.Next() {
		var cp models.TimingCheckpoint
		var splitTime, cumulativeTime, pace sql.NullString
		var segmentDistance sql.NullInt64
		var createdAt string
		if err := rows.Scan(&cp.ID, &cp.ResultID, &cp.Type, &cp.Name, &cp.Order,
			&splitTime, &cumulativeTime, &pace, &segmentDistance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.SplitTime = splitTime.String
		cp.CumulativeTime = cumulativeTime.String
		cp.Pace = pace.String
		if segmentDistance.Valid {
			v := int(segmentDistance.Int64)
			cp.SegmentDistance = &v
		}
		cp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, rows.Err()
}

// CreateSource inserts a provenance record. The first source for a result
// becomes primary; later sources are secondary unless explicitly flagged.
func (r *SQLiteResultRepository) CreateSource(ctx context.Context, source *models.ResultSource) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	isPrimary := source.IsPrimary
	if !isPrimary {
		var existing int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM result_sources WHERE result_id = ? AND is_primary = 1",
			source.ResultID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("failed to check primary source: %w", err)
		}
		isPrimary = existing == 0
	} else {
		// Demote any existing primary: one primary per result.
		if _, err := tx.ExecContext(ctx,
			"UPDATE result_sources SET is_primary = 0 WHERE result_id = ?",
			source.ResultID); err != nil {
			return fmt.Errorf("failed to demote primary source: %w", err)
		}
	}

	var fieldsJSON sql.NullString
	if len(source.FieldsProvided) > 0 {
		b, _ := json.Marshal(source.FieldsProvided)
		fieldsJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO result_sources (id, result_id, organiser, source_url, scraped_at,
			fields_provided, confidence, is_primary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	primaryInt := 0
	if isPrimary {
		primaryInt = 1
	}
	if _, err := tx.ExecContext(ctx, query,
		source.ID,
		source.ResultID,
		source.Organiser,
		source.SourceURL,
		source.ScrapedAt.Format(time.RFC3339),
		fieldsJSON,
		source.Confidence,
		primaryInt,
		source.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to create result source: %w", err)
	}

	return tx.Commit()
}

func (r *SQLiteResultRepository) GetSources(ctx context.Context, resultID string) ([]*models.ResultSource, error) {
	query := `
		SELECT id, result_id, organiser, source_url, scraped_at,
			fields_provided, confidence, is_primary, created_at
		FROM result_sources WHERE result_id = ? ORDER BY is_primary DESC, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.ResultSource
	for rows.Next() {
		var s models.ResultSource
		var fieldsJSON sql.NullString
		var isPrimary int
		var scrapedAt, createdAt string
		if err := rows.Scan(&s.ID, &s.ResultID, &s.Organiser, &s.SourceURL, &scrapedAt,
			&fieldsJSON, &s.Confidence, &isPrimary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan result source: %w", err)
		}
		if fieldsJSON.Valid {
			json.Unmarshal([]byte(fieldsJSON.String), &s.FieldsProvided)
		}
		s.IsPrimary = isPrimary == 1
		s.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sources = append(sources, &s)
	}
	return sources, rows.Err()
}
