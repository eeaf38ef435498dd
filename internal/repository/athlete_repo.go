package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// SQLiteAthleteRepository implements AthleteRepository for SQLite.
type SQLiteAthleteRepository struct {
	db *sql.DB
}

// NewSQLiteAthleteRepository creates a new SQLite athlete repository.
func NewSQLiteAthleteRepository(db *sql.DB) *SQLiteAthleteRepository {
	return &SQLiteAthleteRepository{db: db}
}

func (r *SQLiteAthleteRepository) Create(ctx context.Context, athlete *models.Athlete) error {
	query := `
		INSERT INTO athletes (id, name, normalized_name, gender, birth_date, country,
			external_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		athlete.ID,
		athlete.Name,
		athlete.NormalizedName,
		nullString(athlete.Gender),
		nullString(athlete.BirthDate),
		nullString(athlete.Country),
		nullString(athlete.ExternalUserID),
		athlete.CreatedAt.Format(time.RFC3339),
		athlete.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create athlete: %w", err)
	}
	return nil
}

func (r *SQLiteAthleteRepository) GetByID(ctx context.Context, id string) (*models.Athlete, error) {
	query := `
		SELECT id, name, normalized_name, gender, birth_date, country,
			external_user_id, created_at, updated_at
		FROM athletes WHERE id = ?
	`
	return r.scanAthlete(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteAthleteRepository) SearchByNormalizedName(ctx context.Context, query string, limit int) ([]*models.Athlete, error) {
	sqlQuery := `
		SELECT id, name, normalized_name, gender, birth_date, country,
			external_user_id, created_at, updated_at
		FROM athletes WHERE normalized_name LIKE '%' || ? || '%'
		ORDER BY normalized_name ASC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, sqlQuery, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search athletes: %w", err)
	}
	defer rows.Close()

	var athletes []*models.Athlete
	for rows.Next() {
		athlete, err := r.scanAthleteFromRows(rows)
		if err != nil {
			return nil, err
		}
		athletes = append(athletes, athlete)
	}
	return athletes, rows.Err()
}

// Delete removes an athlete. Race results keep their rows; the foreign key
// nulls athlete_id so history survives account deletion.
func (r *SQLiteAthleteRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM athletes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete athlete: %w", err)
	}
	return nil
}

func (r *SQLiteAthleteRepository) scanAthlete(row *sql.Row) (*models.Athlete, error) {
	var athlete models.Athlete
	var gender, birthDate, country, externalUserID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&athlete.ID, &athlete.Name, &athlete.NormalizedName,
		&gender, &birthDate, &country, &externalUserID, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan athlete: %w", err)
	}

	athlete.Gender = gender.String
	athlete.BirthDate = birthDate.String
	athlete.Country = country.String
	athlete.ExternalUserID = externalUserID.String
	athlete.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	athlete.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &athlete, nil
}

func (r *SQLiteAthleteRepository) scanAthleteFromRows(rows *sql.Rows) (*models.Athlete, error) {
	var athlete models.Athlete
	var gender, birthDate, country, externalUserID sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&athlete.ID, &athlete.Name, &athlete.NormalizedName,
		&gender, &birthDate, &country, &externalUserID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan athlete: %w", err)
	}

	athlete.Gender = gender.String
	athlete.BirthDate = birthDate.String
	athlete.Country = country.String
	athlete.ExternalUserID = externalUserID.String
	athlete.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	athlete.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &athlete, nil
}

func (r *SQLiteAthleteRepository) CreateFollow(ctx context.Context, follow *models.AthleteFollow) error {
	if follow.FollowerID == follow.FollowingID {
		return fmt.Errorf("athlete %s cannot follow themselves", follow.FollowerID)
	}

	query := `
		INSERT INTO athlete_follows (id, follower_id, following_id, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		follow.ID, follow.FollowerID, follow.FollowingID,
		follow.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to create follow: %w", err)
	}
	return nil
}

func (r *SQLiteAthleteRepository) GetFollowing(ctx context.Context, followerID string) ([]*models.Athlete, error) {
	query := `
		SELECT a.id, a.name, a.normalized_name, a.gender, a.birth_date, a.country,
			a.external_user_id, a.created_at, a.updated_at
		FROM athletes a
		JOIN athlete_follows f ON f.following_id = a.id
		WHERE f.follower_id = ?
		ORDER BY f.created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query following: %w", err)
	}
	defer rows.Close()

	var athletes []*models.Athlete
	for rows.Next() {
		athlete, err := r.scanAthleteFromRows(rows)
		if err != nil {
			return nil, err
		}
		athletes = append(athletes, athlete)
	}
	return athletes, rows.Err()
}

func (r *SQLiteAthleteRepository) DeleteFollow(ctx context.Context, followerID, followingID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM athlete_follows WHERE follower_id = ? AND following_id = ?",
		followerID, followingID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	return nil
}
