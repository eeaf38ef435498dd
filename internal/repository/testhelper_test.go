package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/database/migrations"
	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/names"

	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// newTestEvent builds an event with sensible defaults.
func newTestEvent(url string) *models.Event {
	now := time.Now().UTC()
	return &models.Event{
		ID:        uuid.NewString(),
		URL:       url,
		Organiser: "hopasports",
		Name:      "City Marathon 2026",
		Date:      "2026-05-10",
		Location:  "Dublin",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newTestResult builds a race result for the given event.
func newTestResult(eventID, name string, position int) *models.RaceResult {
	pos := position
	return &models.RaceResult{
		ID:             uuid.NewString(),
		EventID:        eventID,
		Position:       &pos,
		Name:           name,
		NormalizedName: names.Normalize(name),
		FinishTime:     "03:14:15",
		Status:         models.ResultStatusFinished,
		CreatedAt:      time.Now().UTC(),
	}
}

// newTestAthlete builds an athlete record.
func newTestAthlete(name string) *models.Athlete {
	now := time.Now().UTC()
	return &models.Athlete{
		ID:             uuid.NewString(),
		Name:           name,
		NormalizedName: names.Normalize(name),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// newTestJob builds a scrape job for the given URL.
func newTestJob(eventURL string, status models.JobStatus) *models.ScrapeJob {
	now := time.Now().UTC()
	return &models.ScrapeJob{
		ID:         uuid.NewString(),
		Organiser:  "hopasports",
		EventURL:   eventURL,
		Status:     status,
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// newTestEndpoint builds an enabled monitored endpoint.
func newTestEndpoint(url string) *models.MonitoredEndpoint {
	now := time.Now().UTC()
	return &models.MonitoredEndpoint{
		ID:                   uuid.NewString(),
		Organiser:            "evochip",
		Name:                 "EvoChip results",
		URL:                  url,
		Enabled:              true,
		CheckIntervalMinutes: 15,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
