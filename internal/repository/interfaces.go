// Package repository defines repository interfaces for data access.
// All implementations are safe for concurrent use; not-found lookups
// return (nil, nil).
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// EventRepository defines methods for event and event-distance data access.
type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	GetByURL(ctx context.Context, url string) (*models.Event, error)
	List(ctx context.Context, limit, offset int) ([]*models.Event, error)
	SetScrapedAt(ctx context.Context, id string, scrapedAt time.Time) error
	UpdateMetadata(ctx context.Context, id string, metadataJSON string) error

	CreateDistance(ctx context.Context, distance *models.EventDistance) error
	GetDistances(ctx context.Context, eventID string) ([]*models.EventDistance, error)
	GetDistanceByName(ctx context.Context, eventID, name string) (*models.EventDistance, error)
	SetParticipantCount(ctx context.Context, distanceID string, count int) error
}

// EventLinkRepository defines methods for event source links.
// The pair is stored in sorted order so the undirected uniqueness holds.
type EventLinkRepository interface {
	Create(ctx context.Context, link *models.EventSourceLink) error
	GetByEventID(ctx context.Context, eventID string) ([]*models.EventSourceLink, error)
}

// ResultRepository defines methods for race results, their checkpoints
// and their provenance sources.
type ResultRepository interface {
	// CreateBatch inserts results, swallowing unique-constraint conflicts
	// so re-scrapes are idempotent. Returns the number of rows inserted.
	CreateBatch(ctx context.Context, results []*models.RaceResult) (int, error)
	GetByID(ctx context.Context, id string) (*models.RaceResult, error)
	GetByEventID(ctx context.Context, eventID string) ([]*models.RaceResult, error)
	CountByEventID(ctx context.Context, eventID string) (int, error)
	// GetUnlinked returns results with no athlete link, oldest first.
	GetUnlinked(ctx context.Context, limit int) ([]*models.RaceResult, error)
	// GetUnlinkedMatchingName returns unlinked results whose normalised
	// name contains, or is contained in, the given normalised name.
	GetUnlinkedMatchingName(ctx context.Context, normalizedName string, limit int) ([]*models.RaceResult, error)
	LinkAthlete(ctx context.Context, resultID, athleteID string) error
	// GetByAthleteID returns an athlete's results ordered by event date,
	// newest first, for per-athlete trend summaries.
	GetByAthleteID(ctx context.Context, athleteID string) ([]*models.RaceResult, error)

	CreateCheckpoints(ctx context.Context, checkpoints []*models.TimingCheckpoint) error
	GetCheckpoints(ctx context.Context, resultID string) ([]*models.TimingCheckpoint, error)

	// CreateSource inserts a provenance record, marking it primary when
	// the result has no primary source yet.
	CreateSource(ctx context.Context, source *models.ResultSource) error
	GetSources(ctx context.Context, resultID string) ([]*models.ResultSource, error)
}

// AthleteRepository defines methods for athlete and follow data access.
type AthleteRepository interface {
	Create(ctx context.Context, athlete *models.Athlete) error
	GetByID(ctx context.Context, id string) (*models.Athlete, error)
	// SearchByNormalizedName returns athletes whose normalised name
	// contains the query as a substring.
	SearchByNormalizedName(ctx context.Context, query string, limit int) ([]*models.Athlete, error)
	Delete(ctx context.Context, id string) error

	CreateFollow(ctx context.Context, follow *models.AthleteFollow) error
	GetFollowing(ctx context.Context, followerID string) ([]*models.Athlete, error)
	DeleteFollow(ctx context.Context, followerID, followingID string) error
}

// ScrapeJobRepository defines methods for scrape job data access.
type ScrapeJobRepository interface {
	Create(ctx context.Context, job *models.ScrapeJob) error
	GetByID(ctx context.Context, id string) (*models.ScrapeJob, error)
	Update(ctx context.Context, job *models.ScrapeJob) error
	List(ctx context.Context, limit, offset int) ([]*models.ScrapeJob, error)
	// ClaimPending atomically claims the oldest pending job.
	ClaimPending(ctx context.Context) (*models.ScrapeJob, error)
	// ClaimRetryable atomically claims the failed job with the earliest
	// next_retry_at that is due, flipping it to running and clearing
	// next_retry_at so two drainers never pick the same job.
	ClaimRetryable(ctx context.Context, now time.Time) (*models.ScrapeJob, error)
	// MarkStaleRunningFailed fails jobs left running longer than maxAge
	// (server restarts); returns the number of jobs marked.
	MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error)
}

// EndpointRepository defines methods for monitored endpoints and their
// status rows.
type EndpointRepository interface {
	Create(ctx context.Context, endpoint *models.MonitoredEndpoint) error
	GetByID(ctx context.Context, id string) (*models.MonitoredEndpoint, error)
	List(ctx context.Context) ([]*models.MonitoredEndpoint, error)
	// ListDue returns enabled endpoints whose last check is older than
	// their check interval (never-checked endpoints are always due).
	ListDue(ctx context.Context, now time.Time) ([]*models.MonitoredEndpoint, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error

	GetCurrent(ctx context.Context, endpointID string) (*models.EndpointStatusCurrent, error)
	UpsertCurrent(ctx context.Context, current *models.EndpointStatusCurrent) error
	AppendHistory(ctx context.Context, entry *models.EndpointStatusHistory) error
	GetHistory(ctx context.Context, endpointID string, limit int) ([]*models.EndpointStatusHistory, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	Event     EventRepository
	EventLink EventLinkRepository
	Result    ResultRepository
	Athlete   AthleteRepository
	ScrapeJob ScrapeJobRepository
	Endpoint  EndpointRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Event:     NewSQLiteEventRepository(db),
		EventLink: NewSQLiteEventLinkRepository(db),
		Result:    NewSQLiteResultRepository(db),
		Athlete:   NewSQLiteAthleteRepository(db),
		ScrapeJob: NewSQLiteScrapeJobRepository(db),
		Endpoint:  NewSQLiteEndpointRepository(db),
	}
}
