// Package models defines the domain models for the application.
// Entities mirror the relational schema: events own distances and results,
// results own checkpoints and sources, endpoints own status rows.
package models

import (
	"time"
)

// JobStatus represents the lifecycle status of a scrape job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ResultStatus represents an athlete's finish status.
type ResultStatus string

const (
	ResultStatusFinished ResultStatus = "finished"
	ResultStatusDNF      ResultStatus = "dnf"
	ResultStatusDNS      ResultStatus = "dns"
	ResultStatusDQ       ResultStatus = "dq"
)

// RaceType classifies an event distance.
type RaceType string

const (
	RaceTypeRunning   RaceType = "running"
	RaceTypeTriathlon RaceType = "triathlon"
	RaceTypeDuathlon  RaceType = "duathlon"
	RaceTypeUltra     RaceType = "ultra"
	RaceTypeRelay     RaceType = "relay"
)

// CheckpointType classifies a timing checkpoint.
type CheckpointType string

const (
	CheckpointTypeDistance   CheckpointType = "distance"
	CheckpointTypeTransition CheckpointType = "transition"
	CheckpointTypeDiscipline CheckpointType = "discipline"
)

// EndpointStatus is the canonical status token for a monitored endpoint.
type EndpointStatus string

const (
	EndpointStatusUnknown EndpointStatus = "unknown"
	EndpointStatusUp      EndpointStatus = "up"
	EndpointStatusDown    EndpointStatus = "down"
)

// EventLinkType classifies a relation between two events.
type EventLinkType string

const (
	EventLinkSameEvent EventLinkType = "same_event"
	EventLinkRelated   EventLinkType = "related"
	EventLinkSeries    EventLinkType = "series"
)

// Event represents a single race instance on a specific date.
// The URL is the identity: two scrapes of the same URL reuse one event.
// Immutable after creation except metadata and scraped_at.
type Event struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Organiser    string     `json:"organiser"`
	Name         string     `json:"name"`
	Date         string     `json:"date"` // YYYY-MM-DD calendar day
	Location     string     `json:"location,omitempty"`
	MetadataJSON string     `json:"metadata_json,omitempty"`
	ScrapedAt    *time.Time `json:"scraped_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EventDistance is a named distance within an event (5K, Half Marathon...).
// Unique by (event_id, name); lifecycle bound to its event.
type EventDistance struct {
	ID                  string    `json:"id"`
	EventID             string    `json:"event_id"`
	Name                string    `json:"name"`
	DistanceMeters      int       `json:"distance_meters"`
	RaceType            RaceType  `json:"race_type"`
	ExpectedCheckpoints []string  `json:"expected_checkpoints,omitempty"`
	ParticipantCount    int       `json:"participant_count"`
	CreatedAt           time.Time `json:"created_at"`
}

// RaceResult is one athlete's finish in one event.
// AthleteID is a weak reference: deleting an athlete nulls it, never the row.
type RaceResult struct {
	ID               string       `json:"id"`
	EventID          string       `json:"event_id"`
	EventDistanceID  *string      `json:"event_distance_id,omitempty"`
	Position         *int         `json:"position,omitempty"`
	Bib              string       `json:"bib,omitempty"`
	Name             string       `json:"name"`
	NormalizedName   string       `json:"normalized_name"`
	Gender           string       `json:"gender,omitempty"`
	Category         string       `json:"category,omitempty"`
	FinishTime       string       `json:"finish_time,omitempty"`
	GunTime          string       `json:"gun_time,omitempty"`
	ChipTime         string       `json:"chip_time,omitempty"`
	Pace             string       `json:"pace,omitempty"`
	GenderPosition   *int         `json:"gender_position,omitempty"`
	CategoryPosition *int         `json:"category_position,omitempty"`
	Country          string       `json:"country,omitempty"`
	Club             string       `json:"club,omitempty"`
	Age              *int         `json:"age,omitempty"`
	Status           ResultStatus `json:"status"`
	TimeBehind       string       `json:"time_behind,omitempty"`
	AthleteID        *string      `json:"athlete_id,omitempty"`
	ValidationJSON   string       `json:"validation_json,omitempty"`
	MetadataJSON     string       `json:"metadata_json,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// TimingCheckpoint is a timing point attached to a race result.
// Unique within a result by name; cumulative times are non-decreasing
// in checkpoint order.
type TimingCheckpoint struct {
	ID              string         `json:"id"`
	ResultID        string         `json:"result_id"`
	Type            CheckpointType `json:"type"`
	Name            string         `json:"name"`  // normalised, e.g. "5km", "T1", "swim"
	Order           int            `json:"order"` // 1-based
	SplitTime       string         `json:"split_time,omitempty"`
	CumulativeTime  string         `json:"cumulative_time,omitempty"`
	Pace            string         `json:"pace,omitempty"`
	SegmentDistance *int           `json:"segment_distance_meters,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ResultSource is a provenance record for a race result: which organiser
// and URL contributed which fields. Exactly one source per result may be
// primary at a time.
type ResultSource struct {
	ID             string    `json:"id"`
	ResultID       string    `json:"result_id"`
	Organiser      string    `json:"organiser"`
	SourceURL      string    `json:"source_url"`
	ScrapedAt      time.Time `json:"scraped_at"`
	FieldsProvided []string  `json:"fields_provided"`
	Confidence     int       `json:"confidence"` // 0-100
	IsPrimary      bool      `json:"is_primary"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventSourceLink asserts two events represent the same real-world event.
// The pair is undirected and unique; self-links are rejected.
type EventSourceLink struct {
	ID         string        `json:"id"`
	EventAID   string        `json:"event_a_id"`
	EventBID   string        `json:"event_b_id"`
	LinkType   EventLinkType `json:"link_type"`
	Confidence int           `json:"confidence"` // 0-100
	CreatedAt  time.Time     `json:"created_at"`
}

// Athlete is an identity record that race results link to.
type Athlete struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Gender         string    `json:"gender,omitempty"`
	BirthDate      string    `json:"birth_date,omitempty"` // YYYY-MM-DD
	Country        string    `json:"country,omitempty"`
	ExternalUserID string    `json:"external_user_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AthleteFollow is a directed follower -> following relation.
type AthleteFollow struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScrapeJob tracks one ingestion attempt for an event URL.
// A failed job with a non-nil NextRetryAt is queued for retry; a failed
// job with nil NextRetryAt is permanently failed.
type ScrapeJob struct {
	ID               string     `json:"id"`
	Organiser        string     `json:"organiser,omitempty"`
	EventURL         string     `json:"event_url"`
	Status           JobStatus  `json:"status"`
	ResultsCount     int        `json:"results_count"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	NotificationSent bool       `json:"notification_sent"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ShortID returns the first 8 characters of the job id, used in
// notification payloads.
func (j *ScrapeJob) ShortID() string {
	if len(j.ID) < 8 {
		return j.ID
	}
	return j.ID[:8]
}

// MonitoredEndpoint is a provider URL whose liveness is periodically probed.
type MonitoredEndpoint struct {
	ID                   string    `json:"id"`
	Organiser            string    `json:"organiser"`
	Name                 string    `json:"name"`
	URL                  string    `json:"url"`
	Enabled              bool      `json:"enabled"`
	CheckIntervalMinutes int       `json:"check_interval_minutes"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// EndpointStatusCurrent is the latest known status of a monitored endpoint.
type EndpointStatusCurrent struct {
	EndpointID          string         `json:"endpoint_id"`
	Status              EndpointStatus `json:"status"`
	HTTPCode            *int           `json:"http_code,omitempty"`
	ResponseTimeMs      *int           `json:"response_time_ms,omitempty"`
	HasResults          bool           `json:"has_results"`
	LastChecked         time.Time      `json:"last_checked"`
	LastStatusChange    *time.Time     `json:"last_status_change,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// EndpointStatusHistory is one row of the append-only probe log.
// IDs are ULIDs so the log is time-ordered by primary key.
type EndpointStatusHistory struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id"`
	Status         EndpointStatus `json:"status"`
	HTTPCode       *int           `json:"http_code,omitempty"`
	ResponseTimeMs *int           `json:"response_time_ms,omitempty"`
	HasResults     bool           `json:"has_results"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}
