// Package scraper defines the organiser scraper contract and the concrete
// scrapers for each supported results provider.
package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/racewire/racewire-api/internal/models"
)

// ErrNoScraper is returned when no registered scraper matches a URL.
var ErrNoScraper = errors.New("no scraper matches url")

// Stage identifies a phase of a scrape for progress reporting.
type Stage string

const (
	StageInitializing   Stage = "initializing"
	StageConnecting     Stage = "connecting"
	StageDetectingPages Stage = "detecting_pages"
	StageScraping       Stage = "scraping"
	StageValidating     Stage = "validating"
	StageSaving         Stage = "saving"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Terminal reports whether a stage ends the scrape.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Progress is one progress token pushed during a scrape.
type Progress struct {
	Stage           Stage    `json:"stage"`
	Message         string   `json:"message,omitempty"`
	ResultsScraped  int      `json:"results_scraped"`
	TotalPages      int      `json:"total_pages"`
	CurrentPage     int      `json:"current_page"`
	PercentComplete float64  `json:"percent_complete"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// ProgressFunc receives progress tokens. Scrapers call it synchronously;
// implementations must not block.
type ProgressFunc func(Progress)

// report invokes a progress callback when one is set.
func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

// Capabilities describes what a scraper can do.
type Capabilities struct {
	SupportsHeadless      bool
	SupportsPagination    bool
	SupportsMultiDistance bool
	SupportsCheckpoints   bool
	// ExpectedCheckpoints maps race type to the checkpoint names the
	// provider usually publishes.
	ExpectedCheckpoints map[models.RaceType][]string
}

// Options tunes a single scrape.
type Options struct {
	// ForceHeadless renders every page through the browser, skipping the
	// static fetch.
	ForceHeadless bool
	// MaxPages caps pagination; zero means no cap.
	MaxPages int
}

// ScrapedDistance is a distance discovered on an event page.
type ScrapedDistance struct {
	Name           string          `json:"name"`
	DistanceMeters int             `json:"distance_meters"`
	RaceType       models.RaceType `json:"race_type"`
}

// ScrapedEvent is event metadata extracted from the page.
type ScrapedEvent struct {
	Name      string            `json:"name"`
	Date      string            `json:"date,omitempty"` // YYYY-MM-DD when known
	Location  string            `json:"location,omitempty"`
	Distances []ScrapedDistance `json:"distances"`
}

// ScrapedCheckpoint is one timing point on a scraped result.
type ScrapedCheckpoint struct {
	Name           string                `json:"name"`
	Type           models.CheckpointType `json:"type"`
	Order          int                   `json:"order"`
	SplitTime      string                `json:"split_time,omitempty"`
	CumulativeTime string                `json:"cumulative_time,omitempty"`
}

// ScrapedResult is one athlete row as the provider published it. Pointer
// fields distinguish absent from zero; FieldsProvided records which logical
// fields the source actually populated.
type ScrapedResult struct {
	Position         *int                `json:"position,omitempty"`
	Bib              string              `json:"bib,omitempty"`
	Name             string              `json:"name"`
	Gender           string              `json:"gender,omitempty"`
	Category         string              `json:"category,omitempty"`
	FinishTime       string              `json:"finish_time,omitempty"`
	GunTime          string              `json:"gun_time,omitempty"`
	ChipTime         string              `json:"chip_time,omitempty"`
	Pace             string              `json:"pace,omitempty"`
	GenderPosition   *int                `json:"gender_position,omitempty"`
	CategoryPosition *int                `json:"category_position,omitempty"`
	Country          string              `json:"country,omitempty"`
	Club             string              `json:"club,omitempty"`
	Age              *int                `json:"age,omitempty"`
	Status           models.ResultStatus `json:"status"`
	TimeBehind       string              `json:"time_behind,omitempty"`
	// Distance names the event distance this row belongs to.
	Distance       string              `json:"distance,omitempty"`
	Checkpoints    []ScrapedCheckpoint `json:"checkpoints,omitempty"`
	FieldsProvided []string            `json:"fields_provided,omitempty"`
}

// ScrapeMetadata summarises one scrape run.
type ScrapeMetadata struct {
	StartedAt           time.Time `json:"started_at"`
	CompletedAt         time.Time `json:"completed_at"`
	TotalPages          int       `json:"total_pages"`
	TotalResults        int       `json:"total_results"`
	UsedHeadlessBrowser bool      `json:"used_headless_browser"`
	Errors              []string  `json:"errors,omitempty"`
	Warnings            []string  `json:"warnings,omitempty"`
}

// ScrapedResults is the full envelope a scraper returns.
type ScrapedResults struct {
	Event    ScrapedEvent    `json:"event"`
	Results  []ScrapedResult `json:"results"`
	Metadata ScrapeMetadata  `json:"metadata"`
}

// AnalyzeReport is a cheap pre-scrape probe of a URL.
type AnalyzeReport struct {
	Scraper          string   `json:"scraper"`
	URL              string   `json:"url"`
	Reachable        bool     `json:"reachable"`
	RaceCount        int      `json:"race_count"`
	RaceTitles       []string `json:"race_titles,omitempty"`
	EstimatedResults int      `json:"estimated_results,omitempty"`
}

// Scraper is the contract every organiser scraper implements.
type Scraper interface {
	// Name is the stable organiser identifier (used as hint and stored on
	// events and jobs).
	Name() string
	// Match reports whether this scraper handles the URL.
	Match(url string) bool
	Capabilities() Capabilities
	// AnalyzeURL probes the URL without scraping results.
	AnalyzeURL(ctx context.Context, url string) (*AnalyzeReport, error)
	// ScrapeEvent scrapes the full event. Progress may be nil.
	ScrapeEvent(ctx context.Context, url string, opts Options, progress ProgressFunc) (*ScrapedResults, error)
	// ValidateResults checks a scraped payload for quality problems.
	ValidateResults(results *ScrapedResults) *ValidationReport
}

// AthleteProfileScraper is implemented by scrapers whose provider publishes
// per-athlete history pages.
type AthleteProfileScraper interface {
	Scraper
	ScrapeAthleteProfile(ctx context.Context, url string) (*AthleteProfile, error)
}

// AthleteProfile is a provider athlete page: identity plus race history.
type AthleteProfile struct {
	Name    string           `json:"name"`
	Country string           `json:"country,omitempty"`
	Club    string           `json:"club,omitempty"`
	History []AthleteHistory `json:"history,omitempty"`
}

// AthleteHistory is one past race on an athlete profile.
type AthleteHistory struct {
	EventName  string `json:"event_name"`
	Date       string `json:"date,omitempty"`
	Distance   string `json:"distance,omitempty"`
	FinishTime string `json:"finish_time,omitempty"`
	Position   *int   `json:"position,omitempty"`
}
