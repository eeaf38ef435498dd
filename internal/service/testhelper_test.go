package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/database/migrations"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"

	_ "github.com/tursodatabase/go-libsql"
)

// setupTestRepos creates repositories over an in-memory database.
func setupTestRepos(t *testing.T) *repository.Repositories {
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

	return repository.NewRepositories(db)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		UserAgent:      "racewire-test",
		FetchTimeout:   5 * time.Second,
		MonitorTimeout: 5 * time.Second,
	}
}

// setupTestServices wires services over fresh repositories and the given
// registry. Drain pauses are shortened so tests stay fast.
func setupTestServices(t *testing.T, registry *scraper.Registry) (*Services, *repository.Repositories) {
	t.Helper()

	repos := setupTestRepos(t)
	svcs := NewServices(testConfig(), repos, registry, testLogger())
	svcs.Ingest.drainDelay = time.Millisecond
	svcs.Retry.drainDelay = time.Millisecond
	return svcs, repos
}

// fakeScraper is a canned scraper for ingest tests.
type fakeScraper struct {
	name    string
	results *scraper.ScrapedResults
	err     error
	calls   int
}

func (f *fakeScraper) Name() string                       { return f.name }
func (f *fakeScraper) Match(url string) bool              { return true }
func (f *fakeScraper) Capabilities() scraper.Capabilities { return scraper.Capabilities{} }
func (f *fakeScraper) AnalyzeURL(ctx context.Context, url string) (*scraper.AnalyzeReport, error) {
	return &scraper.AnalyzeReport{Scraper: f.name, URL: url, Reachable: f.err == nil}, nil
}
func (f *fakeScraper) ScrapeEvent(ctx context.Context, url string, opts scraper.Options, progress scraper.ProgressFunc) (*scraper.ScrapedResults, error) {
	f.calls++
	if f.err != nil {
		if progress != nil {
			progress(scraper.Progress{Stage: scraper.StageError, Errors: []string{f.err.Error()}})
		}
		return nil, f.err
	}
	if progress != nil {
		progress(scraper.Progress{Stage: scraper.StageScraping, CurrentPage: 1})
		progress(scraper.Progress{Stage: scraper.StageComplete, ResultsScraped: len(f.results.Results)})
	}
	return f.results, nil
}
func (f *fakeScraper) ValidateResults(results *scraper.ScrapedResults) *scraper.ValidationReport {
	return scraper.Validate(results)
}

func fakeRegistry(s scraper.Scraper) *scraper.Registry {
	r := scraper.NewRegistry()
	r.Register(s)
	return r
}
