package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/racewire/racewire-api/internal/fetcher"
	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/scraper"
)

func intp(v int) *int { return &v }

func sampleResults() *scraper.ScrapedResults {
	return &scraper.ScrapedResults{
		Event: scraper.ScrapedEvent{
			Name: "Spring Classic 2026",
			Date: "2026-04-12",
			Distances: []scraper.ScrapedDistance{
				{Name: "10K", DistanceMeters: 10000, RaceType: models.RaceTypeRunning},
			},
		},
		Results: []scraper.ScrapedResult{
			{
				Position: intp(1), Bib: "11", Name: "Jane Doe", FinishTime: "42:10",
				Status: models.ResultStatusFinished, Distance: "10K",
				FieldsProvided: []string{"position", "bib", "name", "finish_time"},
				Checkpoints: []scraper.ScrapedCheckpoint{
					{Name: "5km", Type: models.CheckpointTypeDistance, Order: 1, CumulativeTime: "21:00"},
				},
			},
			{
				Position: intp(2), Bib: "12", Name: "José García", FinishTime: "44:05",
				Status: models.ResultStatusFinished, Distance: "10K",
				FieldsProvided: []string{"position", "bib", "name", "finish_time"},
			},
			{
				// Nameless rows are validation errors and never persisted.
				Position: intp(3), Bib: "13", FinishTime: "45:00",
				Status: models.ResultStatusFinished, Distance: "10K",
			},
		},
		Metadata: scraper.ScrapeMetadata{TotalResults: 3},
	}
}

func TestEnqueueCreatesPendingJob(t *testing.T) {
	svcs, repos := setupTestServices(t, fakeRegistry(&fakeScraper{name: "fake"}))
	ctx := t.Context()

	job, err := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != models.JobStatusPending || job.MaxRetries != 3 {
		t.Errorf("job = %+v", job)
	}

	stored, err := repos.ScrapeJob.GetByID(ctx, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestEnqueueRejectsUnmatchedURL(t *testing.T) {
	svcs, _ := setupTestServices(t, scraper.NewRegistry())

	if _, err := svcs.Ingest.Enqueue(t.Context(), "https://unknown.example.com", ""); !errors.Is(err, scraper.ErrNoScraper) {
		t.Errorf("expected ErrNoScraper, got %v", err)
	}
}

func TestDrainPendingRunsJobToCompletion(t *testing.T) {
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, err := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ran, err := svcs.Ingest.DrainPending(ctx)
	if err != nil || ran != 1 {
		t.Fatalf("DrainPending: ran=%d err=%v", ran, err)
	}

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if job.ResultsCount != 2 {
		t.Errorf("results_count = %d, want 2 (nameless row dropped)", job.ResultsCount)
	}
	if job.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	event, err := repos.Event.GetByURL(ctx, "https://results.example.com/e/1")
	if err != nil || event == nil {
		t.Fatalf("event not persisted: %v", err)
	}
	if event.Name != "Spring Classic 2026" || event.ScrapedAt == nil {
		t.Errorf("event = %+v", event)
	}

	distances, _ := repos.Event.GetDistances(ctx, event.ID)
	if len(distances) != 1 || distances[0].Name != "10K" {
		t.Fatalf("distances = %+v", distances)
	}
	if distances[0].ParticipantCount != 2 {
		t.Errorf("participant_count = %d, want 2", distances[0].ParticipantCount)
	}
	if len(distances[0].ExpectedCheckpoints) == 0 {
		t.Error("expected checkpoints not derived")
	}

	results, _ := repos.Result.GetByEventID(ctx, event.ID)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[1].NormalizedName != "jose garcia" {
		t.Errorf("normalized = %q", results[1].NormalizedName)
	}
	if results[0].EventDistanceID == nil || *results[0].EventDistanceID != distances[0].ID {
		t.Error("result not linked to distance")
	}

	cps, _ := repos.Result.GetCheckpoints(ctx, results[0].ID)
	if len(cps) != 1 || cps[0].Name != "5km" {
		t.Errorf("checkpoints = %+v", cps)
	}

	sources, _ := repos.Result.GetSources(ctx, results[0].ID)
	if len(sources) != 1 || !sources[0].IsPrimary || sources[0].Organiser != "fake" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestRescrapeDoesNotDuplicate(t *testing.T) {
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	for i := 0; i < 2; i++ {
		job, err := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, err := svcs.Ingest.DrainPending(ctx); err != nil {
			t.Fatalf("DrainPending: %v", err)
		}
		job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
		want := 2
		if i == 1 {
			want = 0 // everything already stored
		}
		if job.ResultsCount != want {
			t.Errorf("run %d: results_count = %d, want %d", i+1, job.ResultsCount, want)
		}
	}

	event, _ := repos.Event.GetByURL(ctx, "https://results.example.com/e/1")
	results, _ := repos.Result.GetByEventID(ctx, event.ID)
	if len(results) != 2 {
		t.Errorf("results = %d after re-scrape, want 2", len(results))
	}

	// The second pass still records provenance for the existing rows.
	sources, _ := repos.Result.GetSources(ctx, results[0].ID)
	if len(sources) != 2 {
		t.Errorf("sources = %d, want 2", len(sources))
	}
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	fake := &fakeScraper{name: "fake", err: &fetcher.TransportError{URL: "x", Err: errors.New("connection refused")}}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("status = %q", job.Status)
	}
	if job.NextRetryAt == nil {
		t.Fatal("next_retry_at not set for transient failure")
	}
	wait := time.Until(*job.NextRetryAt)
	if wait < 4*time.Minute || wait > 6*time.Minute {
		t.Errorf("first retry wait = %s, want about 5m", wait)
	}
	if job.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}

func TestClientErrorFailsPermanently(t *testing.T) {
	fake := &fakeScraper{name: "fake", err: &fetcher.StatusError{Code: 404, URL: "x"}}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusFailed || job.NextRetryAt != nil {
		t.Errorf("want permanent failure, got %+v", job)
	}
}

func TestRetryDrainRunsDueJobAndExhausts(t *testing.T) {
	fake := &fakeScraper{name: "fake", err: &fetcher.StatusError{Code: 503, URL: "x"}}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	// Walk the job through every retry by forcing each wait to be due.
	for attempt := 1; attempt <= 3; attempt++ {
		job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
		if job.NextRetryAt == nil {
			t.Fatalf("attempt %d: next_retry_at not set", attempt)
		}
		due := time.Now().UTC().Add(-time.Second)
		job.NextRetryAt = &due
		if err := repos.ScrapeJob.Update(ctx, job); err != nil {
			t.Fatalf("Update: %v", err)
		}

		ran, err := svcs.Retry.DrainDue(ctx)
		if err != nil || ran != 1 {
			t.Fatalf("attempt %d: DrainDue ran=%d err=%v", attempt, ran, err)
		}
	}

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusFailed || job.NextRetryAt != nil {
		t.Errorf("want permanent failure after exhaustion, got %+v", job)
	}
	if job.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", job.RetryCount)
	}
	if fake.calls != 4 {
		t.Errorf("scrape attempts = %d, want 4", fake.calls)
	}
}

func TestRetrySuccessAfterFailure(t *testing.T) {
	fake := &fakeScraper{name: "fake", err: &fetcher.StatusError{Code: 503, URL: "x"}}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	// Second attempt succeeds.
	fake.err = nil
	fake.results = sampleResults()

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	due := time.Now().UTC().Add(-time.Second)
	job.NextRetryAt = &due
	repos.ScrapeJob.Update(ctx, job)

	if ran, err := svcs.Retry.DrainDue(ctx); err != nil || ran != 1 {
		t.Fatalf("DrainDue: ran=%d err=%v", ran, err)
	}

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusCompleted || job.RetryCount != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.ErrorMessage != "" {
		t.Errorf("error message not cleared: %q", job.ErrorMessage)
	}
}

func TestBackoffSchedule(t *testing.T) {
	want := map[int]time.Duration{
		0: 5 * time.Minute,
		1: 15 * time.Minute,
		2: 45 * time.Minute,
		5: 45 * time.Minute,
	}
	for retries, wait := range want {
		if got := backoffFor(retries); got != wait {
			t.Errorf("backoffFor(%d) = %s, want %s", retries, got, wait)
		}
	}
}

func TestTruncateError(t *testing.T) {
	long := errors.New(string(make([]byte, 300)))
	if got := truncateError(long); len(got) != maxErrorLength {
		t.Errorf("len = %d, want %d", len(got), maxErrorLength)
	}
	short := errors.New("boom")
	if got := truncateError(short); got != "boom" {
		t.Errorf("got %q", got)
	}
}

func TestLifecycleStampsTimestamps(t *testing.T) {
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, err := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stored, _ := repos.ScrapeJob.GetByID(ctx, job.ID)
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatalf("new job timestamps = created %v updated %v", stored.CreatedAt, stored.UpdatedAt)
	}

	if _, err := svcs.Ingest.DrainPending(ctx); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}
	stored, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if stored.UpdatedAt.IsZero() || stored.UpdatedAt.Before(stored.CreatedAt) {
		t.Errorf("updated_at = %v, created_at = %v", stored.UpdatedAt, stored.CreatedAt)
	}

	event, _ := repos.Event.GetByURL(ctx, "https://results.example.com/e/1")
	if event.CreatedAt.IsZero() || event.UpdatedAt.IsZero() {
		t.Errorf("event timestamps = %v / %v", event.CreatedAt, event.UpdatedAt)
	}
	distances, _ := repos.Event.GetDistances(ctx, event.ID)
	if distances[0].CreatedAt.IsZero() {
		t.Error("distance created_at not stamped")
	}
	results, _ := repos.Result.GetByEventID(ctx, event.ID)
	if results[0].CreatedAt.IsZero() {
		t.Error("result created_at not stamped")
	}
	cps, _ := repos.Result.GetCheckpoints(ctx, results[0].ID)
	if cps[0].CreatedAt.IsZero() {
		t.Error("checkpoint created_at not stamped")
	}
	sources, _ := repos.Result.GetSources(ctx, results[0].ID)
	if sources[0].CreatedAt.IsZero() {
		t.Error("source created_at not stamped")
	}
}

func TestCompletionMarksNotificationSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	repos := setupTestRepos(t)
	cfg := testConfig()
	cfg.NotifierURL = srv.URL
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs := NewServices(cfg, repos, fakeRegistry(fake), testLogger())
	svcs.Ingest.drainDelay = time.Millisecond
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if !job.NotificationSent {
		t.Error("notification_sent not recorded for completed job")
	}
}

func TestNotificationSentStaysFalseWhenDisabled(t *testing.T) {
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.NotificationSent {
		t.Error("notification_sent recorded with no notifier configured")
	}
}

func TestFirstFailureMarksNotificationSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	repos := setupTestRepos(t)
	cfg := testConfig()
	cfg.NotifierURL = srv.URL
	fake := &fakeScraper{name: "fake", err: &fetcher.StatusError{Code: 503, URL: "x"}}
	svcs := NewServices(cfg, repos, fakeRegistry(fake), testLogger())
	svcs.Ingest.drainDelay = time.Millisecond
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if !job.NotificationSent {
		t.Error("notification_sent not recorded for first failure")
	}
}

func TestRunJobStreamsProgressToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	repos := setupTestRepos(t)
	fake := &fakeScraper{name: "fake", results: sampleResults()}
	svcs := NewServices(testConfig(), repos, fakeRegistry(fake), logger)
	svcs.Ingest.drainDelay = time.Millisecond
	ctx := t.Context()

	if _, err := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := svcs.Ingest.DrainPending(ctx); err != nil {
		t.Fatalf("DrainPending: %v", err)
	}

	logged := buf.String()
	if !strings.Contains(logged, "scrape progress") {
		t.Error("progress updates did not reach the log")
	}
	if !strings.Contains(logged, string(scraper.StageComplete)) {
		t.Errorf("terminal stage missing from log:\n%s", logged)
	}
}

func TestCancelledJobFailsWithoutRetry(t *testing.T) {
	fake := &fakeScraper{name: "fake", err: context.Canceled}
	svcs, repos := setupTestServices(t, fakeRegistry(fake))
	ctx := t.Context()

	job, _ := svcs.Ingest.Enqueue(ctx, "https://results.example.com/e/1", "fake")
	svcs.Ingest.DrainPending(ctx)

	job, _ = repos.ScrapeJob.GetByID(ctx, job.ID)
	if job.Status != models.JobStatusFailed || job.NextRetryAt != nil {
		t.Fatalf("want cancelled failure without retry, got %+v", job)
	}
	if job.ErrorMessage != "cancelled" {
		t.Errorf("error message = %q, want %q", job.ErrorMessage, "cancelled")
	}
	if job.NotificationSent {
		t.Error("cancelled job must not be announced")
	}
}

func TestRetryableErrorClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&fetcher.StatusError{Code: 500}, true},
		{&fetcher.StatusError{Code: 429}, true},
		{&fetcher.StatusError{Code: 404}, false},
		{&fetcher.TransportError{Err: errors.New("refused")}, true},
		{scraper.ErrNoScraper, false},
		{errors.New("parse failure"), true},
	}
	for _, tc := range cases {
		if got := retryableError(tc.err); got != tc.want {
			t.Errorf("retryableError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
