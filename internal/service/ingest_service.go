package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/checkpoint"
	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/fetcher"
	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/names"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
)

const (
	// resultBatchSize caps how many results one INSERT transaction carries.
	resultBatchSize = 500
	// maxErrorLength caps the stored job error message.
	maxErrorLength = 100
	// defaultMaxRetries is the retry budget for new jobs.
	defaultMaxRetries = 3
)

// retryBackoff is the wait before retry attempt n+1, indexed by the number
// of retries already spent.
var retryBackoff = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}

// IngestService coordinates a scrape: select a scraper, run it, persist the
// results and drive the job lifecycle including the retry policy.
type IngestService struct {
	cfg      *config.Config
	repos    *repository.Repositories
	registry *scraper.Registry
	notify   *NotifyService
	logger   *slog.Logger

	// drainDelay is the pause between jobs in one drain pass.
	drainDelay time.Duration
}

// NewIngestService creates a new ingest service.
func NewIngestService(cfg *config.Config, repos *repository.Repositories, registry *scraper.Registry, notify *NotifyService, logger *slog.Logger) *IngestService {
	return &IngestService{
		cfg:        cfg,
		repos:      repos,
		registry:   registry,
		notify:     notify,
		logger:     logger,
		drainDelay: 2 * time.Second,
	}
}

// Enqueue creates a pending scrape job for an event URL. The organiser is a
// scraper-name hint and may be empty.
func (s *IngestService) Enqueue(ctx context.Context, eventURL, organiser string) (*models.ScrapeJob, error) {
	if eventURL == "" {
		return nil, fmt.Errorf("event url is required")
	}
	if _, err := s.registry.Select(eventURL, organiser); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.ScrapeJob{
		ID:         uuid.New().String(),
		Organiser:  organiser,
		EventURL:   eventURL,
		Status:     models.JobStatusPending,
		MaxRetries: defaultMaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repos.ScrapeJob.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("job enqueued", "job_id", job.ShortID(), "url", eventURL, "organiser", organiser)
	return job, nil
}

// DrainPending claims and runs pending jobs until none are left. Jobs run
// sequentially with a pause in between to stay polite to providers.
func (s *IngestService) DrainPending(ctx context.Context) (int, error) {
	ran := 0
	for {
		job, err := s.repos.ScrapeJob.ClaimPending(ctx)
		if err != nil {
			return ran, err
		}
		if job == nil {
			return ran, nil
		}
		if ran > 0 {
			select {
			case <-time.After(s.drainDelay):
			case <-ctx.Done():
				return ran, ctx.Err()
			}
		}
		s.RunJob(ctx, job)
		ran++
	}
}

// RunJob executes one claimed job end to end. The job must already be in
// running state; RunJob finalises it as completed or failed.
func (s *IngestService) RunJob(ctx context.Context, job *models.ScrapeJob) {
	log := s.logger.With("job_id", job.ShortID(), "url", job.EventURL)
	log.Info("job started", "attempt", job.RetryCount+1)

	sel, err := s.registry.Select(job.EventURL, job.Organiser)
	if err != nil {
		s.failJob(ctx, job, err)
		return
	}

	// Progress flows through an observer so the scraper never blocks on a
	// slow log sink; intermediate updates may be dropped under load.
	obs := scraper.NewObserver(16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range obs.Updates() {
			log.Debug("scrape progress",
				"stage", p.Stage, "page", p.CurrentPage, "results", p.ResultsScraped)
		}
	}()

	scraped, err := sel.ScrapeEvent(ctx, job.EventURL, scraper.Options{}, obs.Publish)
	obs.Close()
	<-drained
	if err != nil {
		s.failJob(ctx, job, err)
		return
	}

	inserted, err := s.persist(ctx, sel.Name(), job, scraped)
	if err != nil {
		s.failJob(ctx, job, err)
		return
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.ResultsCount = inserted
	job.ErrorMessage = ""
	job.NextRetryAt = nil
	job.CompletedAt = &now
	job.UpdatedAt = now
	job.NotificationSent = s.notify.Enabled()
	if err := s.repos.ScrapeJob.Update(ctx, job); err != nil {
		log.Error("failed to finalise job", "error", err)
		return
	}

	if job.RetryCount > 0 {
		s.notify.JobRetrySucceeded(job)
	} else {
		s.notify.JobCompleted(job)
	}
	log.Info("job completed", "results", inserted, "total_scraped", len(scraped.Results))
}

// failJob applies the retry policy to a failed attempt and persists the
// outcome. Cancelled jobs fail without a retry; non-retryable errors and
// exhausted budgets fail permanently.
func (s *IngestService) failJob(ctx context.Context, job *models.ScrapeJob, cause error) {
	job.Status = models.JobStatusFailed
	job.ErrorMessage = truncateError(cause)
	job.NextRetryAt = nil
	job.UpdatedAt = time.Now().UTC()

	cancelled := errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	retryable := !cancelled && retryableError(cause) && job.RetryCount < job.MaxRetries

	if cancelled {
		job.ErrorMessage = "cancelled"
	}
	if retryable {
		next := time.Now().UTC().Add(backoffFor(job.RetryCount))
		job.NextRetryAt = &next
	}

	// A webhook fires on the first failed attempt and on permanent failure;
	// intermediate retries stay quiet.
	willNotify := !cancelled && (job.NextRetryAt == nil || job.RetryCount == 0)
	job.NotificationSent = s.notify.Enabled() && willNotify

	// Finalising must survive the cancellation that failed the job.
	updateCtx := ctx
	if cancelled {
		updateCtx = context.WithoutCancel(ctx)
	}
	if err := s.repos.ScrapeJob.Update(updateCtx, job); err != nil {
		s.logger.Error("failed to persist job failure", "job_id", job.ShortID(), "error", err)
		return
	}

	switch {
	case cancelled:
		s.logger.Warn("job cancelled", "job_id", job.ShortID(), "error", job.ErrorMessage)
	case job.NextRetryAt != nil:
		if job.RetryCount == 0 {
			s.notify.JobFailed(job)
		}
		s.logger.Warn("job failed, retry scheduled",
			"job_id", job.ShortID(), "error", job.ErrorMessage,
			"retry_count", job.RetryCount, "next_retry_at", job.NextRetryAt)
	default:
		s.notify.JobPermanentlyFailed(job)
		s.logger.Error("job permanently failed",
			"job_id", job.ShortID(), "error", job.ErrorMessage, "attempts", job.RetryCount+1)
	}
}

// backoffFor returns the wait before the next attempt given the retries
// already spent.
func backoffFor(retryCount int) time.Duration {
	if retryCount >= len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[retryCount]
}

// retryableError classifies a scrape failure. Client errors other than
// rate limits and timeouts are permanent, as is an unmatchable URL.
func retryableError(err error) bool {
	var statusErr *fetcher.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var transportErr *fetcher.TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	if errors.Is(err, scraper.ErrNoScraper) {
		return false
	}
	return true
}

// truncateError renders an error for the job record.
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}

// persist writes a scraped payload under the job's event, reusing the event
// row when the URL was scraped before. Returns the number of newly inserted
// results; re-scraped rows only gain a new provenance source.
func (s *IngestService) persist(ctx context.Context, organiser string, job *models.ScrapeJob, scraped *scraper.ScrapedResults) (int, error) {
	now := time.Now().UTC()

	event, err := s.repos.Event.GetByURL(ctx, job.EventURL)
	if err != nil {
		return 0, fmt.Errorf("failed to look up event: %w", err)
	}
	if event == nil {
		event = &models.Event{
			ID:        uuid.New().String(),
			URL:       job.EventURL,
			Organiser: organiser,
			Name:      scraped.Event.Name,
			Date:      scraped.Event.Date,
			Location:  scraped.Event.Location,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repos.Event.Create(ctx, event); err != nil {
			return 0, fmt.Errorf("failed to create event: %w", err)
		}
	}

	distanceIDs, err := s.ensureDistances(ctx, event.ID, scraped.Event.Distances)
	if err != nil {
		return 0, err
	}

	rows := buildResults(event.ID, distanceIDs, scraped.Results, now)

	inserted := 0
	for start := 0; start < len(rows); start += resultBatchSize {
		end := min(start+resultBatchSize, len(rows))
		n, err := s.repos.Result.CreateBatch(ctx, rows[start:end])
		if err != nil {
			return inserted, fmt.Errorf("failed to insert results: %w", err)
		}
		inserted += n
	}

	if err := s.attachProvenance(ctx, organiser, job.EventURL, event.ID, scraped.Results, now); err != nil {
		return inserted, err
	}

	if err := s.repos.Event.SetScrapedAt(ctx, event.ID, now); err != nil {
		return inserted, fmt.Errorf("failed to stamp event: %w", err)
	}
	if err := s.updateParticipantCounts(ctx, event.ID, distanceIDs); err != nil {
		return inserted, err
	}

	return inserted, nil
}

// ensureDistances creates any distances missing on the event and returns
// the name -> distance id map.
func (s *IngestService) ensureDistances(ctx context.Context, eventID string, distances []scraper.ScrapedDistance) (map[string]string, error) {
	ids := make(map[string]string, len(distances))
	for _, d := range distances {
		existing, err := s.repos.Event.GetDistanceByName(ctx, eventID, d.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up distance %q: %w", d.Name, err)
		}
		if existing != nil {
			ids[d.Name] = existing.ID
			continue
		}

		distance := &models.EventDistance{
			ID:                  uuid.New().String(),
			EventID:             eventID,
			Name:                d.Name,
			DistanceMeters:      d.DistanceMeters,
			RaceType:            d.RaceType,
			ExpectedCheckpoints: checkpoint.ExpectedCheckpoints(d.RaceType, d.DistanceMeters),
			CreatedAt:           time.Now().UTC(),
		}
		if err := s.repos.Event.CreateDistance(ctx, distance); err != nil {
			return nil, fmt.Errorf("failed to create distance %q: %w", d.Name, err)
		}
		ids[d.Name] = distance.ID
	}
	return ids, nil
}

// buildResults converts scraped rows to result models. Nameless rows are
// dropped; the validator already reported them.
func buildResults(eventID string, distanceIDs map[string]string, scraped []scraper.ScrapedResult, now time.Time) []*models.RaceResult {
	rows := make([]*models.RaceResult, 0, len(scraped))
	for _, r := range scraped {
		if r.Name == "" {
			continue
		}
		row := &models.RaceResult{
			ID:               uuid.New().String(),
			EventID:          eventID,
			Position:         r.Position,
			Bib:              r.Bib,
			Name:             r.Name,
			NormalizedName:   names.Normalize(r.Name),
			Gender:           r.Gender,
			Category:         r.Category,
			FinishTime:       r.FinishTime,
			GunTime:          r.GunTime,
			ChipTime:         r.ChipTime,
			Pace:             r.Pace,
			GenderPosition:   r.GenderPosition,
			CategoryPosition: r.CategoryPosition,
			Country:          r.Country,
			Club:             r.Club,
			Age:              r.Age,
			Status:           r.Status,
			TimeBehind:       r.TimeBehind,
			CreatedAt:        now,
		}
		if id, ok := distanceIDs[r.Distance]; ok {
			row.EventDistanceID = &id
		}
		rows = append(rows, row)
	}
	return rows
}

// attachProvenance attaches checkpoints and a source record to every
// scraped row, resolving each row to its stored result. Rows that already
// existed gain an additional source rather than a duplicate result.
func (s *IngestService) attachProvenance(ctx context.Context, organiser, sourceURL, eventID string, scraped []scraper.ScrapedResult, now time.Time) error {
	stored, err := s.repos.Result.GetByEventID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load stored results: %w", err)
	}
	byIdentity := make(map[string]string, len(stored))
	for _, r := range stored {
		byIdentity[resultIdentity(r.Position, r.NormalizedName, r.Bib)] = r.ID
	}

	for _, r := range scraped {
		if r.Name == "" {
			continue
		}
		resultID, ok := byIdentity[resultIdentity(r.Position, names.Normalize(r.Name), r.Bib)]
		if !ok {
			continue
		}

		if len(r.Checkpoints) > 0 {
			cps := make([]*models.TimingCheckpoint, 0, len(r.Checkpoints))
			for _, cp := range r.Checkpoints {
				cps = append(cps, &models.TimingCheckpoint{
					ID:             uuid.New().String(),
					ResultID:       resultID,
					Type:           cp.Type,
					Name:           cp.Name,
					Order:          cp.Order,
					SplitTime:      cp.SplitTime,
					CumulativeTime: cp.CumulativeTime,
					CreatedAt:      now,
				})
			}
			if err := s.repos.Result.CreateCheckpoints(ctx, cps); err != nil {
				return fmt.Errorf("failed to insert checkpoints: %w", err)
			}
		}

		source := &models.ResultSource{
			ID:             uuid.New().String(),
			ResultID:       resultID,
			Organiser:      organiser,
			SourceURL:      sourceURL,
			ScrapedAt:      now,
			FieldsProvided: r.FieldsProvided,
			Confidence:     100,
			CreatedAt:      now,
		}
		if err := s.repos.Result.CreateSource(ctx, source); err != nil {
			return fmt.Errorf("failed to insert result source: %w", err)
		}
	}
	return nil
}

// resultIdentity mirrors the results unique index: position (absent as -1),
// normalised name and bib.
func resultIdentity(position *int, normalizedName, bib string) string {
	pos := -1
	if position != nil {
		pos = *position
	}
	return fmt.Sprintf("%d|%s|%s", pos, normalizedName, bib)
}

// updateParticipantCounts refreshes each distance's participant count from
// the stored results.
func (s *IngestService) updateParticipantCounts(ctx context.Context, eventID string, distanceIDs map[string]string) error {
	if len(distanceIDs) == 0 {
		return nil
	}
	stored, err := s.repos.Result.GetByEventID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to count participants: %w", err)
	}
	counts := make(map[string]int)
	for _, r := range stored {
		if r.EventDistanceID != nil {
			counts[*r.EventDistanceID]++
		}
	}
	for _, id := range distanceIDs {
		if err := s.repos.Event.SetParticipantCount(ctx, id, counts[id]); err != nil {
			return fmt.Errorf("failed to update participant count: %w", err)
		}
	}
	return nil
}
