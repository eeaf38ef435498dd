package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/racewire/racewire-api/internal/repository"
)

// RetryService drains the retry queue: failed jobs whose next_retry_at has
// passed are claimed one at a time and re-run.
type RetryService struct {
	repos  *repository.Repositories
	ingest *IngestService
	logger *slog.Logger

	// drainDelay is the pause between jobs in one drain pass.
	drainDelay time.Duration
}

// NewRetryService creates a new retry service.
func NewRetryService(repos *repository.Repositories, ingest *IngestService, logger *slog.Logger) *RetryService {
	return &RetryService{
		repos:      repos,
		ingest:     ingest,
		logger:     logger,
		drainDelay: 2 * time.Second,
	}
}

// DrainDue claims and re-runs every job whose retry is due, sequentially.
// Claiming flips the job to running and clears next_retry_at, so concurrent
// drainers never pick the same job. Returns the number of jobs re-run.
func (s *RetryService) DrainDue(ctx context.Context) (int, error) {
	ran := 0
	for {
		job, err := s.repos.ScrapeJob.ClaimRetryable(ctx, time.Now().UTC())
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

		job.RetryCount++
		job.UpdatedAt = time.Now().UTC()
		if err := s.repos.ScrapeJob.Update(ctx, job); err != nil {
			s.logger.Error("failed to bump retry count", "job_id", job.ShortID(), "error", err)
			return ran, err
		}

		s.logger.Info("retrying job",
			"job_id", job.ShortID(), "url", job.EventURL,
			"attempt", job.RetryCount+1, "max_retries", job.MaxRetries)
		s.ingest.RunJob(ctx, job)
		ran++
	}
}
