package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
	"github.com/racewire/racewire-api/internal/service"
)

// JobHandler handles scrape job endpoints.
type JobHandler struct {
	ingestSvc *service.IngestService
	retrySvc  *service.RetryService
	jobs      repository.ScrapeJobRepository
}

// NewJobHandler creates a new job handler.
func NewJobHandler(ingestSvc *service.IngestService, retrySvc *service.RetryService, jobs repository.ScrapeJobRepository) *JobHandler {
	return &JobHandler{
		ingestSvc: ingestSvc,
		retrySvc:  retrySvc,
		jobs:      jobs,
	}
}

// CreateScrapeJobInput represents a scrape request for one event URL.
type CreateScrapeJobInput struct {
	Body struct {
		URL       string `json:"url" minLength:"1" format:"uri" example:"https://hopasports.com/en/event/city-marathon/results" doc:"Event results page to scrape"`
		Organiser string `json:"organiser,omitempty" example:"hopasports" doc:"Scraper name hint; resolved from the URL when empty"`
	}
}

// CreateScrapeJobOutput represents scrape job creation response.
type CreateScrapeJobOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		Job *models.ScrapeJob `json:"job"`
	}
}

// CreateScrapeJob enqueues a scrape job. The background worker picks it up
// on its next drain pass.
func (h *JobHandler) CreateScrapeJob(ctx context.Context, input *CreateScrapeJobInput) (*CreateScrapeJobOutput, error) {
	job, err := h.ingestSvc.Enqueue(ctx, input.Body.URL, input.Body.Organiser)
	if err != nil {
		if errors.Is(err, scraper.ErrNoScraper) {
			return nil, huma.Error422UnprocessableEntity("no scraper supports this URL: " + input.Body.URL)
		}
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &CreateScrapeJobOutput{Status: http.StatusCreated}
	out.Body.Job = job
	return out, nil
}

// ListJobsInput represents job listing parameters.
type ListJobsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Maximum jobs to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Number of jobs to skip"`
}

// ListJobsOutput represents job listing response.
type ListJobsOutput struct {
	Body struct {
		Jobs  []*models.ScrapeJob `json:"jobs"`
		Count int                 `json:"count"`
	}
}

// ListJobs returns scrape jobs, newest first.
func (h *JobHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.jobs.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs: " + err.Error())
	}

	out := &ListJobsOutput{}
	out.Body.Jobs = jobs
	out.Body.Count = len(jobs)
	return out, nil
}

// GetJobInput represents a job lookup.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID"`
}

// GetJobOutput represents a single job response.
type GetJobOutput struct {
	Body struct {
		Job *models.ScrapeJob `json:"job"`
	}
}

// GetJob returns one scrape job by ID.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	job, err := h.jobs.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job: " + err.Error())
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found")
	}

	out := &GetJobOutput{}
	out.Body.Job = job
	return out, nil
}

// DrainOutput reports how many jobs a manually triggered drain ran.
type DrainOutput struct {
	Body struct {
		Ran int `json:"ran"`
	}
}

// DrainPending runs the pending-job drain immediately instead of waiting
// for the worker tick. Admin trigger.
func (h *JobHandler) DrainPending(ctx context.Context, input *struct{}) (*DrainOutput, error) {
	ran, err := h.ingestSvc.DrainPending(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("drain failed: " + err.Error())
	}

	out := &DrainOutput{}
	out.Body.Ran = ran
	return out, nil
}

// DrainRetries runs the retry-queue drain immediately. Admin trigger.
func (h *JobHandler) DrainRetries(ctx context.Context, input *struct{}) (*DrainOutput, error) {
	ran, err := h.retrySvc.DrainDue(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("retry drain failed: " + err.Error())
	}

	out := &DrainOutput{}
	out.Body.Ran = ran
	return out, nil
}
