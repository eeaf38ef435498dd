package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/models"
)

// NotifyService delivers plain-text notifications about job and endpoint
// state changes to an external transport.
type NotifyService struct {
	url    string
	token  string
	logger *slog.Logger
	client *http.Client
}

// NewNotifyService creates a new notify service. When no notifier URL is
// configured every send is a silent no-op.
func NewNotifyService(cfg *config.Config, logger *slog.Logger) *NotifyService {
	return &NotifyService{
		url:    cfg.NotifierURL,
		token:  cfg.NotifierToken,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Enabled reports whether a notifier transport is configured.
func (s *NotifyService) Enabled() bool {
	return s.url != ""
}

// JobCompleted announces a first-attempt scrape success.
func (s *NotifyService) JobCompleted(job *models.ScrapeJob) {
	s.send(fmt.Sprintf("SCRAPE COMPLETE [%s] %s results=%d",
		job.ShortID(), job.EventURL, job.ResultsCount))
}

// JobFailed announces the first failure of a job that will be retried.
func (s *NotifyService) JobFailed(job *models.ScrapeJob) {
	s.send(fmt.Sprintf("SCRAPE FAILED [%s] %s error=%s",
		job.ShortID(), job.EventURL, job.ErrorMessage))
}

// JobRetrySucceeded announces a success after one or more retries.
func (s *NotifyService) JobRetrySucceeded(job *models.ScrapeJob) {
	s.send(fmt.Sprintf("SCRAPE RETRY SUCCESS [%s] %s attempt=%d results=%d",
		job.ShortID(), job.EventURL, job.RetryCount+1, job.ResultsCount))
}

// JobPermanentlyFailed announces a job that exhausted its retries.
func (s *NotifyService) JobPermanentlyFailed(job *models.ScrapeJob) {
	s.send(fmt.Sprintf("SCRAPE PERMANENTLY FAILED [%s] %s attempts=%d error=%s",
		job.ShortID(), job.EventURL, job.RetryCount+1, job.ErrorMessage))
}

// EndpointWentDown announces an endpoint transition to down.
func (s *NotifyService) EndpointWentDown(endpoint *models.MonitoredEndpoint, message string) {
	text := fmt.Sprintf("ENDPOINT DOWN %s (%s) %s", endpoint.Name, endpoint.Organiser, endpoint.URL)
	if message != "" {
		text += " error=" + message
	}
	s.send(text)
}

// EndpointWentUp announces an endpoint recovery.
func (s *NotifyService) EndpointWentUp(endpoint *models.MonitoredEndpoint) {
	s.send(fmt.Sprintf("ENDPOINT UP %s (%s) %s", endpoint.Name, endpoint.Organiser, endpoint.URL))
}

// send delivers a message without blocking the caller.
func (s *NotifyService) send(text string) {
	if s.url == "" {
		return
	}
	go s.deliver(text)
}

func (s *NotifyService) deliver(text string) error {
	// Retry up to 3 times with exponential backoff
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, s.url, strings.NewReader(text))
		if err != nil {
			s.logger.Error("notify: failed to create request", "error", err)
			return err
		}

		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.Header.Set("User-Agent", config.DefaultUserAgent)
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Warn("notify: delivery failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.logger.Debug("notify: delivered", "status", resp.StatusCode)
			return nil
		}

		lastErr = fmt.Errorf("notify delivery failed with status %d", resp.StatusCode)
		s.logger.Warn("notify: non-success status", "status", resp.StatusCode, "attempt", attempt+1)
	}

	s.logger.Error("notify: delivery failed after retries", "error", lastErr)
	return lastErr
}
