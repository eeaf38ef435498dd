package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/protection"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
)

// maxProbeBody caps how much of a probe response is read.
const maxProbeBody = 1 << 20

// MonitorService probes monitored provider endpoints and maintains their
// status state machine: unknown -> up/down, with transition notifications.
type MonitorService struct {
	repos  *repository.Repositories
	notify *NotifyService
	logger *slog.Logger
	client *http.Client
	ua     string
}

// NewMonitorService creates a new monitor service.
func NewMonitorService(cfg *config.Config, repos *repository.Repositories, notify *NotifyService, logger *slog.Logger) *MonitorService {
	return &MonitorService{
		repos:  repos,
		notify: notify,
		logger: logger,
		client: &http.Client{Timeout: cfg.MonitorTimeout},
		ua:     cfg.UserAgent,
	}
}

// RunChecks probes every endpoint that is due and records the outcomes.
// Returns the number of endpoints checked.
func (s *MonitorService) RunChecks(ctx context.Context) (int, error) {
	due, err := s.repos.Endpoint.ListDue(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to list due endpoints: %w", err)
	}

	for _, endpoint := range due {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.CheckEndpoint(ctx, endpoint); err != nil {
			s.logger.Error("endpoint check failed",
				"endpoint_id", endpoint.ID, "url", endpoint.URL, "error", err)
		}
	}
	return len(due), nil
}

// probeOutcome is one probe's raw observation before it is recorded.
type probeOutcome struct {
	status     models.EndpointStatus
	httpCode   *int
	hasResults bool
	errMsg     string
}

// CheckEndpoint probes one endpoint and records the observation.
func (s *MonitorService) CheckEndpoint(ctx context.Context, endpoint *models.MonitoredEndpoint) error {
	started := time.Now()
	outcome := s.probe(ctx, endpoint.URL)
	elapsed := int(time.Since(started).Milliseconds())

	return s.record(ctx, endpoint, outcome, elapsed)
}

// probe fetches the endpoint page. A page embedding a race configuration is
// probed one level deeper: the first race's API URL must answer with a
// non-trivial body for the endpoint to count as up with results.
func (s *MonitorService) probe(ctx context.Context, url string) probeOutcome {
	body, code, err := s.get(ctx, url)
	if err != nil {
		return probeOutcome{status: models.EndpointStatusDown, errMsg: truncateError(err)}
	}
	if code >= 400 {
		msg := fmt.Sprintf("status %d", code)
		// Name the blocker when the error page is a bot challenge, so the
		// history row says why the endpoint looks down.
		if det := protection.Classify(code, body); det.Blocked {
			msg = fmt.Sprintf("status %d: %s", code, det.Reason)
		}
		return probeOutcome{
			status:   models.EndpointStatusDown,
			httpCode: &code,
			errMsg:   msg,
		}
	}

	cfg, ok := scraper.ExtractRaceConfig(string(body))
	if !ok {
		// Page is serving but publishes no race configuration yet.
		return probeOutcome{status: models.EndpointStatusUp, httpCode: &code}
	}

	apiBody, apiCode, err := s.get(ctx, cfg.APIURL(cfg.Races[0]))
	if err != nil {
		return probeOutcome{
			status:   models.EndpointStatusDown,
			httpCode: &code,
			errMsg:   "results api unreachable: " + truncateError(err),
		}
	}
	if apiCode >= 400 {
		return probeOutcome{
			status:   models.EndpointStatusDown,
			httpCode: &apiCode,
			errMsg:   fmt.Sprintf("results api status %d", apiCode),
		}
	}

	if !nonTrivialBody(apiBody) {
		return probeOutcome{
			status:   models.EndpointStatusDown,
			httpCode: &apiCode,
			errMsg:   "results api returned an empty payload",
		}
	}

	return probeOutcome{
		status:     models.EndpointStatusUp,
		httpCode:   &apiCode,
		hasResults: true,
	}
}

func (s *MonitorService) get(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", s.ua)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// nonTrivialBody reports whether a results payload carries real content:
// any JSON object, or a body that is longer than an error stub.
func nonTrivialBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if json.Unmarshal([]byte(trimmed), &obj) == nil {
			return true
		}
	}
	return len(trimmed) > 100 && !strings.Contains(strings.ToLower(trimmed), "error")
}

// record folds one observation into the endpoint's current status and the
// append-only history, notifying on status transitions.
func (s *MonitorService) record(ctx context.Context, endpoint *models.MonitoredEndpoint, outcome probeOutcome, responseTimeMs int) error {
	now := time.Now().UTC()

	prev, err := s.repos.Endpoint.GetCurrent(ctx, endpoint.ID)
	if err != nil {
		return fmt.Errorf("failed to load current status: %w", err)
	}

	prevStatus := models.EndpointStatusUnknown
	failures := 0
	var lastChange *time.Time
	if prev != nil {
		prevStatus = prev.Status
		failures = prev.ConsecutiveFailures
		lastChange = prev.LastStatusChange
	}

	if outcome.status == models.EndpointStatusDown {
		failures++
	} else {
		failures = 0
	}
	// The change timestamp only advances when the status token differs.
	if outcome.status != prevStatus {
		lastChange = &now
	}

	current := &models.EndpointStatusCurrent{
		EndpointID:          endpoint.ID,
		Status:              outcome.status,
		HTTPCode:            outcome.httpCode,
		ResponseTimeMs:      &responseTimeMs,
		HasResults:          outcome.hasResults,
		LastChecked:         now,
		LastStatusChange:    lastChange,
		ConsecutiveFailures: failures,
	}
	if err := s.repos.Endpoint.UpsertCurrent(ctx, current); err != nil {
		return fmt.Errorf("failed to upsert current status: %w", err)
	}

	entry := &models.EndpointStatusHistory{
		ID:             ulid.Make().String(),
		EndpointID:     endpoint.ID,
		Status:         outcome.status,
		HTTPCode:       outcome.httpCode,
		ResponseTimeMs: &responseTimeMs,
		HasResults:     outcome.hasResults,
		ErrorMessage:   outcome.errMsg,
		CheckedAt:      now,
	}
	if err := s.repos.Endpoint.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	// Down alerts fire on any transition to down, including the very first
	// observation of a new endpoint. Recovery is only announced after an
	// observed down; unknown -> up is the normal first probe and stays quiet.
	if outcome.status != prevStatus {
		switch outcome.status {
		case models.EndpointStatusDown:
			s.notify.EndpointWentDown(endpoint, outcome.errMsg)
			s.logger.Warn("endpoint went down",
				"endpoint_id", endpoint.ID, "url", endpoint.URL, "error", outcome.errMsg)
		case models.EndpointStatusUp:
			if prevStatus == models.EndpointStatusDown {
				s.notify.EndpointWentUp(endpoint)
			}
			s.logger.Info("endpoint up",
				"endpoint_id", endpoint.ID, "url", endpoint.URL, "has_results", outcome.hasResults)
		}
	}
	return nil
}

// AddEndpoint registers a provider URL for monitoring.
func (s *MonitorService) AddEndpoint(ctx context.Context, organiser, name, url string, intervalMinutes int) (*models.MonitoredEndpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}

	now := time.Now().UTC()
	endpoint := &models.MonitoredEndpoint{
		ID:                   uuid.New().String(),
		Organiser:            organiser,
		Name:                 name,
		URL:                  url,
		Enabled:              true,
		CheckIntervalMinutes: intervalMinutes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repos.Endpoint.Create(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}
	return endpoint, nil
}
