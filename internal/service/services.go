// Package service contains the business logic layer: scrape ingestion and
// job lifecycle, retry draining, athlete matching, endpoint monitoring and
// outbound notifications.
package service

import (
	"log/slog"

	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
)

// Services holds all service instances.
type Services struct {
	Ingest  *IngestService
	Retry   *RetryService
	Match   *MatchService
	Monitor *MonitorService
	Notify  *NotifyService
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, registry *scraper.Registry, logger *slog.Logger) *Services {
	notifySvc := NewNotifyService(cfg, logger)
	ingestSvc := NewIngestService(cfg, repos, registry, notifySvc, logger)

	return &Services{
		Ingest:  ingestSvc,
		Retry:   NewRetryService(repos, ingestSvc, logger),
		Match:   NewMatchService(repos, logger),
		Monitor: NewMonitorService(cfg, repos, notifySvc, logger),
		Notify:  notifySvc,
	}
}
