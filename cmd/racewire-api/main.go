// Package main is the entry point for the racewire-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/racewire/racewire-api/internal/browser"
	"github.com/racewire/racewire-api/internal/config"
	"github.com/racewire/racewire-api/internal/database"
	"github.com/racewire/racewire-api/internal/fetcher"
	"github.com/racewire/racewire-api/internal/http/handlers"
	"github.com/racewire/racewire-api/internal/http/mw"
	"github.com/racewire/racewire-api/internal/logging"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
	"github.com/racewire/racewire-api/internal/service"
	"github.com/racewire/racewire-api/internal/version"
	"github.com/racewire/racewire-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting racewire-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	schemaVersion, err := database.GetLatestSchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		migrationCount, _ := database.GetMigrationCount(db)
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	// Outbound scraping stack: one shared fetcher and one shared browser
	// handle, with every supported organiser registered.
	pageFetcher := fetcher.New(fetcher.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		Delay:     cfg.PolitenessDelay,
		Logger:    logger,
	})
	pageBrowser := browser.New(browser.Config{
		Enabled:        cfg.BrowserEnabled,
		MaxPages:       cfg.BrowserMaxPages,
		ChromePath:     cfg.ChromePath,
		BlockResources: true,
		Logger:         logger,
	})

	registry := scraper.NewRegistry()
	registry.Register(scraper.NewHopasportsScraper(pageFetcher, logger))
	registry.Register(scraper.NewEvoChipScraper(pageFetcher, pageBrowser, logger))
	for _, s := range registry.All() {
		logger.Info("scraper registered", "name", s.Name())
	}

	services := service.NewServices(cfg, repos, registry, logger)

	// Background worker: pending drain, retry drain and the endpoint monitor.
	bgWorker := worker.New(repos, services, worker.Config{
		PollInterval:       5 * time.Second,
		MonitorEnabled:     cfg.MonitorEnabled,
		MonitorInterval:    cfg.MonitorInterval,
		RetryDrainInterval: cfg.RetryDrainInterval,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	bgWorker.Start(ctx)

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", mw.AdminKeyHeader},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - prevent large payload attacks
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Global rate limit by IP
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	// Main API with OpenAPI docs
	humaConfig := huma.DefaultConfig("Racewire API", v.Version)
	humaConfig.Info.Description = "Race results ingestion API: scrapes organiser timing sites, reconciles results across sources and links them to athletes."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("Racewire API", v.Version)
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Health check (public, shown in docs)
	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	// Kubernetes probe (hidden from docs - internal use only)
	huma.Get(hiddenAPI, "/healthz", handlers.HealthCheck)

	// Public read and ingest routes
	jobHandler := handlers.NewJobHandler(services.Ingest, services.Retry, repos.ScrapeJob)
	huma.Post(api, "/api/v1/scrape", jobHandler.CreateScrapeJob)
	huma.Get(api, "/api/v1/jobs", jobHandler.ListJobs)
	huma.Get(api, "/api/v1/jobs/{id}", jobHandler.GetJob)

	eventHandler := handlers.NewEventHandler(repos.Event, repos.EventLink, repos.Result)
	huma.Get(api, "/api/v1/events", eventHandler.ListEvents)
	huma.Get(api, "/api/v1/events/{id}", eventHandler.GetEvent)
	huma.Get(api, "/api/v1/events/{id}/results", eventHandler.GetEventResults)

	matchHandler := handlers.NewMatchHandler(services.Match, repos.Result, repos.Athlete)
	huma.Get(api, "/api/v1/results/{id}/matches", matchHandler.SuggestMatches)
	huma.Post(api, "/api/v1/results/{id}/link", matchHandler.LinkResult)

	athleteHandler := handlers.NewAthleteHandler(repos.Athlete, repos.Result, services.Match)
	huma.Post(api, "/api/v1/athletes", athleteHandler.CreateAthlete)
	huma.Get(api, "/api/v1/athletes", athleteHandler.SearchAthletes)
	huma.Get(api, "/api/v1/athletes/{id}", athleteHandler.GetAthlete)
	huma.Get(api, "/api/v1/athletes/{id}/suggestions", athleteHandler.AthleteSuggestions)

	endpointHandler := handlers.NewEndpointHandler(services.Monitor, repos.Endpoint)
	huma.Get(api, "/api/v1/endpoints", endpointHandler.ListEndpoints)
	huma.Get(api, "/api/v1/endpoints/{id}/history", endpointHandler.GetEndpointHistory)

	// Admin trigger routes, guarded by the pre-shared header key
	router.Group(func(r chi.Router) {
		r.Use(mw.RequireAdminKey(cfg.AdminKey))

		adminConfig := huma.DefaultConfig("Racewire API", v.Version)
		adminConfig.DocsPath = ""
		adminConfig.OpenAPIPath = ""
		adminConfig.SchemasPath = ""
		adminAPI := humachi.New(r, adminConfig)

		huma.Post(adminAPI, "/api/v1/admin/events/link", eventHandler.LinkEvents)
		huma.Post(adminAPI, "/api/v1/admin/drain", jobHandler.DrainPending)
		huma.Post(adminAPI, "/api/v1/admin/retry-drain", jobHandler.DrainRetries)
		huma.Post(adminAPI, "/api/v1/admin/auto-match", matchHandler.AutoMatch)
		huma.Post(adminAPI, "/api/v1/admin/monitor/run", endpointHandler.RunChecks)
		huma.Post(adminAPI, "/api/v1/admin/endpoints", endpointHandler.CreateEndpoint)
		huma.Patch(adminAPI, "/api/v1/admin/endpoints/{id}/enabled", endpointHandler.SetEndpointEnabled)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker first so no scrape is mid-flight when the
		// browser goes away.
		cancel()
		bgWorker.Stop()
		pageBrowser.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
