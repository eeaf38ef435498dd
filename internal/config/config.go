// Package config handles application configuration.
// All settings are read once from the environment at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent identifies the platform on every outbound request.
const DefaultUserAgent = "RacewireBot/1.0 (+https://racewire.app)"

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Admin trigger endpoints are protected by a pre-shared header key.
	AdminKey string

	// CORS
	CORSOrigins []string

	// Outbound HTTP
	UserAgent       string
	FetchTimeout    time.Duration // per-request scrape timeout
	MonitorTimeout  time.Duration // per-probe timeout
	PolitenessDelay time.Duration // minimum delay between page requests per organiser

	// Headless browser
	BrowserEnabled  bool
	BrowserMaxPages int
	ChromePath      string

	// Background scheduler
	MonitorEnabled     bool
	MonitorInterval    time.Duration
	RetryDrainInterval time.Duration

	// Notifier (external transport, fire-and-forget)
	NotifierURL   string
	NotifierToken string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:racewire.db?_journal=WAL&_timeout=5000"),
		AdminKey:    getEnv("ADMIN_KEY", ""),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		UserAgent:       getEnv("USER_AGENT", DefaultUserAgent),
		FetchTimeout:    getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
		MonitorTimeout:  getEnvDuration("MONITOR_TIMEOUT", 30*time.Second),
		PolitenessDelay: getEnvDuration("SCRAPE_POLITENESS_DELAY", 500*time.Millisecond),

		BrowserEnabled:  getEnvBool("BROWSER_ENABLED", true),
		BrowserMaxPages: getEnvInt("BROWSER_MAX_PAGES", 3),
		ChromePath:      getEnv("CHROME_PATH", ""),

		MonitorEnabled:     getEnvBool("MONITOR_ENABLED", true),
		MonitorInterval:    getEnvDuration("MONITOR_INTERVAL", time.Minute),
		RetryDrainInterval: getEnvDuration("RETRY_DRAIN_INTERVAL", time.Minute),

		NotifierURL:   getEnv("NOTIFIER_URL", ""),
		NotifierToken: getEnv("NOTIFIER_TOKEN", ""),
	}

	if cfg.BrowserMaxPages < 1 {
		return nil, fmt.Errorf("BROWSER_MAX_PAGES must be at least 1")
	}
	if cfg.PolitenessDelay < 500*time.Millisecond {
		cfg.PolitenessDelay = 500 * time.Millisecond
	}

	return cfg, nil
}

// NotifierEnabled returns true if an external notifier is configured.
func (c *Config) NotifierEnabled() bool {
	return c.NotifierURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
