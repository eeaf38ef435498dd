package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubScraper struct {
	name  string
	match string
}

func (s *stubScraper) Name() string { return s.name }
func (s *stubScraper) Match(url string) bool {
	return s.match != "" && strings.Contains(url, s.match)
}
func (s *stubScraper) Capabilities() Capabilities { return Capabilities{} }
func (s *stubScraper) AnalyzeURL(ctx context.Context, url string) (*AnalyzeReport, error) {
	return &AnalyzeReport{Scraper: s.name, URL: url}, nil
}
func (s *stubScraper) ScrapeEvent(ctx context.Context, url string, opts Options, progress ProgressFunc) (*ScrapedResults, error) {
	return &ScrapedResults{}, nil
}
func (s *stubScraper) ValidateResults(results *ScrapedResults) *ValidationReport {
	return Validate(results)
}

func TestRegistrySelectByHint(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubScraper{name: "alpha", match: "alpha.example"})
	r.Register(&stubScraper{name: "beta", match: "alpha.example"})

	// Hint beats URL matching, case-insensitively.
	s, err := r.Select("https://alpha.example/results", "Beta")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Name() != "beta" {
		t.Errorf("expected beta, got %s", s.Name())
	}
}

func TestRegistrySelectByURL(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubScraper{name: "alpha", match: "alpha.example"})
	r.Register(&stubScraper{name: "beta", match: "beta.example"})

	s, err := r.Select("https://beta.example/results", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Name() != "beta" {
		t.Errorf("expected beta, got %s", s.Name())
	}
}

func TestRegistrySelectNoMatch(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubScraper{name: "alpha", match: "alpha.example"})

	if _, err := r.Select("https://unknown.example/results", ""); !errors.Is(err, ErrNoScraper) {
		t.Errorf("expected ErrNoScraper, got %v", err)
	}

	// An unknown hint falls through to URL matching.
	s, err := r.Select("https://alpha.example/results", "gamma")
	if err != nil {
		t.Fatalf("Select with unknown hint: %v", err)
	}
	if s.Name() != "alpha" {
		t.Errorf("expected alpha, got %s", s.Name())
	}
}
