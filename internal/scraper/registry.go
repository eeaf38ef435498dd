package scraper

import "strings"

// Registry holds the registered organiser scrapers and selects one for a
// URL. Selection order: organiser hint by name, then URL predicate.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a scraper. Later registrations have lower priority.
func (r *Registry) Register(s Scraper) {
	r.scrapers = append(r.scrapers, s)
}

// Select picks the scraper for a URL. A non-empty hint matching a scraper
// name wins outright; otherwise the first scraper whose Match accepts the
// URL is chosen. Returns ErrNoScraper when nothing matches.
func (r *Registry) Select(url, hint string) (Scraper, error) {
	if hint != "" {
		for _, s := range r.scrapers {
			if strings.EqualFold(s.Name(), hint) {
				return s, nil
			}
		}
	}
	for _, s := range r.scrapers {
		if s.Match(url) {
			return s, nil
		}
	}
	return nil, ErrNoScraper
}

// All returns the registered scrapers in registration order.
func (r *Registry) All() []Scraper {
	return r.scrapers
}
