package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/models"
)

func TestEventRepository_CreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/city-marathon-2026")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Event.GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil")
	}
	if got.URL != event.URL {
		t.Errorf("URL = %q, want %q", got.URL, event.URL)
	}
	if got.Date != "2026-05-10" {
		t.Errorf("Date = %q, want 2026-05-10", got.Date)
	}
	if got.ScrapedAt != nil {
		t.Errorf("ScrapedAt = %v, want nil", got.ScrapedAt)
	}
}

func TestEventRepository_GetByURL(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/trail-10k")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Event.GetByURL(ctx, event.URL)
	if err != nil {
		t.Fatalf("GetByURL() error = %v", err)
	}
	if got == nil || got.ID != event.ID {
		t.Fatalf("GetByURL() = %+v, want event %s", got, event.ID)
	}

	missing, err := repos.Event.GetByURL(ctx, "https://hopasports.com/events/unknown")
	if err != nil {
		t.Fatalf("GetByURL() error = %v", err)
	}
	if missing != nil {
		t.Errorf("GetByURL() for unknown URL = %+v, want nil", missing)
	}
}

func TestEventRepository_URLIsUnique(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/dup")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := newTestEvent("https://hopasports.com/events/dup")
	if err := repos.Event.Create(ctx, dup); err == nil {
		t.Error("Create() with duplicate URL should fail")
	}
}

func TestEventRepository_SetScrapedAt(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/scraped")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	scrapedAt := time.Now().UTC().Truncate(time.Second)
	if err := repos.Event.SetScrapedAt(ctx, event.ID, scrapedAt); err != nil {
		t.Fatalf("SetScrapedAt() error = %v", err)
	}

	got, _ := repos.Event.GetByID(ctx, event.ID)
	if got.ScrapedAt == nil || !got.ScrapedAt.Equal(scrapedAt) {
		t.Errorf("ScrapedAt = %v, want %v", got.ScrapedAt, scrapedAt)
	}
}

func TestEventRepository_Distances(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/multi-distance")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	half := &models.EventDistance{
		ID:                  uuid.NewString(),
		EventID:             event.ID,
		Name:                "Half Marathon",
		DistanceMeters:      21097,
		RaceType:            models.RaceTypeRunning,
		ExpectedCheckpoints: []string{"5km", "10km", "15km", "20km", "finish"},
		CreatedAt:           time.Now().UTC(),
	}
	tenK := &models.EventDistance{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Name:           "10K",
		DistanceMeters: 10000,
		RaceType:       models.RaceTypeRunning,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repos.Event.CreateDistance(ctx, half); err != nil {
		t.Fatalf("CreateDistance() error = %v", err)
	}
	if err := repos.Event.CreateDistance(ctx, tenK); err != nil {
		t.Fatalf("CreateDistance() error = %v", err)
	}

	distances, err := repos.Event.GetDistances(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetDistances() error = %v", err)
	}
	if len(distances) != 2 {
		t.Fatalf("GetDistances() returned %d, want 2", len(distances))
	}
	// Ordered by distance ascending.
	if distances[0].Name != "10K" {
		t.Errorf("first distance = %q, want 10K", distances[0].Name)
	}
	if len(distances[1].ExpectedCheckpoints) != 5 {
		t.Errorf("ExpectedCheckpoints = %v, want 5 entries", distances[1].ExpectedCheckpoints)
	}

	got, err := repos.Event.GetDistanceByName(ctx, event.ID, "Half Marathon")
	if err != nil {
		t.Fatalf("GetDistanceByName() error = %v", err)
	}
	if got == nil || got.ID != half.ID {
		t.Fatalf("GetDistanceByName() = %+v, want %s", got, half.ID)
	}

	if err := repos.Event.SetParticipantCount(ctx, half.ID, 1200); err != nil {
		t.Fatalf("SetParticipantCount() error = %v", err)
	}
	got, _ = repos.Event.GetDistanceByName(ctx, event.ID, "Half Marathon")
	if got.ParticipantCount != 1200 {
		t.Errorf("ParticipantCount = %d, want 1200", got.ParticipantCount)
	}
}

func TestEventLinkRepository_SortedPairAndDedupe(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	a := newTestEvent("https://hopasports.com/events/link-a")
	b := newTestEvent("https://evochip.example.com/results/link-b")
	for _, e := range []*models.Event{a, b} {
		if err := repos.Event.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	link := &models.EventSourceLink{
		ID:         uuid.NewString(),
		EventAID:   b.ID, // deliberately unsorted
		EventBID:   a.ID,
		LinkType:   models.EventLinkSameEvent,
		Confidence: 85,
		CreatedAt:  time.Now().UTC(),
	}
	if err := repos.EventLink.Create(ctx, link); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Reversed direction is the same undirected pair: swallowed, not duplicated.
	reversed := &models.EventSourceLink{
		ID:        uuid.NewString(),
		EventAID:  a.ID,
		EventBID:  b.ID,
		LinkType:  models.EventLinkSameEvent,
		CreatedAt: time.Now().UTC(),
	}
	if err := repos.EventLink.Create(ctx, reversed); err != nil {
		t.Fatalf("Create() reversed error = %v", err)
	}

	links, err := repos.EventLink.GetByEventID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByEventID() error = %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("GetByEventID() returned %d links, want 1", len(links))
	}
	if links[0].EventAID > links[0].EventBID {
		t.Error("link pair should be stored sorted")
	}
}

func TestEventLinkRepository_RejectsSelfLink(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	event := newTestEvent("https://hopasports.com/events/self")
	if err := repos.Event.Create(ctx, event); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	link := &models.EventSourceLink{
		ID:        uuid.NewString(),
		EventAID:  event.ID,
		EventBID:  event.ID,
		LinkType:  models.EventLinkSameEvent,
		CreatedAt: time.Now().UTC(),
	}
	if err := repos.EventLink.Create(ctx, link); err == nil {
		t.Error("Create() self-link should fail")
	}
}
