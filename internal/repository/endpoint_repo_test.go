package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/racewire/racewire-api/internal/models"
)

func TestEndpointRepository_CreateAndList(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	endpoint := newTestEndpoint("https://evochip.example.com/api/live")
	if err := repos.Endpoint.Create(ctx, endpoint); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	endpoints, err := repos.Endpoint.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(endpoints) != 1 {
		t.Fatalf("List() returned %d, want 1", len(endpoints))
	}
	if !endpoints[0].Enabled {
		t.Error("endpoint should be enabled")
	}
	if endpoints[0].CheckIntervalMinutes != 15 {
		t.Errorf("CheckIntervalMinutes = %d, want 15", endpoints[0].CheckIntervalMinutes)
	}
}

func TestEndpointRepository_ListDue(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()

	neverChecked := newTestEndpoint("https://evochip.example.com/api/never")
	recentlyChecked := newTestEndpoint("https://evochip.example.com/api/recent")
	staleChecked := newTestEndpoint("https://evochip.example.com/api/stale")
	disabled := newTestEndpoint("https://evochip.example.com/api/disabled")
	disabled.Enabled = false

	for _, e := range []*models.MonitoredEndpoint{neverChecked, recentlyChecked, staleChecked, disabled} {
		if err := repos.Endpoint.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	recent := &models.EndpointStatusCurrent{
		EndpointID:  recentlyChecked.ID,
		Status:      models.EndpointStatusUp,
		LastChecked: now.Add(-time.Minute),
	}
	stale := &models.EndpointStatusCurrent{
		EndpointID:  staleChecked.ID,
		Status:      models.EndpointStatusUp,
		LastChecked: now.Add(-30 * time.Minute),
	}
	for _, c := range []*models.EndpointStatusCurrent{recent, stale} {
		if err := repos.Endpoint.UpsertCurrent(ctx, c); err != nil {
			t.Fatalf("UpsertCurrent() error = %v", err)
		}
	}

	due, err := repos.Endpoint.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}

	dueIDs := make(map[string]bool, len(due))
	for _, e := range due {
		dueIDs[e.ID] = true
	}
	if !dueIDs[neverChecked.ID] {
		t.Error("never-checked endpoint should be due")
	}
	if !dueIDs[staleChecked.ID] {
		t.Error("stale endpoint should be due")
	}
	if dueIDs[recentlyChecked.ID] {
		t.Error("recently checked endpoint should not be due")
	}
	if dueIDs[disabled.ID] {
		t.Error("disabled endpoint should never be due")
	}
}

func TestEndpointRepository_UpsertCurrent(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	endpoint := newTestEndpoint("https://evochip.example.com/api/upsert")
	if err := repos.Endpoint.Create(ctx, endpoint); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Endpoint.GetCurrent(ctx, endpoint.ID)
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if got != nil {
		t.Fatalf("GetCurrent() before upsert = %+v, want nil", got)
	}

	code := 200
	rt := 120
	current := &models.EndpointStatusCurrent{
		EndpointID:     endpoint.ID,
		Status:         models.EndpointStatusUp,
		HTTPCode:       &code,
		ResponseTimeMs: &rt,
		HasResults:     true,
		LastChecked:    now,
	}
	if err := repos.Endpoint.UpsertCurrent(ctx, current); err != nil {
		t.Fatalf("UpsertCurrent() error = %v", err)
	}

	// Second upsert replaces, never duplicates.
	downCode := 503
	changed := now.Add(time.Minute)
	current.Status = models.EndpointStatusDown
	current.HTTPCode = &downCode
	current.HasResults = false
	current.LastChecked = changed
	current.LastStatusChange = &changed
	current.ConsecutiveFailures = 1
	if err := repos.Endpoint.UpsertCurrent(ctx, current); err != nil {
		t.Fatalf("UpsertCurrent() second error = %v", err)
	}

	got, err = repos.Endpoint.GetCurrent(ctx, endpoint.ID)
	if err != nil {
		t.Fatalf("GetCurrent() error = %v", err)
	}
	if got.Status != models.EndpointStatusDown {
		t.Errorf("Status = %q, want down", got.Status)
	}
	if got.HTTPCode == nil || *got.HTTPCode != 503 {
		t.Errorf("HTTPCode = %v, want 503", got.HTTPCode)
	}
	if got.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", got.ConsecutiveFailures)
	}
	if got.LastStatusChange == nil || !got.LastStatusChange.Equal(changed) {
		t.Errorf("LastStatusChange = %v, want %v", got.LastStatusChange, changed)
	}
}

func TestEndpointRepository_HistoryOrdering(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	endpoint := newTestEndpoint("https://evochip.example.com/api/history")
	if err := repos.Endpoint.Create(ctx, endpoint); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	statuses := []models.EndpointStatus{
		models.EndpointStatusDown,
		models.EndpointStatusDown,
		models.EndpointStatusUp,
	}
	for i, status := range statuses {
		at := base.Add(time.Duration(i) * time.Minute)
		entry := &models.EndpointStatusHistory{
			ID:         ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
			EndpointID: endpoint.ID,
			Status:     status,
			CheckedAt:  at,
		}
		if err := repos.Endpoint.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory() error = %v", err)
		}
	}

	history, err := repos.Endpoint.GetHistory(ctx, endpoint.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("GetHistory() returned %d, want 3", len(history))
	}
	// Newest first.
	if history[0].Status != models.EndpointStatusUp {
		t.Errorf("newest status = %q, want up", history[0].Status)
	}
	if history[2].Status != models.EndpointStatusDown {
		t.Errorf("oldest status = %q, want down", history[2].Status)
	}
}

func TestEndpointRepository_SetEnabled(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	endpoint := newTestEndpoint("https://evochip.example.com/api/toggle")
	if err := repos.Endpoint.Create(ctx, endpoint); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repos.Endpoint.SetEnabled(ctx, endpoint.ID, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	got, _ := repos.Endpoint.GetByID(ctx, endpoint.ID)
	if got.Enabled {
		t.Error("endpoint should be disabled")
	}
}
