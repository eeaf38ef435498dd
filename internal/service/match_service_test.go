package service

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/names"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/scraper"
)

func seedEvent(t *testing.T, repos *repository.Repositories) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:        uuid.NewString(),
		URL:       "https://results.example.com/" + uuid.NewString(),
		Organiser: "fake",
		Name:      "Seed Event",
		Date:      "2026-05-10",
	}
	if err := repos.Event.Create(t.Context(), event); err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func seedResult(t *testing.T, repos *repository.Repositories, eventID, name string, position int) *models.RaceResult {
	t.Helper()
	result := &models.RaceResult{
		ID:             uuid.NewString(),
		EventID:        eventID,
		Position:       intp(position),
		Name:           name,
		NormalizedName: names.Normalize(name),
		Status:         models.ResultStatusFinished,
	}
	if _, err := repos.Result.CreateBatch(t.Context(), []*models.RaceResult{result}); err != nil {
		t.Fatalf("seed result: %v", err)
	}
	return result
}

func seedAthlete(t *testing.T, repos *repository.Repositories, name string) *models.Athlete {
	t.Helper()
	athlete := &models.Athlete{
		ID:             uuid.NewString(),
		Name:           name,
		NormalizedName: names.Normalize(name),
	}
	if err := repos.Athlete.Create(t.Context(), athlete); err != nil {
		t.Fatalf("seed athlete: %v", err)
	}
	return athlete
}

func TestSuggestScoresAndOrders(t *testing.T) {
	svcs, repos := setupTestServices(t, scraper.NewRegistry())
	ctx := t.Context()

	event := seedEvent(t, repos)
	result := seedResult(t, repos, event.ID, "José García", 1)

	exact := seedAthlete(t, repos, "Jose Garcia")
	seedAthlete(t, repos, "Josefa Garcia Lopez")

	candidates, err := svcs.Match.Suggest(ctx, result.ID)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(candidates) == 0 {
		t.Fatal("expected candidates")
	}
	if candidates[0].Athlete.ID != exact.ID {
		t.Errorf("best candidate = %q", candidates[0].Athlete.Name)
	}
	if candidates[0].Confidence != 100 || candidates[0].Score != 0 {
		t.Errorf("exact match scored %v/%d", candidates[0].Score, candidates[0].Confidence)
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score < candidates[i-1].Score {
			t.Error("candidates not ordered best first")
		}
	}
}

func TestSuggestDiscardsDistantCandidates(t *testing.T) {
	svcs, repos := setupTestServices(t, scraper.NewRegistry())
	ctx := t.Context()

	event := seedEvent(t, repos)
	result := seedResult(t, repos, event.ID, "Li", 1)

	// Contains the query as a substring but is nothing like the name.
	seedAthlete(t, repos, "Natalia Lipton Fernandez")

	candidates, err := svcs.Match.Suggest(ctx, result.ID)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates = %+v, want none past discard threshold", candidates)
	}
}

func TestAutoMatchLinksUnambiguous(t *testing.T) {
	svcs, repos := setupTestServices(t, scraper.NewRegistry())
	ctx := t.Context()

	event := seedEvent(t, repos)
	result := seedResult(t, repos, event.ID, "José García", 1)
	athlete := seedAthlete(t, repos, "Jose Garcia")

	linked, err := svcs.Match.AutoMatch(ctx, 10)
	if err != nil {
		t.Fatalf("AutoMatch: %v", err)
	}
	if linked != 1 {
		t.Fatalf("linked = %d, want 1", linked)
	}

	stored, _ := repos.Result.GetByID(ctx, result.ID)
	if stored.AthleteID == nil || *stored.AthleteID != athlete.ID {
		t.Errorf("result not linked: %+v", stored)
	}
}

func TestAutoMatchSkipsAmbiguous(t *testing.T) {
	svcs, repos := setupTestServices(t, scraper.NewRegistry())
	ctx := t.Context()

	event := seedEvent(t, repos)
	result := seedResult(t, repos, event.ID, "Anna Kovacs", 1)

	// Two distinct athletes with the identical name: both reach the
	// auto-match confidence, so neither may be linked.
	seedAthlete(t, repos, "Anna Kovacs")
	seedAthlete(t, repos, "Anna Kovacs")

	linked, err := svcs.Match.AutoMatch(ctx, 10)
	if err != nil {
		t.Fatalf("AutoMatch: %v", err)
	}
	if linked != 0 {
		t.Errorf("linked = %d, want 0", linked)
	}

	stored, _ := repos.Result.GetByID(ctx, result.ID)
	if stored.AthleteID != nil {
		t.Error("ambiguous result must stay unlinked")
	}
}

func TestSuggestForAthlete(t *testing.T) {
	svcs, repos := setupTestServices(t, scraper.NewRegistry())
	ctx := t.Context()

	event := seedEvent(t, repos)
	match := seedResult(t, repos, event.ID, "Jon Smith", 1)
	seedResult(t, repos, event.ID, "Maria Gonzalez", 2)

	athlete := seedAthlete(t, repos, "Jonathan Smith")

	results, err := svcs.Match.SuggestForAthlete(ctx, athlete.ID, 20)
	if err != nil {
		t.Fatalf("SuggestForAthlete: %v", err)
	}
	if len(results) != 1 || results[0].ID != match.ID {
		t.Errorf("results = %+v, want the Jon Smith row", results)
	}
}

func TestSuggestUnknownResult(t *testing.T) {
	svcs, _ := setupTestServices(t, scraper.NewRegistry())

	if _, err := svcs.Match.Suggest(context.Background(), uuid.NewString()); err == nil {
		t.Error("expected error for unknown result")
	}
}

// Guard against drift in the distance function: identical strings score 0,
// unrelated strings score close to 1.
func TestScoreBounds(t *testing.T) {
	m := NewMatchService(nil, testLogger())
	if got := m.score("jane doe", "jane doe"); got != 0 {
		t.Errorf("identical score = %v", got)
	}
	if got := m.score("jane doe", "xx yy zz qq"); got < 0.9 {
		t.Errorf("unrelated score = %v, want near 1", got)
	}
}
