package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/service"
)

// MatchHandler handles athlete-to-result matching endpoints.
type MatchHandler struct {
	matchSvc *service.MatchService
	results  repository.ResultRepository
	athletes repository.AthleteRepository
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(matchSvc *service.MatchService, results repository.ResultRepository, athletes repository.AthleteRepository) *MatchHandler {
	return &MatchHandler{
		matchSvc: matchSvc,
		results:  results,
		athletes: athletes,
	}
}

// SuggestMatchesInput represents a match suggestion lookup for one result.
type SuggestMatchesInput struct {
	ID string `path:"id" doc:"Result ID"`
}

// SuggestMatchesOutput represents match suggestions, best first.
type SuggestMatchesOutput struct {
	Body struct {
		Candidates []service.MatchCandidate `json:"candidates"`
	}
}

// SuggestMatches returns candidate athletes for a race result, ordered by
// name similarity.
func (h *MatchHandler) SuggestMatches(ctx context.Context, input *SuggestMatchesInput) (*SuggestMatchesOutput, error) {
	candidates, err := h.matchSvc.Suggest(ctx, input.ID)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	out := &SuggestMatchesOutput{}
	out.Body.Candidates = candidates
	return out, nil
}

// LinkResultInput represents a manual athlete link confirmation.
type LinkResultInput struct {
	ID   string `path:"id" doc:"Result ID"`
	Body struct {
		AthleteID string `json:"athlete_id" minLength:"1" doc:"Athlete to link the result to"`
	}
}

// LinkResultOutput represents the linked result.
type LinkResultOutput struct {
	Body struct {
		Result *models.RaceResult `json:"result"`
	}
}

// LinkResult links a race result to an athlete. This is the manual
// confirmation path for suggestions the auto-matcher was not sure about.
func (h *MatchHandler) LinkResult(ctx context.Context, input *LinkResultInput) (*LinkResultOutput, error) {
	result, err := h.results.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get result: " + err.Error())
	}
	if result == nil {
		return nil, huma.Error404NotFound("result not found")
	}
	athlete, err := h.athletes.GetByID(ctx, input.Body.AthleteID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get athlete: " + err.Error())
	}
	if athlete == nil {
		return nil, huma.Error404NotFound("athlete not found")
	}

	if err := h.results.LinkAthlete(ctx, result.ID, athlete.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to link athlete: " + err.Error())
	}
	result.AthleteID = &athlete.ID

	out := &LinkResultOutput{}
	out.Body.Result = result
	return out, nil
}

// AutoMatchInput represents an auto-match trigger.
type AutoMatchInput struct {
	Limit int `query:"limit" default:"500" minimum:"1" maximum:"5000" doc:"Maximum unlinked results to consider"`
}

// AutoMatchOutput reports how many results the auto-matcher linked.
type AutoMatchOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		Linked int `json:"linked"`
	}
}

// AutoMatch links unlinked results to athletes where exactly one candidate
// clears the confidence bar. Admin trigger.
func (h *MatchHandler) AutoMatch(ctx context.Context, input *AutoMatchInput) (*AutoMatchOutput, error) {
	linked, err := h.matchSvc.AutoMatch(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("auto-match failed: " + err.Error())
	}

	out := &AutoMatchOutput{Status: http.StatusOK}
	out.Body.Linked = linked
	return out, nil
}
