package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/names"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/service"
)

// AthleteHandler handles athlete endpoints.
type AthleteHandler struct {
	athletes repository.AthleteRepository
	results  repository.ResultRepository
	matchSvc *service.MatchService
}

// NewAthleteHandler creates a new athlete handler.
func NewAthleteHandler(athletes repository.AthleteRepository, results repository.ResultRepository, matchSvc *service.MatchService) *AthleteHandler {
	return &AthleteHandler{
		athletes: athletes,
		results:  results,
		matchSvc: matchSvc,
	}
}

// CreateAthleteInput represents athlete creation request.
type CreateAthleteInput struct {
	Body struct {
		Name      string `json:"name" minLength:"1" example:"Maria Gonzalez" doc:"Display name; the match key is derived from it"`
		Gender    string `json:"gender,omitempty" example:"F"`
		BirthDate string `json:"birth_date,omitempty" example:"1990-04-12" doc:"YYYY-MM-DD"`
		Country   string `json:"country,omitempty" example:"ES"`
	}
}

// CreateAthleteOutput represents athlete creation response.
type CreateAthleteOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		Athlete *models.Athlete `json:"athlete"`
	}
}

// CreateAthlete creates an athlete identity record.
func (h *AthleteHandler) CreateAthlete(ctx context.Context, input *CreateAthleteInput) (*CreateAthleteOutput, error) {
	now := time.Now().UTC()
	athlete := &models.Athlete{
		ID:             uuid.New().String(),
		Name:           input.Body.Name,
		NormalizedName: names.Normalize(input.Body.Name),
		Gender:         input.Body.Gender,
		BirthDate:      input.Body.BirthDate,
		Country:        input.Body.Country,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if athlete.NormalizedName == "" {
		return nil, huma.Error400BadRequest("name must contain at least one letter or digit")
	}
	if err := h.athletes.Create(ctx, athlete); err != nil {
		return nil, huma.Error500InternalServerError("failed to create athlete: " + err.Error())
	}

	out := &CreateAthleteOutput{Status: http.StatusCreated}
	out.Body.Athlete = athlete
	return out, nil
}

// SearchAthletesInput represents an athlete name search.
type SearchAthletesInput struct {
	Query string `query:"q" minLength:"1" example:"gonzalez" doc:"Name fragment; matched against the normalised name"`
	Limit int    `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

// SearchAthletesOutput represents athlete search response.
type SearchAthletesOutput struct {
	Body struct {
		Athletes []*models.Athlete `json:"athletes"`
		Count    int               `json:"count"`
	}
}

// SearchAthletes searches athletes by normalised name substring.
func (h *AthleteHandler) SearchAthletes(ctx context.Context, input *SearchAthletesInput) (*SearchAthletesOutput, error) {
	athletes, err := h.athletes.SearchByNormalizedName(ctx, names.Normalize(input.Query), input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to search athletes: " + err.Error())
	}

	out := &SearchAthletesOutput{}
	out.Body.Athletes = athletes
	out.Body.Count = len(athletes)
	return out, nil
}

// GetAthleteInput represents an athlete lookup.
type GetAthleteInput struct {
	ID string `path:"id" doc:"Athlete ID"`
}

// GetAthleteOutput represents an athlete with their linked results.
type GetAthleteOutput struct {
	Body struct {
		Athlete *models.Athlete      `json:"athlete"`
		Results []*models.RaceResult `json:"results"`
	}
}

// GetAthlete returns one athlete with their linked results, newest event
// first.
func (h *AthleteHandler) GetAthlete(ctx context.Context, input *GetAthleteInput) (*GetAthleteOutput, error) {
	athlete, err := h.athletes.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get athlete: " + err.Error())
	}
	if athlete == nil {
		return nil, huma.Error404NotFound("athlete not found")
	}

	results, err := h.results.GetByAthleteID(ctx, athlete.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get results: " + err.Error())
	}

	out := &GetAthleteOutput{}
	out.Body.Athlete = athlete
	out.Body.Results = results
	return out, nil
}

// AthleteSuggestionsInput represents an unlinked-result suggestion lookup
// for one athlete.
type AthleteSuggestionsInput struct {
	ID    string `path:"id" doc:"Athlete ID"`
	Limit int    `query:"limit" default:"20" minimum:"1" maximum:"100"`
}

// AthleteSuggestionsOutput represents suggested unlinked results.
type AthleteSuggestionsOutput struct {
	Body struct {
		Results []*models.RaceResult `json:"results"`
	}
}

// AthleteSuggestions returns unlinked results whose names resemble the
// athlete's, for manual review.
func (h *AthleteHandler) AthleteSuggestions(ctx context.Context, input *AthleteSuggestionsInput) (*AthleteSuggestionsOutput, error) {
	results, err := h.matchSvc.SuggestForAthlete(ctx, input.ID, input.Limit)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}

	out := &AthleteSuggestionsOutput{}
	out.Body.Results = results
	return out, nil
}
