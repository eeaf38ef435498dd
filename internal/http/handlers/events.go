package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/repository"
)

// EventHandler handles event and results endpoints.
type EventHandler struct {
	events  repository.EventRepository
	links   repository.EventLinkRepository
	results repository.ResultRepository
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events repository.EventRepository, links repository.EventLinkRepository, results repository.ResultRepository) *EventHandler {
	return &EventHandler{
		events:  events,
		links:   links,
		results: results,
	}
}

// ListEventsInput represents event listing parameters.
type ListEventsInput struct {
	Limit  int `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Maximum events to return"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Number of events to skip"`
}

// ListEventsOutput represents event listing response.
type ListEventsOutput struct {
	Body struct {
		Events []*models.Event `json:"events"`
		Count  int             `json:"count"`
	}
}

// ListEvents returns scraped events, newest first.
func (h *EventHandler) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	events, err := h.events.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list events: " + err.Error())
	}

	out := &ListEventsOutput{}
	out.Body.Events = events
	out.Body.Count = len(events)
	return out, nil
}

// GetEventInput represents an event lookup.
type GetEventInput struct {
	ID string `path:"id" doc:"Event ID"`
}

// GetEventOutput represents a single event with its distances and links.
type GetEventOutput struct {
	Body struct {
		Event        *models.Event             `json:"event"`
		Distances    []*models.EventDistance   `json:"distances"`
		SourceLinks  []*models.EventSourceLink `json:"source_links,omitempty"`
		ResultsCount int                       `json:"results_count"`
	}
}

// GetEvent returns one event with its distances and cross-source links.
func (h *EventHandler) GetEvent(ctx context.Context, input *GetEventInput) (*GetEventOutput, error) {
	event, err := h.events.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get event: " + err.Error())
	}
	if event == nil {
		return nil, huma.Error404NotFound("event not found")
	}

	distances, err := h.events.GetDistances(ctx, event.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get distances: " + err.Error())
	}
	links, err := h.links.GetByEventID(ctx, event.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get source links: " + err.Error())
	}
	count, err := h.results.CountByEventID(ctx, event.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count results: " + err.Error())
	}

	out := &GetEventOutput{}
	out.Body.Event = event
	out.Body.Distances = distances
	out.Body.SourceLinks = links
	out.Body.ResultsCount = count
	return out, nil
}

// GetEventResultsInput represents an event results lookup.
type GetEventResultsInput struct {
	ID          string `path:"id" doc:"Event ID"`
	Checkpoints bool   `query:"checkpoints" default:"false" doc:"Include timing checkpoints per result"`
	Sources     bool   `query:"sources" default:"false" doc:"Include provenance sources per result"`
}

// EventResult is a race result with its optional detail rows.
type EventResult struct {
	Result      *models.RaceResult         `json:"result"`
	Checkpoints []*models.TimingCheckpoint `json:"checkpoints,omitempty"`
	Sources     []*models.ResultSource     `json:"sources,omitempty"`
}

// GetEventResultsOutput represents event results response.
type GetEventResultsOutput struct {
	Body struct {
		Results []*EventResult `json:"results"`
		Count   int            `json:"count"`
	}
}

// GetEventResults returns all results for an event, ordered by position.
func (h *EventHandler) GetEventResults(ctx context.Context, input *GetEventResultsInput) (*GetEventResultsOutput, error) {
	event, err := h.events.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get event: " + err.Error())
	}
	if event == nil {
		return nil, huma.Error404NotFound("event not found")
	}

	results, err := h.results.GetByEventID(ctx, event.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get results: " + err.Error())
	}

	out := &GetEventResultsOutput{}
	out.Body.Results = make([]*EventResult, 0, len(results))
	for _, r := range results {
		er := &EventResult{Result: r}
		if input.Checkpoints {
			if er.Checkpoints, err = h.results.GetCheckpoints(ctx, r.ID); err != nil {
				return nil, huma.Error500InternalServerError("failed to get checkpoints: " + err.Error())
			}
		}
		if input.Sources {
			if er.Sources, err = h.results.GetSources(ctx, r.ID); err != nil {
				return nil, huma.Error500InternalServerError("failed to get sources: " + err.Error())
			}
		}
		out.Body.Results = append(out.Body.Results, er)
	}
	out.Body.Count = len(out.Body.Results)
	return out, nil
}

// LinkEventsInput represents a cross-source event link request.
type LinkEventsInput struct {
	Body struct {
		EventAID   string `json:"event_a_id" minLength:"1" doc:"First event"`
		EventBID   string `json:"event_b_id" minLength:"1" doc:"Second event"`
		LinkType   string `json:"link_type,omitempty" enum:"same_event,related,series" doc:"Relation; defaults to same_event"`
		Confidence int    `json:"confidence,omitempty" minimum:"0" maximum:"100" doc:"0-100; defaults to 100"`
	}
}

// LinkEventsOutput represents the created link.
type LinkEventsOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		Link *models.EventSourceLink `json:"link"`
	}
}

// LinkEvents records that two scraped events represent the same real-world
// event (or are otherwise related). Admin trigger.
func (h *EventHandler) LinkEvents(ctx context.Context, input *LinkEventsInput) (*LinkEventsOutput, error) {
	if input.Body.EventAID == input.Body.EventBID {
		return nil, huma.Error400BadRequest("an event cannot be linked to itself")
	}
	for _, id := range []string{input.Body.EventAID, input.Body.EventBID} {
		event, err := h.events.GetByID(ctx, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get event: " + err.Error())
		}
		if event == nil {
			return nil, huma.Error404NotFound("event not found: " + id)
		}
	}

	linkType := models.EventLinkType(input.Body.LinkType)
	if linkType == "" {
		linkType = models.EventLinkSameEvent
	}
	confidence := input.Body.Confidence
	if confidence == 0 {
		confidence = 100
	}

	link := &models.EventSourceLink{
		ID:         uuid.New().String(),
		EventAID:   input.Body.EventAID,
		EventBID:   input.Body.EventBID,
		LinkType:   linkType,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.links.Create(ctx, link); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &LinkEventsOutput{Status: http.StatusCreated}
	out.Body.Link = link
	return out, nil
}
