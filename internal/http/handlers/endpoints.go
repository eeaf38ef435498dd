package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/racewire/racewire-api/internal/models"
	"github.com/racewire/racewire-api/internal/repository"
	"github.com/racewire/racewire-api/internal/service"
)

// EndpointHandler handles monitored endpoint endpoints.
type EndpointHandler struct {
	monitorSvc *service.MonitorService
	endpoints  repository.EndpointRepository
}

// NewEndpointHandler creates a new endpoint handler.
func NewEndpointHandler(monitorSvc *service.MonitorService, endpoints repository.EndpointRepository) *EndpointHandler {
	return &EndpointHandler{
		monitorSvc: monitorSvc,
		endpoints:  endpoints,
	}
}

// MonitoredEndpointView is an endpoint with its current status row.
type MonitoredEndpointView struct {
	Endpoint *models.MonitoredEndpoint     `json:"endpoint"`
	Current  *models.EndpointStatusCurrent `json:"current,omitempty"`
}

// ListEndpointsOutput represents endpoint listing response.
type ListEndpointsOutput struct {
	Body struct {
		Endpoints []*MonitoredEndpointView `json:"endpoints"`
		Count     int                      `json:"count"`
	}
}

// ListEndpoints returns all monitored endpoints with their current status.
func (h *EndpointHandler) ListEndpoints(ctx context.Context, input *struct{}) (*ListEndpointsOutput, error) {
	endpoints, err := h.endpoints.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list endpoints: " + err.Error())
	}

	out := &ListEndpointsOutput{}
	out.Body.Endpoints = make([]*MonitoredEndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		current, err := h.endpoints.GetCurrent(ctx, ep.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get status: " + err.Error())
		}
		out.Body.Endpoints = append(out.Body.Endpoints, &MonitoredEndpointView{Endpoint: ep, Current: current})
	}
	out.Body.Count = len(out.Body.Endpoints)
	return out, nil
}

// CreateEndpointInput represents endpoint registration request.
type CreateEndpointInput struct {
	Body struct {
		Organiser       string `json:"organiser" minLength:"1" example:"hopasports" doc:"Provider the endpoint belongs to"`
		Name            string `json:"name" minLength:"1" example:"Hopasports results"`
		URL             string `json:"url" minLength:"1" format:"uri" example:"https://hopasports.com/en/event/city-marathon/results"`
		IntervalMinutes int    `json:"interval_minutes,omitempty" minimum:"0" maximum:"1440" doc:"Probe interval; defaults to 60"`
	}
}

// CreateEndpointOutput represents endpoint registration response.
type CreateEndpointOutput struct {
	Status int `header:"Status-Code"`
	Body   struct {
		Endpoint *models.MonitoredEndpoint `json:"endpoint"`
	}
}

// CreateEndpoint registers a URL for periodic liveness probing.
func (h *EndpointHandler) CreateEndpoint(ctx context.Context, input *CreateEndpointInput) (*CreateEndpointOutput, error) {
	endpoint, err := h.monitorSvc.AddEndpoint(ctx, input.Body.Organiser, input.Body.Name, input.Body.URL, input.Body.IntervalMinutes)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &CreateEndpointOutput{Status: http.StatusCreated}
	out.Body.Endpoint = endpoint
	return out, nil
}

// GetEndpointHistoryInput represents a probe history lookup.
type GetEndpointHistoryInput struct {
	ID    string `path:"id" doc:"Endpoint ID"`
	Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// GetEndpointHistoryOutput represents probe history, newest first.
type GetEndpointHistoryOutput struct {
	Body struct {
		History []*models.EndpointStatusHistory `json:"history"`
	}
}

// GetEndpointHistory returns the probe log for an endpoint.
func (h *EndpointHandler) GetEndpointHistory(ctx context.Context, input *GetEndpointHistoryInput) (*GetEndpointHistoryOutput, error) {
	endpoint, err := h.endpoints.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get endpoint: " + err.Error())
	}
	if endpoint == nil {
		return nil, huma.Error404NotFound("endpoint not found")
	}

	history, err := h.endpoints.GetHistory(ctx, endpoint.ID, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get history: " + err.Error())
	}

	out := &GetEndpointHistoryOutput{}
	out.Body.History = history
	return out, nil
}

// SetEndpointEnabledInput represents an enable/disable request.
type SetEndpointEnabledInput struct {
	ID   string `path:"id" doc:"Endpoint ID"`
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// SetEndpointEnabledOutput represents the updated endpoint.
type SetEndpointEnabledOutput struct {
	Body struct {
		Endpoint *models.MonitoredEndpoint `json:"endpoint"`
	}
}

// SetEndpointEnabled enables or disables probing for an endpoint.
func (h *EndpointHandler) SetEndpointEnabled(ctx context.Context, input *SetEndpointEnabledInput) (*SetEndpointEnabledOutput, error) {
	endpoint, err := h.endpoints.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get endpoint: " + err.Error())
	}
	if endpoint == nil {
		return nil, huma.Error404NotFound("endpoint not found")
	}

	if err := h.endpoints.SetEnabled(ctx, endpoint.ID, input.Body.Enabled); err != nil {
		return nil, huma.Error500InternalServerError("failed to update endpoint: " + err.Error())
	}
	endpoint.Enabled = input.Body.Enabled

	out := &SetEndpointEnabledOutput{}
	out.Body.Endpoint = endpoint
	return out, nil
}

// RunChecksOutput reports how many endpoints a manual monitor pass probed.
type RunChecksOutput struct {
	Body struct {
		Checked int `json:"checked"`
	}
}

// RunChecks probes all due endpoints immediately instead of waiting for the
// worker tick. Admin trigger.
func (h *EndpointHandler) RunChecks(ctx context.Context, input *struct{}) (*RunChecksOutput, error) {
	checked, err := h.monitorSvc.RunChecks(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("monitor pass failed: " + err.Error())
	}

	out := &RunChecksOutput{}
	out.Body.Checked = checked
	return out, nil
}
