package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
)

// EventSource reads the operations journal.
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]models.Event, error)
}

// EventHandler handles HTTP requests related to journal events.
type EventHandler struct {
	service EventSource
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service EventSource) *EventHandler {
	return &EventHandler{service: service}
}

// GetRecent handles the request to get recent activity/events.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 20 // Default limit
	}

	events, err := h.service.RecentEvents(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve events")
		http.Error(w, "Failed to retrieve events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
