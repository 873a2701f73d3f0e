package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
)

// StatusProvider reports the scheduler server's state.
type StatusProvider interface {
	Status(ctx context.Context) (models.ServerStatus, error)
}

// ServerHandler handles HTTP requests related to the scheduler server.
type ServerHandler struct {
	service StatusProvider
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(service StatusProvider) *ServerHandler {
	return &ServerHandler{service: service}
}

// Get handles the request for the server's current status.
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read server status")
		http.Error(w, "Failed to read server status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
