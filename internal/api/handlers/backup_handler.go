package handlers

import (
	"context"
	"net/http"

	"github.com/isdelr/clinicops/internal/backup"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
)

// BackupRunner performs rotations with the daemon's configured settings.
type BackupRunner interface {
	Run(ctx context.Context) (backup.Result, error)
	Source() string
	Dir() string
}

// BackupHandler handles HTTP requests related to backups.
type BackupHandler struct {
	job BackupRunner
}

// NewBackupHandler creates a new BackupHandler.
func NewBackupHandler(job BackupRunner) *BackupHandler {
	return &BackupHandler{job: job}
}

// GetAll lists the archives currently on disk, newest first.
func (h *BackupHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	archives, err := backup.ListArchives(h.job.Dir(), h.job.Source())
	if err != nil {
		log.Error().Err(err).Str("dir", h.job.Dir()).Msg("Failed to list backups")
		http.Error(w, "Failed to list backups: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if archives == nil {
		archives = []models.Archive{}
	}
	writeJSON(w, http.StatusOK, archives)
}

// Create starts a rotation in the background.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	// Copying the database can take a while.
	go func() {
		if _, err := h.job.Run(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to create backup in background")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Backup creation started."})
}
