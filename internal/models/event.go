package models

import "time"

// Event represents a recorded operation or alert.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "server.restart", "backup.create"
	Level     string    `json:"level"` // e.g., "info", "warn", "error"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event types written to the journal.
const (
	EventServerRestart = "server.restart"
	EventServerStop    = "server.stop"
	EventServerDown    = "server.down"
	EventServerUp      = "server.up"
	EventServerCPU     = "server.alert.cpu"
	EventBackupCreate  = "backup.create"
	EventBackupPrune   = "backup.prune"
	EventDeployPublish = "deploy.publish"
)
