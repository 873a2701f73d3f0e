package models

import "time"

// ServerState is the lifecycle state of the scheduler server process.
type ServerState string

const (
	ServerRunning ServerState = "running"
	ServerStopped ServerState = "stopped"
)

// ProcessDescriptor is a snapshot of one OS process as seen by the process registry.
type ProcessDescriptor struct {
	PID       int32     `json:"pid"`
	Name      string    `json:"name"`
	Cmdline   string    `json:"cmdline"`
	CreatedAt time.Time `json:"createdAt"`
}

// ServerStatus describes the scheduler server as reported by the supervisor.
type ServerStatus struct {
	State     ServerState   `json:"state"`
	PID       int32         `json:"pid,omitempty"`
	Port      int           `json:"port"`
	URL       string        `json:"url"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Resources ResourceUsage `json:"resources"`
	LogFile   string        `json:"logFile"`
}

// ResourceUsage holds CPU percentage and resident memory of the server process.
type ResourceUsage struct {
	CPU      float64 `json:"cpu"`
	RSSBytes uint64  `json:"rssBytes"`
}
