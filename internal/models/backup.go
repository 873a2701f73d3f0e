package models

import "time"

// Archive is an immutable snapshot of the live database file.
type Archive struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Path      string    `json:"-"` // Internal use, not exposed to client
	Source    string    `json:"source"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
