// Package journal keeps a local record of what the operations commands did:
// restarts, backups, prunes and deploys.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/clinicops/internal/models"
)

// Recorder is what components need to report their outcomes.
type Recorder interface {
	Record(ctx context.Context, eventType, level, message string) error
}

// Journal reads and writes the events and archives tables.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an opened and migrated journal database.
func New(db *sql.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record logs a new event to the database.
func (j *Journal) Record(ctx context.Context, eventType, level, message string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		CreatedAt: j.now().UTC(),
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO events (id, type, level, message, created_at) VALUES (?, ?, ?, ?, ?)",
		event.ID, event.Type, event.Level, event.Message, event.CreatedAt)
	return err
}

// RecentEvents retrieves the most recent events, newest first.
func (j *Journal) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, type, level, message, created_at FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// AddArchive records a freshly written archive and assigns its ID.
func (j *Journal) AddArchive(ctx context.Context, a *models.Archive) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO archives (id, name, path, source, size, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		a.ID, a.Name, a.Path, a.Source, a.Size, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording archive %s: %w", a.Name, err)
	}
	return nil
}

// MarkPruned flags the archive stored at path as removed by retention.
func (j *Journal) MarkPruned(ctx context.Context, path string) error {
	_, err := j.db.ExecContext(ctx,
		"UPDATE archives SET pruned_at = ? WHERE path = ? AND pruned_at IS NULL", j.now().UTC(), path)
	return err
}

// LiveArchives lists archives that have not been pruned, newest first.
func (j *Journal) LiveArchives(ctx context.Context) ([]models.Archive, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, name, path, source, size, created_at FROM archives WHERE pruned_at IS NULL ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var archives []models.Archive
	for rows.Next() {
		var a models.Archive
		if err := rows.Scan(&a.ID, &a.Name, &a.Path, &a.Source, &a.Size, &a.CreatedAt); err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// Nop discards events. Commands use it when the journal cannot be opened so
// that a broken journal never blocks a restart or a backup.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string) error { return nil }
