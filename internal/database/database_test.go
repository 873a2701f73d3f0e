package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	base := "/srv/clinic"
	tests := []struct {
		name    string
		raw     string
		dialect Dialect
		path    string
		dsn     string
	}{
		{"sqlalchemy relative", "sqlite:///./clinic_scheduler.db", SQLite, "/srv/clinic/clinic_scheduler.db", ""},
		{"sqlalchemy absolute", "sqlite:////data/clinic.db", SQLite, "/data/clinic.db", ""},
		{"bare path", "clinic_scheduler.db", SQLite, "/srv/clinic/clinic_scheduler.db", ""},
		{"postgres", "postgres://app:pw@db:5432/clinic", Postgres, "", "postgres://app:pw@db:5432/clinic"},
		{"postgresql with driver", "postgresql+psycopg://app:pw@localhost:5432/clinic_scheduler", Postgres, "", "postgres://app:pw@localhost:5432/clinic_scheduler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw, base)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, got.Dialect)
			if tt.path != "" {
				assert.Equal(t, filepath.Clean(tt.path), got.Path)
			}
			if tt.dsn != "" {
				assert.Equal(t, tt.dsn, got.DSN)
			}
		})
	}
}

func TestParseURLRejects(t *testing.T) {
	for _, raw := range []string{"", "mysql://root@db/clinic", "sqlite://"} {
		_, err := ParseURL(raw, "/tmp")
		assert.ErrorIs(t, err, ErrUnsupportedURL, raw)
	}
}

func TestNewSQLiteMustExist(t *testing.T) {
	target := Target{Dialect: SQLite, Path: filepath.Join(t.TempDir(), "missing.db")}
	target.DSN = target.Path

	_, err := New(context.Background(), target, Options{MustExist: true})
	require.Error(t, err)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clinic.db")
	target := Target{Dialect: SQLite, Path: path, DSN: path}

	rw, err := New(ctx, target, Options{})
	require.NoError(t, err)
	_, err = rw.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := New(ctx, target, Options{ReadOnly: true, MustExist: true})
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.ExecContext(ctx, "INSERT INTO users (id) VALUES (1)")
	assert.Error(t, err)
}

func TestOpenJournalMigrates(t *testing.T) {
	ctx := context.Background()
	db, err := OpenJournal(ctx, filepath.Join(t.TempDir(), "ops", "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('events','archives')").Scan(&n))
	assert.Equal(t, 2, n)

	// Migrations are idempotent.
	require.NoError(t, Migrate(ctx, db))
}
