package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver ("sqlite")
)

// Dialect identifies the SQL flavour behind a connection.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ErrUnsupportedURL is returned for connection strings with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported database URL")

// Target is a parsed connection string.
type Target struct {
	Dialect Dialect
	// Path is the database file for SQLite targets.
	Path string
	// DSN is what gets handed to sql.Open.
	DSN string
}

// ParseURL understands the connection strings used by the scheduler app:
// "sqlite:///./clinic.db", "sqlite:////abs/clinic.db", a bare file path, and
// "postgres://" / "postgresql://" URLs, optionally with a "+driver" suffix on
// the scheme ("postgresql+psycopg://"). Relative SQLite paths resolve against baseDir.
func ParseURL(raw, baseDir string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	}

	scheme, rest, hasScheme := strings.Cut(raw, "://")
	if !hasScheme {
		return sqliteTarget(raw, baseDir), nil
	}
	scheme, _, _ = strings.Cut(strings.ToLower(scheme), "+")

	switch scheme {
	case "sqlite", "sqlite3":
		// sqlite:///relative and sqlite:////absolute, as SQLAlchemy spells them.
		path := strings.TrimPrefix(rest, "/")
		if path == "" || path == ":memory:" {
			return Target{}, fmt.Errorf("%w: sqlite URL needs a file path", ErrUnsupportedURL)
		}
		return sqliteTarget(path, baseDir), nil
	case "postgres", "postgresql":
		u, err := url.Parse("postgres://" + rest)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
		}
		return Target{Dialect: Postgres, DSN: u.String()}, nil
	default:
		return Target{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, scheme)
	}
}

func sqliteTarget(path, baseDir string) Target {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	path = filepath.Clean(path)
	return Target{Dialect: SQLite, Path: path, DSN: path}
}

// Options tune how a connection is opened.
type Options struct {
	ReadOnly bool
	// MustExist refuses to create a missing SQLite file.
	MustExist bool
}

// New creates a new database connection pool for the target and pings it.
func New(ctx context.Context, t Target, opts Options) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch t.Dialect {
	case SQLite:
		if opts.MustExist {
			if _, statErr := os.Stat(t.Path); statErr != nil {
				return nil, statErr
			}
		}
		db, err = sql.Open("sqlite", t.DSN)
		if err != nil {
			return nil, err
		}
		// SQLite prefers a single connection; it also keeps per-connection pragmas in force.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
		if opts.ReadOnly {
			pragmas = append(pragmas, "PRAGMA query_only = ON")
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		}
	case Postgres:
		dsn := t.DSN
		if opts.ReadOnly {
			dsn = withQueryParam(dsn, "default_transaction_read_only", "on")
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(time.Minute)
	default:
		return nil, fmt.Errorf("%w: dialect %q", ErrUnsupportedURL, t.Dialect)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func withQueryParam(dsn, key, value string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// OpenJournal opens (creating if needed) the local operations journal and
// applies its schema.
func OpenJournal(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := New(ctx, Target{Dialect: SQLite, Path: path, DSN: path}, Options{})
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the journal schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

	CREATE TABLE IF NOT EXISTS archives (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		source TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		pruned_at DATETIME
	);
	`
	_, err := db.ExecContext(ctx, sqlStmt)
	return err
}
