package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/rs/zerolog/log"
)

// DefaultRetain is how many archives are kept when no retention is given.
const DefaultRetain = 10

var (
	ErrSourceMissing  = errors.New("database file not found")
	ErrSourceNotFile  = errors.New("database path is not a regular file")
	ErrHostedDatabase = errors.New("database is not a local file")
)

// Catalog stores archive metadata next to the files themselves.
type Catalog interface {
	AddArchive(ctx context.Context, a *models.Archive) error
	MarkPruned(ctx context.Context, path string) error
}

// Result describes one rotation.
type Result struct {
	Archive models.Archive
	Kept    []models.Archive
	Removed []models.Archive
	// PruneErr is set when retention could not delete every old archive.
	// The new archive was still written, so Rotate does not fail.
	PruneErr error
}

// Rotator copies the live database into timestamped archives and enforces
// the retention window.
type Rotator struct {
	recorder journal.Recorder
	catalog  Catalog
	now      func() time.Time
	remove   func(string) error
}

// NewRotator creates a Rotator. Either argument may be nil.
func NewRotator(recorder journal.Recorder, catalog Catalog) *Rotator {
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Rotator{recorder: recorder, catalog: catalog, now: time.Now, remove: os.Remove}
}

// CheckFileBacked refuses hosted databases: a file copy of a client/server
// database is meaningless, those need the store's own export tooling.
func CheckFileBacked(t database.Target) error {
	if t.Dialect == database.SQLite {
		return nil
	}
	return opserr.New(opserr.Precondition, "backup",
		fmt.Errorf("%w (%s)", ErrHostedDatabase, t.Dialect),
		"use the database's native export (e.g. pg_dump) for hosted databases")
}

// Rotate copies source into destDir as <base>_<YYYYMMDD_HHMMSS>.<ext> and then
// deletes all but the retain newest archives of that source.
//
// The copy is taken while the server may be writing; for an embedded SQLite
// file this is a cold copy and can capture a half-applied transaction.
func (r *Rotator) Rotate(ctx context.Context, source, destDir string, retain int) (Result, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}

	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, opserr.New(opserr.Precondition, "backup",
				fmt.Errorf("%w: %s", ErrSourceMissing, source),
				"check BACKUP_SOURCE / DATABASE_URL and run from the application directory")
		}
		return Result{}, opserr.New(opserr.Precondition, "backup", err, "")
	}
	if !info.Mode().IsRegular() {
		return Result{}, opserr.New(opserr.Precondition, "backup",
			fmt.Errorf("%w: %s", ErrSourceNotFile, source), "")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, opserr.New(opserr.Operational, "backup", fmt.Errorf("creating backup directory: %w", err), "")
	}

	pattern := newNamePattern(filepath.Base(source))
	capturedAt := r.now()
	dest, err := freeArchivePath(destDir, pattern, capturedAt)
	if err != nil {
		r.record(ctx, models.EventBackupCreate, "error", fmt.Sprintf("Backup of %s failed: %v", source, err))
		return Result{}, opserr.New(opserr.Operational, "backup", err, "check the backup directory and the length of the database file name")
	}

	size, err := copyAtomic(source, dest, info.Mode().Perm())
	if err != nil {
		r.record(ctx, models.EventBackupCreate, "error", fmt.Sprintf("Backup of %s failed: %v", source, err))
		return Result{}, opserr.New(opserr.Operational, "backup", err, "check free disk space and permissions on the backup directory")
	}

	archive := models.Archive{
		Name:      filepath.Base(dest),
		Path:      dest,
		Source:    source,
		Size:      size,
		CreatedAt: capturedAt,
	}
	if r.catalog != nil {
		if err := r.catalog.AddArchive(ctx, &archive); err != nil {
			log.Warn().Err(err).Str("archive", archive.Name).Msg("Could not record archive in journal")
		}
	}
	log.Info().Str("archive", dest).Int64("size", size).Msg("Backup created")
	r.record(ctx, models.EventBackupCreate, "info", fmt.Sprintf("Backup '%s' created (%d bytes).", archive.Name, size))

	kept, removed, pruneErr := r.prune(ctx, destDir, pattern, retain)
	res := Result{Archive: archive, Kept: kept, Removed: removed, PruneErr: pruneErr}
	if pruneErr != nil {
		log.Warn().Err(pruneErr).Str("dir", destDir).Msg("Could not prune old backups")
		r.record(ctx, models.EventBackupPrune, "warn", fmt.Sprintf("Retention incomplete: %v", pruneErr))
	}
	return res, nil
}

func (r *Rotator) prune(ctx context.Context, dir string, p namePattern, retain int) ([]models.Archive, []models.Archive, error) {
	archives, err := listArchives(dir, p)
	if err != nil {
		return nil, nil, err
	}
	if len(archives) <= retain {
		return archives, nil, nil
	}

	kept := archives[:retain]
	var (
		removed []models.Archive
		errs    []error
	)
	for _, a := range archives[retain:] {
		if err := r.remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", a.Name, err))
			continue
		}
		removed = append(removed, a)
		if r.catalog != nil {
			if err := r.catalog.MarkPruned(ctx, a.Path); err != nil {
				log.Warn().Err(err).Str("archive", a.Name).Msg("Could not mark archive pruned in journal")
			}
		}
		log.Info().Str("archive", a.Path).Msg("Pruned backup outside retention window")
	}
	if len(removed) > 0 {
		r.record(ctx, models.EventBackupPrune, "info",
			fmt.Sprintf("Pruned %d backup(s), keeping the newest %d.", len(removed), retain))
	}
	return kept, removed, errors.Join(errs...)
}

func (r *Rotator) record(ctx context.Context, eventType, level, msg string) {
	if err := r.recorder.Record(ctx, eventType, level, msg); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Could not write journal event")
	}
}

// copyAtomic copies src to a hidden temp file next to dst, syncs it and
// renames it into place, so dst either holds the full copy or does not exist.
func copyAtomic(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, in)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, perm)
	}
	if err == nil {
		err = os.Rename(tmpName, dst)
	}
	if err != nil {
		os.Remove(tmpName) // Clean up partial file
		return 0, fmt.Errorf("copying %s: %w", filepath.Base(src), err)
	}
	return n, nil
}
