package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/isdelr/clinicops/internal/models"
)

const stampLayout = "20060102_150405"

// maxCollisions bounds the "_n" suffixes tried for one second.
const maxCollisions = 1000

// namePattern derives archive names for one source file.
type namePattern struct {
	base string // source name without extension
	ext  string // extension including the dot, may be empty
	re   *regexp.Regexp
}

func newNamePattern(sourceName string) namePattern {
	ext := filepath.Ext(sourceName)
	base := strings.TrimSuffix(sourceName, ext)
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `_(\d{8}_\d{6})(?:_(\d+))?` + regexp.QuoteMeta(ext) + `$`)
	return namePattern{base: base, ext: ext, re: re}
}

// name stamps archives in UTC so the embedded time orders correctly across
// daylight-saving changes.
func (p namePattern) name(at time.Time, seq int) string {
	stamp := at.UTC().Format(stampLayout)
	if seq == 0 {
		return fmt.Sprintf("%s_%s%s", p.base, stamp, p.ext)
	}
	return fmt.Sprintf("%s_%s_%d%s", p.base, stamp, seq, p.ext)
}

// parse extracts the capture time and collision sequence from an archive name.
func (p namePattern) parse(name string) (time.Time, int, bool) {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, 0, false
	}
	at, err := time.ParseInLocation(stampLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, 0, false
	}
	seq := 0
	if m[2] != "" {
		seq, _ = strconv.Atoi(m[2])
	}
	return at, seq, true
}

// freeArchivePath picks the first unused name for a capture at the given
// second. Two rotations within one second get "_1", "_2", ... suffixes
// instead of overwriting each other.
func freeArchivePath(dir string, p namePattern, at time.Time) (string, error) {
	for seq := 0; seq < maxCollisions; seq++ {
		path := filepath.Join(dir, p.name(at, seq))
		_, err := os.Lstat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return path, nil
		case err != nil:
			return "", fmt.Errorf("checking archive name: %w", err)
		}
	}
	return "", fmt.Errorf("more than %d archives captured at %s", maxCollisions, at.UTC().Format(stampLayout))
}

type archiveEntry struct {
	archive models.Archive
	seq     int
	modTime time.Time
}

// listArchives returns the archives of one source in dir, newest first.
// Ordering uses the timestamp embedded in the name, then the collision
// sequence, then the file's modification time.
func listArchives(dir string, p namePattern) ([]models.Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var found []archiveEntry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		at, seq, ok := p.parse(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, archiveEntry{
			archive: models.Archive{
				Name:      e.Name(),
				Path:      filepath.Join(dir, e.Name()),
				Size:      info.Size(),
				CreatedAt: at,
			},
			seq:     seq,
			modTime: info.ModTime(),
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if !a.archive.CreatedAt.Equal(b.archive.CreatedAt) {
			return a.archive.CreatedAt.After(b.archive.CreatedAt)
		}
		if a.seq != b.seq {
			return a.seq > b.seq
		}
		return a.modTime.After(b.modTime)
	})

	archives := make([]models.Archive, len(found))
	for i, f := range found {
		archives[i] = f.archive
	}
	return archives, nil
}

// ListArchives returns the archives of the given source file found in dir,
// newest first.
func ListArchives(dir, source string) ([]models.Archive, error) {
	archives, err := listArchives(dir, newNamePattern(filepath.Base(source)))
	for i := range archives {
		archives[i].Source = source
	}
	return archives, err
}
