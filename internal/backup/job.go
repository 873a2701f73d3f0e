package backup

import (
	"context"
	"sync"
)

// Job is a rotation with fixed settings. Concurrent calls to Run are
// serialised, so the scheduler and the status API never rotate at once.
type Job struct {
	mu      sync.Mutex
	rotator *Rotator
	source  string
	dir     string
	retain  int
}

func NewJob(rotator *Rotator, source, dir string, retain int) *Job {
	return &Job{rotator: rotator, source: source, dir: dir, retain: retain}
}

func (j *Job) Run(ctx context.Context) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rotator.Rotate(ctx, j.source, j.dir, j.retain)
}

// Source is the database file being archived.
func (j *Job) Source() string { return j.source }

// Dir is the directory holding the archives.
func (j *Job) Dir() string { return j.dir }
