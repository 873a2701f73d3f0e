// Package publish commits pending changes of the application checkout and
// pushes them to the deployment remote.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotRepository = errors.New("not a git repository")
	ErrNoRemote      = errors.New("git remote is not configured")
	// ErrAlreadyUpToDate is returned by Repository.Push when the remote
	// already has every commit. Publish treats it as success.
	ErrAlreadyUpToDate = errors.New("already up to date")
)

// NextSteps is printed after a successful publish.
var NextSteps = []string{
	"Create a web service on your hosting platform from the pushed repository.",
	"Build command: pip install -r requirements.txt",
	"Start command: python run_production.py",
	"Set environment variables: DATABASE_URL, SECRET_KEY, DEBUG=false",
	"Provision a PostgreSQL database and copy its connection string into DATABASE_URL.",
	"Run the migrations and create the initial users once the service is up.",
}

// Repository is the version-control working tree being published.
type Repository interface {
	IsClean(ctx context.Context) (bool, error)
	// StageAll stages additions, modifications and deletions.
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)
	HasRemote(ctx context.Context, name string) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	Push(ctx context.Context, remote, branch string) error
}

// Result describes a finished publish.
type Result struct {
	Committed bool
	Commit    string
	Branch    string
	Remote    string
	UpToDate  bool
	NextSteps []string
}

// Publisher runs the commit-and-push sequence.
type Publisher struct {
	repo     Repository
	remote   string
	message  string
	recorder journal.Recorder
}

// New creates a Publisher. recorder may be nil.
func New(repo Repository, remote, message string, recorder journal.Recorder) *Publisher {
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Publisher{repo: repo, remote: remote, message: message, recorder: recorder}
}

// Publish commits the working tree if it is dirty, verifies the remote and
// pushes the current branch. A clean tree skips the commit but still pushes.
func (p *Publisher) Publish(ctx context.Context) (Result, error) {
	res := Result{Remote: p.remote}

	clean, err := p.repo.IsClean(ctx)
	if err != nil {
		return res, opserr.New(opserr.Operational, "publish", fmt.Errorf("reading status: %w", err), "")
	}
	if clean {
		log.Info().Msg("Working tree clean, nothing to commit")
	} else {
		if err := p.repo.StageAll(ctx); err != nil {
			return res, opserr.New(opserr.Operational, "publish", fmt.Errorf("staging changes: %w", err), "")
		}
		hash, err := p.repo.Commit(ctx, p.message)
		if err != nil {
			return res, opserr.New(opserr.Operational, "publish", fmt.Errorf("committing: %w", err), "")
		}
		res.Committed = true
		res.Commit = hash
		log.Info().Str("commit", hash).Msg("Committed pending changes")
	}

	ok, err := p.repo.HasRemote(ctx, p.remote)
	if err != nil {
		return res, opserr.New(opserr.Operational, "publish", err, "")
	}
	if !ok {
		return res, opserr.New(opserr.Precondition, "publish",
			fmt.Errorf("%w: %q", ErrNoRemote, p.remote),
			fmt.Sprintf("add one with: git remote add %s <repository-url>", p.remote))
	}

	res.Branch, err = p.repo.CurrentBranch(ctx)
	if err != nil {
		return res, opserr.New(opserr.Precondition, "publish", err, "commit at least once and check out a branch")
	}

	log.Info().Str("remote", p.remote).Str("branch", res.Branch).Msg("Pushing")
	switch err := p.repo.Push(ctx, p.remote, res.Branch); {
	case errors.Is(err, ErrAlreadyUpToDate):
		res.UpToDate = true
	case err != nil:
		p.record(ctx, "error", fmt.Sprintf("Push of %s to %s failed: %v", res.Branch, p.remote, err))
		return res, opserr.New(opserr.Operational, "publish", fmt.Errorf("pushing: %w", err),
			"check network access and credentials (GIT_USERNAME / GIT_TOKEN)")
	}

	msg := fmt.Sprintf("Published branch %s to %s.", res.Branch, p.remote)
	if res.Committed {
		msg = fmt.Sprintf("Published commit %s on %s to %s.", shortHash(res.Commit), res.Branch, p.remote)
	}
	p.record(ctx, "info", msg)
	res.NextSteps = NextSteps
	return res, nil
}

func (p *Publisher) record(ctx context.Context, level, msg string) {
	if err := p.recorder.Record(ctx, models.EventDeployPublish, level, msg); err != nil {
		log.Warn().Err(err).Msg("Could not write journal event")
	}
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
