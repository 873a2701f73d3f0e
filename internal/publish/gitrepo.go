package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/isdelr/clinicops/internal/opserr"
)

const (
	fallbackAuthor = "clinicops"
	fallbackEmail  = "clinicops@localhost"
)

// GitRepo is a Repository backed by go-git.
type GitRepo struct {
	repo     *git.Repository
	worktree *git.Worktree
	auth     transport.AuthMethod
	// excluded are slash-separated paths relative to the worktree root that
	// never count as changes and are never staged.
	excluded []string
}

// Open finds the repository containing dir, walking up to parent directories.
// Username and token, when token is set, authenticate pushes over HTTPS.
func Open(dir, username, token string) (*GitRepo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, opserr.New(opserr.Precondition, "publish",
				fmt.Errorf("%w: %s", ErrNotRepository, dir),
				"initialise it first: git init && git add . && git commit -m 'Initial commit'")
		}
		return nil, opserr.New(opserr.Operational, "publish", err, "")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, opserr.New(opserr.Precondition, "publish", fmt.Errorf("%w: %w", ErrNotRepository, err), "")
	}

	r := &GitRepo{repo: repo, worktree: wt}
	if token != "" {
		if username == "" {
			username = "git"
		}
		r.auth = &http.BasicAuth{Username: username, Password: token}
	}
	return r, nil
}

// Exclude keeps paths (absolute, or relative to the worktree root) out of
// status checks and staging. A directory excludes everything below it. Paths
// outside the worktree, and the root itself, are ignored.
func (r *GitRepo) Exclude(paths ...string) {
	root := r.worktree.Filesystem.Root()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				continue
			}
			p = rel
		}
		p = filepath.ToSlash(filepath.Clean(p))
		if p == "." || p == ".." || strings.HasPrefix(p, "../") {
			continue
		}
		r.excluded = append(r.excluded, p)
	}
}

func (r *GitRepo) isExcluded(path string) bool {
	for _, e := range r.excluded {
		if path == e || strings.HasPrefix(path, e+"/") {
			return true
		}
	}
	return false
}

func (r *GitRepo) IsClean(_ context.Context) (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, err
	}
	for path, fs := range status {
		if r.isExcluded(path) {
			continue
		}
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			return false, nil
		}
	}
	return true, nil
}

// StageAll stages every changed path, deletions included, except excluded ones.
func (r *GitRepo) StageAll(_ context.Context) error {
	status, err := r.worktree.Status()
	if err != nil {
		return err
	}
	for path, fs := range status {
		if r.isExcluded(path) {
			continue
		}
		switch fs.Worktree {
		case git.Unmodified:
		case git.Deleted:
			if _, err := r.worktree.Remove(path); err != nil {
				return fmt.Errorf("staging deletion of %s: %w", path, err)
			}
		default:
			if _, err := r.worktree.Add(path); err != nil {
				return fmt.Errorf("staging %s: %w", path, err)
			}
		}
	}
	return nil
}

func (r *GitRepo) Commit(_ context.Context, message string) (string, error) {
	sig := r.signature()
	hash, err := r.worktree.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// signature uses user.name and user.email from git config, falling back to
// a fixed identity so a fresh host can still publish.
func (r *GitRepo) signature() *object.Signature {
	sig := &object.Signature{Name: fallbackAuthor, Email: fallbackEmail, When: time.Now()}
	cfg, err := r.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}

func (r *GitRepo) HasRemote(_ context.Context, name string) (bool, error) {
	_, err := r.repo.Remote(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, git.ErrRemoteNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (r *GitRepo) CurrentBranch(_ context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", errors.New("HEAD is detached")
	}
	return head.Name().Short(), nil
}

func (r *GitRepo) Push(ctx context.Context, remote, branch string) error {
	spec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       r.auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return ErrAlreadyUpToDate
	}
	return err
}
