// Package procreg is the narrow view of the operating system's process table
// that the supervisor works against.
package procreg

import (
	"context"
	"errors"

	"github.com/isdelr/clinicops/internal/models"
)

// ErrNoProcess is returned when a PID does not refer to a live process.
var ErrNoProcess = errors.New("process not found")

// SignalKind selects how a process is asked to stop.
type SignalKind int

const (
	// Terminate asks the process to exit (SIGTERM on Unix).
	Terminate SignalKind = iota
	// Kill ends the process without giving it a chance to clean up.
	Kill
)

func (k SignalKind) String() string {
	if k == Kill {
		return "kill"
	}
	return "terminate"
}

// SpawnSpec describes a detached background process.
type SpawnSpec struct {
	Command string
	Args    []string
	Env     []string // appended to the current environment
	Dir     string
	LogFile string // stdout and stderr are appended here
}

// Handle refers to a process started by Spawn.
type Handle struct {
	PID  int32
	done <-chan struct{}
}

// NewHandle builds a handle whose Exited reports true once done is closed.
func NewHandle(pid int32, done <-chan struct{}) *Handle {
	return &Handle{PID: pid, done: done}
}

// Exited reports whether the spawned process has already terminated.
func (h *Handle) Exited() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Registry lists, inspects, signals and spawns processes.
type Registry interface {
	List(ctx context.Context) ([]models.ProcessDescriptor, error)
	// Find returns ErrNoProcess when pid is not alive.
	Find(ctx context.Context, pid int32) (models.ProcessDescriptor, error)
	Signal(ctx context.Context, pid int32, kind SignalKind) error
	Spawn(ctx context.Context, spec SpawnSpec) (*Handle, error)
	// ListeningPID reports the process listening on a TCP port. The PID may be
	// zero when the owner is not visible to the current user.
	ListeningPID(ctx context.Context, port int) (pid int32, found bool, err error)
	Usage(ctx context.Context, pid int32) (models.ResourceUsage, error)
}
