package procreg

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/isdelr/clinicops/internal/models"
)

// FakeProcess is one entry of a Fake process table.
type FakeProcess struct {
	models.ProcessDescriptor
	Port            int  // listening TCP port, 0 for none
	IgnoreTerminate bool // survives Terminate
	Unkillable      bool // survives Kill
}

// SignalCall records a Signal invocation on a Fake.
type SignalCall struct {
	PID  int32
	Kind SignalKind
}

// Fake is an in-memory Registry for tests.
type Fake struct {
	mu      sync.Mutex
	procs   map[int32]*FakeProcess
	exited  map[int32]chan struct{}
	nextPID int32

	Signals []SignalCall
	Spawned []SpawnSpec

	// SpawnErr makes Spawn fail.
	SpawnErr error
	// SpawnExits makes spawned processes die immediately.
	SpawnExits bool
	// SpawnPort is the port a spawned process listens on, 0 for none.
	SpawnPort int
	// SpawnUnkillable makes spawned processes survive every signal.
	SpawnUnkillable bool
}

// NewFake returns a Fake holding the given processes.
func NewFake(procs ...FakeProcess) *Fake {
	f := &Fake{
		procs:   make(map[int32]*FakeProcess),
		exited:  make(map[int32]chan struct{}),
		nextPID: 5000,
	}
	for _, p := range procs {
		f.Add(p)
	}
	return f
}

// Add inserts or replaces a process.
func (f *Fake) Add(p FakeProcess) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	f.procs[p.PID] = &p
}

// Alive reports whether pid is in the table.
func (f *Fake) Alive(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

// Exit removes pid as if the process ended on its own.
func (f *Fake) Exit(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remove(pid)
}

func (f *Fake) remove(pid int32) {
	delete(f.procs, pid)
	if ch, ok := f.exited[pid]; ok {
		close(ch)
		delete(f.exited, pid)
	}
}

func (f *Fake) List(context.Context) ([]models.ProcessDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ProcessDescriptor, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p.ProcessDescriptor)
	}
	return out, nil
}

func (f *Fake) Find(_ context.Context, pid int32) (models.ProcessDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return models.ProcessDescriptor{}, ErrNoProcess
	}
	return p.ProcessDescriptor, nil
}

func (f *Fake) Signal(_ context.Context, pid int32, kind SignalKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Signals = append(f.Signals, SignalCall{PID: pid, Kind: kind})
	p, ok := f.procs[pid]
	if !ok {
		return ErrNoProcess
	}
	switch {
	case kind == Terminate && p.IgnoreTerminate:
	case kind == Kill && p.Unkillable:
	default:
		f.remove(pid)
	}
	return nil
}

func (f *Fake) Spawn(_ context.Context, spec SpawnSpec) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Spawned = append(f.Spawned, spec)
	if f.SpawnErr != nil {
		return nil, f.SpawnErr
	}
	if spec.Command == "" {
		return nil, errors.New("empty command")
	}

	f.nextPID++
	pid := f.nextPID
	done := make(chan struct{})
	if f.SpawnExits {
		close(done)
		return NewHandle(pid, done), nil
	}
	f.procs[pid] = &FakeProcess{
		ProcessDescriptor: models.ProcessDescriptor{
			PID:       pid,
			Name:      spec.Command,
			Cmdline:   strings.Join(append([]string{spec.Command}, spec.Args...), " "),
			CreatedAt: time.Now(),
		},
		Port:            f.SpawnPort,
		IgnoreTerminate: f.SpawnUnkillable,
		Unkillable:      f.SpawnUnkillable,
	}
	f.exited[pid] = done
	return NewHandle(pid, done), nil
}

func (f *Fake) ListeningPID(_ context.Context, port int) (int32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pid, p := range f.procs {
		if p.Port == port && port != 0 {
			return pid, true, nil
		}
	}
	return 0, false, nil
}

func (f *Fake) Usage(_ context.Context, pid int32) (models.ResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return models.ResourceUsage{}, ErrNoProcess
	}
	return models.ResourceUsage{CPU: 1.5, RSSBytes: 64 << 20}, nil
}
