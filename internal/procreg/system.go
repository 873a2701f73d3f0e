package procreg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// System is the Registry backed by the host's process table.
type System struct{}

// NewSystem returns the host process registry.
func NewSystem() *System { return &System{} }

func (System) List(ctx context.Context) ([]models.ProcessDescriptor, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	out := make([]models.ProcessDescriptor, 0, len(procs))
	for _, p := range procs {
		d, err := describe(ctx, p)
		if err != nil {
			// Processes exit between listing and inspection.
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (System) Find(ctx context.Context, pid int32) (models.ProcessDescriptor, error) {
	p, err := lookup(ctx, pid)
	if err != nil {
		return models.ProcessDescriptor{}, err
	}
	d, err := describe(ctx, p)
	if err != nil {
		return models.ProcessDescriptor{}, ErrNoProcess
	}
	return d, nil
}

func (System) Signal(ctx context.Context, pid int32, kind SignalKind) error {
	p, err := lookup(ctx, pid)
	if err != nil {
		return err
	}
	if kind == Kill {
		err = p.KillWithContext(ctx)
	} else {
		err = p.TerminateWithContext(ctx)
	}
	if err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return ErrNoProcess
		}
		return fmt.Errorf("sending %s to pid %d: %w", kind, pid, err)
	}
	return nil
}

// Spawn starts the process in its own session so it survives the invoking
// shell. The returned handle's Exited turns true when the child terminates.
func (System) Spawn(_ context.Context, spec SpawnSpec) (*Handle, error) {
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", spec.Command, err)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = detachAttr()

	var logFile *os.File
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		logFile, err = os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		defer logFile.Close()
		fmt.Fprintf(logFile, "\n=== %s starting %s ===\n", time.Now().Format(time.RFC3339), spec.Command)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %q: %w", spec.Command, err)
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		log.Debug().Err(err).Int("pid", cmd.Process.Pid).Msg("Spawned process exited")
		close(done)
	}()
	return NewHandle(int32(cmd.Process.Pid), done), nil
}

func (System) ListeningPID(ctx context.Context, port int) (int32, bool, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, false, fmt.Errorf("listing connections: %w", err)
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) {
			return c.Pid, true, nil
		}
	}
	return 0, false, nil
}

func (System) Usage(ctx context.Context, pid int32) (models.ResourceUsage, error) {
	p, err := lookup(ctx, pid)
	if err != nil {
		return models.ResourceUsage{}, err
	}
	var usage models.ResourceUsage
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		usage.CPU = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		usage.RSSBytes = mem.RSS
	}
	return usage, nil
}

func lookup(ctx context.Context, pid int32) (*process.Process, error) {
	if pid <= 0 {
		return nil, ErrNoProcess
	}
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrNoProcess
		}
		return nil, err
	}
	// A zombie has exited and only waits to be reaped.
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return nil, ErrNoProcess
	}
	return p, nil
}

func describe(ctx context.Context, p *process.Process) (models.ProcessDescriptor, error) {
	if running, err := p.IsRunningWithContext(ctx); err != nil || !running {
		return models.ProcessDescriptor{}, ErrNoProcess
	}
	d := models.ProcessDescriptor{PID: p.Pid}
	d.Name, _ = p.NameWithContext(ctx)
	d.Cmdline, _ = p.CmdlineWithContext(ctx)
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		d.CreatedAt = time.UnixMilli(ms)
	}
	return d, nil
}
