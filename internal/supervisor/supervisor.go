// Package supervisor restarts, stops and reports on the scheduler server
// process running on this host.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/isdelr/clinicops/internal/config"
	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/isdelr/clinicops/internal/procreg"
	"github.com/rs/zerolog/log"
)

var (
	ErrRestartInProgress = errors.New("another restart or stop is in progress")
	ErrPortBusy          = errors.New("port is held by another program")
	ErrStopFailed        = errors.New("server process did not exit")
	ErrStartFailed       = errors.New("server failed to start")
)

var errExited = errors.New("process exited during startup")

// Options controls how the server is launched and recognised.
type Options struct {
	Command      []string
	Dir          string
	Env          []string
	Host         string
	Port         int
	LogFile      string
	PidFile      string
	Signature    string
	MatchCmdline bool
	StopTimeout  time.Duration
	StartTimeout time.Duration
	PollInterval time.Duration
}

// OptionsFromConfig resolves the server section of cfg against its working directory.
func OptionsFromConfig(cfg *config.Config) Options {
	sc := cfg.Server
	return Options{
		Command:      sc.Command,
		Dir:          cfg.WorkDir,
		Env:          cfg.ServerEnv(),
		Host:         sc.Host,
		Port:         sc.Port,
		LogFile:      cfg.Path(sc.LogFile),
		PidFile:      cfg.Path(sc.PidFile),
		Signature:    sc.Signature,
		MatchCmdline: sc.MatchCmdline,
		StopTimeout:  sc.StopTimeout.Std(),
		StartTimeout: sc.StartTimeout.Std(),
		PollInterval: sc.PollInterval.Std(),
	}
}

// URL is the address operators use to reach the server.
func (o Options) URL() string {
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, o.Port)
}

// RestartResult describes a confirmed restart.
type RestartResult struct {
	Stopped []models.ProcessDescriptor
	PID     int32
	URL     string
	LogFile string
}

// Supervisor manages the single scheduler server instance.
type Supervisor struct {
	reg      procreg.Registry
	opts     Options
	recorder journal.Recorder
	now      func() time.Time
}

// New creates a Supervisor. recorder may be nil.
func New(reg procreg.Registry, opts Options, recorder journal.Recorder) *Supervisor {
	if recorder == nil {
		recorder = journal.Nop{}
	}
	return &Supervisor{reg: reg, opts: opts, recorder: recorder, now: time.Now}
}

// EnsureRestarted stops every running instance of the server, launches a new
// detached one and waits until it is alive and listening. A failed start is
// reported, never retried.
func (s *Supervisor) EnsureRestarted(ctx context.Context) (RestartResult, error) {
	unlock, err := s.lock()
	if err != nil {
		return RestartResult{}, err
	}
	defer unlock()

	res := RestartResult{URL: s.opts.URL(), LogFile: s.opts.LogFile}

	instances, err := s.findInstances(ctx)
	if err != nil {
		return res, s.fail(ctx, models.EventServerRestart, err)
	}
	if len(instances) == 0 {
		log.Info().Msg("No running server found")
	}
	res.Stopped, err = s.stopAll(ctx, instances)
	if err != nil {
		return res, s.fail(ctx, models.EventServerRestart, err)
	}
	if err := s.checkPortFree(ctx); err != nil {
		return res, s.fail(ctx, models.EventServerRestart, err)
	}

	handle, err := s.launch(ctx)
	if err != nil {
		return res, s.fail(ctx, models.EventServerRestart, err)
	}
	res.PID = handle.PID

	if err := s.confirm(ctx, handle); err != nil {
		s.abandon(ctx, handle)
		return res, s.fail(ctx, models.EventServerRestart, err)
	}

	log.Info().Int32("pid", handle.PID).Int("port", s.opts.Port).Msg("Server restarted")
	s.record(ctx, models.EventServerRestart, "info",
		fmt.Sprintf("Server restarted (PID %d), available at %s.", handle.PID, res.URL))
	return res, nil
}

// Stop terminates every running instance and removes the PID file. Stopping
// a server that is not running is not an error.
func (s *Supervisor) Stop(ctx context.Context) ([]models.ProcessDescriptor, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	instances, err := s.findInstances(ctx)
	if err != nil {
		return nil, s.fail(ctx, models.EventServerStop, err)
	}
	stopped, err := s.stopAll(ctx, instances)
	if err != nil {
		return stopped, s.fail(ctx, models.EventServerStop, err)
	}
	removePIDFile(s.opts.PidFile)
	if len(stopped) > 0 {
		s.record(ctx, models.EventServerStop, "info", fmt.Sprintf("Stopped %d server process(es).", len(stopped)))
	}
	return stopped, nil
}

// Status reports whether the server is running and, if so, its resource usage.
func (s *Supervisor) Status(ctx context.Context) (models.ServerStatus, error) {
	status := models.ServerStatus{
		State:   models.ServerStopped,
		Port:    s.opts.Port,
		URL:     s.opts.URL(),
		LogFile: s.opts.LogFile,
	}
	instances, err := s.findInstances(ctx)
	if err != nil {
		return status, err
	}
	if len(instances) == 0 {
		return status, nil
	}

	proc := instances[0]
	status.State = models.ServerRunning
	status.PID = proc.PID
	if !proc.CreatedAt.IsZero() {
		status.Uptime = s.now().Sub(proc.CreatedAt).Truncate(time.Second)
	}
	if usage, err := s.reg.Usage(ctx, proc.PID); err == nil {
		status.Resources = usage
	} else {
		log.Debug().Err(err).Int32("pid", proc.PID).Msg("Could not read resource usage")
	}
	return status, nil
}

func (s *Supervisor) lock() (func(), error) {
	lockPath := s.opts.PidFile + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, opserr.New(opserr.Operational, "lock", fmt.Errorf("creating state directory: %w", err), "")
	}
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, opserr.New(opserr.Operational, "lock", fmt.Errorf("acquiring lock: %w", err), "")
	}
	if !locked {
		return nil, opserr.New(opserr.Precondition, "lock", ErrRestartInProgress,
			"wait for the other clinicops command to finish, then try again")
	}
	return func() { _ = fileLock.Unlock() }, nil
}

func (s *Supervisor) matches(d models.ProcessDescriptor) bool {
	return s.opts.Signature == "" || strings.Contains(d.Cmdline, s.opts.Signature)
}

// findInstances looks for the server through the PID file, then the owner of
// the configured port, then (only when enabled) a command-line scan.
func (s *Supervisor) findInstances(ctx context.Context) ([]models.ProcessDescriptor, error) {
	var found []models.ProcessDescriptor
	seen := make(map[int32]bool)
	add := func(d models.ProcessDescriptor) {
		if !seen[d.PID] {
			seen[d.PID] = true
			found = append(found, d)
		}
	}

	if pid := readPIDFile(s.opts.PidFile); pid != 0 {
		d, err := s.reg.Find(ctx, pid)
		switch {
		case err == nil && s.matches(d):
			add(d)
		case err == nil:
			log.Warn().Int32("pid", pid).Str("cmdline", d.Cmdline).Msg("PID file refers to an unrelated process, ignoring it")
		case errors.Is(err, procreg.ErrNoProcess):
			log.Debug().Int32("pid", pid).Msg("Stale PID file")
		default:
			return nil, opserr.New(opserr.Operational, "find server", err, "")
		}
	}

	if s.opts.Port > 0 {
		pid, ok, err := s.reg.ListeningPID(ctx, s.opts.Port)
		if err != nil {
			log.Warn().Err(err).Int("port", s.opts.Port).Msg("Could not inspect listening sockets")
		} else if ok && pid != 0 && !seen[pid] {
			d, err := s.reg.Find(ctx, pid)
			switch {
			case err == nil && s.matches(d):
				add(d)
			case err == nil:
				return nil, s.portBusy(pid, d.Cmdline)
			}
		}
	}

	if s.opts.MatchCmdline && s.opts.Signature != "" {
		procs, err := s.reg.List(ctx)
		if err != nil {
			return nil, opserr.New(opserr.Operational, "find server", err, "")
		}
		self := int32(os.Getpid())
		for _, d := range procs {
			if d.PID != self && s.matches(d) {
				add(d)
			}
		}
	}
	return found, nil
}

func (s *Supervisor) portBusy(pid int32, cmdline string) error {
	owner := "an unidentified process"
	if pid != 0 {
		owner = fmt.Sprintf("PID %d (%s)", pid, cmdline)
	}
	return opserr.New(opserr.Precondition, "restart",
		fmt.Errorf("%w: port %d is held by %s", ErrPortBusy, s.opts.Port, owner),
		"stop that program or configure a different PORT")
}

// stopAll terminates each process, escalating to kill after the grace period.
func (s *Supervisor) stopAll(ctx context.Context, procs []models.ProcessDescriptor) ([]models.ProcessDescriptor, error) {
	var stopped []models.ProcessDescriptor
	for _, p := range procs {
		if err := s.stopOne(ctx, p.PID); err != nil {
			return stopped, err
		}
		stopped = append(stopped, p)
	}
	return stopped, nil
}

func (s *Supervisor) stopOne(ctx context.Context, pid int32) error {
	for _, kind := range []procreg.SignalKind{procreg.Terminate, procreg.Kill} {
		log.Info().Int32("pid", pid).Str("signal", kind.String()).Msg("Stopping server process")
		if err := s.reg.Signal(ctx, pid, kind); err != nil {
			if errors.Is(err, procreg.ErrNoProcess) {
				return nil
			}
			return opserr.New(opserr.Operational, "stop server", err, "")
		}
		gone, err := pollUntil(ctx, s.opts.StopTimeout, s.opts.PollInterval, func() (bool, error) {
			return !s.alive(ctx, pid), nil
		})
		if err != nil {
			return opserr.New(opserr.Operational, "stop server", err, "")
		}
		if gone {
			return nil
		}
		log.Warn().Int32("pid", pid).Dur("waited", s.opts.StopTimeout).Msg("Server process still alive")
	}
	return opserr.New(opserr.Operational, "stop server",
		fmt.Errorf("%w: PID %d survived kill", ErrStopFailed, pid),
		"check the process manually; it may be owned by another user")
}

func (s *Supervisor) alive(ctx context.Context, pid int32) bool {
	_, err := s.reg.Find(ctx, pid)
	return err == nil
}

func (s *Supervisor) checkPortFree(ctx context.Context) error {
	if s.opts.Port <= 0 {
		return nil
	}
	pid, ok, err := s.reg.ListeningPID(ctx, s.opts.Port)
	if err != nil || !ok {
		return nil
	}
	cmdline := ""
	if d, err := s.reg.Find(ctx, pid); err == nil {
		cmdline = d.Cmdline
	}
	return s.portBusy(pid, cmdline)
}

func (s *Supervisor) launch(ctx context.Context) (*procreg.Handle, error) {
	if len(s.opts.Command) == 0 {
		return nil, opserr.New(opserr.Precondition, "start server",
			fmt.Errorf("%w: no server command configured", ErrStartFailed), "set SERVER_COMMAND")
	}
	spec := procreg.SpawnSpec{
		Command: s.opts.Command[0],
		Args:    s.opts.Command[1:],
		Env:     s.opts.Env,
		Dir:     s.opts.Dir,
		LogFile: s.opts.LogFile,
	}
	log.Info().Strs("command", s.opts.Command).Str("log", s.opts.LogFile).Msg("Starting server")
	handle, err := s.reg.Spawn(ctx, spec)
	if err != nil {
		return nil, opserr.New(opserr.Operational, "start server",
			fmt.Errorf("%w: %w", ErrStartFailed, err),
			"check SERVER_COMMAND and that the interpreter is installed")
	}
	if err := writePIDFile(s.opts.PidFile, handle.PID); err != nil {
		// The server is running, it just cannot be found by PID later.
		log.Warn().Err(err).Int32("pid", handle.PID).Msg("Could not write PID file")
	}
	return handle, nil
}

// confirm waits until the launched process is alive and its port accepts
// connections. It fails early when the process exits.
func (s *Supervisor) confirm(ctx context.Context, h *procreg.Handle) error {
	ok, err := pollUntil(ctx, s.opts.StartTimeout, s.opts.PollInterval, func() (bool, error) {
		if h.Exited() || !s.alive(ctx, h.PID) {
			return false, errExited
		}
		if s.opts.Port <= 0 {
			return true, nil
		}
		_, listening, err := s.reg.ListeningPID(ctx, s.opts.Port)
		if err != nil {
			log.Debug().Err(err).Msg("Could not inspect listening sockets")
			return false, nil
		}
		return listening, nil
	})
	hint := fmt.Sprintf("see the server log at %s", s.opts.LogFile)
	switch {
	case errors.Is(err, errExited):
		return opserr.New(opserr.Operational, "start server",
			fmt.Errorf("%w: PID %d exited during startup", ErrStartFailed, h.PID), hint)
	case err != nil:
		return opserr.New(opserr.Operational, "start server", err, hint)
	case !ok:
		return opserr.New(opserr.Operational, "start server",
			fmt.Errorf("%w: port %d not listening after %s", ErrStartFailed, s.opts.Port, s.opts.StartTimeout), hint)
	}
	return nil
}

// abandon stops a launched process that never came up. The PID file stays
// when the process survives so the next restart or stop still finds it.
func (s *Supervisor) abandon(ctx context.Context, h *procreg.Handle) {
	if !h.Exited() && s.alive(ctx, h.PID) {
		log.Warn().Int32("pid", h.PID).Msg("Stopping server that failed to start")
		if err := s.stopOne(context.WithoutCancel(ctx), h.PID); err != nil {
			log.Error().Err(err).Int32("pid", h.PID).Str("pid_file", s.opts.PidFile).Msg("Server that failed to start is still running")
			return
		}
	}
	removePIDFile(s.opts.PidFile)
}

func (s *Supervisor) fail(ctx context.Context, eventType string, err error) error {
	s.record(ctx, eventType, "error", err.Error())
	return err
}

func (s *Supervisor) record(ctx context.Context, eventType, level, msg string) {
	if err := s.recorder.Record(ctx, eventType, level, msg); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Could not write journal event")
	}
}
