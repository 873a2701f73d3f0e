package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the current state of the scheduler server.
type StatusSource interface {
	Status(ctx context.Context) (models.ServerStatus, error)
}

// StatUpdater periodically checks the server and journals when it goes down
// or comes back, plus sustained high CPU.
type StatUpdater struct {
	source   StatusSource
	recorder journal.Recorder
	interval time.Duration
	ticker   *time.Ticker
	done     chan bool
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc

	lastState    models.ServerState
	highCpuAlert time.Time
}

// NewStatUpdater creates a StatUpdater. recorder may be nil.
func NewStatUpdater(source StatusSource, recorder journal.Recorder, interval time.Duration) *StatUpdater {
	if recorder == nil {
		recorder = journal.Nop{}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StatUpdater{
		ctx:      ctx,
		cancel:   cancel,
		source:   source,
		recorder: recorder,
		interval: interval,
		done:     make(chan bool),
		now:      time.Now,
	}
}

// Run starts the periodic checks.
func (su *StatUpdater) Run() {
	log.Info().Dur("interval", su.interval).Msg("Starting server liveness checks")
	su.ticker = time.NewTicker(su.interval)
	defer su.ticker.Stop()

	// Run once immediately on start
	su.check(su.ctx)

	for {
		select {
		case <-su.done:
			log.Info().Msg("Stopping server liveness checks")
			return
		case <-su.ticker.C:
			su.check(su.ctx)
		}
	}
}

// Stop halts the periodic checks and cancels a check in progress.
func (su *StatUpdater) Stop() {
	su.cancel()
	su.done <- true
}

func (su *StatUpdater) check(ctx context.Context) {
	status, err := su.source.Status(ctx)
	if err != nil {
		// Transient; wait for the next tick.
		log.Warn().Err(err).Msg("StatUpdater: could not read server status")
		return
	}

	if su.lastState != "" && status.State != su.lastState {
		switch status.State {
		case models.ServerStopped:
			log.Warn().Int("port", status.Port).Msg("StatUpdater: server is down")
			su.record(ctx, models.EventServerDown, "error",
				fmt.Sprintf("Server stopped responding on port %d.", status.Port))
		case models.ServerRunning:
			log.Info().Int32("pid", status.PID).Msg("StatUpdater: server is up")
			su.record(ctx, models.EventServerUp, "info",
				fmt.Sprintf("Server is running again (PID %d).", status.PID))
		}
	}
	su.lastState = status.State

	if status.State == models.ServerRunning {
		su.checkAndAlertForHighCPU(ctx, status)
	}
}

func (su *StatUpdater) checkAndAlertForHighCPU(ctx context.Context, status models.ServerStatus) {
	const highCpuThreshold = 90.0
	const alertCooldown = 15 * time.Minute

	if status.Resources.CPU <= highCpuThreshold {
		return
	}
	// If an alert was sent recently, do nothing.
	if !su.highCpuAlert.IsZero() && su.now().Sub(su.highCpuAlert) < alertCooldown {
		return
	}
	msg := fmt.Sprintf("High CPU usage (%.1f%%) detected on the server (PID %d).", status.Resources.CPU, status.PID)
	su.record(ctx, models.EventServerCPU, "warn", msg)
	su.highCpuAlert = su.now()
}

func (su *StatUpdater) record(ctx context.Context, eventType, level, msg string) {
	if err := su.recorder.Record(ctx, eventType, level, msg); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("Could not write journal event")
	}
}
