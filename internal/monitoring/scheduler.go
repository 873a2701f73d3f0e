package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Task is the work a Scheduler runs when its cron expression is due.
type Task func(ctx context.Context) error

// Scheduler runs a task on a standard five-field cron schedule.
type Scheduler struct {
	name     string
	schedule cron.Schedule
	task     Task
	tick     time.Duration
	ticker   *time.Ticker
	done     chan bool
	now      func() time.Time
	// ctx is handed to every run and cancelled by Stop.
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	nextRun time.Time
	running bool
}

// NewScheduler parses spec (for example "0 2 * * *") and creates a scheduler.
func NewScheduler(name, spec string, task Task) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		name:     name,
		schedule: schedule,
		task:     task,
		tick:     30 * time.Second,
		done:     make(chan bool),
		now:      time.Now,
	}
	s.nextRun = schedule.Next(s.now())
	return s, nil
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	log.Info().Str("task", s.name).Time("next", s.NextRun()).Msg("Starting background scheduler")
	s.ticker = time.NewTicker(s.tick)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.done:
			log.Info().Str("task", s.name).Msg("Stopping background scheduler")
			return
		case <-s.ticker.C:
			s.checkAndRun(s.now())
		}
	}
}

// Stop halts the scheduler and cancels a run in progress.
func (s *Scheduler) Stop() {
	s.cancel()
	s.done <- true
}

// NextRun is when the task is next due.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// checkAndRun starts the task when it is due. A run that is still going when
// the next one comes due makes the scheduler skip that slot.
func (s *Scheduler) checkAndRun(now time.Time) bool {
	s.mu.Lock()
	if now.Before(s.nextRun) {
		s.mu.Unlock()
		return false
	}
	s.nextRun = s.schedule.Next(now)
	if s.running {
		s.mu.Unlock()
		log.Warn().Str("task", s.name).Msg("Scheduler: previous run still in progress, skipping")
		return false
	}
	s.running = true
	s.mu.Unlock()

	go s.execute()
	return true
}

func (s *Scheduler) execute() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info().Str("task", s.name).Msg("Scheduler: executing task")
	if err := s.task(s.ctx); err != nil {
		log.Error().Err(err).Str("task", s.name).Msg("Scheduler: task failed")
		return
	}
	log.Info().Str("task", s.name).Time("next", s.NextRun()).Msg("Scheduler: task finished")
}
