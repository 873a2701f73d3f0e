package monitoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/isdelr/clinicops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("backup", "every night", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestSchedulerRunsWhenDue(t *testing.T) {
	var runs atomic.Int32
	s, err := NewScheduler("backup", "0 2 * * *", func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 1, 0, 0, 0, time.Local)
	s.nextRun = time.Date(2026, 3, 1, 2, 0, 0, 0, time.Local)

	assert.False(t, s.checkAndRun(base))
	assert.True(t, s.checkAndRun(base.Add(time.Hour)))
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.Local), s.NextRun())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.checkAndRun(base.Add(2*time.Hour)), "not due again until tomorrow")
}

func TestSchedulerSkipsWhilePreviousRunInProgress(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s, err := NewScheduler("backup", "* * * * *", func(context.Context) error {
		runs.Add(1)
		<-release
		return errors.New("disk full")
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.Local)
	s.nextRun = now
	assert.True(t, s.checkAndRun(now))
	assert.False(t, s.checkAndRun(now.Add(time.Minute)))
	close(release)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.running
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.checkAndRun(now.Add(2*time.Minute)))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerRunStop(t *testing.T) {
	s, err := NewScheduler("backup", "0 2 * * *", func(context.Context) error { return nil })
	require.NoError(t, err)
	s.tick = time.Millisecond

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type scriptedStatus struct {
	statuses []models.ServerStatus
	i        int
}

func (s *scriptedStatus) Status(context.Context) (models.ServerStatus, error) {
	st := s.statuses[s.i]
	if s.i < len(s.statuses)-1 {
		s.i++
	}
	return st, nil
}

type memRecorder struct {
	mu    sync.Mutex
	types []string
}

func (m *memRecorder) Record(_ context.Context, typ, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = append(m.types, typ)
	return nil
}

func TestStatUpdaterJournalsTransitions(t *testing.T) {
	running := models.ServerStatus{State: models.ServerRunning, PID: 10, Port: 8000}
	stopped := models.ServerStatus{State: models.ServerStopped, Port: 8000}
	src := &scriptedStatus{statuses: []models.ServerStatus{running, running, stopped, stopped, running}}
	rec := &memRecorder{}
	su := NewStatUpdater(src, rec, time.Second)

	for range 5 {
		su.check(context.Background())
	}
	assert.Equal(t, []string{models.EventServerDown, models.EventServerUp}, rec.types)
}

func TestStatUpdaterHighCPUCooldown(t *testing.T) {
	hot := models.ServerStatus{State: models.ServerRunning, PID: 10, Resources: models.ResourceUsage{CPU: 97}}
	src := &scriptedStatus{statuses: []models.ServerStatus{hot}}
	rec := &memRecorder{}
	su := NewStatUpdater(src, rec, time.Second)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	su.now = func() time.Time { return now }
	su.check(context.Background())
	su.check(context.Background())
	assert.Equal(t, []string{models.EventServerCPU}, rec.types)

	now = now.Add(16 * time.Minute)
	su.check(context.Background())
	assert.Len(t, rec.types, 2)
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s, err := NewScheduler("backup", "* * * * *", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)
	s.tick = time.Hour

	go s.Run()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	s.nextRun = now
	require.True(t, s.checkAndRun(now))
	<-started

	s.Stop()
	require.Eventually(t, cancelled.Load, time.Second, 5*time.Millisecond)
}

type blockingStatus struct {
	entered chan struct{}
}

func (b *blockingStatus) Status(ctx context.Context) (models.ServerStatus, error) {
	close(b.entered)
	<-ctx.Done()
	return models.ServerStatus{}, ctx.Err()
}

func TestStatUpdaterStopCancelsStatusCheck(t *testing.T) {
	src := &blockingStatus{entered: make(chan struct{})}
	su := NewStatUpdater(src, nil, time.Hour)

	done := make(chan struct{})
	go func() {
		su.Run()
		close(done)
	}()
	<-src.entered

	su.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status check was not cancelled")
	}
}
