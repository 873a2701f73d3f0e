package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/isdelr/clinicops/internal/auth"
	"github.com/isdelr/clinicops/internal/backup"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/websocket"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStatus struct{}

func (stubStatus) Status(context.Context) (models.ServerStatus, error) {
	return models.ServerStatus{State: models.ServerRunning, PID: 321, Port: 8000, URL: "http://localhost:8000"}, nil
}

type stubJob struct {
	dir, source string
	runs        atomic.Int32
}

func (s *stubJob) Run(context.Context) (backup.Result, error) {
	s.runs.Add(1)
	return backup.Result{}, nil
}
func (s *stubJob) Source() string { return s.source }
func (s *stubJob) Dir() string    { return s.dir }

type stubEvents struct{ gotLimit int }

func (s *stubEvents) RecentEvents(_ context.Context, limit int) ([]models.Event, error) {
	s.gotLimit = limit
	return []models.Event{{ID: "1", Type: models.EventBackupCreate, Level: "info", Message: "ok"}}, nil
}

func newTestRouter(t *testing.T) (http.Handler, string, *stubJob, *stubEvents) {
	t.Helper()
	iss, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)
	token, err := iss.Generate("tester", time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"clinic_scheduler_20260101_020000.db", "clinic_scheduler_20260102_020000.db", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	job := &stubJob{dir: dir, source: "/srv/clinic/clinic_scheduler.db"}
	events := &stubEvents{}
	r := NewRouter(iss, []string{"http://localhost:3000"}, Services{Server: stubStatus{}, Backups: job, Events: events})
	return r, token, job, events
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireToken(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	for _, path := range []string{"/api/v1/server", "/api/v1/backups", "/api/v1/events"} {
		assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, path, "").Code, path)
	}
}

func TestGetServer(t *testing.T) {
	r, token, _, _ := newTestRouter(t)
	rec := do(t, r, http.MethodGet, "/api/v1/server", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.ServerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.ServerRunning, status.State)
	assert.Equal(t, int32(321), status.PID)
}

func TestListAndTriggerBackups(t *testing.T) {
	r, token, job, _ := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/backups", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var archives []models.Archive
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &archives))
	require.Len(t, archives, 2)
	assert.Equal(t, "clinic_scheduler_20260102_020000.db", archives[0].Name)
	assert.NotContains(t, rec.Body.String(), job.dir, "archive paths are not exposed")

	rec = do(t, r, http.MethodPost, "/api/v1/backups", token)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventsLimit(t *testing.T) {
	r, token, _, events := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/events", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, events.gotLimit)

	do(t, r, http.MethodGet, "/api/v1/events?limit=5", token)
	assert.Equal(t, 5, events.gotLimit)

	do(t, r, http.MethodGet, "/api/v1/events?limit=zero", token)
	assert.Equal(t, 20, events.gotLimit)
}

func TestEventFeedStreamsRecordedEvents(t *testing.T) {
	iss, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)
	token, err := iss.Generate("tester", time.Hour)
	require.NoError(t, err)

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	r := NewRouter(iss, nil, Services{Server: stubStatus{}, Backups: &stubJob{dir: t.TempDir()}, Events: &stubEvents{}, Feed: hub})
	srv := httptest.NewServer(r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"

	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := gorilla.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + token}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	rec := websocket.NewRecorder(nil, hub)
	require.NoError(t, rec.Record(context.Background(), models.EventBackupCreate, "info", "Backup created"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Action  string       `json:"action"`
		Payload models.Event `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.ActionEvent, msg.Action)
	assert.Equal(t, models.EventBackupCreate, msg.Payload.Type)
	assert.Equal(t, "Backup created", msg.Payload.Message)
}
