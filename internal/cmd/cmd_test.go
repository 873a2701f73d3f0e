package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/isdelr/clinicops/internal/auth"
	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/isdelr/clinicops/internal/publish"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the command tree against dir and returns its stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	configPath, workDir, logLevel, jsonLogs = "", "", "", false
	backupSource, backupDir, backupRetain = "", "", 0
	historyLimit, historyArchives = 20, false
	tokenTTL, tokenSubject = auth.DefaultTTL, "operator"
	statusJSON = false
	publishMessage, publishRemote = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--workdir", dir, "--log-level", "error"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newAppDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "sqlite:///./clinic_scheduler.db")
	t.Setenv("OPS_API_SECRET", "")
	t.Setenv("SECRET_KEY", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clinic_scheduler.db"), []byte("live data"), 0o644))
	return dir
}

func TestBackupCommandRotates(t *testing.T) {
	dir := newAppDir(t)

	for i := 0; i < 3; i++ {
		out, err := runCLI(t, dir, "backup", "--retain", "2")
		require.NoError(t, err)
		assert.Contains(t, out, "Backup created")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, "backups", e.Name()))
		require.NoError(t, err)
		assert.Equal(t, "live data", string(data))
	}
}

func TestBackupCommandRefusesHostedDatabase(t *testing.T) {
	dir := newAppDir(t)
	t.Setenv("DATABASE_URL", "postgresql://clinic:pw@db.example.com/clinic")

	_, err := runCLI(t, dir, "backup")
	require.Error(t, err)
	assert.Equal(t, opserr.Precondition, opserr.KindOf(err))
	assert.NoDirExists(t, filepath.Join(dir, "backups"))
}

func TestBackupCommandMissingSource(t *testing.T) {
	dir := newAppDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "clinic_scheduler.db")))

	_, err := runCLI(t, dir, "backup")
	require.Error(t, err)
	assert.Equal(t, opserr.Precondition, opserr.KindOf(err))
	assert.Equal(t, 1, opserr.ExitCode(err))
}

func TestHistoryShowsJournaledBackups(t *testing.T) {
	dir := newAppDir(t)

	out, err := runCLI(t, dir, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No events recorded yet")

	_, err = runCLI(t, dir, "backup")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "backup.create")
}

func TestHistoryArchivesListsOnlyRetainedBackups(t *testing.T) {
	dir := newAppDir(t)

	out, err := runCLI(t, dir, "history", "--archives")
	require.NoError(t, err)
	assert.Contains(t, out, "No backups recorded yet")

	_, err = runCLI(t, dir, "backup", "--retain", "1")
	require.NoError(t, err)
	first, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Second-resolution stamps; keep the two archives apart.
	time.Sleep(1100 * time.Millisecond)
	_, err = runCLI(t, dir, "backup", "--retain", "1")
	require.NoError(t, err)
	kept, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, kept, 1)
	require.NotEqual(t, first[0].Name(), kept[0].Name())

	out, err = runCLI(t, dir, "history", "--archives")
	require.NoError(t, err)
	assert.Contains(t, out, kept[0].Name())
	assert.NotContains(t, out, first[0].Name())
}

func TestTokenCommand(t *testing.T) {
	dir := newAppDir(t)

	_, err := runCLI(t, dir, "token")
	require.Error(t, err)
	assert.Equal(t, opserr.Precondition, opserr.KindOf(err))

	t.Setenv("OPS_API_SECRET", "daemon-secret")
	out, err := runCLI(t, dir, "token", "--subject", "night-shift")
	require.NoError(t, err)

	iss, err := auth.NewIssuer("daemon-secret")
	require.NoError(t, err)
	claims, err := iss.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "night-shift", claims.Subject)
}

func TestDBCommandRunsVerb(t *testing.T) {
	dir := newAppDir(t)
	path := filepath.Join(dir, "clinic_scheduler.db")
	require.NoError(t, os.Remove(path))

	ctx := context.Background()
	db, err := database.New(ctx, database.Target{Dialect: database.SQLite, Path: path, DSN: path}, database.Options{})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE schedule_assignments (id INTEGER PRIMARY KEY, patient_name TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := runCLI(t, dir, "db", "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule_assignments")

	_, err = runCLI(t, dir, "db", "data", "missing_table")
	require.Error(t, err)
	assert.Equal(t, opserr.Query, opserr.KindOf(err))
}

func TestPublishOutsideRepository(t *testing.T) {
	dir := newAppDir(t)

	_, err := runCLI(t, dir, "publish")
	require.Error(t, err)
	assert.Equal(t, opserr.Precondition, opserr.KindOf(err))
	assert.NotEmpty(t, opserr.HintOf(err))
}

func TestPublishIgnoresFilesWrittenByClinicops(t *testing.T) {
	dir := newAppDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("app = None\n"), 0o644))

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	sig := &object.Signature{Name: "dev", Email: "dev@clinic.test", When: time.Now()}
	initial, err := wt.Commit("Initial commit", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	// Tool state: journal, backups, server log.
	_, err = runCLI(t, dir, "backup")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.log"), []byte("started\n"), 0o644))

	out, err := runCLI(t, dir, "publish")
	require.Error(t, err)
	assert.ErrorIs(t, err, publish.ErrNoRemote)
	assert.NotContains(t, out, "Committed")

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, initial, head.Hash())
}

func TestReportErrorPrintsHint(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, opserr.New(opserr.Precondition, "publish", errors.New("git remote is not configured"), "git remote add origin <url>"))
	assert.Contains(t, buf.String(), "publish: git remote is not configured")
	assert.Contains(t, buf.String(), "git remote add origin <url>")

	buf.Reset()
	reportError(&buf, errors.New("plain"))
	assert.NotContains(t, buf.String(), "Hint:")
}
