package inspect

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDB creates a small scheduler database and returns its target.
func seedDB(t *testing.T) database.Target {
	t.Helper()
	ctx := context.Background()
	target := database.Target{Dialect: database.SQLite}
	target.Path = filepath.Join(t.TempDir(), "clinic_scheduler.db")
	target.DSN = target.Path

	db, err := database.New(ctx, target, database.Options{})
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL, role TEXT NOT NULL, created_at DATETIME)`,
		`CREATE TABLE schedule_assignments (id INTEGER PRIMARY KEY, patient_name TEXT)`,
		`CREATE TABLE student_pairs (id INTEGER PRIMARY KEY, student_a TEXT, student_b TEXT)`,
		`INSERT INTO schedule_assignments (patient_name) VALUES ('Ann'), ('Bob'), ('Cy'), (''), (NULL)`,
	}
	for i := 1; i <= 15; i++ {
		role := "student"
		if i%5 == 0 {
			role = "admin"
		}
		stmts = append(stmts, fmt.Sprintf(
			`INSERT INTO users (username, role, created_at) VALUES ('user%02d', '%s', '2026-01-%02d 09:00:00')`, i, role, i))
	}
	for _, s := range stmts {
		_, err := db.ExecContext(ctx, s)
		require.NoError(t, err, s)
	}
	return target
}

func openSeeded(t *testing.T) *Inspector {
	t.Helper()
	in, err := Open(context.Background(), seedDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in
}

func TestTables(t *testing.T) {
	tables, err := openSeeded(t).Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"schedule_assignments", "student_pairs", "users"}, tables)
}

func TestDataDefaultsToTenRows(t *testing.T) {
	in := openSeeded(t)
	limit, err := ParseLimit("")
	require.NoError(t, err)

	rows, err := in.Data(context.Background(), "users", limit)
	require.NoError(t, err)
	assert.Len(t, rows.Values, 10)
	assert.Equal(t, []string{"id", "username", "role", "created_at"}, rows.Columns)

	rows, err = in.Data(context.Background(), "users", 3)
	require.NoError(t, err)
	assert.Len(t, rows.Values, 3)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"", DefaultLimit, false},
		{"  ", DefaultLimit, false},
		{"25", 25, false},
		{"abc", 0, true},
		{"0", 0, true},
		{"-4", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseLimit(tt.arg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLimit)
				assert.Equal(t, opserr.Query, opserr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnknownTableListsAvailableTables(t *testing.T) {
	_, err := openSeeded(t).Data(context.Background(), "foo", 10)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrUnknownTable)
	assert.Equal(t, opserr.Query, opserr.KindOf(err))
	for _, name := range []string{"users", "schedule_assignments", "student_pairs"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestUserStats(t *testing.T) {
	stats, err := openSeeded(t).UserStats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []RoleCount{{Role: "admin", Count: 3}, {Role: "student", Count: 12}}, stats.ByRole)
	require.Len(t, stats.Recent, 5)
	assert.Equal(t, "user15", stats.Recent[0].Username)
	assert.Equal(t, "user11", stats.Recent[4].Username)
}

func TestScheduleStats(t *testing.T) {
	stats, err := openSeeded(t).ScheduleStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScheduleStats{Total: 5, Assigned: 3, Empty: 2, FillRate: 60}, stats)
}

func TestSchema(t *testing.T) {
	cols, err := openSeeded(t).Schema(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, Column{Name: "username", Type: "TEXT", Nullable: false}, cols[1])
	assert.True(t, cols[3].Nullable)
}

func TestQueryIsReadOnly(t *testing.T) {
	ctx := context.Background()
	in := openSeeded(t)

	rows, err := in.Query(ctx, "SELECT COUNT(*) AS n FROM users;")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"15"}}, rows.Values)

	_, err = in.Query(ctx, "DELETE FROM users")
	assert.ErrorIs(t, err, ErrNotReadOnly)

	_, err = in.Query(ctx, "SELECT 1; DROP TABLE users")
	assert.ErrorIs(t, err, ErrNotReadOnly)

	// The connection itself refuses writes that slip past the statement check.
	_, err = in.Query(ctx, "WITH x AS (SELECT 1) INSERT INTO student_pairs (student_a) SELECT 'z' FROM x")
	assert.Error(t, err)
}

func TestOpenMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := Open(context.Background(), database.Target{Dialect: database.SQLite, Path: path, DSN: path})
	require.Error(t, err)
	assert.Equal(t, 1, opserr.ExitCode(err))
}

func TestRunVerbs(t *testing.T) {
	ctx := context.Background()
	in := openSeeded(t)

	var buf bytes.Buffer
	require.NoError(t, in.Run(ctx, &buf, []string{"schedule"}))
	assert.Contains(t, buf.String(), "60.0%")

	buf.Reset()
	require.NoError(t, in.Run(ctx, &buf, []string{"data", "users", "2"}))
	assert.Contains(t, buf.String(), "user01")
	assert.NotContains(t, buf.String(), "user03")

	err := in.Run(ctx, &buf, []string{"data", "users", "ten"})
	assert.ErrorIs(t, err, ErrInvalidLimit)

	err = in.Run(ctx, &buf, []string{"drop"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestREPLContinuesAfterErrors(t *testing.T) {
	in := openSeeded(t)
	input := strings.NewReader(strings.Join([]string{
		"data foo",
		"",
		"sql DELETE FROM users",
		"tables",
		"quit",
		"users",
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, NewREPL(in, input, &out, false).Run(context.Background()))

	text := out.String()
	assert.Equal(t, 2, strings.Count(text, "Error:"))
	assert.Contains(t, text, "available tables")
	assert.Contains(t, text, "student_pairs")
	assert.NotContains(t, text, "Users by role", "commands after quit are not run")
	assert.NotContains(t, text, "db> ")
}

func TestREPLEndsOnEOF(t *testing.T) {
	in := openSeeded(t)
	var out bytes.Buffer
	require.NoError(t, NewREPL(in, strings.NewReader("schedule\n"), &out, true).Run(context.Background()))
	assert.Contains(t, out.String(), "db> ")
	assert.Contains(t, out.String(), "Fill rate")
}
