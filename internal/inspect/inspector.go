// Package inspect answers read-only questions about the scheduler database:
// which tables exist, who the users are, how full the schedule is, and what a
// table holds.
package inspect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/opserr"
)

// DefaultLimit is the row count shown by Data when no limit is given.
const DefaultLimit = 10

var (
	ErrUnknownTable = errors.New("unknown table")
	ErrInvalidLimit = errors.New("limit must be a positive integer")
	ErrNotReadOnly  = errors.New("only SELECT, WITH, EXPLAIN and PRAGMA table_info statements are allowed")
)

// RoleCount is the number of users holding one role.
type RoleCount struct {
	Role  string
	Count int
}

// RecentUser is one of the most recently created accounts.
type RecentUser struct {
	Username  string
	Role      string
	CreatedAt string
}

type UserStats struct {
	ByRole []RoleCount
	Recent []RecentUser
}

// ScheduleStats summarises schedule_assignments. A slot is assigned when its
// patient_name is non-empty.
type ScheduleStats struct {
	Total    int
	Assigned int
	Empty    int
	FillRate float64 // percent, 0 when there are no slots
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Rows is a rendered result set: every value is already a display string.
type Rows struct {
	Columns []string
	Values  [][]string
}

// Inspector runs the fixed set of inspection queries.
type Inspector struct {
	db      *sql.DB
	dialect database.Dialect
}

// New wraps an open connection. The connection should be read-only.
func New(db *sql.DB, dialect database.Dialect) *Inspector {
	return &Inspector{db: db, dialect: dialect}
}

// Open connects read-only to the database behind t. A missing SQLite file is
// an error rather than a new empty database.
func Open(ctx context.Context, t database.Target) (*Inspector, error) {
	db, err := database.New(ctx, t, database.Options{ReadOnly: true, MustExist: true})
	if err != nil {
		return nil, opserr.New(opserr.Query, "connect", err, "check DATABASE_URL and that the database is reachable")
	}
	return New(db, t.Dialect), nil
}

func (in *Inspector) Close() error { return in.db.Close() }

// Tables lists user tables in name order.
func (in *Inspector) Tables(ctx context.Context) ([]string, error) {
	q := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	if in.dialect == database.Postgres {
		q = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name"
	}
	rows, err := in.db.QueryContext(ctx, q)
	if err != nil {
		return nil, queryErr("tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, queryErr("tables", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("tables", err)
	}
	return tables, nil
}

// requireTable returns ErrUnknownTable, listing the real tables, when name
// does not exist.
func (in *Inspector) requireTable(ctx context.Context, name string) error {
	tables, err := in.Tables(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(tables, name) {
		return nil
	}
	available := "none"
	if len(tables) > 0 {
		available = strings.Join(tables, ", ")
	}
	return opserr.New(opserr.Query, "inspect",
		fmt.Errorf("%w %q (available tables: %s)", ErrUnknownTable, name, available), "")
}

// UserStats counts users per role and lists the five newest accounts.
func (in *Inspector) UserStats(ctx context.Context) (UserStats, error) {
	var stats UserStats
	if err := in.requireTable(ctx, "users"); err != nil {
		return stats, err
	}

	rows, err := in.db.QueryContext(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY role")
	if err != nil {
		return stats, queryErr("users", err)
	}
	for rows.Next() {
		var role sql.NullString
		var rc RoleCount
		if err := rows.Scan(&role, &rc.Count); err != nil {
			rows.Close()
			return stats, queryErr("users", err)
		}
		rc.Role = role.String
		stats.ByRole = append(stats.ByRole, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, queryErr("users", err)
	}

	rows, err = in.db.QueryContext(ctx, "SELECT username, role, created_at FROM users ORDER BY created_at DESC LIMIT 5")
	if err != nil {
		return stats, queryErr("users", err)
	}
	defer rows.Close()
	for rows.Next() {
		var username, role sql.NullString
		var created any
		if err := rows.Scan(&username, &role, &created); err != nil {
			return stats, queryErr("users", err)
		}
		stats.Recent = append(stats.Recent, RecentUser{
			Username:  username.String,
			Role:      role.String,
			CreatedAt: formatValue(created),
		})
	}
	return stats, queryErr("users", rows.Err())
}

// ScheduleStats computes slot totals and the fill rate.
func (in *Inspector) ScheduleStats(ctx context.Context) (ScheduleStats, error) {
	var stats ScheduleStats
	if err := in.requireTable(ctx, "schedule_assignments"); err != nil {
		return stats, err
	}
	err := in.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN patient_name IS NOT NULL AND patient_name <> '' THEN 1 END)
		FROM schedule_assignments`).Scan(&stats.Total, &stats.Assigned)
	if err != nil {
		return stats, queryErr("schedule", err)
	}
	stats.Empty = stats.Total - stats.Assigned
	if stats.Total > 0 {
		stats.FillRate = float64(stats.Assigned) / float64(stats.Total) * 100
	}
	return stats, nil
}

// Schema describes the columns of table.
func (in *Inspector) Schema(ctx context.Context, table string) ([]Column, error) {
	if err := in.requireTable(ctx, table); err != nil {
		return nil, err
	}

	var cols []Column
	if in.dialect == database.Postgres {
		rows, err := in.db.QueryContext(ctx, `
			SELECT column_name, data_type, is_nullable = 'YES'
			FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`, table)
		if err != nil {
			return nil, queryErr("schema", err)
		}
		defer rows.Close()
		for rows.Next() {
			var c Column
			if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
				return nil, queryErr("schema", err)
			}
			cols = append(cols, c)
		}
		return cols, queryErr("schema", rows.Err())
	}

	rows, err := in.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, queryErr("schema", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, queryErr("schema", err)
		}
		c.Nullable = notNull == 0
		cols = append(cols, c)
	}
	return cols, queryErr("schema", rows.Err())
}

// ParseLimit turns the optional limit argument into a row count. Blank means
// DefaultLimit; anything that is not a positive integer is rejected.
func ParseLimit(arg string) (int, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, opserr.New(opserr.Query, "data", fmt.Errorf("%w, got %q", ErrInvalidLimit, arg), "")
	}
	return n, nil
}

// Data returns up to limit rows of table.
func (in *Inspector) Data(ctx context.Context, table string, limit int) (Rows, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := in.requireTable(ctx, table); err != nil {
		return Rows{}, err
	}
	return in.collect(ctx, "data", fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), limit))
}

// Query runs a single read-only statement.
func (in *Inspector) Query(ctx context.Context, stmt string) (Rows, error) {
	stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if !isReadOnly(stmt) {
		return Rows{}, opserr.New(opserr.Query, "sql", ErrNotReadOnly, "")
	}
	return in.collect(ctx, "sql", stmt)
}

func (in *Inspector) collect(ctx context.Context, op, q string) (Rows, error) {
	rows, err := in.db.QueryContext(ctx, q)
	if err != nil {
		return Rows{}, queryErr(op, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Rows{}, queryErr(op, err)
	}
	out := Rows{Columns: cols}
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return Rows{}, queryErr(op, err)
		}
		line := make([]string, len(cols))
		for i, v := range raw {
			line[i] = formatValue(v)
		}
		out.Values = append(out.Values, line)
	}
	return out, queryErr(op, rows.Err())
}

func isReadOnly(stmt string) bool {
	if stmt == "" || strings.Contains(stmt, ";") {
		return false
	}
	fields := strings.Fields(strings.ToLower(stmt))
	switch fields[0] {
	case "select", "with", "explain":
		return true
	case "pragma":
		return len(fields) > 1 && strings.HasPrefix(fields[1], "table_info")
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}

func queryErr(op string, err error) error {
	return opserr.New(opserr.Query, op, err, "")
}
