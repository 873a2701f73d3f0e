package inspect

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// RenderTable writes a bordered table.
func RenderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func renderTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func RenderTables(w io.Writer, tables []string) {
	renderTitle(w, "Database tables")
	rows := make([][]string, len(tables))
	for i, name := range tables {
		rows[i] = []string{name}
	}
	RenderTable(w, []string{"Table"}, rows)
}

func RenderUserStats(w io.Writer, s UserStats) {
	renderTitle(w, "Users by role")
	roles := make([][]string, len(s.ByRole))
	for i, rc := range s.ByRole {
		roles[i] = []string{rc.Role, strconv.Itoa(rc.Count)}
	}
	RenderTable(w, []string{"Role", "Users"}, roles)

	renderTitle(w, "Recent users")
	recent := make([][]string, len(s.Recent))
	for i, u := range s.Recent {
		recent[i] = []string{u.Username, u.Role, u.CreatedAt}
	}
	RenderTable(w, []string{"Username", "Role", "Created"}, recent)
}

func RenderScheduleStats(w io.Writer, s ScheduleStats) {
	renderTitle(w, "Schedule")
	RenderTable(w, []string{"Metric", "Value"}, [][]string{
		{"Total time slots", strconv.Itoa(s.Total)},
		{"Assigned slots", strconv.Itoa(s.Assigned)},
		{"Empty slots", strconv.Itoa(s.Empty)},
		{"Fill rate", fmt.Sprintf("%.1f%%", s.FillRate)},
	})
}

func RenderSchema(w io.Writer, table string, cols []Column) {
	renderTitle(w, fmt.Sprintf("Schema for %q", table))
	rows := make([][]string, len(cols))
	for i, c := range cols {
		null := "NOT NULL"
		if c.Nullable {
			null = "NULL"
		}
		rows[i] = []string{c.Name, c.Type, null}
	}
	RenderTable(w, []string{"Column", "Type", "Null"}, rows)
}

// RenderRows prints a result set, or a note when it is empty.
func RenderRows(w io.Writer, title string, r Rows) {
	if len(r.Values) == 0 {
		fmt.Fprintf(w, "%s: no rows\n", title)
		return
	}
	renderTitle(w, fmt.Sprintf("%s (%d rows)", title, len(r.Values)))
	RenderTable(w, r.Columns, r.Values)
}
