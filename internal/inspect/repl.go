package inspect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/isdelr/clinicops/internal/opserr"
	"golang.org/x/term"
)

// ErrUnknownCommand is returned for verbs outside the inspector's set.
var ErrUnknownCommand = errors.New("unknown command")

const helpText = `Commands:
  tables                 list tables
  users                  user counts per role and the newest users
  schedule               slot totals and fill rate
  schema <table>         columns of a table
  data <table> [limit]   first rows of a table (default 10)
  sql <statement>        run one read-only statement
  help                   show this help
  quit | exit            leave`

// Run executes one inspector verb and renders its result to w.
func (in *Inspector) Run(ctx context.Context, w io.Writer, args []string) error {
	if len(args) == 0 {
		return opserr.New(opserr.Query, "inspect", fmt.Errorf("%w: none given", ErrUnknownCommand), "try: tables, users, schedule, schema, data")
	}
	verb, rest := strings.ToLower(args[0]), args[1:]

	switch verb {
	case "tables":
		tables, err := in.Tables(ctx)
		if err != nil {
			return err
		}
		RenderTables(w, tables)
	case "users":
		stats, err := in.UserStats(ctx)
		if err != nil {
			return err
		}
		RenderUserStats(w, stats)
	case "schedule":
		stats, err := in.ScheduleStats(ctx)
		if err != nil {
			return err
		}
		RenderScheduleStats(w, stats)
	case "schema":
		if len(rest) == 0 {
			return usageErr("schema <table>")
		}
		cols, err := in.Schema(ctx, rest[0])
		if err != nil {
			return err
		}
		RenderSchema(w, rest[0], cols)
	case "data":
		if len(rest) == 0 {
			return usageErr("data <table> [limit]")
		}
		limitArg := ""
		if len(rest) > 1 {
			limitArg = rest[1]
		}
		limit, err := ParseLimit(limitArg)
		if err != nil {
			return err
		}
		rows, err := in.Data(ctx, rest[0], limit)
		if err != nil {
			return err
		}
		RenderRows(w, fmt.Sprintf("Data from %q, first %d", rest[0], limit), rows)
	default:
		return opserr.New(opserr.Query, "inspect", fmt.Errorf("%w %q", ErrUnknownCommand, args[0]), "type help for the list of commands")
	}
	return nil
}

func usageErr(usage string) error {
	return opserr.New(opserr.Query, "inspect", fmt.Errorf("usage: %s", usage), "")
}

// REPL reads inspector commands line by line until quit, exit or EOF.
type REPL struct {
	in     *Inspector
	input  io.Reader
	out    io.Writer
	prompt bool
}

// NewREPL creates a loop over input. The prompt is printed only when prompt
// is true, so piped input produces clean output.
func NewREPL(in *Inspector, input io.Reader, out io.Writer, prompt bool) *REPL {
	return &REPL{in: in, input: input, out: out, prompt: prompt}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Run loops until the operator leaves. Command failures are printed and the
// loop continues; only reading errors and cancellation end it early.
func (r *REPL) Run(ctx context.Context) error {
	if r.prompt {
		fmt.Fprintln(r.out, "Clinic scheduler database browser. Type help for commands.")
	}
	scanner := bufio.NewScanner(r.input)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.prompt {
			fmt.Fprint(r.out, "db> ")
		}
		if !scanner.Scan() {
			if r.prompt {
				fmt.Fprintln(r.out)
			}
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var err error
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(r.out, helpText)
		case "sql":
			var rows Rows
			rows, err = r.in.Query(ctx, strings.TrimSpace(line[len(fields[0]):]))
			if err == nil {
				RenderRows(r.out, "Query results", rows)
			}
		default:
			err = r.in.Run(ctx, r.out, fields)
		}
		if err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			if hint := opserr.HintOf(err); hint != "" {
				fmt.Fprintf(r.out, "Hint: %s\n", hint)
			}
		}
	}
}
