package cmd

import (
	"os"

	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/inspect"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db [command [args]]",
	Short: "Inspect the scheduler database read-only",
	Long: `Inspect the scheduler database named by DATABASE_URL without modifying it.

Commands:
  tables               list all tables
  users                user counts by role and the newest accounts
  schedule             schedule slot counts and fill rate
  schema <table>       columns of a table
  data <table> [n]     first n rows of a table (default 10)

With no arguments an interactive prompt is started. It also accepts
"sql <statement>" for read-only queries, "help" and "quit".`,
	Example: `  clinicops db tables
  clinicops db data schedule_assignments 25
  echo "schedule" | clinicops db`,
	Args: cobra.ArbitraryArgs,
	RunE: runDB,
}

func init() {
	rootCmd.AddCommand(dbCmd)
}

func runDB(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target, err := database.ParseURL(cfg.DatabaseURL, cfg.WorkDir)
	if err != nil {
		return opserr.New(opserr.Precondition, "db", err, "set DATABASE_URL to sqlite:///path/to/file.db or a postgres:// URL")
	}
	in, err := inspect.Open(ctx, target)
	if err != nil {
		return err
	}
	defer in.Close()

	if len(args) > 0 {
		return in.Run(ctx, cmd.OutOrStdout(), args)
	}
	return inspect.NewREPL(in, cmd.InOrStdin(), cmd.OutOrStdout(), inspect.IsTerminal(os.Stdin)).Run(ctx)
}
