// Package cmd is the clinicops command tree.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/isdelr/clinicops/internal/config"
	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/logger"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	workDir    string
	logLevel   string
	jsonLogs   bool

	cfg *config.Config
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "clinicops",
	Short: "Operate the clinic scheduler: restart, back up, publish, inspect",
	Long: `clinicops runs the operational chores of the clinic scheduling application.

It restarts the scheduler server on this host, rotates backups of the
database file, publishes the application checkout to its git remote and
inspects the schedule data read-only.

Configuration comes from clinicops.yaml in the working directory (optional)
and from environment variables such as DATABASE_URL, PORT and BACKUP_DIR.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (default ./clinicops.yaml)")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "Application directory (default current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON lines")
}

// Execute runs the command tree and reports a failure on stderr. The caller
// turns the returned error into the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		reportError(os.Stderr, err)
	}
	return err
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(workDir, configPath)
	if err != nil {
		return opserr.New(opserr.Precondition, "config", err, "check clinicops.yaml and the environment variables")
	}
	cfg = loaded

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if logLevel != "" {
		level = logLevel
	}
	logger.Init(level, jsonLogs)
	log.Debug().Str("workdir", cfg.WorkDir).Str("command", cmd.Name()).Msg("Configuration loaded")
	return nil
}

func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errStyle.Render("Error:"), err)
	if hint := opserr.HintOf(err); hint != "" {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("Hint:"), hint)
	}
}

// openJournal opens the operations journal. A journal that cannot be opened
// is logged and replaced by a no-op so it never blocks the actual work.
func openJournal(ctx context.Context) (journal.Recorder, *journal.Journal, func()) {
	path := cfg.Path(cfg.JournalPath)
	db, err := database.OpenJournal(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Journal unavailable, continuing without it")
		return journal.Nop{}, nil, func() {}
	}
	j := journal.New(db)
	return j, j, func() { db.Close() }
}
