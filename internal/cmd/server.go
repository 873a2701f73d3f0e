package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/models"
	"github.com/isdelr/clinicops/internal/procreg"
	"github.com/isdelr/clinicops/internal/supervisor"
	"github.com/spf13/cobra"
)

var statusJSON bool

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop any running scheduler server and start a new one",
	Long: `Stop every running instance of the scheduler server and launch a new one
in the background, detached from this shell.

Running instances are found through the PID file and the process listening
on the configured port (plus a command-line scan when server.match_cmdline
is enabled). Each one gets a terminate signal and, after the stop timeout, a
kill. The new server's output is appended to the server log. The command
exits 0 only once the new process is alive and listening.`,
	Args: cobra.NoArgs,
	RunE: runRestart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scheduler server",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the scheduler server is running",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(restartCmd, stopCmd, statusCmd)
}

func newSupervisor(recorder journal.Recorder) *supervisor.Supervisor {
	return supervisor.New(procreg.NewSystem(), supervisor.OptionsFromConfig(cfg), recorder)
}

func runRestart(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	recorder, _, closeJournal := openJournal(ctx)
	defer closeJournal()

	res, err := newSupervisor(recorder).EnsureRestarted(ctx)
	for _, p := range res.Stopped {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped previous server (PID %d)\n", p.PID)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Server running (PID %d)\n", okStyle.Render("✓"), res.PID)
	fmt.Fprintf(cmd.OutOrStdout(), "  URL: %s\n", res.URL)
	fmt.Fprintf(cmd.OutOrStdout(), "  Log: %s\n", res.LogFile)
	return nil
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	recorder, _, closeJournal := openJournal(ctx)
	defer closeJournal()

	stopped, err := newSupervisor(recorder).Stop(ctx)
	if err != nil {
		return err
	}
	if len(stopped) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Server is not running")
		return nil
	}
	for _, p := range stopped {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stopped server (PID %d)\n", okStyle.Render("✓"), p.PID)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	status, err := newSupervisor(nil).Status(cmd.Context())
	if err != nil {
		return err
	}
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out := cmd.OutOrStdout()
	if status.State != models.ServerRunning {
		fmt.Fprintf(out, "%s Server is stopped (port %d)\n", warnStyle.Render("○"), status.Port)
		fmt.Fprintf(out, "  Start it with: %s restart\n", os.Args[0])
		return nil
	}
	fmt.Fprintf(out, "%s Server is running (PID %d)\n", okStyle.Render("●"), status.PID)
	fmt.Fprintf(out, "  URL:    %s\n", status.URL)
	fmt.Fprintf(out, "  Uptime: %s\n", status.Uptime.Round(time.Second))
	fmt.Fprintf(out, "  CPU:    %.1f%%\n", status.Resources.CPU)
	fmt.Fprintf(out, "  Memory: %.1f MiB\n", float64(status.Resources.RSSBytes)/(1<<20))
	fmt.Fprintf(out, "  Log:    %s\n", status.LogFile)
	return nil
}
