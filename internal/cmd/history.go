package cmd

import (
	"errors"
	"fmt"

	"github.com/isdelr/clinicops/internal/inspect"
	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyArchives bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent restarts, backups and deploys from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of events to show")
	historyCmd.Flags().BoolVar(&historyArchives, "archives", false, "List the backup archives still on disk instead of events")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyLimit <= 0 {
		return opserr.New(opserr.Precondition, "history", fmt.Errorf("limit must be positive, got %d", historyLimit), "")
	}
	ctx := cmd.Context()
	_, j, closeJournal := openJournal(ctx)
	defer closeJournal()
	if j == nil {
		return opserr.New(opserr.Operational, "history", errors.New("journal is unavailable"), "check journal_path and its directory permissions")
	}

	if historyArchives {
		return renderArchives(cmd, j)
	}

	events, err := j.RecentEvents(ctx, historyLimit)
	if err != nil {
		return opserr.New(opserr.Operational, "history", err, "")
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events recorded yet")
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.Level, e.Message})
	}
	inspect.RenderTable(cmd.OutOrStdout(), []string{"Time", "Event", "Level", "Message"}, rows)
	return nil
}

func renderArchives(cmd *cobra.Command, j *journal.Journal) error {
	archives, err := j.LiveArchives(cmd.Context())
	if err != nil {
		return opserr.New(opserr.Operational, "history", err, "")
	}
	if len(archives) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No backups recorded yet")
		return nil
	}
	rows := make([][]string, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, []string{a.CreatedAt.Local().Format("2006-01-02 15:04:05"), a.Name, fmt.Sprintf("%d", a.Size), a.Path})
	}
	inspect.RenderTable(cmd.OutOrStdout(), []string{"Created", "Archive", "Bytes", "Path"}, rows)
	return nil
}
