package cmd

import (
	"fmt"

	"github.com/isdelr/clinicops/internal/backup"
	"github.com/isdelr/clinicops/internal/config"
	"github.com/isdelr/clinicops/internal/database"
	"github.com/isdelr/clinicops/internal/journal"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/spf13/cobra"
)

var (
	backupSource string
	backupDir    string
	backupRetain int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the database file into a timestamped archive",
	Long: `Copy the live database file into the backup directory as
<name>_<YYYYMMDD_HHMMSS>.<ext> and delete all but the newest archives.

The copy is taken while the server may be writing; it is a cold file copy.
Hosted databases (a postgres:// DATABASE_URL) are refused: use pg_dump.`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupSource, "source", "", "Database file to archive (default from config)")
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (default from config)")
	backupCmd.Flags().IntVar(&backupRetain, "retain", 0, "Number of archives to keep (default from config)")
	rootCmd.AddCommand(backupCmd)
}

// newBackupJob resolves the rotation settings. Without an explicit source
// the database named by DATABASE_URL must be a local file.
func newBackupJob(c *config.Config, recorder journal.Recorder, catalog backup.Catalog, source, dir string, retain int) (*backup.Job, error) {
	if source == "" {
		if target, err := database.ParseURL(c.DatabaseURL, c.WorkDir); err == nil {
			if err := backup.CheckFileBacked(target); err != nil {
				return nil, err
			}
		}
		source = c.Backup.Source
	}
	if dir == "" {
		dir = c.Backup.Dir
	}
	if retain == 0 {
		retain = c.Backup.Retain
	}
	if retain < 0 {
		return nil, opserr.New(opserr.Precondition, "backup", fmt.Errorf("retention must be positive, got %d", retain), "")
	}
	return backup.NewJob(backup.NewRotator(recorder, catalog), c.Path(source), c.Path(dir), retain), nil
}

func runBackup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	recorder, j, closeJournal := openJournal(ctx)
	defer closeJournal()

	var catalog backup.Catalog
	if j != nil {
		catalog = j
	}
	job, err := newBackupJob(cfg, recorder, catalog, backupSource, backupDir, backupRetain)
	if err != nil {
		return err
	}

	res, err := job.Run(ctx)
	if res.Archive.Name != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Backup created: %s (%d bytes)\n", okStyle.Render("✓"), res.Archive.Path, res.Archive.Size)
	}
	for _, a := range res.Removed {
		fmt.Fprintf(cmd.OutOrStdout(), "  Removed old backup: %s\n", a.Name)
	}
	if err != nil {
		return err
	}
	if res.PruneErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s could not remove every old backup: %v\n", warnStyle.Render("Warning:"), res.PruneErr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  Keeping %d backup(s) in %s\n", len(res.Kept), job.Dir())
	return nil
}
