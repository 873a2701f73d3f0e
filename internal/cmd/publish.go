package cmd

import (
	"fmt"

	"github.com/isdelr/clinicops/internal/config"
	"github.com/isdelr/clinicops/internal/publish"
	"github.com/spf13/cobra"
)

var (
	publishMessage string
	publishRemote  string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Commit pending changes and push them to the deployment remote",
	Long: `Stage every change in the application checkout (additions, modifications
and deletions), commit it when the tree is dirty and push the current branch
to the deployment remote. A clean tree is still pushed.

Set GIT_USERNAME and GIT_TOKEN for HTTPS remotes that need credentials.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVarP(&publishMessage, "message", "m", "", "Commit message (default from config)")
	publishCmd.Flags().StringVar(&publishRemote, "remote", "", "Remote to push to (default from config)")
	rootCmd.AddCommand(publishCmd)
}

// stateFiles are the files clinicops itself writes inside the application
// directory. They never belong in a deploy: the backups hold patient data.
func stateFiles(c *config.Config) []string {
	journalPath := c.Path(c.JournalPath)
	pidFile := c.Path(c.Server.PidFile)
	return []string{
		journalPath, journalPath + "-wal", journalPath + "-shm", journalPath + "-journal",
		pidFile, pidFile + ".lock",
		c.Path(c.Server.LogFile),
		c.Path(c.Backup.Dir),
	}
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	recorder, _, closeJournal := openJournal(ctx)
	defer closeJournal()

	message := publishMessage
	if message == "" {
		message = cfg.Publish.CommitMessage
	}
	remote := publishRemote
	if remote == "" {
		remote = cfg.Publish.Remote
	}

	repo, err := publish.Open(cfg.WorkDir, cfg.Publish.Username, cfg.Publish.Token)
	if err != nil {
		return err
	}
	repo.Exclude(stateFiles(cfg)...)
	res, err := publish.New(repo, remote, message, recorder).Publish(ctx)
	if res.Committed {
		fmt.Fprintf(cmd.OutOrStdout(), "Committed %s: %s\n", res.Commit, message)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.UpToDate {
		fmt.Fprintf(out, "%s %s/%s is already up to date\n", okStyle.Render("✓"), res.Remote, res.Branch)
	} else {
		fmt.Fprintf(out, "%s Pushed %s to %s\n", okStyle.Render("✓"), res.Branch, res.Remote)
	}
	fmt.Fprintln(out, "\nNext steps:")
	for i, step := range res.NextSteps {
		fmt.Fprintf(out, "  %d. %s\n", i+1, step)
	}
	return nil
}
