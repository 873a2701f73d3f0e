package cmd

import (
	"fmt"
	"time"

	"github.com/isdelr/clinicops/internal/auth"
	"github.com/isdelr/clinicops/internal/opserr"
	"github.com/spf13/cobra"
)

var (
	tokenTTL     time.Duration
	tokenSubject string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the daemon's status API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Token lifetime")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Name recorded in the token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	issuer, err := auth.NewIssuer(cfg.API.Secret)
	if err != nil {
		return opserr.New(opserr.Precondition, "token", err, "set OPS_API_SECRET or SECRET_KEY")
	}
	token, err := issuer.Generate(tokenSubject, tokenTTL)
	if err != nil {
		return opserr.New(opserr.Operational, "token", err, "")
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
