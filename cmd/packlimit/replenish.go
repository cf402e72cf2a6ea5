package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
	"mercator-hq/packlimit/pkg/server"
)

var replenishFlags struct {
	clientFlags
	all         bool
	users       []string
	remoteHosts []string
}

var replenishCmd = &cobra.Command{
	Use:   "replenish",
	Short: "Replenish rate limiters",
	Long: `Refill the permits of selected callers on a running server. Users may be
given as account ids or usernames.

Examples:
  # Replenish every cached limiter
  packlimit replenish --all

  # Replenish one user and one anonymous host
  packlimit replenish --user alice --remotehost 10.0.0.7`,
	RunE: runReplenish,
}

func init() {
	rootCmd.AddCommand(replenishCmd)

	replenishFlags.register(replenishCmd)
	replenishCmd.Flags().BoolVar(&replenishFlags.all, "all", false, "replenish every cached limiter")
	replenishCmd.Flags().StringSliceVarP(&replenishFlags.users, "user", "u", nil, "account id or username (repeatable)")
	replenishCmd.Flags().StringSliceVar(&replenishFlags.remoteHosts, "remotehost", nil, "anonymous remote host (repeatable)")
}

var errNothingSelected = errors.New("select --all, --user or --remotehost")

func runReplenish(cmd *cobra.Command, args []string) error {
	f := &replenishFlags
	if !f.all && len(f.users) == 0 && len(f.remoteHosts) == 0 {
		return errNothingSelected
	}
	if f.all && (len(f.users) > 0 || len(f.remoteHosts) > 0) {
		return errors.New("--all cannot be combined with --user or --remotehost")
	}

	client, err := f.client()
	if err != nil {
		return err
	}
	n, err := client.Replenish(cmd.Context(), server.ReplenishBody{
		All:         f.all,
		Users:       f.users,
		RemoteHosts: f.remoteHosts,
	})
	if err != nil {
		return cli.NewCommandError("replenish", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Replenished %d limiter(s)\n", n)
	return nil
}
