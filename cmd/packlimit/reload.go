package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
)

var reloadFlags clientFlags

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the policy on a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := reloadFlags.client()
		if err != nil {
			return err
		}
		res, err := client.Reload(cmd.Context())
		if err != nil {
			return cli.NewCommandError("reload", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Policy %s (version %s): %d rebuilt, %d rewarned, %d failed\n",
			res.Outcome, res.Version, res.Rebuilt, res.Rewarned, res.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
	reloadFlags.register(reloadCmd)
}
