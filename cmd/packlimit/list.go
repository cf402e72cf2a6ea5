package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
)

var listFlags struct {
	clientFlags
	format string
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached rate limiters",
	Long: `Print the permits of every caller that has a cached limiter on a running
server: permits per hour, available and used permits, and the time left until
the next replenishment.

Examples:
  # Table output
  packlimit list

  # JSON output from a remote server
  packlimit list --server https://limits.example.com --format json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listFlags.register(listCmd)
	listCmd.Flags().StringVarP(&listFlags.format, "format", "o", "text", "output format: text, json, csv")
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(listFlags.format)
	if err != nil {
		return err
	}
	client, err := listFlags.client()
	if err != nil {
		return err
	}

	entries, err := client.List(cmd.Context())
	if err != nil {
		return cli.NewCommandError("list", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), entries)
}
