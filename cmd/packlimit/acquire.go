package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
)

var acquireFlags struct {
	clientFlags
	key   string
	count int
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Consume permits for a caller key",
	Long: `Send acquisitions for one caller key and report how many were granted.
Every acquisition consumes a real permit. The command exits with status 3 if
any acquisition was denied.

Examples:
  # Check whether account 1000 may fetch
  packlimit acquire --key 1000

  # Exhaust an anonymous host's quota
  packlimit acquire --key 10.0.0.7 --count 100`,
	RunE: runAcquire,
}

func init() {
	rootCmd.AddCommand(acquireCmd)

	acquireFlags.register(acquireCmd)
	acquireCmd.Flags().StringVarP(&acquireFlags.key, "key", "k", "", "account id or remote host")
	acquireCmd.Flags().IntVarP(&acquireFlags.count, "count", "n", 1, "number of acquisitions")
	_ = acquireCmd.MarkFlagRequired("key")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	if acquireFlags.count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	client, err := acquireFlags.client()
	if err != nil {
		return err
	}

	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	progress.Start(int64(acquireFlags.count))

	var lastMessage string
	for i := 0; i < acquireFlags.count; i++ {
		resp, err := client.Acquire(cmd.Context(), acquireFlags.key)
		if err != nil {
			progress.Error(err)
			return cli.NewCommandError("acquire", err)
		}
		progress.Record(resp.Allowed)
		if !resp.Allowed {
			lastMessage = resp.Message
		}
	}
	progress.Finish()

	granted, denied := progress.Counts()
	fmt.Fprintf(cmd.OutOrStdout(), "granted=%d denied=%d\n", granted, denied)
	if denied > 0 {
		if lastMessage != "" {
			fmt.Fprintln(cmd.OutOrStdout(), lastMessage)
		}
		return cli.ErrDenied
	}
	return nil
}
