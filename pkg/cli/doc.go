/*
Package cli provides helpers for the packlimit command.

Client:

Client talks to a running server. It is used by the list, replenish,
reload and acquire commands:

	client := cli.NewClient(cfg.Server.ListenAddress, cfg.Server.AdminToken, 10*time.Second)
	entries, err := client.List(ctx)

Output Formatting:

Limiter listings can be printed as the fixed-width table, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, entries); err != nil {
		return err
	}

Progress Reporting:

The acquire command reports granted and denied acquisitions as it goes:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(n)
	progress.Record(resp.Allowed)
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, cancel := cli.SetupSignalHandler(context.Background())
	defer cancel()
*/
package cli
