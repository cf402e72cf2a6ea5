// Packlimit enforces hourly upload-pack quotas per account and remote host.
//
// It serves acquisitions over HTTP, reloads its group policy from a file or
// a git repository, and notifies users that approach or exceed their limit.
//
// Usage:
//
//	# Start the server
//	packlimit run --config /etc/packlimit/config.yaml
//
//	# Show cached limiters
//	packlimit list
//
//	# Replenish a user and a remote host
//	packlimit replenish --user alice --remotehost 10.0.0.7
//
//	# Check the configuration and policy document
//	packlimit validate
package main

import (
	"fmt"
	"os"

	"mercator-hq/packlimit/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
