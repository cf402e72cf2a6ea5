package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	policymanager "mercator-hq/packlimit/pkg/policy/manager"
	"mercator-hq/packlimit/pkg/telemetry/logging"
)

var validateFlags struct {
	configOnly bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and policy document",
	Long: `Load the configuration, then load and parse the policy document it points
to without starting the server. Parse errors are reported with their line and
column. In git mode the repository is cloned first.

Examples:
  # Validate config and policy
  packlimit validate --config /etc/packlimit/config.yaml

  # Validate only the configuration
  packlimit validate --config-only`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.configOnly, "config-only", false, "skip the policy document")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Configuration valid")
	if validateFlags.configOnly {
		return nil
	}

	logger := logging.Discard()
	if verbose {
		if logger, err = newLogger(cfg.Telemetry.Logging, cmd.ErrOrStderr()); err != nil {
			return cli.NewConfigError("telemetry.logging", err.Error())
		}
	}

	ctx := cmd.Context()
	mgr, err := policymanager.New(ctx, cfg.Policy, policy.NewStore(nil), discardReconciler{}, policymanager.WithLogger(logger))
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	defer mgr.Close()

	snap, err := mgr.ValidateDryRun(ctx)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	fmt.Fprintf(out, "✓ Policy valid: %s (version %s)\n", mgr.Source(), snap.Version)
	printPolicy(out, snap)
	return nil
}

func printPolicy(w io.Writer, snap *policy.Snapshot) {
	groups := snap.Table.AllGroups()
	if len(groups) == 0 {
		fmt.Fprintln(w, "  no group limits: every caller is unlimited")
		return
	}
	for _, g := range groups {
		var parts []string
		for _, k := range []policy.Kind{policy.KindLimit, policy.KindWarn, policy.KindWindow} {
			if p, ok := snap.Table.Lookup(k, g); ok {
				parts = append(parts, fmt.Sprintf("%s=%d", k, p.Value))
			}
		}
		fmt.Fprintf(w, "  %s: %s\n", g, strings.Join(parts, " "))
	}
	if len(snap.Recipients) > 0 {
		names := make([]string, len(snap.Recipients))
		for i, g := range snap.Recipients {
			names[i] = string(g)
		}
		fmt.Fprintf(w, "  notification recipients: %s\n", strings.Join(names, ", "))
	}
}

// discardReconciler satisfies the reload manager for dry runs, which never
// install a snapshot.
type discardReconciler struct{}

func (discardReconciler) OnPolicyChanged(context.Context, *policy.Snapshot, *policy.Snapshot) limits.ReconcileReport {
	return limits.ReconcileReport{}
}
