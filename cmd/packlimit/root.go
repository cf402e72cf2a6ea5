package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
	"mercator-hq/packlimit/pkg/config"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "packlimit",
	Short: "Packlimit - upload-pack rate limiter",
	Long: `Packlimit limits how many upload-pack (fetch and clone) negotiations each
account or anonymous remote host may start per hour.

Limits are assigned per group in a policy document that can live in a local
file or a git repository and is reloaded without restarting. Users who reach
their warning or hard limit can be notified through a webhook.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads cfgFile with environment overrides.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	return config.GetConfig(), nil
}

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	server  string
	token   string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server address (defaults to server.listen_address)")
	cmd.Flags().StringVar(&f.token, "token", "", "admin token (defaults to server.admin_token or $PACKLIMIT_SERVER_ADMIN_TOKEN)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

// client builds an API client. A missing config file is not an error here:
// the flags and environment may be enough.
func (f *clientFlags) client() (*cli.Client, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	addr := f.server
	if addr == "" {
		addr = cfg.Server.ListenAddress
	}
	token := f.token
	if token == "" {
		token = cfg.Server.AdminToken
	}
	if token == "" {
		token = os.Getenv(config.EnvPrefix + "SERVER_ADMIN_TOKEN")
	}
	return cli.NewClient(addr, token, f.timeout), nil
}
