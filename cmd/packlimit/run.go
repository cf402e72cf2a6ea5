package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/packlimit/pkg/cli"
	"mercator-hq/packlimit/pkg/config"
	"mercator-hq/packlimit/pkg/groups"
	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/limits/ratelimit"
	"mercator-hq/packlimit/pkg/notify"
	policymanager "mercator-hq/packlimit/pkg/policy/manager"
	"mercator-hq/packlimit/pkg/server"
	"mercator-hq/packlimit/pkg/telemetry/health"
	"mercator-hq/packlimit/pkg/telemetry/logging"
	"mercator-hq/packlimit/pkg/telemetry/metrics"
	"mercator-hq/packlimit/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the packlimit server",
	Long: `Start the packlimit server with the specified configuration.

The server loads the policy document, serves acquisitions and the
administrative API, and reloads the policy when it changes.

Examples:
  # Start with default config
  packlimit run

  # Start with custom config
  packlimit run --config /etc/packlimit/config.yaml

  # Override listen address
  packlimit run --listen 0.0.0.0:8089

  # Validate config without starting server
  packlimit run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, cancel := cli.SetupSignalHandler(cmd.Context())
	defer cancel()

	printBanner(cmd.OutOrStdout(), cfg)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer app.close()

	if err := app.reloader.Load(ctx); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("initial policy load: %w", err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Policy loaded from %s (version %s)\n", app.reloader.Source(), app.store.Current().Version)

	go func() {
		err := app.reloader.Watch(ctx)
		switch {
		case errors.Is(err, policymanager.ErrWatchDisabled):
			logger.Info("policy watching disabled")
		case err != nil && ctx.Err() == nil:
			logger.Error("policy watcher stopped", "error", err)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintln(cmd.OutOrStdout(), "\nPress Ctrl+C to stop")

	if err := app.server.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:             cfg.Level,
		Format:            cfg.Format,
		AddSource:         cfg.AddSource,
		RedactRemoteHosts: cfg.RedactRemoteHosts,
		Writer:            w,
	})
}

// app holds every long-lived component of the server. close releases them
// in reverse start order.
type app struct {
	store      *policy.Store
	engine     *limits.Manager
	reloader   *policymanager.Manager
	server     *server.Server
	checker    *health.Checker
	dispatcher *notify.Dispatcher

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	tracer, err := tracing.New(cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.onClose(func() { _ = tracer.Shutdown(context.Background()) })

	reg := metrics.NewRegistry()

	dir, err := groups.Open(ctx, cfg.Groups, logger)
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	a.onClose(func() { _ = dir.Close() })

	a.store = policy.NewStore(nil)

	sched := ratelimit.NewCronScheduler(logger)
	a.onClose(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(stopCtx)
	})

	opts := []limits.Option{limits.WithLogger(logger), limits.WithRegisterer(reg)}
	if cfg.Notifications.Enabled {
		d, stats, err := newDispatcher(cfg.Notifications, a.store, dir, reg, logger)
		if err != nil {
			return nil, err
		}
		// Registered first so the stats log closes after the queue drains.
		a.onClose(func() { _ = stats.Close() })
		a.dispatcher = d
		d.Start()
		a.onClose(func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = d.Close(closeCtx)
		})
		opts = append(opts, limits.WithNotifier(d))
	}

	a.engine, err = limits.NewManager(limits.Config{
		DefaultWindowMinutes:  cfg.Limiter.DefaultWindowMinutes,
		InitialReplenishDelay: cfg.Limiter.ReplenishDelay(),
		IdleExpiry:            cfg.Limiter.IdleExpiry,
		SweepInterval:         cfg.Limiter.SweepInterval,
		ReconcileWorkers:      cfg.Limiter.ReconcileWorkers,
		LimitType:             cfg.Limiter.LimitType,
	}, a.store, dir, sched, opts...)
	if err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	a.onClose(a.engine.Close)

	a.reloader, err = policymanager.New(ctx, cfg.Policy, a.store, a.engine,
		policymanager.WithLogger(logger),
		policymanager.WithRecorder(a.engine.Metrics()),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	a.onClose(func() { _ = a.reloader.Close() })

	a.checker = health.New(5 * time.Second)
	a.checker.RegisterCheck("policy", health.PolicyLoaded(a.store))
	if p, ok := dir.(health.Pinger); ok {
		a.checker.RegisterCheck("groups", health.Ping("groups", p))
	}

	routerOpts := server.Options{
		Engine:     a.engine,
		Reloader:   a.reloader,
		Health:     a.checker,
		Version:    health.VersionInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
		AdminToken: cfg.Server.AdminToken,
		Logger:     logger,
	}
	if cfg.Telemetry.Metrics.Enabled {
		routerOpts.Registry = reg
		routerOpts.MetricsPath = cfg.Telemetry.Metrics.Path
		routerOpts.HTTPMetrics = metrics.NewHTTPMetrics(reg)
	}
	a.server = server.New(cfg.Server, server.NewRouter(routerOpts), logger)
	return a, nil
}

func newDispatcher(cfg config.NotificationsConfig, store *policy.Store, dir groups.Directory, reg prometheus.Registerer, logger *slog.Logger) (*notify.Dispatcher, io.Closer, error) {
	stats, closer, err := logging.NewStatsLogger(cfg.StatsLogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("notifications: %w", err)
	}

	d := notify.NewDispatcher(notify.Config{
		QueueSize:  cfg.QueueSize,
		Namer:      dir,
		Filter:     notify.NewRecipientFilter(store, dir),
		Registerer: reg,
		Logger:     logger,
	})
	d.AddSink(notify.NewLogSink(stats), false)
	if cfg.Webhook.URL != "" {
		d.AddSink(notify.NewWebhookSink(notify.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.Webhook.Timeout,
		}), true)
	}
	return d, closer, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Packlimit v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	fmt.Fprintln(w, "✓ Configuration loaded")

	switch cfg.Policy.Mode {
	case "git":
		slog.Debug("policy mode", "mode", "git", "repository", cfg.Policy.Git.Repository, "path", cfg.Policy.Git.Path)
	default:
		slog.Debug("policy mode", "mode", "file", "path", cfg.Policy.FilePath, "fallback", cfg.Policy.FallbackPath)
	}
	slog.Debug("groups backend", "backend", cfg.Groups.Backend)
}
