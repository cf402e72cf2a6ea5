package config

import "time"

// Config is the root configuration structure for packlimit.
type Config struct {
	// Server contains the HTTP server configuration for the acquire and
	// admin endpoints.
	Server ServerConfig `yaml:"server"`

	// Limiter contains the rate limiting engine configuration.
	Limiter LimiterConfig `yaml:"limiter"`

	// Policy contains the location of the policy document and how it is
	// watched for changes.
	Policy PolicyConfig `yaml:"policy"`

	// Groups selects the group directory that maps caller keys to groups.
	Groups GroupsConfig `yaml:"groups"`

	// Notifications configures delivery of warn and blocked events.
	Notifications NotificationsConfig `yaml:"notifications"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address to listen on.
	// Default: "127.0.0.1:8089"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AdminToken protects /list and /replenish with a bearer token.
	// Empty disables the check.
	AdminToken string `yaml:"admin_token"`
}

// LimiterConfig contains configuration for the limits engine.
type LimiterConfig struct {
	// DefaultWindowMinutes is the replenish window used when a caller has no
	// valid timelapseinminutes policy. It is also the upper bound for
	// configured windows.
	// Default: 60
	DefaultWindowMinutes int `yaml:"default_window_minutes"`

	// InitialReplenishDelay is the delay before a new bucket is first
	// replenished. An explicit zero ("0s") aligns the first replenishment
	// with one full window; leaving it unset selects the default.
	// Default: 1m
	InitialReplenishDelay *time.Duration `yaml:"initial_replenish_delay"`

	// IdleExpiry evicts limiters not used for this long.
	// Default: 1h
	IdleExpiry time.Duration `yaml:"idle_expiry"`

	// SweepInterval is how often idle limiters are collected.
	// Default: IdleExpiry / 4
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// ReconcileWorkers bounds how many limiters are reconciled in parallel
	// after a policy change.
	// Default: 8
	ReconcileWorkers int `yaml:"reconcile_workers"`

	// LimitType labels the limited operation in events and messages.
	// Default: "upload pack"
	LimitType string `yaml:"limit_type"`
}

// ReplenishDelay returns the configured initial replenish delay, or the
// default when it is unset.
func (l LimiterConfig) ReplenishDelay() time.Duration {
	if l.InitialReplenishDelay == nil {
		return DefaultInitialReplenishDelay
	}
	return *l.InitialReplenishDelay
}

// PolicyConfig contains configuration for the policy document source.
type PolicyConfig struct {
	// Mode specifies how the policy document is loaded.
	// Options: "file", "git"
	// Default: "file"
	Mode string `yaml:"mode"`

	// FilePath is the path to the policy document when Mode is "file".
	// Default: "./ratelimit.yaml"
	FilePath string `yaml:"file_path"`

	// FallbackPath is an optional document consulted when the primary
	// document defines no groups.
	FallbackPath string `yaml:"fallback_path"`

	// Watch enables automatic reloading when the policy file changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce collapses bursts of file events into one reload.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`

	// Git contains repository configuration used when Mode is "git".
	Git GitPolicyConfig `yaml:"git"`
}

// GitPolicyConfig configures loading the policy document from git.
type GitPolicyConfig struct {
	// Repository URL (HTTPS or SSH).
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path of the policy document within the repository.
	// Default: "ratelimit.yaml"
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: system temp directory
	LocalPath string `yaml:"local_path"`

	// Auth configures git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// Poll configures change detection.
	Poll GitPollConfig `yaml:"poll"`
}

// GitAuthConfig configures git authentication.
type GitAuthConfig struct {
	// Type: "none", "token", "ssh"
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication.
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// GitPollConfig configures change detection.
type GitPollConfig struct {
	// Interval between polls.
	// Default: 30s
	Interval time.Duration `yaml:"interval"`

	// Timeout for git operations.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// GroupsConfig selects the group directory.
type GroupsConfig struct {
	// Backend is "static" or "sqlite".
	// Default: "static"
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite directory.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Accounts lists the accounts of the static directory.
	Accounts []AccountConfig `yaml:"accounts"`
}

// SQLiteConfig contains SQLite directory configuration.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: "data/accounts.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AccountConfig is one account of the static directory.
type AccountConfig struct {
	// ID is the numeric account id used as the caller key.
	ID string `yaml:"id"`

	// Username is the display and lookup name.
	Username string `yaml:"username"`

	// Groups are the account's group names.
	Groups []string `yaml:"groups"`
}

// NotificationsConfig configures delivery of warn and blocked events.
type NotificationsConfig struct {
	// Enabled controls whether events are delivered at all.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// QueueSize is the capacity of the delivery queue. Events are dropped
	// when it is full.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// StatsLogPath is the file receiving event log lines. Empty logs to
	// stderr.
	StatsLogPath string `yaml:"stats_log_path"`

	// Webhook optionally posts events as JSON.
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	// URL receives a POST per event. Empty disables the sink.
	URL string `yaml:"url"`

	// Timeout bounds each POST.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactRemoteHosts masks IP and email addresses in log attributes.
	RedactRemoteHosts bool `yaml:"redact_remote_hosts"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the Prometheus endpoint.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample when Sampler is
	// "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name in traces.
	// Default: "packlimit"
	ServiceName string `yaml:"service_name"`
}
