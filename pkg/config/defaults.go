package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8089"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Limiter defaults
	DefaultWindowMinutes         = 60
	DefaultInitialReplenishDelay = time.Minute
	DefaultIdleExpiry            = time.Hour
	DefaultReconcileWorkers      = 8
	DefaultLimitType             = "upload pack"

	// Policy defaults
	DefaultPolicyMode      = "file"
	DefaultPolicyFilePath  = "./ratelimit.yaml"
	DefaultPolicyDebounce  = 100 * time.Millisecond
	DefaultGitBranch       = "main"
	DefaultGitPath         = "ratelimit.yaml"
	DefaultGitAuthType     = "none"
	DefaultGitPollInterval = 30 * time.Second
	DefaultGitPollTimeout  = 10 * time.Second

	// Groups defaults
	DefaultGroupsBackend     = "static"
	DefaultSQLitePath        = "data/accounts.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Notification defaults
	DefaultNotificationsEnabled   = true
	DefaultNotificationsQueueSize = 1024
	DefaultWebhookTimeout         = 5 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultTracingServiceName = "packlimit"
)

// Default returns a configuration with every default applied, including
// boolean defaults that ApplyDefaults cannot tell apart from an explicit
// false. LoadConfig decodes the document on top of it.
func Default() *Config {
	cfg := &Config{}
	cfg.Notifications.Enabled = DefaultNotificationsEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimiterDefaults(&cfg.Limiter)
	applyPolicyDefaults(&cfg.Policy)
	applyGroupsDefaults(&cfg.Groups)
	applyNotificationsDefaults(&cfg.Notifications)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLimiterDefaults(l *LimiterConfig) {
	if l.DefaultWindowMinutes == 0 {
		l.DefaultWindowMinutes = DefaultWindowMinutes
	}
	if l.InitialReplenishDelay == nil {
		d := DefaultInitialReplenishDelay
		l.InitialReplenishDelay = &d
	}
	if l.IdleExpiry == 0 {
		l.IdleExpiry = DefaultIdleExpiry
	}
	if l.SweepInterval == 0 {
		l.SweepInterval = l.IdleExpiry / 4
	}
	if l.ReconcileWorkers == 0 {
		l.ReconcileWorkers = DefaultReconcileWorkers
	}
	if l.LimitType == "" {
		l.LimitType = DefaultLimitType
	}
}

func applyPolicyDefaults(p *PolicyConfig) {
	if p.Mode == "" {
		p.Mode = DefaultPolicyMode
	}
	if p.FilePath == "" {
		p.FilePath = DefaultPolicyFilePath
	}
	if p.Debounce == 0 {
		p.Debounce = DefaultPolicyDebounce
	}

	g := &p.Git
	if g.Branch == "" {
		g.Branch = DefaultGitBranch
	}
	if g.Path == "" {
		g.Path = DefaultGitPath
	}
	if g.Auth.Type == "" {
		g.Auth.Type = DefaultGitAuthType
	}
	if g.Poll.Interval == 0 {
		g.Poll.Interval = DefaultGitPollInterval
	}
	if g.Poll.Timeout == 0 {
		g.Poll.Timeout = DefaultGitPollTimeout
	}
}

func applyGroupsDefaults(g *GroupsConfig) {
	if g.Backend == "" {
		g.Backend = DefaultGroupsBackend
	}
	if g.SQLite.Path == "" {
		g.SQLite.Path = DefaultSQLitePath
	}
	if g.SQLite.BusyTimeout == 0 {
		g.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}

func applyNotificationsDefaults(n *NotificationsConfig) {
	if n.QueueSize == 0 {
		n.QueueSize = DefaultNotificationsQueueSize
	}
	if n.Webhook.Timeout == 0 {
		n.Webhook.Timeout = DefaultWebhookTimeout
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}

	tr := &t.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
}
