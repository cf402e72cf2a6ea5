package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mercator-hq/packlimit/pkg/telemetry/logging"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimiter(&cfg.Limiter)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateGroups(&cfg.Groups)...)
	errs = append(errs, validateNotifications(&cfg.Notifications)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout must be positive"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	return errs
}

func validateLimiter(cfg *LimiterConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultWindowMinutes <= 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.default_window_minutes",
			Message: "default window must be at least one minute",
		})
	}
	if cfg.ReplenishDelay() < 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.initial_replenish_delay",
			Message: "initial replenish delay must not be negative",
		})
	}
	if cfg.IdleExpiry <= 0 {
		errs = append(errs, FieldError{Field: "limiter.idle_expiry", Message: "idle expiry must be positive"})
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, FieldError{Field: "limiter.sweep_interval", Message: "sweep interval must be positive"})
	}
	if cfg.ReconcileWorkers <= 0 {
		errs = append(errs, FieldError{
			Field:   "limiter.reconcile_workers",
			Message: "reconcile workers must be positive",
		})
	}
	return errs
}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError

	switch cfg.Mode {
	case "file":
		if cfg.FilePath == "" {
			errs = append(errs, FieldError{
				Field:   "policy.file_path",
				Message: "file path is required when mode is \"file\"",
			})
		}
	case "git":
		errs = append(errs, validateGit(&cfg.Git)...)
	default:
		errs = append(errs, FieldError{
			Field:   "policy.mode",
			Message: fmt.Sprintf("invalid mode %q (valid: file, git)", cfg.Mode),
		})
	}

	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{Field: "policy.debounce", Message: "debounce must not be negative"})
	}
	return errs
}

func validateGit(cfg *GitPolicyConfig) []FieldError {
	var errs []FieldError

	if cfg.Repository == "" {
		errs = append(errs, FieldError{
			Field:   "policy.git.repository",
			Message: "repository is required when mode is \"git\"",
		})
	}
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "policy.git.path", Message: "path is required"})
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "policy.git.auth.token",
				Message: "token is required when auth type is \"token\"",
			})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "policy.git.auth.ssh_key_path",
				Message: "ssh key path is required when auth type is \"ssh\"",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "policy.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q (valid: none, token, ssh)", cfg.Auth.Type),
		})
	}

	if cfg.Poll.Interval <= 0 {
		errs = append(errs, FieldError{Field: "policy.git.poll.interval", Message: "poll interval must be positive"})
	}
	if cfg.Poll.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "policy.git.poll.timeout", Message: "poll timeout must be positive"})
	}
	return errs
}

func validateGroups(cfg *GroupsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "static":
		ids := make(map[string]bool)
		names := make(map[string]bool)
		for i, a := range cfg.Accounts {
			field := fmt.Sprintf("groups.accounts[%d]", i)
			if _, err := strconv.ParseUint(a.ID, 10, 64); err != nil {
				errs = append(errs, FieldError{
					Field:   field + ".id",
					Message: fmt.Sprintf("account id %q must be numeric", a.ID),
				})
			} else if ids[a.ID] {
				errs = append(errs, FieldError{
					Field:   field + ".id",
					Message: fmt.Sprintf("duplicate account id %q", a.ID),
				})
			}
			ids[a.ID] = true

			if a.Username != "" {
				if names[a.Username] {
					errs = append(errs, FieldError{
						Field:   field + ".username",
						Message: fmt.Sprintf("duplicate username %q", a.Username),
					})
				}
				names[a.Username] = true
			}
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "groups.sqlite.path", Message: "database path is required"})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: "groups.sqlite.busy_timeout", Message: "busy timeout must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "groups.backend",
			Message: fmt.Sprintf("invalid backend %q (valid: static, sqlite)", cfg.Backend),
		})
	}
	return errs
}

func validateNotifications(cfg *NotificationsConfig) []FieldError {
	var errs []FieldError

	if cfg.QueueSize <= 0 {
		errs = append(errs, FieldError{Field: "notifications.queue_size", Message: "queue size must be positive"})
	}
	if cfg.Webhook.URL != "" {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "notifications.webhook.url",
				Message: fmt.Sprintf("invalid webhook URL %q", cfg.Webhook.URL),
			})
		}
	}
	if cfg.Webhook.Timeout < 0 {
		errs = append(errs, FieldError{Field: "notifications.webhook.timeout", Message: "timeout must not be negative"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if !logging.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", cfg.Logging.Level),
		})
	}
	if !logging.ValidFormat(cfg.Logging.Format) {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (valid: json, text, console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	tr := cfg.Tracing
	switch tr.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q (valid: always, never, ratio)", tr.Sampler),
		})
	}
	if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}
	if tr.Enabled && tr.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}
	return errs
}
