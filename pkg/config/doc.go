// Package config provides configuration management for packlimit.
//
// Configuration is read from a YAML file, completed with defaults and
// validated as a whole:
//
//	cfg, err := config.LoadConfig("packlimit.yaml")
//
// LoadConfigWithEnvOverrides additionally applies PACKLIMIT_SECTION_FIELD
// environment variables, for example:
//
//   - PACKLIMIT_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - PACKLIMIT_POLICY_FILE_PATH overrides policy.file_path
//   - PACKLIMIT_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Values are applied in this order, later ones winning: defaults, the YAML
// file, environment variables. Validation collects every FieldError into a
// single ValidationError.
//
// # Example
//
//	server:
//	  listen_address: "0.0.0.0:8089"
//	  admin_token: "change-me"
//	limiter:
//	  default_window_minutes: 60
//	  idle_expiry: 1h
//	policy:
//	  mode: file
//	  file_path: /etc/packlimit/ratelimit.yaml
//	  watch: true
//	groups:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/packlimit/accounts.db
package config
