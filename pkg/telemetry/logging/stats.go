package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NewStatsLogger opens a JSON logger appending to path, used for the
// rate limit event log. An empty path logs to stderr. The returned closer
// closes the file.
func NewStatsLogger(path string) (*slog.Logger, io.Closer, error) {
	if path == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil)), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create stats log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open stats log: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, nil)).With("log", "ratelimit"), f, nil
}
