package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"unicode/utf8"

	"mercator-hq/packlimit/pkg/limits/policy"
)

// DefaultMaxFileSize bounds policy documents read from disk.
const DefaultMaxFileSize = 1 << 20

// Reader reads one raw policy document.
type Reader interface {
	// Name identifies the document in errors and logs.
	Name() string

	// ReadPolicy returns the document and an optional version. An empty
	// version means the content checksum is used. Missing documents are
	// reported with an error matching fs.ErrNotExist.
	ReadPolicy(ctx context.Context) (data []byte, version string, err error)
}

// FileReader reads a policy document from the file system.
type FileReader struct {
	Path string

	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64
}

func (f FileReader) Name() string { return f.Path }

// ReadPolicy performs size and UTF-8 validation before returning the file.
func (f FileReader) ReadPolicy(ctx context.Context) ([]byte, string, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		msg := "failed to access file"
		switch {
		case errors.Is(err, fs.ErrNotExist):
			msg = "file not found"
		case errors.Is(err, fs.ErrPermission):
			msg = "permission denied"
		}
		return nil, "", &LoadError{FilePath: f.Path, Message: msg, Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, "", &LoadError{FilePath: f.Path, Message: "not a regular file"}
	}

	limit := f.MaxFileSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if info.Size() > limit {
		return nil, "", &LoadError{
			FilePath: f.Path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), limit),
		}
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", &LoadError{FilePath: f.Path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, "", &LoadError{FilePath: f.Path, Message: "file contains invalid UTF-8 encoding"}
	}
	return data, "", nil
}

// Loader reads and parses the primary document and its optional fallback.
//
// The fallback is the global configuration: it is used when the primary
// document configures no groups. A missing fallback is ignored. A missing
// primary is an error unless a fallback exists.
type Loader struct {
	primary  Reader
	fallback Reader
	logger   *slog.Logger
}

// NewLoader creates a loader. fallback may be nil.
func NewLoader(primary, fallback Reader, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{primary: primary, fallback: fallback, logger: logger}
}

// Primary returns the primary reader.
func (l *Loader) Primary() Reader { return l.primary }

// Load returns the snapshot to install. Nothing is returned on any error.
func (l *Loader) Load(ctx context.Context) (*policy.Snapshot, error) {
	primary, err := l.read(ctx, l.primary)
	if err != nil {
		if l.fallback == nil || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		l.logger.Debug("primary policy missing, using fallback", "path", l.primary.Name())
	}

	var fallback *policy.Snapshot
	if l.fallback != nil {
		fallback, err = l.read(ctx, l.fallback)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			if primary == nil {
				return nil, &LoadError{FilePath: l.primary.Name(), Message: "neither primary nor fallback policy exists", Cause: err}
			}
			fallback = nil
		}
	}

	return policy.Merge(primary, fallback), nil
}

func (l *Loader) read(ctx context.Context, r Reader) (*policy.Snapshot, error) {
	data, version, err := r.ReadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := policy.Parse(r.Name(), data)
	if err != nil {
		return nil, err
	}
	if version != "" {
		snap.Version = version
	}
	return snap, nil
}
