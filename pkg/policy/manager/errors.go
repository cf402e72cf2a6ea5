package manager

import (
	"errors"
	"fmt"
)

// ErrWatchDisabled is returned by Watch when the file source has watching
// turned off.
var ErrWatchDisabled = errors.New("policy watching is not enabled in configuration")

// LoadError represents a failure to read a policy document, such as a
// missing file, a permission problem or a size or encoding violation.
// Parse failures are reported as policy.ParseError instead.
type LoadError struct {
	// FilePath names the document that failed to load
	FilePath string

	// Message describes the error
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load policy file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load policy file %q: %s", e.FilePath, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}
