package limits

import (
	"context"
	"errors"
	"time"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

var (
	// ErrReplenishConflict is returned when a replenish request names both
	// all limiters and specific callers.
	ErrReplenishConflict = errors.New("limits: all cannot be combined with users or remote hosts")

	// ErrReplenishEmpty is returned when a replenish request selects nothing.
	ErrReplenishEmpty = errors.New("limits: replenish requires all, users or remote hosts")

	// ErrUnknownUser is returned when a replenish user cannot be resolved.
	ErrUnknownUser = errors.New("limits: unknown user")
)

// Decision is the outcome of one Check.
type Decision struct {
	// Allowed reports whether the negotiation may proceed.
	Allowed bool

	// FailOpen is set when the limiter could not be built and the caller was
	// let through unthrottled.
	FailOpen bool

	// MaxPermits is the caller's permits per window, or ratelimit.Unlimited.
	MaxPermits int

	// Message is the exceeded message shown to denied callers.
	Message string

	// RetryAfter is the time until the caller's next replenishment.
	RetryAfter time.Duration
}

// Status is one row of the administrative listing.
type Status struct {
	Key           string          `json:"key"`
	DisplayName   string          `json:"display_name"`
	Shape         ratelimit.Shape `json:"-"`
	MaxPermits    int             `json:"max_permits"`
	Available     int             `json:"available_permits"`
	Used          int             `json:"used_permits"`
	RemainingTime time.Duration   `json:"-"`
}

// ReplenishRequest selects limiters to replenish. All cannot be combined
// with Users or RemoteHosts.
type ReplenishRequest struct {
	All         bool
	Users       []string
	RemoteHosts []string
}

// UserNamer is implemented by directories that can display account names.
type UserNamer interface {
	UserName(ctx context.Context, key string) (string, bool)
}

// AccountResolver is implemented by directories that map a user name, email
// or account id to the account key.
type AccountResolver interface {
	AccountKey(ctx context.Context, user string) (string, bool)
}
