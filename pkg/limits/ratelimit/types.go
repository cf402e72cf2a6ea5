package ratelimit

import (
	"errors"
	"math"
	"time"
)

// Unlimited is the permit count reported by limiters without a main limit.
const Unlimited = math.MaxInt

// DefaultLimitType labels the operation being limited in events and messages.
const DefaultLimitType = "upload pack"

var (
	// ErrInvalidCapacity is returned when a bucket is created with fewer than one permit.
	ErrInvalidCapacity = errors.New("ratelimit: capacity must be at least 1")

	// ErrInvalidWindow is returned when a bucket window is shorter than one minute.
	ErrInvalidWindow = errors.New("ratelimit: window must be at least 1 minute")

	// ErrInvalidWarnLimit is returned when a warn threshold is below one.
	ErrInvalidWarnLimit = errors.New("ratelimit: warn limit must be at least 1")

	// ErrSchedulerStopped is returned by Schedule after the scheduler was stopped.
	ErrSchedulerStopped = errors.New("ratelimit: scheduler stopped")
)

// Shape identifies which of the four limiter variants represents a key.
type Shape int

const (
	// ShapeUnbounded has neither a main limit nor a warn threshold.
	ShapeUnbounded Shape = iota

	// ShapeBounded has a main limit only.
	ShapeBounded

	// ShapeWarning has a main limit and a warn threshold.
	ShapeWarning

	// ShapeWarningUnbounded has a warn threshold but no main limit.
	ShapeWarningUnbounded
)

// String returns the shape name used in logs and listings.
func (s Shape) String() string {
	switch s {
	case ShapeUnbounded:
		return "unbounded"
	case ShapeBounded:
		return "bounded"
	case ShapeWarning:
		return "warning"
	case ShapeWarningUnbounded:
		return "warning-unbounded"
	default:
		return "unknown"
	}
}

// ShapeFor returns the shape implied by the presence of a main limit and a
// warn threshold.
func ShapeFor(hasLimit, hasWarn bool) Shape {
	switch {
	case hasLimit && hasWarn:
		return ShapeWarning
	case hasLimit:
		return ShapeBounded
	case hasWarn:
		return ShapeWarningUnbounded
	default:
		return ShapeUnbounded
	}
}

// Limiter is the capability shared by every limiter shape.
//
// Window and WarnLimit report false for shapes that do not carry the value,
// which lets reconciliation compare limiters without type switches.
type Limiter interface {
	// Acquire consumes one permit and reports whether it was granted.
	Acquire() bool

	// MaxPermits returns the capacity, or Unlimited.
	MaxPermits() int

	// AvailablePermits returns MaxPermits minus UsedPermits for bounded shapes.
	AvailablePermits() int

	// UsedPermits returns the permits granted since the last replenishment.
	UsedPermits() int

	// RemainingTime returns the time until the next scheduled replenishment.
	RemainingTime() time.Duration

	// Replenish resets the used count out of band.
	Replenish()

	// Close cancels scheduled replenishment. It is idempotent.
	Close()

	Shape() Shape
	Window() (minutes int, ok bool)
	WarnLimit() (limit int, ok bool)
}

// Less orders limiters for display: most available permits first.
func Less(a, b Limiter) bool {
	return a.AvailablePermits() > b.AvailablePermits()
}
