package ratelimit

import (
	"fmt"
	"time"
)

// Params are the effective values resolved for one caller key.
type Params struct {
	Limit         int
	HasLimit      bool
	Warn          int
	HasWarn       bool
	WindowMinutes int
}

// Shape returns the limiter shape these values require.
func (p Params) Shape() Shape { return ShapeFor(p.HasLimit, p.HasWarn) }

// Factory builds limiters of the shape implied by Params.
type Factory struct {
	Scheduler Scheduler
	Notifier  Notifier
	Options   Options

	// LimitType labels events. Defaults to DefaultLimitType.
	LimitType string

	// Now stamps events. Defaults to time.Now.
	Now func() time.Time
}

// Build constructs a new limiter for key.
//
//	| limit | warn | result           |
//	|-------|------|------------------|
//	| yes   | no   | PermitBucket     |
//	| yes   | yes  | Warning          |
//	| no    | yes  | WarningUnbounded |
//	| no    | no   | Unbounded        |
func (f *Factory) Build(key string, p Params) (Limiter, error) {
	if p.HasWarn && p.Warn < 1 {
		return nil, ErrInvalidWarnLimit
	}

	switch p.Shape() {
	case ShapeBounded:
		return NewPermitBucket(f.Scheduler, p.Limit, p.WindowMinutes, f.Options)

	case ShapeWarning:
		b, err := NewPermitBucket(f.Scheduler, p.Limit, p.WindowMinutes, f.Options)
		if err != nil {
			return nil, err
		}
		return &Warning{bucket: b, src: f.source(key, p.Warn)}, nil

	case ShapeWarningUnbounded:
		if p.WindowMinutes < 1 {
			return nil, ErrInvalidWindow
		}
		m := &meter{}
		if err := m.start(f.Scheduler, time.Duration(p.WindowMinutes)*time.Minute, f.Options); err != nil {
			return nil, err
		}
		return &WarningUnbounded{m: m, window: p.WindowMinutes, src: f.source(key, p.Warn)}, nil

	default:
		return Unbounded{}, nil
	}
}

// Rewarn returns a new decorator with a different warn limit around the same
// bucket or meter as l. The used count and replenish schedule carry over, so
// the caller must not Close l after swapping.
func (f *Factory) Rewarn(key string, l Limiter, warn int) (Limiter, error) {
	if warn < 1 {
		return nil, ErrInvalidWarnLimit
	}

	switch cur := l.(type) {
	case *Warning:
		return &Warning{bucket: cur.bucket, src: f.source(key, warn)}, nil
	case *WarningUnbounded:
		return &WarningUnbounded{m: cur.m, window: cur.window, src: f.source(key, warn)}, nil
	default:
		return nil, fmt.Errorf("ratelimit: cannot change warn limit of %s limiter", l.Shape())
	}
}

func (f *Factory) source(key string, warn int) eventSource {
	src := eventSource{
		key:       key,
		warnLimit: warn,
		limitType: f.LimitType,
		notifier:  f.Notifier,
		now:       f.Now,
	}
	if src.limitType == "" {
		src.limitType = DefaultLimitType
	}
	if src.notifier == nil {
		src.notifier = nopNotifier{}
	}
	if src.now == nil {
		src.now = time.Now
	}
	return src
}
