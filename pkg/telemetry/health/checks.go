package health

import (
	"context"
	"errors"
	"fmt"

	"mercator-hq/packlimit/pkg/limits/policy"
)

// PolicyLoaded fails until a policy document has been installed in store.
func PolicyLoaded(store *policy.Store) CheckFunc {
	return func(ctx context.Context) error {
		if store.Current().LoadedAt.IsZero() {
			return errors.New("no policy loaded")
		}
		return nil
	}
}

// Pinger is implemented by directories backed by a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping wraps a Pinger as a check.
func Ping(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}
