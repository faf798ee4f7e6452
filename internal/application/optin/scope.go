package optin

import (
	"context"
	"sync/atomic"
)

type suppressKey struct{}

// ValidationScope marks notification replays so rate limits, recipient
// validators and listeners skip the checks a fresh submission would get.
// The mark lives in the context, so it never leaks into unrelated requests.
type ValidationScope struct {
	active atomic.Int32
}

// Suppress runs fn with validation suppressed. The scope is left when fn
// returns or panics.
func (s *ValidationScope) Suppress(ctx context.Context, fn func(context.Context) error) error {
	s.active.Add(1)
	defer s.active.Add(-1)
	return fn(context.WithValue(ctx, suppressKey{}, true))
}

// Active reports how many suppressed sections are currently running.
func (s *ValidationScope) Active() int { return int(s.active.Load()) }

// ValidationSuppressed reports whether ctx belongs to a replay.
func ValidationSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
