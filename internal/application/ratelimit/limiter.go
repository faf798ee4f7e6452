package ratelimit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/infrastructure/cache"
)

// Limit types used by the opt-in engine.
const (
	TypeIP    = "ip"
	TypeEmail = "email"
)

// Limiter counts attempts per (type, identifier) inside a fixed window.
type Limiter struct {
	store cache.Store
}

func New(store cache.Store) *Limiter {
	return &Limiter{store: store}
}

// Key returns the counter key for an identifier. The identifier is hashed so
// raw addresses never end up in the cache.
func Key(limitType, identifier string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return "optin_rl_" + limitType + "_" + hex.EncodeToString(sum[:])
}

// IsAllowed records one attempt and reports whether it is within maxAttempts.
// maxAttempts <= 0 disables the limit. Cache failures let the attempt through.
func (l *Limiter) IsAllowed(ctx context.Context, limitType, identifier string, maxAttempts int, window time.Duration) bool {
	if maxAttempts <= 0 {
		return true
	}
	n, err := l.store.Incr(ctx, Key(limitType, identifier), window)
	if err != nil {
		slog.Warn("rate limit counter unavailable", "type", limitType, "err", err)
		return true
	}
	return n <= int64(maxAttempts)
}

// RemainingAttempts reports how many attempts are left without recording one.
func (l *Limiter) RemainingAttempts(ctx context.Context, limitType, identifier string, maxAttempts int) int {
	if maxAttempts <= 0 {
		return -1
	}
	v, ok, err := l.store.Get(ctx, Key(limitType, identifier))
	if err != nil || !ok {
		return maxAttempts
	}
	used, err := strconv.Atoi(v)
	if err != nil {
		return maxAttempts
	}
	if left := maxAttempts - used; left > 0 {
		return left
	}
	return 0
}
