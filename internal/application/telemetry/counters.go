package telemetry

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-doubleoptin/internal/infrastructure/cache"
)

// Counter names.
const (
	TotalOptIns     = "total_optins"
	ConfirmedOptIns = "confirmed_optins"
	OptOuts         = "optouts"
	RemindersSent   = "reminders_sent"
	RateLimited     = "rate_limited"
)

// Core lists the counters every snapshot includes.
var Core = []string{TotalOptIns, ConfirmedOptIns, OptOuts, RemindersSent, RateLimited}

// IntegrationCounter is the per form system counter, e.g. "cf7_optins".
func IntegrationCounter(formType string) string { return formType + "_optins" }

// Counters are monotonic usage counters. Failures are logged and never block the caller.
type Counters struct {
	store cache.Store
}

func New(store cache.Store) *Counters {
	return &Counters{store: store}
}

func key(name string) string { return "doi_telemetry_" + name }

func (c *Counters) Incr(ctx context.Context, name string) {
	if _, err := c.store.Incr(ctx, key(name), 0); err != nil {
		slog.Warn("telemetry increment failed", "counter", name, "err", err)
	}
}

func (c *Counters) Get(ctx context.Context, name string) int64 {
	v, ok, err := c.store.Get(ctx, key(name))
	if err != nil || !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// Snapshot returns the core counters plus the extra names given.
func (c *Counters) Snapshot(ctx context.Context, extra ...string) map[string]int64 {
	out := make(map[string]int64, len(Core)+len(extra))
	for _, name := range append(append([]string(nil), Core...), extra...) {
		out[name] = c.Get(ctx, name)
	}
	return out
}
