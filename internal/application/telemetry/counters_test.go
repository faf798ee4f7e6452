package telemetry

import (
	"context"
	"testing"

	"github.com/go-doubleoptin/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	ctx := context.Background()
	c := New(cache.NewMemory())

	c.Incr(ctx, TotalOptIns)
	c.Incr(ctx, TotalOptIns)
	c.Incr(ctx, IntegrationCounter("cf7"))

	assert.Equal(t, int64(2), c.Get(ctx, TotalOptIns))
	snap := c.Snapshot(ctx, "cf7_optins", "avada_optins")
	assert.Equal(t, int64(2), snap[TotalOptIns])
	assert.Equal(t, int64(1), snap["cf7_optins"])
	assert.Equal(t, int64(0), snap["avada_optins"])
	assert.Equal(t, int64(0), snap[ConfirmedOptIns])
}
