package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRegistryAggregates(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(time.Second)
	r.Register("database", func(context.Context) error { return nil })
	r.Register("cache", func(context.Context) error { return errors.New("connection refused") })

	report := r.Run(context.Background())
	assert.False(t, report.Healthy)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "cache", report.Checks[0].Name)
	assert.Equal(t, "connection refused", report.Checks[0].Error)
	assert.True(t, report.Checks[1].Healthy)
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	report := r.Run(context.Background())
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Checks[0].Error, "deadline")
}

func TestEmptyRegistryIsHealthy(t *testing.T) {
	assert.True(t, NewRegistry(0).Run(context.Background()).Healthy)
}

func TestHostSnapshot(t *testing.T) {
	snap := Host(context.Background())
	assert.NotEmpty(t, snap.OS)
	assert.Greater(t, snap.CPUCount, 0)
	assert.Greater(t, snap.Goroutines, 0)
}
