package clock_test

import (
	"context"
	"loan-upload/internal/core/service/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_Sleep(t *testing.T) {
	t.Run("returns after duration", func(t *testing.T) {
		err := clock.System{}.Sleep(context.Background(), time.Millisecond)
		assert.NoError(t, err)
	})

	t.Run("returns on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := clock.System{}.Sleep(ctx, time.Hour)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFake(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	assert.NoError(t, fake.Sleep(context.Background(), time.Second))
	fake.Advance(time.Minute)

	assert.Equal(t, start.Add(61*time.Second), fake.Now())
	assert.Equal(t, []time.Duration{time.Second}, fake.Sleeps())
}
