package transfer_test

import (
	"loan-upload/internal/core/service/transfer"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const mib = 1024 * 1024

func TestEstimator_Recommend(t *testing.T) {
	t.Run("no samples keeps the initial size", func(t *testing.T) {
		// Arrange
		e := transfer.NewEstimator(2*time.Second, mib, 64*mib, 5*mib, 4)

		// Act & Assert
		assert.Equal(t, int64(5*mib), e.Recommend())
	})

	t.Run("scales to the target duration", func(t *testing.T) {
		// Arrange
		e := transfer.NewEstimator(2*time.Second, mib, 64*mib, 5*mib, 4)
		for range 4 {
			e.Observe(mib, 500*time.Millisecond, true)
		}

		// Act & Assert
		assert.Equal(t, int64(4*mib), e.Recommend())
	})

	t.Run("clamps to bounds", func(t *testing.T) {
		// Arrange
		fast := transfer.NewEstimator(2*time.Second, mib, 8*mib, 5*mib, 4)
		slow := transfer.NewEstimator(2*time.Second, mib, 8*mib, 5*mib, 4)
		fast.Observe(100*mib, time.Second, true)
		slow.Observe(mib, time.Minute, true)

		// Act & Assert
		assert.Equal(t, int64(8*mib), fast.Recommend())
		assert.Equal(t, int64(mib), slow.Recommend())
	})

	t.Run("halves on mostly failing samples", func(t *testing.T) {
		// Arrange
		e := transfer.NewEstimator(2*time.Second, mib, 64*mib, 8*mib, 4)
		e.Observe(8*mib, time.Second, false)
		e.Observe(8*mib, time.Second, false)
		e.Observe(8*mib, time.Second, true)

		// Act & Assert
		assert.Equal(t, int64(4*mib), e.Recommend())
	})

	t.Run("window keeps only recent samples", func(t *testing.T) {
		// Arrange
		e := transfer.NewEstimator(time.Second, mib, 64*mib, 5*mib, 2)
		e.Observe(mib, time.Second, false)
		e.Observe(mib, time.Second, false)
		e.Observe(2*mib, time.Second, true)
		e.Observe(2*mib, time.Second, true)

		// Act & Assert
		assert.Equal(t, int64(2*mib), e.Recommend())
	})
}
