package gate_test

import (
	"io"
	"loan-upload/internal/core/service/gate"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestGate(t *testing.T) {
	t.Run("starts from the source state", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(false)

		// Act
		g := gate.NewGate(source, discardLogger)

		// Assert
		assert.False(t, g.IsOnline())
	})

	t.Run("notifies transitions once", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(true)
		g := gate.NewGate(source, discardLogger)
		var seen []bool
		g.OnTransition(func(online bool) { seen = append(seen, online) })

		// Act
		source.Set(false)
		source.Set(false)
		source.Set(true)

		// Assert
		assert.Equal(t, []bool{false, true}, seen)
		assert.True(t, g.IsOnline())
	})

	t.Run("listener reads the new state", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(true)
		g := gate.NewGate(source, discardLogger)
		var observed bool
		g.OnTransition(func(online bool) { observed = g.IsOnline() })

		// Act
		source.Set(false)
		source.Set(true)

		// Assert
		assert.True(t, observed)
	})

	t.Run("unsubscribe and close stop notifications", func(t *testing.T) {
		// Arrange
		source := gate.NewSwitch(true)
		g := gate.NewGate(source, discardLogger)
		calls := 0
		remove := g.OnTransition(func(bool) { calls++ })

		// Act
		source.Set(false)
		remove()
		source.Set(true)
		g.Close()
		source.Set(false)

		// Assert
		assert.Equal(t, 1, calls)
		assert.True(t, g.IsOnline())
	})
}
