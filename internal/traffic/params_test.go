package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeedDifferencePrecedence(t *testing.T) {
	t.Parallel()
	p := NewParameters()

	// Global default applies to actors without overrides, regardless of
	// the order the overrides arrive in.
	p.SetSpeedDifference(1, -20)
	p.SetGlobalSpeedDifference(10)

	assert.InDelta(t, -20, p.SpeedDifference(1), 1e-9, "per-actor override must win")
	assert.InDelta(t, 10, p.SpeedDifference(2), 1e-9, "global default must apply")

	p.SetGlobalSpeedDifference(50)
	assert.InDelta(t, -20, p.SpeedDifference(1), 1e-9, "global change never touches an explicit override")
	assert.InDelta(t, 50, p.SpeedDifference(2), 1e-9)
}

func TestPreConfigurationOfUnregisteredActor(t *testing.T) {
	t.Parallel()
	p := NewParameters()
	// Configuring an actor the registry has never seen is legal and takes
	// effect whenever the actor shows up.
	p.SetDistanceToLeading(42, 9.5)
	assert.InDelta(t, 9.5, p.DistanceToLeading(42), 1e-9)
}

func TestLookupAfterRemovalReturnsDefaults(t *testing.T) {
	t.Parallel()
	p := NewParameters()
	p.SetSpeedDifference(1, -20)
	p.SetGlobalSpeedDifference(10)
	p.RemoveActor(1)

	assert.InDelta(t, 10, p.SpeedDifference(1), 1e-9)
	assert.InDelta(t, DefaultDistanceToLeading, p.DistanceToLeading(1), 1e-9)
	assert.Equal(t, DefaultAutoLaneChange, p.AutoLaneChange(1))
}

// TestCollisionDetectionPrecedence pins the directed-override rule: a
// disable recorded on either side of the pair suppresses detection for
// both, and re-enabling from the opposite side does not silently undo a
// disable still recorded on the reference side.
func TestCollisionDetectionPrecedence(t *testing.T) {
	t.Parallel()
	p := NewParameters()

	assert.True(t, p.CollisionEnabled(1, 2), "detection defaults to enabled")

	p.SetCollisionDetection(1, 2, false)
	assert.False(t, p.CollisionEnabled(1, 2))
	assert.False(t, p.CollisionEnabled(2, 1), "disable from one side suppresses both directions")

	// B re-enables its own direction; A's recorded disable still wins.
	p.SetCollisionDetection(2, 1, true)
	assert.False(t, p.CollisionEnabled(1, 2))
	assert.False(t, p.CollisionEnabled(2, 1))

	// Only clearing A's entry restores detection.
	p.SetCollisionDetection(1, 2, true)
	assert.True(t, p.CollisionEnabled(1, 2))
	assert.True(t, p.CollisionEnabled(2, 1))
}

func TestForceLaneChangeIsOneShot(t *testing.T) {
	t.Parallel()
	p := NewParameters()

	_, ok := p.ConsumeForceLaneChange(1)
	assert.False(t, ok)

	p.SetForceLaneChange(1, true)
	left, ok := p.ConsumeForceLaneChange(1)
	require.True(t, ok)
	assert.True(t, left)

	_, ok = p.ConsumeForceLaneChange(1)
	assert.False(t, ok, "a consumed request must not fire twice")
}

func TestStochasticPercentagesDefaultToZero(t *testing.T) {
	t.Parallel()
	p := NewParameters()
	assert.Zero(t, p.PercentageIgnoreActors(5))
	assert.Zero(t, p.PercentageRunLight(5))

	p.SetPercentageIgnoreActors(5, 40)
	p.SetPercentageRunLight(5, 70)
	assert.InDelta(t, 40, p.PercentageIgnoreActors(5), 1e-9)
	assert.InDelta(t, 70, p.PercentageRunLight(5), 1e-9)
}
