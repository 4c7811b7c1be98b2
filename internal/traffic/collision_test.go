package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

type collisionHarness struct {
	registry *Registry
	params   *Parameters
	in       *messenger.Messenger[LocalizationFrame]
	out      *messenger.Messenger[CollisionFrame]
	stage    *CollisionStage
}

func newCollisionHarness() *collisionHarness {
	h := &collisionHarness{
		registry: NewRegistry(),
		params:   NewParameters(),
		in:       messenger.New[LocalizationFrame](),
		out:      messenger.New[CollisionFrame](),
	}
	h.stage = NewCollisionStage(h.registry, h.params, DefaultSettings(), h.in, h.out)
	return h
}

func (h *collisionHarness) run(t *testing.T, frame LocalizationFrame) map[sim.ActorID]HazardInfo {
	t.Helper()
	h.in.Send(frame)
	require.NoError(t, h.stage.RunOnce())
	out, ok := h.out.Receive()
	require.True(t, ok)
	byID := make(map[sim.ActorID]HazardInfo, len(out.Hazards))
	for _, hz := range out.Hazards {
		byID[hz.ID] = hz
	}
	return byID
}

func forwardActor(id sim.ActorID, x, y, speed float64) LocalizedActor {
	return LocalizedActor{
		ID:          id,
		Position:    r3.Vec{X: x, Y: y},
		Heading:     r3.Vec{X: 1},
		Speed:       speed,
		TargetSpeed: speed,
	}
}

func TestCollisionLeadingVehicleHazard(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 4, 0, 2),
	}})

	require.True(t, hazards[1].Hazard, "a slower vehicle inside the following corridor is a hazard")
	assert.Equal(t, sim.ActorID(2), hazards[1].Obstacle)
	assert.InDelta(t, 2.0, hazards[1].SpeedCap, 1e-9)

	assert.False(t, hazards[2].Hazard, "the leading vehicle sees nothing ahead")
}

func TestCollisionBeyondFollowingDistance(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 10, 0, 2), // past the default 5 m following distance
	}})
	assert.False(t, hazards[1].Hazard)
}

func TestCollisionFollowingDistanceOverride(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})
	h.params.SetDistanceToLeading(1, 15)

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 10, 0, 2),
	}})
	assert.True(t, hazards[1].Hazard)
}

func TestCollisionLateralOffsetIgnored(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 4, 3, 2), // adjacent lane, outside the corridor
	}})
	assert.False(t, hazards[1].Hazard)
}

func TestCollisionDisabledPairSuppressed(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})

	frame := LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 4, 0, 2),
	}}

	h.params.SetCollisionDetection(1, 2, false)
	hazards := h.run(t, frame)
	assert.False(t, hazards[1].Hazard)

	// Disabling from the other side suppresses the pair just the same.
	h.params.SetCollisionDetection(1, 2, true)
	h.params.SetCollisionDetection(2, 1, false)
	frame.Frame = 2
	hazards = h.run(t, frame)
	assert.False(t, hazards[1].Hazard)
}

func TestCollisionNearestObstacleWins(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2, 3})

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 4, 0, 3),
		forwardActor(3, 2, 0, 1),
	}})
	require.True(t, hazards[1].Hazard)
	assert.Equal(t, sim.ActorID(3), hazards[1].Obstacle)
	assert.InDelta(t, 1.0, hazards[1].SpeedCap, 1e-9)
}

func TestCollisionIgnoreActorsFullPercentage(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1, 2})
	// At 100 percent the stochastic draw always ignores; no seed dependence.
	h.params.SetPercentageIgnoreActors(1, 100)

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(2, 4, 0, 2),
	}})
	assert.False(t, hazards[1].Hazard)
}

func TestCollisionUnregisteredActorDropped(t *testing.T) {
	t.Parallel()
	h := newCollisionHarness()
	h.registry.Register([]sim.ActorID{1})

	hazards := h.run(t, LocalizationFrame{Frame: 1, Actors: []LocalizedActor{
		forwardActor(1, 0, 0, 10),
		forwardActor(9, 4, 0, 2), // in the frame but no longer registered
	}})
	_, present := hazards[9]
	assert.False(t, present)
	// The unregistered actor still counts as a potential obstacle.
	assert.True(t, hazards[1].Hazard)
}
