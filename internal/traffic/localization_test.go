package traffic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/route"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

// stubPacer feeds frames from a buffered channel so tests can call RunOnce
// synchronously.
type stubPacer struct {
	frames chan uint64
}

func newStubPacer() *stubPacer {
	return &stubPacer{frames: make(chan uint64, 16)}
}

func (p *stubPacer) nextFrame(quit <-chan struct{}) (uint64, bool) {
	select {
	case f, ok := <-p.frames:
		return f, ok
	case <-quit:
		return 0, false
	}
}

type locHarness struct {
	client   *sim.FakeClient
	registry *Registry
	params   *Parameters
	pacer    *stubPacer
	stage    *LocalizationStage

	outCollision *messenger.Messenger[LocalizationFrame]
	outLights    *messenger.Messenger[LocalizationFrame]
	outPlanner   *messenger.Messenger[LocalizationFrame]
}

func newLocHarness(t *testing.T, segments []sim.RoadSegment) *locHarness {
	t.Helper()
	client := sim.NewFakeClient(segments)
	routes, err := route.BuildCache(segments)
	require.NoError(t, err)

	h := &locHarness{
		client:       client,
		registry:     NewRegistry(),
		params:       NewParameters(),
		pacer:        newStubPacer(),
		outCollision: messenger.New[LocalizationFrame](),
		outLights:    messenger.New[LocalizationFrame](),
		outPlanner:   messenger.New[LocalizationFrame](),
	}
	h.stage = NewLocalizationStage(context.Background(), client, h.registry, h.params,
		routes, h.pacer, DefaultSettings(), h.outCollision, h.outLights, h.outPlanner)
	return h
}

func (h *locHarness) runFrame(t *testing.T, frame uint64) LocalizationFrame {
	t.Helper()
	h.pacer.frames <- frame
	require.NoError(t, h.stage.RunOnce())
	out, ok := h.outPlanner.Receive()
	require.True(t, ok)
	return out
}

func TestLocalizationSpeedDifferenceScenario(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(200, 5, 10))
	h.client.AddVehicle(1, r3.Vec{X: 10}, 5, 10)
	h.client.AddVehicle(2, r3.Vec{X: 50}, 5, 10)
	h.registry.Register([]sim.ActorID{1, 2})

	h.params.SetGlobalSpeedDifference(10)
	h.params.SetSpeedDifference(1, -20)

	out := h.runFrame(t, 1)
	require.Len(t, out.Actors, 2)

	byID := map[sim.ActorID]LocalizedActor{}
	for _, a := range out.Actors {
		byID[a.ID] = a
	}
	assert.InDelta(t, 8.0, byID[1].TargetSpeed, 1e-9, "actor 1 runs at 0.8x its limit")
	assert.InDelta(t, 11.0, byID[2].TargetSpeed, 1e-9, "actor 2 runs at 1.1x its limit")
}

func TestLocalizationFansOutToAllConsumers(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(100, 5, 10))
	h.client.AddVehicle(1, r3.Vec{X: 0}, 3, 10)
	h.registry.Register([]sim.ActorID{1})

	h.pacer.frames <- 7
	require.NoError(t, h.stage.RunOnce())

	for _, out := range []*messenger.Messenger[LocalizationFrame]{h.outCollision, h.outLights, h.outPlanner} {
		f, ok := out.Receive()
		require.True(t, ok)
		assert.Equal(t, uint64(7), f.Frame)
		assert.Len(t, f.Actors, 1)
	}
}

func TestLocalizationSkipsActorsMissingFromWorld(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(100, 5, 10))
	h.client.AddVehicle(1, r3.Vec{X: 0}, 3, 10)
	h.registry.Register([]sim.ActorID{1, 2}) // 2 never spawned

	out := h.runFrame(t, 1)
	require.Len(t, out.Actors, 1)
	assert.Equal(t, sim.ActorID(1), out.Actors[0].ID)
}

func TestLocalizationOffGraphFallsBackToNearestNode(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(100, 5, 10))
	// Way off the road; localization must still resolve a waypoint.
	h.client.AddVehicle(1, r3.Vec{X: 40, Y: 500}, 3, 10)
	h.registry.Register([]sim.ActorID{1})

	out := h.runFrame(t, 1)
	require.Len(t, out.Actors, 1)
	require.NotNil(t, out.Actors[0].Waypoint)
	require.NotEmpty(t, out.Actors[0].Lookahead)
	assert.InDelta(t, 0.0, out.Actors[0].Lookahead[0].Position.Y, 1e-9)
}

func TestLocalizationLookaheadScalesWithSpeed(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(500, 5, 30))
	h.client.AddVehicle(1, r3.Vec{X: 0}, 2, 30)
	h.client.AddVehicle(2, r3.Vec{X: 0}, 25, 30)
	h.registry.Register([]sim.ActorID{1, 2})

	out := h.runFrame(t, 1)
	require.Len(t, out.Actors, 2)
	byID := map[sim.ActorID]LocalizedActor{}
	for _, a := range out.Actors {
		byID[a.ID] = a
	}
	assert.Greater(t, len(byID[2].Lookahead), len(byID[1].Lookahead),
		"a faster actor needs a longer lookahead window")
}

func TestLocalizationCarriesLightStates(t *testing.T) {
	t.Parallel()
	h := newLocHarness(t, sim.StraightRoad(100, 5, 10))
	h.client.AddVehicle(1, r3.Vec{X: 0}, 3, 10)
	h.client.AddLight(100, r3.Vec{X: 50}, sim.LightRed)
	h.registry.Register([]sim.ActorID{1})

	out := h.runFrame(t, 1)
	require.Len(t, out.Lights, 1)
	assert.Equal(t, sim.LightRed, out.Lights[0].Phase)
}
