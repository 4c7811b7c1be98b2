package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

type lightHarness struct {
	registry *Registry
	params   *Parameters
	in       *messenger.Messenger[LocalizationFrame]
	out      *messenger.Messenger[TrafficLightFrame]
	stage    *TrafficLightStage
}

func newLightHarness() *lightHarness {
	h := &lightHarness{
		registry: NewRegistry(),
		params:   NewParameters(),
		in:       messenger.New[LocalizationFrame](),
		out:      messenger.New[TrafficLightFrame](),
	}
	h.stage = NewTrafficLightStage(h.registry, h.params, DefaultSettings(), h.in, h.out)
	return h
}

func (h *lightHarness) run(t *testing.T, frame LocalizationFrame) map[sim.ActorID]bool {
	t.Helper()
	h.in.Send(frame)
	require.NoError(t, h.stage.RunOnce())
	out, ok := h.out.Receive()
	require.True(t, ok)
	stops := make(map[sim.ActorID]bool, len(out.Decisions))
	for _, d := range out.Decisions {
		stops[d.ID] = d.Stop
	}
	return stops
}

func lightAt(x, y float64, phase sim.LightPhase) sim.LightState {
	return sim.LightState{ID: 100, Position: r3.Vec{X: x, Y: y}, Phase: phase}
}

func TestLightRedAheadStops(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightRed)},
	})
	assert.True(t, stops[1])
}

func TestLightYellowAheadStops(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightYellow)},
	})
	assert.True(t, stops[1])
}

func TestLightGreenAheadGoes(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightGreen)},
	})
	assert.False(t, stops[1])
}

func TestLightBehindIsIrrelevant(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 20, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightRed)},
	})
	assert.False(t, stops[1])
}

func TestLightBeyondApproachDistanceIsIrrelevant(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(40, 0, sim.LightRed)}, // past the 25 m window
	})
	assert.False(t, stops[1])
}

func TestLightOnOtherApproachIsIrrelevant(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 12, sim.LightRed)},
	})
	assert.False(t, stops[1])
}

func TestLightNearestLightGoverns(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	green := lightAt(8, 0, sim.LightGreen)
	red := lightAt(20, 0, sim.LightRed)
	red.ID = 101

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{red, green},
	})
	assert.False(t, stops[1], "the nearest light ahead is green; the red one is past it")
}

func TestLightRunLightFullPercentage(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})
	// At 100 percent the draw always passes; no seed dependence.
	h.params.SetPercentageRunLight(1, 100)

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightRed)},
	})
	assert.False(t, stops[1])
}

func TestLightUnregisteredActorDropped(t *testing.T) {
	t.Parallel()
	h := newLightHarness()
	h.registry.Register([]sim.ActorID{1})

	stops := h.run(t, LocalizationFrame{Frame: 1,
		Actors: []LocalizedActor{forwardActor(1, 0, 0, 5), forwardActor(9, 0, 0, 5)},
		Lights: []sim.LightState{lightAt(10, 0, sim.LightRed)},
	})
	_, present := stops[9]
	assert.False(t, present)
}
