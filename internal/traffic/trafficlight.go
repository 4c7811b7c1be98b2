package traffic

import (
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

// TrafficLightStage resolves the phase of the nearest light ahead of each
// actor and emits a stop/go verdict. A non-green phase normally stops the
// actor; the percentage-run-light override is a per-frame stochastic draw
// that lets the actor ignore it.
type TrafficLightStage struct {
	registry *Registry
	params   *Parameters
	settings Settings
	rng      *rand.Rand

	in  *messenger.Messenger[LocalizationFrame]
	out *messenger.Messenger[TrafficLightFrame]

	lc lifecycle
}

// NewTrafficLightStage wires the traffic-light stage. The rng seed comes
// from the settings so runs are reproducible.
func NewTrafficLightStage(
	registry *Registry,
	params *Parameters,
	settings Settings,
	in *messenger.Messenger[LocalizationFrame],
	out *messenger.Messenger[TrafficLightFrame],
) *TrafficLightStage {
	return &TrafficLightStage{
		registry: registry,
		params:   params,
		settings: settings,
		rng:      rand.New(rand.NewSource(settings.RandomSeed + 1)),
		in:       in,
		out:      out,
		lc:       newLifecycle("traffic-light", in),
	}
}

func (s *TrafficLightStage) Name() string { return s.lc.name }

// RunOnce consumes one localization frame and emits the stop/go verdicts.
func (s *TrafficLightStage) RunOnce() error {
	frame, ok := s.in.Receive()
	if !ok {
		return ErrStopped
	}

	out := TrafficLightFrame{Frame: frame.Frame}
	for i := range frame.Actors {
		a := &frame.Actors[i]
		if !s.registry.Contains(a.ID) {
			continue
		}
		out.Decisions = append(out.Decisions, LightDecision{
			ID:   a.ID,
			Stop: s.mustStop(a, frame.Lights),
		})
	}

	s.out.Send(out)
	return nil
}

// mustStop finds the nearest relevant light ahead of the actor and applies
// its phase plus the actor's run-light override.
func (s *TrafficLightStage) mustStop(a *LocalizedActor, lights []sim.LightState) bool {
	var nearest *sim.LightState
	nearestDist := s.settings.LightApproachDistance

	for i := range lights {
		l := &lights[i]
		rel := r3.Sub(l.Position, a.Position)
		forward := r3.Dot(rel, a.Heading)
		if forward <= 0 || forward > nearestDist {
			continue
		}
		lateral := r3.Norm(r3.Sub(rel, r3.Scale(forward, a.Heading)))
		if lateral > s.settings.LaneWidth*2 {
			// Light governs a different approach to the junction.
			continue
		}
		nearestDist = forward
		nearest = l
	}

	if nearest == nil || nearest.Phase == sim.LightGreen {
		return false
	}

	if pct := s.params.PercentageRunLight(a.ID); pct > 0 {
		if s.rng.Float64()*100 < pct {
			return false
		}
	}
	return true
}

// Start spawns the stage goroutine.
func (s *TrafficLightStage) Start() { s.lc.start(s.RunOnce) }

// Stop terminates the stage after the in-flight frame completes.
func (s *TrafficLightStage) Stop() { s.lc.stop() }
