package traffic

import (
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
)

// CollisionStage inspects actor pairs within the proximity threshold and
// emits a hazard flag, and a speed cap, for any actor with a blocking
// vehicle inside its following corridor. Pairs with collision detection
// disabled in either direction are never reported.
type CollisionStage struct {
	registry *Registry
	params   *Parameters
	settings Settings
	rng      *rand.Rand

	in  *messenger.Messenger[LocalizationFrame]
	out *messenger.Messenger[CollisionFrame]

	lc lifecycle
}

// NewCollisionStage wires the collision stage. The rng drives the
// percentage-ignore-actors draw; it is owned by the stage goroutine and
// reproducible from the settings seed.
func NewCollisionStage(
	registry *Registry,
	params *Parameters,
	settings Settings,
	in *messenger.Messenger[LocalizationFrame],
	out *messenger.Messenger[CollisionFrame],
) *CollisionStage {
	return &CollisionStage{
		registry: registry,
		params:   params,
		settings: settings,
		rng:      rand.New(rand.NewSource(settings.RandomSeed)),
		in:       in,
		out:      out,
		lc:       newLifecycle("collision", in),
	}
}

func (s *CollisionStage) Name() string { return s.lc.name }

// RunOnce consumes one localization frame and emits the hazard verdicts.
func (s *CollisionStage) RunOnce() error {
	frame, ok := s.in.Receive()
	if !ok {
		return ErrStopped
	}

	out := CollisionFrame{Frame: frame.Frame}
	for i := range frame.Actors {
		a := &frame.Actors[i]
		if !s.registry.Contains(a.ID) {
			continue
		}

		haz := HazardInfo{ID: a.ID}
		ignorePct := s.params.PercentageIgnoreActors(a.ID)
		ignoring := ignorePct > 0 && s.rng.Float64()*100 < ignorePct
		if !ignoring {
			haz = s.judge(a, frame.Actors)
		}
		out.Hazards = append(out.Hazards, haz)
	}

	s.out.Send(out)
	return nil
}

// judge scans the other actors in the frame for the nearest one blocking
// a's following corridor.
func (s *CollisionStage) judge(a *LocalizedActor, actors []LocalizedActor) HazardInfo {
	haz := HazardInfo{ID: a.ID}
	lead := s.params.DistanceToLeading(a.ID)
	nearest := s.settings.ProximityThreshold

	for j := range actors {
		b := &actors[j]
		if b.ID == a.ID {
			continue
		}
		rel := r3.Sub(b.Position, a.Position)
		if r3.Norm(rel) > s.settings.ProximityThreshold {
			continue
		}
		if !s.params.CollisionEnabled(a.ID, b.ID) {
			continue
		}

		forward := r3.Dot(rel, a.Heading)
		if forward <= 0 || forward > nearest {
			continue
		}
		lateral := r3.Norm(r3.Sub(rel, r3.Scale(forward, a.Heading)))
		if lateral > s.settings.LaneWidth/2 {
			continue
		}
		if forward > lead {
			continue
		}

		nearest = forward
		haz.Hazard = true
		haz.Obstacle = b.ID
		haz.SpeedCap = b.Speed
	}
	return haz
}

// Start spawns the stage goroutine.
func (s *CollisionStage) Start() { s.lc.start(s.RunOnce) }

// Stop terminates the stage after the in-flight frame completes.
func (s *CollisionStage) Stop() { s.lc.stop() }
