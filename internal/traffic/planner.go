package traffic

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/route"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

// MotionPlannerStage merges the waypoint target, the collision verdict and
// the stop/go verdict into throttle, steer and brake values through PID
// controllers. Gains are regime-dependent: actors above the highway speed
// threshold use the softer highway sets.
type MotionPlannerStage struct {
	registry *Registry
	params   *Parameters
	settings Settings

	inLoc    *messenger.Messenger[LocalizationFrame]
	inHazard *messenger.Messenger[CollisionFrame]
	inLights *messenger.Messenger[TrafficLightFrame]
	out      *messenger.Messenger[PlannedFrame]

	// Controller memory per actor; entries are pruned for actors that leave
	// the frame so state never leaks across registrations.
	longState map[sim.ActorID]*pidState
	latState  map[sim.ActorID]*pidState
	prevTime  time.Time

	// Verdict frames received ahead of the current localization frame, held
	// until localization catches up.
	pendingHazard *CollisionFrame
	pendingLights *TrafficLightFrame

	lc lifecycle
}

// NewMotionPlannerStage wires the planner stage.
func NewMotionPlannerStage(
	registry *Registry,
	params *Parameters,
	settings Settings,
	inLoc *messenger.Messenger[LocalizationFrame],
	inHazard *messenger.Messenger[CollisionFrame],
	inLights *messenger.Messenger[TrafficLightFrame],
	out *messenger.Messenger[PlannedFrame],
) *MotionPlannerStage {
	return &MotionPlannerStage{
		registry:  registry,
		params:    params,
		settings:  settings,
		inLoc:     inLoc,
		inHazard:  inHazard,
		inLights:  inLights,
		out:       out,
		longState: make(map[sim.ActorID]*pidState),
		latState:  make(map[sim.ActorID]*pidState),
		lc:        newLifecycle("motion-planner", inLoc, inHazard, inLights),
	}
}

func (s *MotionPlannerStage) Name() string { return s.lc.name }

// RunOnce merges the three upstream frames into one command frame. Verdict
// frames are matched to the localization frame by frame number: stale
// verdicts are discarded, a verdict from a future frame is held for later
// and the current frame degrades to defaults (no hazard, go). Commands are
// never built from another frame's verdicts.
func (s *MotionPlannerStage) RunOnce() error {
	loc, ok := s.inLoc.Receive()
	if !ok {
		return ErrStopped
	}
	hazardFrame, ok := s.hazardsFor(loc.Frame)
	if !ok {
		return ErrStopped
	}
	lightFrame, ok := s.lightsFor(loc.Frame)
	if !ok {
		return ErrStopped
	}

	hazards := make(map[sim.ActorID]HazardInfo, len(hazardFrame.Hazards))
	for _, h := range hazardFrame.Hazards {
		hazards[h.ID] = h
	}
	stops := make(map[sim.ActorID]bool, len(lightFrame.Decisions))
	for _, d := range lightFrame.Decisions {
		stops[d.ID] = d.Stop
	}

	var dt float64
	if !s.prevTime.IsZero() && loc.Time.After(s.prevTime) {
		dt = loc.Time.Sub(s.prevTime).Seconds()
	}
	s.prevTime = loc.Time

	out := PlannedFrame{Frame: loc.Frame}
	seen := make(map[sim.ActorID]struct{}, len(loc.Actors))
	for i := range loc.Actors {
		a := &loc.Actors[i]
		if !s.registry.Contains(a.ID) {
			continue
		}
		seen[a.ID] = struct{}{}
		out.Commands = append(out.Commands, s.plan(a, hazards[a.ID], stops[a.ID], dt))
	}
	s.prune(seen)

	s.out.Send(out)
	return nil
}

// hazardsFor returns the collision verdicts for the given localization
// frame. Verdicts for older frames are consumed and dropped; a verdict for a
// newer frame is kept pending and the current frame gets no hazards. ok is
// false only on shutdown.
func (s *MotionPlannerStage) hazardsFor(frame uint64) (CollisionFrame, bool) {
	for {
		if s.pendingHazard == nil {
			f, ok := s.inHazard.Receive()
			if !ok {
				return CollisionFrame{}, false
			}
			s.pendingHazard = &f
		}
		switch {
		case s.pendingHazard.Frame < frame:
			s.pendingHazard = nil
		case s.pendingHazard.Frame == frame:
			f := *s.pendingHazard
			s.pendingHazard = nil
			return f, true
		default:
			return CollisionFrame{Frame: frame}, true
		}
	}
}

// lightsFor is hazardsFor for the stop/go leg: mismatched frames degrade to
// go for every actor.
func (s *MotionPlannerStage) lightsFor(frame uint64) (TrafficLightFrame, bool) {
	for {
		if s.pendingLights == nil {
			f, ok := s.inLights.Receive()
			if !ok {
				return TrafficLightFrame{}, false
			}
			s.pendingLights = &f
		}
		switch {
		case s.pendingLights.Frame < frame:
			s.pendingLights = nil
		case s.pendingLights.Frame == frame:
			f := *s.pendingLights
			s.pendingLights = nil
			return f, true
		default:
			return TrafficLightFrame{Frame: frame}, true
		}
	}
}

func (s *MotionPlannerStage) plan(a *LocalizedActor, haz HazardInfo, stop bool, dt float64) sim.ActorCommand {
	highway := a.Speed > s.settings.HighwaySpeedThreshold
	longGains := s.settings.PID.Longitudinal
	latGains := s.settings.PID.Lateral
	if highway {
		longGains = s.settings.PID.LongitudinalHighway
		latGains = s.settings.PID.LateralHighway
	}

	targetSpeed := a.TargetSpeed
	if haz.Hazard && haz.SpeedCap < targetSpeed {
		targetSpeed = haz.SpeedCap
	}
	if stop {
		targetSpeed = 0
	}

	longOut := longGains.step(s.state(s.longState, a.ID), targetSpeed-a.Speed, dt)
	cmd := sim.ActorCommand{ID: a.ID}
	if longOut >= 0 {
		cmd.Throttle = clamp(longOut, 0, 1)
	} else {
		cmd.Brake = clamp(-longOut, 0, 1)
	}

	target := s.steeringTarget(a, haz)
	if target != nil {
		dir := r3.Sub(target.Position, a.Position)
		if n := r3.Norm(dir); n > 0 {
			dir = r3.Scale(1/n, dir)
			// Signed lateral error: z of heading x direction. Positive
			// means the target is to the left.
			crossZ := a.Heading.X*dir.Y - a.Heading.Y*dir.X
			cmd.Steer = clamp(latGains.step(s.state(s.latState, a.ID), crossZ, dt), -1, 1)
		}
	}
	return cmd
}

// steeringTarget applies lane-change behavior to the localization target: a
// pending forced lane change always wins; otherwise, with auto lane change
// enabled, a hazard from a much slower leading vehicle diverts to a free
// neighbor lane when one exists.
func (s *MotionPlannerStage) steeringTarget(a *LocalizedActor, haz HazardInfo) *route.Waypoint {
	target := a.Waypoint
	if target == nil {
		return nil
	}

	if left, ok := s.params.ConsumeForceLaneChange(a.ID); ok {
		if shifted := neighbor(target, left); shifted != nil {
			return shifted
		}
		return target
	}

	if haz.Hazard && s.params.AutoLaneChange(a.ID) && haz.SpeedCap < a.TargetSpeed/2 {
		if shifted := neighbor(target, true); shifted != nil {
			return shifted
		}
		if shifted := neighbor(target, false); shifted != nil {
			return shifted
		}
	}
	return target
}

func neighbor(wp *route.Waypoint, left bool) *route.Waypoint {
	if left {
		return wp.Left()
	}
	return wp.Right()
}

func (s *MotionPlannerStage) state(m map[sim.ActorID]*pidState, id sim.ActorID) *pidState {
	st, ok := m[id]
	if !ok {
		st = &pidState{}
		m[id] = st
	}
	return st
}

func (s *MotionPlannerStage) prune(seen map[sim.ActorID]struct{}) {
	for id := range s.longState {
		if _, ok := seen[id]; !ok {
			delete(s.longState, id)
			delete(s.latState, id)
		}
	}
}

// Start spawns the stage goroutine.
func (s *MotionPlannerStage) Start() { s.lc.start(s.RunOnce) }

// Stop terminates the stage after the in-flight frame completes.
func (s *MotionPlannerStage) Stop() { s.lc.stop() }
