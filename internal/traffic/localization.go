package traffic

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/route"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

// framePacer gates the start of each localization frame. In synchronous mode
// the pacer blocks until the caller requests a tick; free-running mode
// returns immediately after the configured frame period. ok is false when
// the pipeline is shutting down.
type framePacer interface {
	nextFrame(quit <-chan struct{}) (frame uint64, ok bool)
}

// LocalizationStage resolves every registered vehicle onto the waypoint
// graph, advances a speed-scaled lookahead window and derives the target
// speed from the actor's speed-difference override. Its output fans out to
// the collision, traffic-light and planner stages.
type LocalizationStage struct {
	ctx      context.Context
	client   sim.Client
	registry *Registry
	params   *Parameters
	routes   *route.Cache
	pacer    framePacer
	settings Settings

	outCollision *messenger.Messenger[LocalizationFrame]
	outLights    *messenger.Messenger[LocalizationFrame]
	outPlanner   *messenger.Messenger[LocalizationFrame]

	lc lifecycle
}

// NewLocalizationStage wires the localization stage. The stage has no
// upstream messenger; it blocks in the pacer and the world-snapshot call.
func NewLocalizationStage(
	ctx context.Context,
	client sim.Client,
	registry *Registry,
	params *Parameters,
	routes *route.Cache,
	pacer framePacer,
	settings Settings,
	outCollision, outLights, outPlanner *messenger.Messenger[LocalizationFrame],
) *LocalizationStage {
	return &LocalizationStage{
		ctx:          ctx,
		client:       client,
		registry:     registry,
		params:       params,
		routes:       routes,
		pacer:        pacer,
		settings:     settings,
		outCollision: outCollision,
		outLights:    outLights,
		outPlanner:   outPlanner,
		lc:           newLifecycle("localization"),
	}
}

func (s *LocalizationStage) Name() string { return s.lc.name }

// RunOnce computes one localization frame for the current registry snapshot.
// Actors the world does not know about (spawned but not yet simulated, or
// destroyed outside the pipeline) are skipped for the frame.
func (s *LocalizationStage) RunOnce() error {
	frame, ok := s.pacer.nextFrame(s.lc.quit)
	if !ok {
		return ErrStopped
	}

	snap, err := s.client.WorldSnapshot(s.ctx)
	if err != nil {
		// The frame still completes downstream so a synchronous tick
		// degrades instead of hanging.
		s.broadcast(LocalizationFrame{Frame: frame})
		return fmt.Errorf("world snapshot: %w", err)
	}

	states := make(map[sim.ActorID]sim.ActorState, len(snap.Actors))
	for _, a := range snap.Actors {
		states[a.ID] = a
	}

	out := LocalizationFrame{Frame: frame, Time: snap.Time, Lights: snap.Lights}
	for _, id := range s.registry.Snapshot() {
		st, present := states[id]
		if !present {
			continue
		}
		actor, err := s.localize(id, st)
		if err != nil {
			// One actor's failure never costs the rest of the frame.
			continue
		}
		out.Actors = append(out.Actors, actor)
	}

	s.broadcast(out)
	return nil
}

func (s *LocalizationStage) localize(id sim.ActorID, st sim.ActorState) (LocalizedActor, error) {
	wp := s.routes.NearestWaypoint(st.Position)
	if wp == nil {
		return LocalizedActor{}, fmt.Errorf("actor %d: no waypoint near %v", id, st.Position)
	}

	speed := r3.Norm(st.Velocity)
	window := s.settings.LookaheadBase + speed*s.settings.LookaheadTimeGain
	lookahead := walkLookahead(wp, window)

	limit := st.SpeedLimit
	if limit <= 0 {
		limit = wp.SpeedLimit
	}
	diff := s.params.SpeedDifference(id)

	heading := st.Heading
	if r3.Norm(heading) == 0 && speed > 0 {
		heading = r3.Unit(st.Velocity)
	}

	return LocalizedActor{
		ID:          id,
		Position:    st.Position,
		Heading:     heading,
		Velocity:    st.Velocity,
		Speed:       speed,
		SpeedLimit:  limit,
		TargetSpeed: limit * (1 + diff/100),
		Waypoint:    lookahead[len(lookahead)-1],
		Lookahead:   lookahead,
	}, nil
}

// walkLookahead follows successor links from start until the accumulated
// distance covers the window. Branches take the first successor; route
// choice beyond lane topology is out of scope here.
func walkLookahead(start *route.Waypoint, window float64) []*route.Waypoint {
	out := []*route.Waypoint{start}
	covered := 0.0
	cur := start
	for covered < window {
		next := cur.Successors()
		if len(next) == 0 {
			break
		}
		step := next[0]
		covered += r3.Norm(r3.Sub(step.Position, cur.Position))
		out = append(out, step)
		cur = step
	}
	return out
}

func (s *LocalizationStage) broadcast(f LocalizationFrame) {
	s.outCollision.Send(f)
	s.outLights.Send(f)
	s.outPlanner.Send(f)
}

// Start spawns the stage goroutine.
func (s *LocalizationStage) Start() { s.lc.start(s.RunOnce) }

// Stop terminates the stage after the in-flight frame completes.
func (s *LocalizationStage) Stop() { s.lc.stop() }
