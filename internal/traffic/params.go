package traffic

import (
	"sync"

	"github.com/banshee-data/trafficmgr/internal/sim"
)

// Behavior defaults applied when neither a per-actor nor a global override
// is present.
const (
	// DefaultDistanceToLeading is the following distance in meters.
	DefaultDistanceToLeading = 5.0
	// DefaultAutoLaneChange enables automatic lane changes.
	DefaultAutoLaneChange = true
)

// actorOverrides holds one vehicle's behavior overrides. Nil fields fall
// back to the global defaults field by field.
type actorOverrides struct {
	speedDiffPct      *float64
	distanceToLeading *float64
	autoLaneChange    *bool
	pctIgnoreActors   *float64
	pctRunLight       *float64

	// forceLaneLeft is a pending one-shot lane-change request, consumed by
	// the motion planner. True steers left, false right.
	forceLaneLeft *bool

	// collisionOff is the directed set of actors this one will not emit
	// hazards for. See Parameters.CollisionEnabled for the precedence rule.
	collisionOff map[sim.ActorID]struct{}
}

// Parameters is the thread-safe store of per-actor and global behavior
// overrides. Setters are the public configuration surface; getters are read
// by the collision, traffic-light and planner stages every frame. Setting a
// value for an actor that is not (yet) registered is legal: the override
// simply takes effect once the actor registers.
type Parameters struct {
	mu              sync.RWMutex
	globalSpeedDiff float64
	actors          map[sim.ActorID]*actorOverrides
}

// NewParameters creates an empty parameter store.
func NewParameters() *Parameters {
	return &Parameters{actors: make(map[sim.ActorID]*actorOverrides)}
}

func (p *Parameters) entry(id sim.ActorID) *actorOverrides {
	a, ok := p.actors[id]
	if !ok {
		a = &actorOverrides{}
		p.actors[id] = a
	}
	return a
}

// SetSpeedDifference sets an actor's target-speed offset as a percentage of
// the speed limit. Positive values drive above the limit.
func (p *Parameters) SetSpeedDifference(id sim.ActorID, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).speedDiffPct = &pct
}

// SetGlobalSpeedDifference sets the default speed offset for every actor
// without a per-actor override.
func (p *Parameters) SetGlobalSpeedDifference(pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalSpeedDiff = pct
}

// SpeedDifference returns the effective speed offset percentage for id.
func (p *Parameters) SpeedDifference(id sim.ActorID) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.actors[id]; ok && a.speedDiffPct != nil {
		return *a.speedDiffPct
	}
	return p.globalSpeedDiff
}

// SetCollisionDetection enables or disables hazard emission between a
// reference actor and another actor. The relation is stored directed on the
// reference actor's entry.
func (p *Parameters) SetCollisionDetection(reference, other sim.ActorID, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.entry(reference)
	if enabled {
		delete(a.collisionOff, other)
		return
	}
	if a.collisionOff == nil {
		a.collisionOff = make(map[sim.ActorID]struct{})
	}
	a.collisionOff[other] = struct{}{}
}

// CollisionEnabled reports whether actor a should emit hazards for actor b.
// Either side disabling the pair wins: the relation is stored directed, but
// the public API's intent is bidirectional, so a disable recorded on either
// entry suppresses detection for both.
func (p *Parameters) CollisionEnabled(a, b sim.ActorID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.actors[a]; ok {
		if _, off := e.collisionOff[b]; off {
			return false
		}
	}
	if e, ok := p.actors[b]; ok {
		if _, off := e.collisionOff[a]; off {
			return false
		}
	}
	return true
}

// SetForceLaneChange stages a one-shot lane change, consumed by the motion
// planner on the next frame the actor appears in. True steers left.
func (p *Parameters) SetForceLaneChange(id sim.ActorID, left bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).forceLaneLeft = &left
}

// ConsumeForceLaneChange returns and clears a pending lane-change request.
func (p *Parameters) ConsumeForceLaneChange(id sim.ActorID) (left, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, present := p.actors[id]
	if !present || a.forceLaneLeft == nil {
		return false, false
	}
	left = *a.forceLaneLeft
	a.forceLaneLeft = nil
	return left, true
}

// SetAutoLaneChange enables or disables automatic lane changes for an actor.
func (p *Parameters) SetAutoLaneChange(id sim.ActorID, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).autoLaneChange = &enabled
}

// AutoLaneChange returns the effective auto-lane-change setting for id.
func (p *Parameters) AutoLaneChange(id sim.ActorID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.actors[id]; ok && a.autoLaneChange != nil {
		return *a.autoLaneChange
	}
	return DefaultAutoLaneChange
}

// SetDistanceToLeading sets the following distance in meters for an actor.
func (p *Parameters) SetDistanceToLeading(id sim.ActorID, meters float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).distanceToLeading = &meters
}

// DistanceToLeading returns the effective following distance for id.
func (p *Parameters) DistanceToLeading(id sim.ActorID) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.actors[id]; ok && a.distanceToLeading != nil {
		return *a.distanceToLeading
	}
	return DefaultDistanceToLeading
}

// SetPercentageIgnoreActors sets the per-frame chance, in percent, that an
// actor ignores all other actors when checking for hazards.
func (p *Parameters) SetPercentageIgnoreActors(id sim.ActorID, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).pctIgnoreActors = &pct
}

// PercentageIgnoreActors returns the effective ignore chance for id.
func (p *Parameters) PercentageIgnoreActors(id sim.ActorID) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.actors[id]; ok && a.pctIgnoreActors != nil {
		return *a.pctIgnoreActors
	}
	return 0
}

// SetPercentageRunLight sets the per-frame chance, in percent, that an actor
// drives through a red light.
func (p *Parameters) SetPercentageRunLight(id sim.ActorID, pct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry(id).pctRunLight = &pct
}

// PercentageRunLight returns the effective run-light chance for id.
func (p *Parameters) PercentageRunLight(id sim.ActorID) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if a, ok := p.actors[id]; ok && a.pctRunLight != nil {
		return *a.pctRunLight
	}
	return 0
}

// RemoveActor drops an actor's overrides. Lookups after removal fall back to
// the global defaults; they never fail.
func (p *Parameters) RemoveActor(id sim.ActorID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.actors, id)
}
