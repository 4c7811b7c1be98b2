// Package traffic implements the staged concurrent pipeline that computes
// per-vehicle control commands each simulation frame. Five stages —
// localization, collision avoidance, traffic-light compliance, motion
// planning, batched actuation — run in their own goroutines and hand
// per-frame payloads forward through latest-wins messengers. The Manager
// owns the stages and exposes the public registration, configuration and
// synchronous-tick surface.
package traffic

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/route"
	"github.com/banshee-data/trafficmgr/internal/sim"
)

// LocalizedActor is one vehicle's localization result: where it is on the
// waypoint graph, where it is headed, and how fast it should be going.
type LocalizedActor struct {
	ID         sim.ActorID
	Position   r3.Vec
	Heading    r3.Vec  // unit forward vector
	Velocity   r3.Vec
	Speed      float64 // m/s, magnitude of Velocity
	SpeedLimit float64 // m/s

	// TargetSpeed is the speed limit scaled by the actor's speed-difference
	// percentage (global or per-actor override).
	TargetSpeed float64

	// Waypoint is the steering target at the end of the lookahead window.
	Waypoint *route.Waypoint

	// Lookahead is the window of upcoming waypoints, nearest first.
	Lookahead []*route.Waypoint
}

// LocalizationFrame is the localization stage's output for one frame. Lights
// carry the world's traffic-light states through to the compliance stage so
// it needs no simulator round-trip of its own.
type LocalizationFrame struct {
	Frame  uint64
	Time   time.Time
	Actors []LocalizedActor
	Lights []sim.LightState
}

// HazardInfo is the collision stage's verdict for one actor.
type HazardInfo struct {
	ID       sim.ActorID
	Hazard   bool
	Obstacle sim.ActorID // nearest blocking actor, valid when Hazard
	SpeedCap float64     // m/s ceiling imposed by the obstacle, valid when Hazard
}

// CollisionFrame is the collision stage's output for one frame.
type CollisionFrame struct {
	Frame   uint64
	Hazards []HazardInfo
}

// LightDecision is the traffic-light stage's stop/go verdict for one actor.
type LightDecision struct {
	ID   sim.ActorID
	Stop bool
}

// TrafficLightFrame is the traffic-light stage's output for one frame.
type TrafficLightFrame struct {
	Frame     uint64
	Decisions []LightDecision
}

// PlannedFrame is the motion planner's output: one actuation command per
// surviving actor, ready for the batched apply call.
type PlannedFrame struct {
	Frame    uint64
	Commands []sim.ActorCommand
}
