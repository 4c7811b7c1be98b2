// Package sim defines the boundary to the external simulation environment:
// the world snapshot, road topology, and batched control types exchanged with
// the simulator, plus the Client interface the traffic pipeline drives. The
// package also ships an in-memory FakeClient used by tests and dev mode.
package sim

import (
	"context"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ActorID identifies a simulated vehicle or traffic light for its lifetime.
type ActorID uint64

// LightPhase is the current phase of a traffic light.
type LightPhase int

const (
	LightRed LightPhase = iota
	LightYellow
	LightGreen
)

// String returns a human-readable phase name.
func (p LightPhase) String() string {
	switch p {
	case LightRed:
		return "red"
	case LightYellow:
		return "yellow"
	case LightGreen:
		return "green"
	default:
		return "unknown"
	}
}

// ActorState is one vehicle's kinematic state in a world snapshot.
type ActorState struct {
	ID         ActorID
	Position   r3.Vec // world frame, meters
	Velocity   r3.Vec // world frame, m/s
	Heading    r3.Vec // unit forward vector
	SpeedLimit float64 // m/s, from the lane the actor occupies
}

// LightState is one traffic light's state in a world snapshot.
type LightState struct {
	ID       ActorID
	Position r3.Vec
	Phase    LightPhase
	Frozen   bool // phase timer paused by the reset API
}

// Snapshot is a consistent view of the world at one instant.
type Snapshot struct {
	Time   time.Time
	Actors []ActorState
	Lights []LightState
}

// ActorCommand is the actuation command for one vehicle. Throttle and Brake
// are in [0, 1]; Steer is in [-1, 1] with positive values steering left.
type ActorCommand struct {
	ID       ActorID
	Throttle float64
	Steer    float64
	Brake    float64
}

// RoadSegment is one lane's centerline as exported by the simulator's map.
// NextIDs name the segments reachable from the end of this one; LeftID and
// RightID name the adjacent same-direction lanes, -1 when there is none.
type RoadSegment struct {
	ID         int
	RoadID     int
	LaneID     int
	SpeedLimit float64 // m/s
	Centerline []r3.Vec
	NextIDs    []int
	LeftID     int
	RightID    int
}

// LightGroup is a set of traffic lights sharing a synchronized phase cycle.
type LightGroup struct {
	ID     int
	Lights []ActorID
}

// Client is the connection to the external simulation environment. All
// methods are safe for concurrent use. Implementations should honor context
// cancellation, though the pipeline never cancels a call mid-frame.
type Client interface {
	// Topology returns the road network, queried once at pipeline startup.
	Topology(ctx context.Context) ([]RoadSegment, error)

	// WorldSnapshot returns the current state of all actors and lights.
	WorldSnapshot(ctx context.Context) (Snapshot, error)

	// ApplyBatch issues one batched control command covering every vehicle
	// in the slice. Exactly one call is made per completed pipeline frame.
	ApplyBatch(ctx context.Context, commands []ActorCommand) error

	// TrafficLightGroups enumerates the synchronized light groups.
	TrafficLightGroups(ctx context.Context) ([]LightGroup, error)

	// ResetLightGroup restarts the phase cycle of one group.
	ResetLightGroup(ctx context.Context, group LightGroup) error
}
