package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// FakeClient is an in-memory Client used by package tests and dev mode. It
// holds a static road network, a mutable set of vehicles and lights, and
// records every ApplyBatch call so tests can assert on issued commands.
type FakeClient struct {
	mu       sync.Mutex
	segments []RoadSegment
	actors   map[ActorID]*ActorState
	lights   map[ActorID]*LightState
	groups   []LightGroup
	batches  [][]ActorCommand
	lastCmd  map[ActorID]ActorCommand
	applyErr error
	now      time.Time

	// Simple longitudinal dynamics applied by Advance.
	MaxAccel float64 // m/s^2 at full throttle
	MaxBrake float64 // m/s^2 at full brake
}

// NewFakeClient creates a fake world with the given road network.
func NewFakeClient(segments []RoadSegment) *FakeClient {
	return &FakeClient{
		segments: segments,
		actors:   make(map[ActorID]*ActorState),
		lights:   make(map[ActorID]*LightState),
		lastCmd:  make(map[ActorID]ActorCommand),
		now:      time.Unix(0, 0),
		MaxAccel: 3.0,
		MaxBrake: 8.0,
	}
}

// StraightRoad builds a single straight lane of the given length along +X,
// with one waypoint every spacing meters. Useful as a minimal test topology.
func StraightRoad(length, spacing, speedLimit float64) []RoadSegment {
	var line []r3.Vec
	for x := 0.0; x <= length; x += spacing {
		line = append(line, r3.Vec{X: x})
	}
	return []RoadSegment{{
		ID:         0,
		RoadID:     0,
		LaneID:     0,
		SpeedLimit: speedLimit,
		Centerline: line,
		LeftID:     -1,
		RightID:    -1,
	}}
}

// TwoLaneRoad builds two parallel straight lanes along +X separated by
// laneWidth meters, linked as left/right neighbors of each other.
func TwoLaneRoad(length, spacing, laneWidth, speedLimit float64) []RoadSegment {
	var a, b []r3.Vec
	for x := 0.0; x <= length; x += spacing {
		a = append(a, r3.Vec{X: x})
		b = append(b, r3.Vec{X: x, Y: laneWidth})
	}
	return []RoadSegment{
		{ID: 0, RoadID: 0, LaneID: 0, SpeedLimit: speedLimit, Centerline: a, LeftID: 1, RightID: -1},
		{ID: 1, RoadID: 0, LaneID: 1, SpeedLimit: speedLimit, Centerline: b, LeftID: -1, RightID: 0},
	}
}

// AddVehicle places a vehicle in the world heading along +X.
func (f *FakeClient) AddVehicle(id ActorID, pos r3.Vec, speed, speedLimit float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors[id] = &ActorState{
		ID:         id,
		Position:   pos,
		Velocity:   r3.Vec{X: speed},
		Heading:    r3.Vec{X: 1},
		SpeedLimit: speedLimit,
	}
}

// RemoveVehicle deletes a vehicle from the world. Removing an unknown id is
// a no-op, mirroring how the simulator handles destroyed actors.
func (f *FakeClient) RemoveVehicle(id ActorID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.actors, id)
}

// AddLight places a traffic light and assigns it to group 0.
func (f *FakeClient) AddLight(id ActorID, pos r3.Vec, phase LightPhase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lights[id] = &LightState{ID: id, Position: pos, Phase: phase}
	if len(f.groups) == 0 {
		f.groups = []LightGroup{{ID: 0}}
	}
	f.groups[0].Lights = append(f.groups[0].Lights, id)
}

// SetLightPhase scripts a light's phase.
func (f *FakeClient) SetLightPhase(id ActorID, phase LightPhase) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lights[id]; ok {
		l.Phase = phase
	}
}

// SetLightFrozen scripts a light's frozen flag.
func (f *FakeClient) SetLightFrozen(id ActorID, frozen bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lights[id]; ok {
		l.Frozen = frozen
	}
}

// SetApplyError makes every subsequent ApplyBatch return err. Pass nil to
// restore normal behavior.
func (f *FakeClient) SetApplyError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr = err
}

// Advance integrates the world forward by dt using the most recent command
// issued for each vehicle.
func (f *FakeClient) Advance(dt float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Duration(dt * float64(time.Second)))
	for id, a := range f.actors {
		cmd := f.lastCmd[id]
		speed := r3.Norm(a.Velocity)
		speed += (cmd.Throttle*f.MaxAccel - cmd.Brake*f.MaxBrake) * dt
		if speed < 0 {
			speed = 0
		}
		a.Velocity = r3.Scale(speed, a.Heading)
		a.Position = r3.Add(a.Position, r3.Scale(dt, a.Velocity))
	}
}

// Topology implements Client.
func (f *FakeClient) Topology(ctx context.Context) ([]RoadSegment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RoadSegment, len(f.segments))
	copy(out, f.segments)
	return out, nil
}

// WorldSnapshot implements Client.
func (f *FakeClient) WorldSnapshot(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{Time: f.now}
	for _, a := range f.actors {
		snap.Actors = append(snap.Actors, *a)
	}
	for _, l := range f.lights {
		snap.Lights = append(snap.Lights, *l)
	}
	return snap, nil
}

// ApplyBatch implements Client, recording the batch for later assertions.
func (f *FakeClient) ApplyBatch(ctx context.Context, commands []ActorCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return fmt.Errorf("apply batch: %w", f.applyErr)
	}
	batch := make([]ActorCommand, len(commands))
	copy(batch, commands)
	f.batches = append(f.batches, batch)
	for _, c := range commands {
		f.lastCmd[c.ID] = c
	}
	return nil
}

// TrafficLightGroups implements Client.
func (f *FakeClient) TrafficLightGroups(ctx context.Context) ([]LightGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LightGroup, len(f.groups))
	copy(out, f.groups)
	return out, nil
}

// ResetLightGroup implements Client: every light in the group restarts at
// red with its phase timer running.
func (f *FakeClient) ResetLightGroup(ctx context.Context, group LightGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range group.Lights {
		if l, ok := f.lights[id]; ok {
			l.Phase = LightRed
			l.Frozen = false
		}
	}
	return nil
}

// Batches returns a copy of all recorded ApplyBatch calls in order.
func (f *FakeClient) Batches() [][]ActorCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]ActorCommand, len(f.batches))
	for i, b := range f.batches {
		out[i] = append([]ActorCommand(nil), b...)
	}
	return out
}

// LastCommand returns the most recent command issued for id, if any.
func (f *FakeClient) LastCommand(id ActorID) (ActorCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lastCmd[id]
	return c, ok
}
