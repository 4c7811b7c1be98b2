package traffic

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/monitoring"
	"github.com/banshee-data/trafficmgr/internal/route"
	"github.com/banshee-data/trafficmgr/internal/sim"
	"github.com/banshee-data/trafficmgr/internal/timeutil"
)

// Manager owns the five pipeline stages and the messengers connecting them,
// and exposes the public control surface: vehicle registration, per-actor
// and global behavior configuration, and the synchronous tick barrier. All
// public methods are safe to call concurrently with the stages running.
type Manager struct {
	client   sim.Client
	clock    timeutil.Clock
	settings Settings
	record   RecordFunc

	registry *Registry
	params   *Parameters
	routes   *route.Cache

	stages []Stage

	syncMode atomic.Bool
	frameSeq atomic.Uint64
	tickCh   chan uint64
	modeCh   chan struct{}

	stateMu sync.Mutex
	runCtx  context.Context
	running bool
	stopped bool

	barrierMu    sync.Mutex
	appliedFrame uint64
	appliedWake  chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the clock used for bounded waits. Tests pass a
// MockClock.
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithSettings overrides the default tuning. Zero-valued fields keep their
// defaults.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.settings = s.normalize() }
}

// WithRecorder wires a telemetry sink receiving every applied batch.
func WithRecorder(r RecordFunc) Option {
	return func(m *Manager) { m.record = r }
}

// New builds a Manager for the given simulation client. The road topology is
// queried once here to construct the immutable route cache; rebuilding it
// requires a new Manager.
func New(ctx context.Context, client sim.Client, opts ...Option) (*Manager, error) {
	m := &Manager{
		client:      client,
		clock:       timeutil.RealClock{},
		settings:    DefaultSettings(),
		registry:    NewRegistry(),
		params:      NewParameters(),
		tickCh:      make(chan uint64),
		modeCh:      make(chan struct{}, 1),
		appliedWake: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	segments, err := client.Topology(ctx)
	if err != nil {
		return nil, fmt.Errorf("query topology: %w", err)
	}
	m.routes, err = route.BuildCache(segments)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Start constructs the messengers and stages and launches every stage's
// goroutine. The pipeline free-runs until synchronous mode is enabled.
func (m *Manager) Start(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.running {
		return fmt.Errorf("pipeline already running")
	}
	if m.stopped {
		return fmt.Errorf("pipeline already stopped")
	}
	m.runCtx = ctx

	locToCollision := messenger.New[LocalizationFrame]()
	locToLights := messenger.New[LocalizationFrame]()
	locToPlanner := messenger.New[LocalizationFrame]()
	collisionToPlanner := messenger.New[CollisionFrame]()
	lightsToPlanner := messenger.New[TrafficLightFrame]()
	plannerToControl := messenger.New[PlannedFrame]()

	m.stages = []Stage{
		NewLocalizationStage(ctx, m.client, m.registry, m.params, m.routes, m,
			m.settings, locToCollision, locToLights, locToPlanner),
		NewCollisionStage(m.registry, m.params, m.settings, locToCollision, collisionToPlanner),
		NewTrafficLightStage(m.registry, m.params, m.settings, locToLights, lightsToPlanner),
		NewMotionPlannerStage(m.registry, m.params, m.settings,
			locToPlanner, collisionToPlanner, lightsToPlanner, plannerToControl),
		NewBatchControlStage(ctx, m.client, m.registry, m.clock, plannerToControl,
			m.record, m.frameApplied),
	}
	for _, s := range m.stages {
		s.Start()
	}
	m.running = true
	return nil
}

// Stop terminates the stages in reverse dependency order, each finishing its
// in-flight frame first, and tears down the messengers. A stage blocked in a
// collaborator call delays shutdown until that call returns; there is no
// forced termination.
func (m *Manager) Stop() {
	m.stateMu.Lock()
	if !m.running {
		m.stopped = true
		m.stateMu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	stages := m.stages
	m.stateMu.Unlock()

	for i := len(stages) - 1; i >= 0; i-- {
		stages[i].Stop()
	}
}

func (m *Manager) isRunning() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.running
}

func (m *Manager) isStopped() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.stopped
}

func (m *Manager) ctx() context.Context {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// Client returns the simulation client the pipeline drives.
func (m *Manager) Client() sim.Client { return m.client }

// RegisterVehicles adds vehicles to pipeline management. Idempotent; safe
// while the pipeline runs. New registrations join the next frame snapshot.
func (m *Manager) RegisterVehicles(ids []sim.ActorID) {
	if m.isStopped() {
		return
	}
	m.registry.Register(ids)
}

// UnregisterVehicles removes vehicles from pipeline management along with
// their behavior overrides. In-flight frames drop the actors' commands
// before the batched apply.
func (m *Manager) UnregisterVehicles(ids []sim.ActorID) {
	if m.isStopped() {
		return
	}
	m.registry.Unregister(ids)
	for _, id := range ids {
		m.params.RemoveActor(id)
	}
}

// GetRegisteredVehicleIDs returns a sorted snapshot of managed vehicle ids.
func (m *Manager) GetRegisteredVehicleIDs() []sim.ActorID {
	return m.registry.Snapshot()
}

// SetPercentageSpeedDifference sets a per-actor target-speed offset as a
// percentage of the speed limit. Positive drives above the limit.
func (m *Manager) SetPercentageSpeedDifference(id sim.ActorID, pct float64) {
	if m.isStopped() {
		return
	}
	m.params.SetSpeedDifference(id, pct)
}

// SetGlobalPercentageSpeedDifference sets the default speed offset for
// actors without a per-actor override.
func (m *Manager) SetGlobalPercentageSpeedDifference(pct float64) {
	if m.isStopped() {
		return
	}
	m.params.SetGlobalSpeedDifference(pct)
}

// SetCollisionDetection enables or disables hazard detection between two
// actors. Disabling from either side suppresses the pair.
func (m *Manager) SetCollisionDetection(reference, other sim.ActorID, enabled bool) {
	if m.isStopped() {
		return
	}
	m.params.SetCollisionDetection(reference, other, enabled)
}

// SetForceLaneChange stages a one-shot lane change; true steers left.
func (m *Manager) SetForceLaneChange(id sim.ActorID, left bool) {
	if m.isStopped() {
		return
	}
	m.params.SetForceLaneChange(id, left)
}

// SetAutoLaneChange enables or disables automatic lane changes for an actor.
func (m *Manager) SetAutoLaneChange(id sim.ActorID, enabled bool) {
	if m.isStopped() {
		return
	}
	m.params.SetAutoLaneChange(id, enabled)
}

// SetDistanceToLeadingVehicle sets an actor's following distance in meters.
func (m *Manager) SetDistanceToLeadingVehicle(id sim.ActorID, meters float64) {
	if m.isStopped() {
		return
	}
	m.params.SetDistanceToLeading(id, meters)
}

// SetPercentageIgnoreActors sets the per-frame chance an actor ignores all
// other actors when checking hazards.
func (m *Manager) SetPercentageIgnoreActors(id sim.ActorID, pct float64) {
	if m.isStopped() {
		return
	}
	m.params.SetPercentageIgnoreActors(id, pct)
}

// SetPercentageRunningLight sets the per-frame chance an actor drives
// through a red light.
func (m *Manager) SetPercentageRunningLight(id sim.ActorID, pct float64) {
	if m.isStopped() {
		return
	}
	m.params.SetPercentageRunLight(id, pct)
}

// SetSynchronousMode toggles the tick barrier. With it enabled, frames only
// advance when SynchronousTick is called, keeping the pipeline in lock-step
// with the external simulation clock.
func (m *Manager) SetSynchronousMode(enabled bool) {
	if m.isStopped() {
		return
	}
	m.syncMode.Store(enabled)
	select {
	case m.modeCh <- struct{}{}:
	default:
	}
}

// SynchronousTick drives exactly one frame through the whole pipeline —
// localization through the batched apply — for the registry snapshot current
// when localization picks the tick up, and blocks until that frame's batch
// has been issued. Returns false when synchronous mode is off, the pipeline
// is not running, or the frame barrier does not resolve within the tick
// timeout (a degraded tick: the caller may advance its clock regardless).
func (m *Manager) SynchronousTick() bool {
	if !m.isRunning() || !m.syncMode.Load() {
		return false
	}

	frame := m.frameSeq.Add(1)
	timer := m.clock.NewTimer(m.settings.TickTimeout)
	defer timer.Stop()

	select {
	case m.tickCh <- frame:
	case <-timer.C():
		monitoring.Logf("[manager] tick %d: localization did not accept the frame", frame)
		return false
	}

	for {
		m.barrierMu.Lock()
		if m.appliedFrame >= frame {
			m.barrierMu.Unlock()
			return true
		}
		wake := m.appliedWake
		m.barrierMu.Unlock()

		select {
		case <-wake:
		case <-timer.C():
			monitoring.Logf("[manager] tick %d: frame barrier timed out", frame)
			return false
		}
	}
}

// frameApplied is the batch-control completion callback backing the tick
// barrier.
func (m *Manager) frameApplied(frame uint64, actors int) {
	m.barrierMu.Lock()
	if frame > m.appliedFrame {
		m.appliedFrame = frame
	}
	close(m.appliedWake)
	m.appliedWake = make(chan struct{})
	m.barrierMu.Unlock()
}

// nextFrame implements framePacer for the localization stage.
func (m *Manager) nextFrame(quit <-chan struct{}) (uint64, bool) {
	for {
		if m.syncMode.Load() {
			select {
			case frame := <-m.tickCh:
				return frame, true
			case <-m.modeCh:
				continue
			case <-quit:
				return 0, false
			}
		}
		if p := m.settings.FramePeriod; p > 0 {
			select {
			case <-m.clock.After(p):
			case <-m.modeCh:
				continue
			case <-quit:
				return 0, false
			}
		}
		return m.frameSeq.Add(1), true
	}
}

// ResetAllTrafficLights restarts the phase cycle of every light group.
// Groups that fail to reset are logged and skipped; the first error is
// returned after all groups have been attempted.
func (m *Manager) ResetAllTrafficLights() error {
	if m.isStopped() {
		return nil
	}
	ctx := m.ctx()
	groups, err := m.client.TrafficLightGroups(ctx)
	if err != nil {
		return fmt.Errorf("enumerate light groups: %w", err)
	}
	var firstErr error
	for _, g := range groups {
		if err := m.client.ResetLightGroup(ctx, g); err != nil {
			monitoring.Logf("[manager] reset light group %d: %v", g.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CheckAllFrozen polls whether every light in the group has reached the
// frozen state used by the reset API. The poll is bounded by the configured
// attempt count; it never blocks indefinitely.
func (m *Manager) CheckAllFrozen(group sim.LightGroup) bool {
	ctx := m.ctx()
	for attempt := 0; attempt < m.settings.FrozenPollAttempts; attempt++ {
		if attempt > 0 {
			m.clock.Sleep(m.settings.FrozenPollInterval)
		}
		snap, err := m.client.WorldSnapshot(ctx)
		if err != nil {
			continue
		}
		frozen := make(map[sim.ActorID]bool, len(snap.Lights))
		for _, l := range snap.Lights {
			frozen[l.ID] = l.Frozen
		}
		all := true
		for _, id := range group.Lights {
			if !frozen[id] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
