package traffic

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/sim"
	"github.com/banshee-data/trafficmgr/internal/timeutil"
)

// RecordFunc receives a copy of every applied batch. Wired by the telemetry
// recorder; nil disables recording.
type RecordFunc func(frame uint64, issuedAt time.Time, commands []sim.ActorCommand)

// BatchControlStage issues the frame's commands to the simulator as a single
// batched call, dropping commands for actors unregistered since the frame
// started, and reports frame completion to the coordinator's barrier.
type BatchControlStage struct {
	ctx      context.Context
	client   sim.Client
	registry *Registry
	clock    timeutil.Clock

	in        *messenger.Messenger[PlannedFrame]
	record    RecordFunc
	onApplied func(frame uint64, actors int)

	lc lifecycle
}

// NewBatchControlStage wires the batch-control stage. onApplied is invoked
// after every frame, including degraded ones, so the synchronous barrier
// always resolves.
func NewBatchControlStage(
	ctx context.Context,
	client sim.Client,
	registry *Registry,
	clock timeutil.Clock,
	in *messenger.Messenger[PlannedFrame],
	record RecordFunc,
	onApplied func(frame uint64, actors int),
) *BatchControlStage {
	return &BatchControlStage{
		ctx:       ctx,
		client:    client,
		registry:  registry,
		clock:     clock,
		in:        in,
		record:    record,
		onApplied: onApplied,
		lc:        newLifecycle("batch-control", in),
	}
}

func (s *BatchControlStage) Name() string { return s.lc.name }

// RunOnce applies one planned frame. An apply failure is logged by the stage
// loop and the frame is counted as completed with its commands skipped; the
// pipeline keeps running.
func (s *BatchControlStage) RunOnce() error {
	frame, ok := s.in.Receive()
	if !ok {
		return ErrStopped
	}

	commands := frame.Commands[:0:0]
	for _, c := range frame.Commands {
		if s.registry.Contains(c.ID) {
			commands = append(commands, c)
		}
	}

	var applyErr error
	if len(commands) > 0 {
		applyErr = s.client.ApplyBatch(s.ctx, commands)
	}
	if applyErr == nil && s.record != nil && len(commands) > 0 {
		s.record(frame.Frame, s.clock.Now(), commands)
	}
	if s.onApplied != nil {
		applied := len(commands)
		if applyErr != nil {
			applied = 0
		}
		s.onApplied(frame.Frame, applied)
	}
	if applyErr != nil {
		return fmt.Errorf("apply batch for frame %d: %w", frame.Frame, applyErr)
	}
	return nil
}

// Start spawns the stage goroutine.
func (s *BatchControlStage) Start() { s.lc.start(s.RunOnce) }

// Stop terminates the stage after the in-flight frame completes.
func (s *BatchControlStage) Stop() { s.lc.stop() }
