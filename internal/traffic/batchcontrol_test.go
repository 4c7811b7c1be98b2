package traffic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/messenger"
	"github.com/banshee-data/trafficmgr/internal/sim"
	"github.com/banshee-data/trafficmgr/internal/timeutil"
)

type batchHarness struct {
	client   *sim.FakeClient
	registry *Registry
	in       *messenger.Messenger[PlannedFrame]
	stage    *BatchControlStage

	recorded []PlannedFrame
	applied  []int
}

func newBatchHarness(t *testing.T) *batchHarness {
	t.Helper()
	h := &batchHarness{
		client:   sim.NewFakeClient(sim.StraightRoad(100, 5, 10)),
		registry: NewRegistry(),
		in:       messenger.New[PlannedFrame](),
	}
	record := func(frame uint64, issuedAt time.Time, commands []sim.ActorCommand) {
		h.recorded = append(h.recorded, PlannedFrame{Frame: frame, Commands: commands})
	}
	onApplied := func(frame uint64, actors int) {
		h.applied = append(h.applied, actors)
	}
	h.stage = NewBatchControlStage(context.Background(), h.client, h.registry,
		timeutil.NewMockClock(time.Unix(0, 0)), h.in, record, onApplied)
	return h
}

func TestBatchControlAppliesOnlyRegisteredActors(t *testing.T) {
	t.Parallel()
	h := newBatchHarness(t)
	h.client.AddVehicle(1, r3.Vec{}, 0, 10)
	h.registry.Register([]sim.ActorID{1})

	// Actor 2 was unregistered after the frame entered the pipeline.
	h.in.Send(PlannedFrame{Frame: 1, Commands: []sim.ActorCommand{
		{ID: 1, Throttle: 0.5},
		{ID: 2, Throttle: 0.9},
	}})
	require.NoError(t, h.stage.RunOnce())

	batches := h.client.Batches()
	require.Len(t, batches, 1)
	if diff := cmp.Diff([]sim.ActorCommand{{ID: 1, Throttle: 0.5}}, batches[0]); diff != "" {
		t.Errorf("applied batch mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, h.recorded, 1)
	assert.Len(t, h.recorded[0].Commands, 1)
	assert.Equal(t, []int{1}, h.applied)
}

func TestBatchControlEmptyFrameSkipsApply(t *testing.T) {
	t.Parallel()
	h := newBatchHarness(t)

	h.in.Send(PlannedFrame{Frame: 1, Commands: []sim.ActorCommand{{ID: 2}}})
	require.NoError(t, h.stage.RunOnce())

	assert.Empty(t, h.client.Batches())
	assert.Empty(t, h.recorded)
	assert.Equal(t, []int{0}, h.applied, "the barrier still sees the frame complete")
}

func TestBatchControlApplyErrorStillCompletesFrame(t *testing.T) {
	t.Parallel()
	h := newBatchHarness(t)
	h.registry.Register([]sim.ActorID{1})
	h.client.SetApplyError(errors.New("socket closed"))

	h.in.Send(PlannedFrame{Frame: 1, Commands: []sim.ActorCommand{{ID: 1, Throttle: 0.5}}})
	err := h.stage.RunOnce()
	require.Error(t, err)

	assert.Empty(t, h.client.Batches())
	assert.Empty(t, h.recorded, "failed batches are not recorded")
	assert.Equal(t, []int{0}, h.applied)
}

func TestBatchControlStopOnClosedUpstream(t *testing.T) {
	t.Parallel()
	h := newBatchHarness(t)
	h.in.Close()
	assert.ErrorIs(t, h.stage.RunOnce(), ErrStopped)
}
