// Command trafficd runs the traffic pipeline against a simulated world. It is
// the development harness for the pipeline: it spawns vehicles on a built-in
// road, drives them through the full stage chain and optionally records
// telemetry for the speed-report tool.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/trafficmgr/internal/config"
	"github.com/banshee-data/trafficmgr/internal/sim"
	"github.com/banshee-data/trafficmgr/internal/telemetry"
	"github.com/banshee-data/trafficmgr/internal/traffic"
	"github.com/banshee-data/trafficmgr/internal/units"
	"github.com/banshee-data/trafficmgr/internal/version"
)

var (
	syncMode   = flag.Bool("sync", false, "Run in synchronous mode, driving the world in lock-step ticks")
	vehicles   = flag.Int("vehicles", 8, "Number of vehicles to spawn")
	duration   = flag.Duration("duration", 30*time.Second, "How long to run before shutting down (0 = until interrupted)")
	dbFile     = flag.String("db", "", "Telemetry database file (empty disables recording)")
	configFile = flag.String("config", "", "Optional tuning config (JSON)")
	roadLength = flag.Float64("road-length", 2000, "Length of the two-lane test road in meters")
	speedKmh   = flag.Float64("speed-limit", 50, "Speed limit of the test road in km/h")
	tickPeriod = flag.Duration("tick", 50*time.Millisecond, "Simulation step used in synchronous mode")
)

func main() {
	flag.Parse()
	log.Printf("trafficd %s (%s)", version.Version, version.GitSHA)

	settings := traffic.DefaultSettings()
	if *configFile != "" {
		tuning, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		settings, err = tuning.Apply(settings)
		if err != nil {
			log.Fatalf("failed to apply tuning config: %v", err)
		}
		log.Printf("applied tuning config from %s", *configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limit := units.KmhToMps(*speedKmh)
	client := sim.NewFakeClient(sim.TwoLaneRoad(*roadLength, 5, 3.5, limit))

	ids := make([]sim.ActorID, 0, *vehicles)
	for i := 0; i < *vehicles; i++ {
		id := sim.ActorID(i + 1)
		// Stagger starting positions so the collision stage has work to do.
		client.AddVehicle(id, r3.Vec{X: float64(i) * 30}, limit*0.5, limit)
		ids = append(ids, id)
	}

	opts := []traffic.Option{traffic.WithSettings(settings)}

	var recorder *telemetry.Recorder
	if *dbFile != "" {
		var err error
		recorder, err = telemetry.Open(*dbFile, time.Now())
		if err != nil {
			log.Fatalf("failed to open telemetry db: %v", err)
		}
		defer recorder.Close()
		log.Printf("recording telemetry to %s (run %s)", *dbFile, recorder.RunID())
		opts = append(opts, traffic.WithRecorder(recorder.RecordBatch))
	}

	mgr, err := traffic.New(ctx, client, opts...)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	mgr.RegisterVehicles(ids)
	mgr.SetGlobalPercentageSpeedDifference(-10)
	mgr.SetSynchronousMode(*syncMode)

	if err := mgr.Start(ctx); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	defer mgr.Stop()
	log.Printf("pipeline running: %d vehicles, sync=%v", len(ids), *syncMode)

	deadline := time.Time{}
	if *duration > 0 {
		deadline = time.Now().Add(*duration)
	}

	sample := time.NewTicker(time.Second)
	defer sample.Stop()

	step := func() {
		if *syncMode {
			if !mgr.SynchronousTick() {
				log.Printf("degraded tick")
			}
			client.Advance(tickPeriod.Seconds())
			return
		}
		// Free-running mode: the pipeline paces itself, the world just
		// integrates wall-clock time.
		client.Advance(tickPeriod.Seconds())
		time.Sleep(*tickPeriod)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return
		case <-sample.C:
			recordSpeeds(ctx, client, recorder, ids)
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Printf("run complete")
			return
		}
		step()
	}
}

// recordSpeeds samples each managed vehicle's current speed into telemetry.
func recordSpeeds(ctx context.Context, client sim.Client, recorder *telemetry.Recorder, ids []sim.ActorID) {
	if recorder == nil {
		return
	}
	snap, err := client.WorldSnapshot(ctx)
	if err != nil {
		log.Printf("speed sample skipped: %v", err)
		return
	}
	managed := make(map[sim.ActorID]bool, len(ids))
	for _, id := range ids {
		managed[id] = true
	}
	for _, a := range snap.Actors {
		if !managed[a.ID] {
			continue
		}
		if err := recorder.RecordSpeed(a.ID, snap.Time, r3.Norm(a.Velocity)); err != nil {
			log.Printf("failed to record speed for %d: %v", a.ID, err)
		}
	}
}
