package traffic

import (
	"time"

	"github.com/banshee-data/trafficmgr/internal/units"
)

// Settings holds the pipeline's tuning knobs. Zero values are replaced by
// the defaults from DefaultSettings via normalize, so partial settings are
// safe.
type Settings struct {
	// LookaheadBase and LookaheadTimeGain size the localization lookahead
	// window: base meters plus current speed times the gain in seconds.
	LookaheadBase     float64
	LookaheadTimeGain float64

	// ProximityThreshold is the radius in meters within which actor pairs
	// are considered by the collision stage.
	ProximityThreshold float64

	// LaneWidth bounds the lateral corridor used for leading-vehicle and
	// traffic-light relevance checks.
	LaneWidth float64

	// LightApproachDistance is how far ahead of a light, in meters, an
	// actor starts obeying its phase.
	LightApproachDistance float64

	// HighwaySpeedThreshold selects the highway PID regime, m/s.
	HighwaySpeedThreshold float64

	// FramePeriod paces free-running (asynchronous) localization. Zero
	// disables pacing.
	FramePeriod time.Duration

	// TickTimeout bounds how long SynchronousTick waits for the frame
	// barrier before reporting a degraded tick.
	TickTimeout time.Duration

	// FrozenPollInterval and FrozenPollAttempts bound the CheckAllFrozen
	// poll loop.
	FrozenPollInterval time.Duration
	FrozenPollAttempts int

	// RandomSeed seeds the stochastic draws (run-light, ignore-actors).
	// Runs with the same seed and workload draw the same decisions.
	RandomSeed int64

	// PID supplies the planner's controller gains.
	PID PIDSet
}

// DefaultSettings returns the tuning used when the caller supplies nothing.
// The PID gains follow the urban/highway split used by the reference
// controller: highway gains are softer to avoid oscillation at speed.
func DefaultSettings() Settings {
	return Settings{
		LookaheadBase:         6.0,
		LookaheadTimeGain:     1.1,
		ProximityThreshold:    20.0,
		LaneWidth:             3.5,
		LightApproachDistance: 25.0,
		HighwaySpeedThreshold: units.KmhToMps(50),
		FramePeriod:           50 * time.Millisecond,
		TickTimeout:           2 * time.Second,
		FrozenPollInterval:    50 * time.Millisecond,
		FrozenPollAttempts:    20,
		RandomSeed:            1,
		PID: PIDSet{
			Longitudinal:        PIDParams{KP: 0.25, KI: 0.01, KD: 0.02},
			LongitudinalHighway: PIDParams{KP: 0.15, KI: 0.005, KD: 0.01},
			Lateral:             PIDParams{KP: 0.9, KI: 0.0, KD: 0.1},
			LateralHighway:      PIDParams{KP: 0.5, KI: 0.0, KD: 0.05},
		},
	}
}

// normalize fills zero-valued fields from the defaults.
func (s Settings) normalize() Settings {
	d := DefaultSettings()
	if s.LookaheadBase == 0 {
		s.LookaheadBase = d.LookaheadBase
	}
	if s.LookaheadTimeGain == 0 {
		s.LookaheadTimeGain = d.LookaheadTimeGain
	}
	if s.ProximityThreshold == 0 {
		s.ProximityThreshold = d.ProximityThreshold
	}
	if s.LaneWidth == 0 {
		s.LaneWidth = d.LaneWidth
	}
	if s.LightApproachDistance == 0 {
		s.LightApproachDistance = d.LightApproachDistance
	}
	if s.HighwaySpeedThreshold == 0 {
		s.HighwaySpeedThreshold = d.HighwaySpeedThreshold
	}
	if s.TickTimeout == 0 {
		s.TickTimeout = d.TickTimeout
	}
	if s.FrozenPollInterval == 0 {
		s.FrozenPollInterval = d.FrozenPollInterval
	}
	if s.FrozenPollAttempts == 0 {
		s.FrozenPollAttempts = d.FrozenPollAttempts
	}
	if s.RandomSeed == 0 {
		s.RandomSeed = d.RandomSeed
	}
	zero := PIDParams{}
	if s.PID.Longitudinal == zero {
		s.PID.Longitudinal = d.PID.Longitudinal
	}
	if s.PID.LongitudinalHighway == zero {
		s.PID.LongitudinalHighway = d.PID.LongitudinalHighway
	}
	if s.PID.Lateral == zero {
		s.PID.Lateral = d.PID.Lateral
	}
	if s.PID.LateralHighway == zero {
		s.PID.LateralHighway = d.PID.LateralHighway
	}
	return s
}
