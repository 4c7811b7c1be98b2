// Package config loads pipeline tuning from JSON. Fields are pointers so a
// partial file overrides only what it names; everything else keeps the
// built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/trafficmgr/internal/traffic"
	"github.com/banshee-data/trafficmgr/internal/units"
)

// TuningConfig is the on-disk tuning schema. Durations are strings like
// "50ms"; speeds are km/h for readability and converted on apply.
type TuningConfig struct {
	// Localization params
	LookaheadBase     *float64 `json:"lookahead_base,omitempty"`
	LookaheadTimeGain *float64 `json:"lookahead_time_gain,omitempty"`

	// Collision params
	ProximityThreshold *float64 `json:"proximity_threshold,omitempty"`
	LaneWidth          *float64 `json:"lane_width,omitempty"`

	// Traffic-light params
	LightApproachDistance *float64 `json:"light_approach_distance,omitempty"`

	// Planner params
	HighwaySpeedKmh     *float64   `json:"highway_speed_kmh,omitempty"`
	LongitudinalPID     *[]float64 `json:"longitudinal_pid,omitempty"`      // [kp, ki, kd]
	LongitudinalHwyPID  *[]float64 `json:"longitudinal_hwy_pid,omitempty"`  // [kp, ki, kd]
	LateralPID          *[]float64 `json:"lateral_pid,omitempty"`           // [kp, ki, kd]
	LateralHwyPID       *[]float64 `json:"lateral_hwy_pid,omitempty"`       // [kp, ki, kd]

	// Scheduling params
	FramePeriod *string `json:"frame_period,omitempty"` // duration string like "50ms"
	TickTimeout *string `json:"tick_timeout,omitempty"` // duration string like "2s"

	// Stochastic params
	RandomSeed *int64 `json:"random_seed,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must
// have a .json extension and stay under the size cap; fields omitted from
// the file stay nil, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Apply overlays the config onto base settings and returns the result.
func (c *TuningConfig) Apply(base traffic.Settings) (traffic.Settings, error) {
	s := base
	if c.LookaheadBase != nil {
		s.LookaheadBase = *c.LookaheadBase
	}
	if c.LookaheadTimeGain != nil {
		s.LookaheadTimeGain = *c.LookaheadTimeGain
	}
	if c.ProximityThreshold != nil {
		s.ProximityThreshold = *c.ProximityThreshold
	}
	if c.LaneWidth != nil {
		s.LaneWidth = *c.LaneWidth
	}
	if c.LightApproachDistance != nil {
		s.LightApproachDistance = *c.LightApproachDistance
	}
	if c.HighwaySpeedKmh != nil {
		s.HighwaySpeedThreshold = units.KmhToMps(*c.HighwaySpeedKmh)
	}

	var err error
	if s.PID.Longitudinal, err = pidFrom(c.LongitudinalPID, s.PID.Longitudinal, "longitudinal_pid"); err != nil {
		return s, err
	}
	if s.PID.LongitudinalHighway, err = pidFrom(c.LongitudinalHwyPID, s.PID.LongitudinalHighway, "longitudinal_hwy_pid"); err != nil {
		return s, err
	}
	if s.PID.Lateral, err = pidFrom(c.LateralPID, s.PID.Lateral, "lateral_pid"); err != nil {
		return s, err
	}
	if s.PID.LateralHighway, err = pidFrom(c.LateralHwyPID, s.PID.LateralHighway, "lateral_hwy_pid"); err != nil {
		return s, err
	}

	if c.FramePeriod != nil {
		d, err := time.ParseDuration(*c.FramePeriod)
		if err != nil {
			return s, fmt.Errorf("invalid frame_period %q: %w", *c.FramePeriod, err)
		}
		s.FramePeriod = d
	}
	if c.TickTimeout != nil {
		d, err := time.ParseDuration(*c.TickTimeout)
		if err != nil {
			return s, fmt.Errorf("invalid tick_timeout %q: %w", *c.TickTimeout, err)
		}
		s.TickTimeout = d
	}
	if c.RandomSeed != nil {
		s.RandomSeed = *c.RandomSeed
	}
	return s, nil
}

func pidFrom(v *[]float64, base traffic.PIDParams, name string) (traffic.PIDParams, error) {
	if v == nil {
		return base, nil
	}
	if len(*v) != 3 {
		return base, fmt.Errorf("%s must have exactly 3 values [kp, ki, kd], got %d", name, len(*v))
	}
	return traffic.PIDParams{KP: (*v)[0], KI: (*v)[1], KD: (*v)[2]}, nil
}
