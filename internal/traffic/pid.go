package traffic

// PIDParams holds the gains for one control axis in one driving regime.
type PIDParams struct {
	KP float64
	KI float64
	KD float64
}

// PIDSet supplies the four gain sets the motion planner is constructed with:
// each control axis (longitudinal, lateral) in each regime (urban, highway).
type PIDSet struct {
	Longitudinal        PIDParams
	LongitudinalHighway PIDParams
	Lateral             PIDParams
	LateralHighway      PIDParams
}

// pidState is the per-actor, per-axis controller memory.
type pidState struct {
	integral float64
	prevErr  float64
	primed   bool
}

// step advances the controller by one frame and returns the control output.
// The derivative term is suppressed on the first sample after a reset since
// there is no previous error to difference against.
func (g PIDParams) step(s *pidState, err, dt float64) float64 {
	if dt <= 0 {
		return g.KP * err
	}
	s.integral += err * dt
	var deriv float64
	if s.primed {
		deriv = (err - s.prevErr) / dt
	}
	s.prevErr = err
	s.primed = true
	return g.KP*err + g.KI*s.integral + g.KD*deriv
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
