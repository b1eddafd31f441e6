package motion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Default integration constants.
const (
	DefaultThreshold   = 0.2   // m/s²
	DefaultDamping     = 0.95  // per render tick
	DefaultEpsilon     = 0.001 // m/s
	DefaultMaxSampleDT = 0.25  // s
)

// Params are the integration constants.
type Params struct {
	Threshold   float64
	Damping     float64
	Epsilon     float64
	MaxSampleDT float64
}

// DefaultParams returns the stock integration constants.
func DefaultParams() Params {
	return Params{
		Threshold:   DefaultThreshold,
		Damping:     DefaultDamping,
		Epsilon:     DefaultEpsilon,
		MaxSampleDT: DefaultMaxSampleDT,
	}
}

// Validate rejects constants for which the velocity would not converge or
// noise would not be filtered. A zero MaxSampleDT disables clamping.
func (p Params) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"threshold", p.Threshold},
		{"damping", p.Damping},
		{"epsilon", p.Epsilon},
		{"max sample dt", p.MaxSampleDT},
	} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return fmt.Errorf("%s must be finite, got %g", c.name, c.v)
		}
	}
	if p.Damping <= 0 || p.Damping >= 1 {
		return fmt.Errorf("damping must be in (0, 1), got %g", p.Damping)
	}
	if p.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be > 0, got %g", p.Epsilon)
	}
	if p.Threshold < 0 {
		return fmt.Errorf("threshold must be >= 0, got %g", p.Threshold)
	}
	if p.MaxSampleDT < 0 {
		return fmt.Errorf("max sample dt must be >= 0, got %g", p.MaxSampleDT)
	}
	return nil
}

// State is the controller's velocity along the camera's forward axis.
type State struct {
	VelocityZ float64
}

// Accumulate folds one sample into the velocity. Samples below the
// threshold, non-finite samples and samples without a positive dt leave
// the state unchanged. dt is clamped to MaxSampleDT when that is set.
func Accumulate(s State, p Params, smp Sample) State {
	a := smp.Acceleration
	if math.IsNaN(a) || math.IsInf(a, 0) || math.Abs(a) < p.Threshold {
		return s
	}
	dt := smp.DT
	if !(dt > 0) || math.IsInf(dt, 0) {
		return s
	}
	if p.MaxSampleDT > 0 && dt > p.MaxSampleDT {
		dt = p.MaxSampleDT
	}
	// Tilting the top of the device away (negative a) walks forward.
	s.VelocityZ += -a * dt
	return s
}

// Decay damps the velocity for one render tick and snaps it to exactly zero
// once it falls below epsilon.
func Decay(s State, p Params) State {
	s.VelocityZ *= p.Damping
	if math.Abs(s.VelocityZ) < p.Epsilon {
		s.VelocityZ = 0
	}
	return s
}

// Displacement is the camera translation for one frame of renderDT seconds.
func Displacement(s State, forward r3.Vec, renderDT float64) r3.Vec {
	if s.VelocityZ == 0 || !(renderDT > 0) {
		return r3.Vec{}
	}
	return r3.Scale(s.VelocityZ*renderDT, forward)
}

// TicksToRest returns an upper bound on the number of Decay calls needed to
// bring velocity v to zero under p.
func TicksToRest(v float64, p Params) int {
	v = math.Abs(v)
	if v < p.Epsilon {
		return 1
	}
	return int(math.Ceil(math.Log(p.Epsilon/v)/math.Log(p.Damping))) + 1
}
