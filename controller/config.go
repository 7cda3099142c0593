// Package controller implements the four sliding-mode control laws for the
// double-inverted-pendulum plant: classical boundary-layer SMC, the
// super-twisting continuous second-order law, a self-tuning adaptive law, and
// a hybrid law that switches between the latter two.  All variants share one
// Compute entry point dispatched on the config's variant tag; each update
// rule is a pure function of (plant state, scratch state, config).
package controller

import (
	"math"

	"smctune"
)

// Variant tags a control law.  The set is closed: adding a law means adding
// a case to Compute and a gain layout here.
type Variant string

const (
	Classical     Variant = "classical"
	SuperTwisting Variant = "sta"
	Adaptive      Variant = "adaptive"
	Hybrid        Variant = "hybrid"
)

// StateDim is the plant state layout [x th1 th2 xdot th1dot th2dot].
const StateDim = 6

// Gain layout per variant.  Surface-shaping gains must be strictly positive
// (Hurwitz sliding dynamics); switching/reaching gains must be strictly
// positive; derivative damping may be zero.
//
//	classical: [k1 k2 lam1 lam2 K kd]
//	sta:       [K1 K2 k1 k2 lam1 lam2]
//	adaptive:  [k1 k2 lam1 lam2 gamma]
//	hybrid:    [c1 lam1 c2 lam2]
func GainCount(v Variant) int {
	switch v {
	case Classical:
		return 6
	case SuperTwisting:
		return 6
	case Adaptive:
		return 5
	case Hybrid:
		return 4
	}
	return 0
}

// Parameter values outside this range are rejected wholesale; the dynamics
// produce garbage long before gains get anywhere near these limits.
const (
	minParam = 1e-12
	maxParam = 1e5
)

// Params is the plain parameter bag consumed by New.  It mirrors the fields
// the configuration mapping supplies per variant; zero-valued scalar fields
// fall back to the variant defaults.
type Params struct {
	Gains         []float64
	MaxForce      float64
	BoundaryLayer float64
	Dt            float64

	// Self-tuning law (also used by the hybrid law's conservative mode).
	AdaptRate float64 // overridden by the gamma gain where the layout has one
	LeakRate  float64
	DeadZone  float64
	GainMin   float64
	GainMax   float64
	GainInit  float64

	// Super-twisting scalars for the hybrid law's aggressive mode.
	STAGain1 float64
	STAGain2 float64

	// Hybrid mode machine.
	SwitchThreshold  float64
	HysteresisMargin float64
}

// Config is a frozen, validated controller parameter set.  Construct only
// through New; a Config in hand is guaranteed to satisfy the stability
// constraints for its variant and is never mutated.
type Config struct {
	variant Variant
	gains   []float64

	maxForce      float64
	boundaryLayer float64
	dt            float64

	adaptRate float64
	leakRate  float64
	deadZone  float64
	gainMin  float64
	gainMax  float64
	gainInit float64

	staGain1 float64
	staGain2 float64

	switchThreshold  float64
	hysteresisMargin float64
}

// New validates p against v's algebraic constraints and returns a frozen
// Config.  All failures are *smctune.ConfigurationError.
func New(v Variant, p Params) (Config, error) {
	if n := GainCount(v); n == 0 {
		return Config{}, &smctune.ConfigurationError{Param: "variant", Reason: "unknown variant " + string(v)}
	} else if len(p.Gains) != n {
		return Config{}, &smctune.ConfigurationError{
			Param: "gains", Value: float64(len(p.Gains)),
			Reason: "wrong gain count for variant " + string(v),
		}
	}

	fillDefaults(v, &p)

	cfg := Config{
		variant:          v,
		gains:            append([]float64(nil), p.Gains...),
		maxForce:         p.MaxForce,
		boundaryLayer:    p.BoundaryLayer,
		dt:               p.Dt,
		adaptRate:        p.AdaptRate,
		leakRate:         p.LeakRate,
		deadZone:         p.DeadZone,
		gainMin:          p.GainMin,
		gainMax:          p.GainMax,
		gainInit:         p.GainInit,
		staGain1:         p.STAGain1,
		staGain2:         p.STAGain2,
		switchThreshold:  p.SwitchThreshold,
		hysteresisMargin: p.HysteresisMargin,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fillDefaults(v Variant, p *Params) {
	def := func(x *float64, d float64) {
		if *x == 0 {
			*x = d
		}
	}
	def(&p.MaxForce, 150)
	def(&p.BoundaryLayer, 0.02)
	def(&p.Dt, 0.01)
	if v == Adaptive || v == Hybrid {
		def(&p.AdaptRate, 1)
		def(&p.LeakRate, 0.1)
		def(&p.DeadZone, 0.01)
		def(&p.GainMin, 1)
		def(&p.GainMax, 200)
		def(&p.GainInit, 10)
	}
	if v == Hybrid {
		def(&p.STAGain1, 15)
		def(&p.STAGain2, 8)
		def(&p.SwitchThreshold, 1.0)
		def(&p.HysteresisMargin, 0.1)
	}
}

func (c *Config) validate() error {
	bad := func(param string, val float64, reason string) error {
		return &smctune.ConfigurationError{Param: param, Value: val, Reason: reason}
	}
	pos := func(param string, val float64) error {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return bad(param, val, "must be finite")
		}
		if val < minParam || val > maxParam {
			return bad(param, val, "must lie in [1e-12, 1e5]")
		}
		return nil
	}

	for i, g := range c.gains {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return bad(gainName(c.variant, i), g, "must be finite")
		}
	}

	// Strictly positive gains.  kd (classical index 5) may be zero.
	for i, g := range c.gains {
		if c.variant == Classical && i == 5 {
			if g < 0 || g > maxParam {
				return bad("kd", g, "must lie in [0, 1e5]")
			}
			continue
		}
		if err := pos(gainName(c.variant, i), g); err != nil {
			return err
		}
	}

	if err := pos("max_force", c.maxForce); err != nil {
		return err
	}
	if err := pos("boundary_layer", c.boundaryLayer); err != nil {
		return err
	}
	if err := pos("dt", c.dt); err != nil {
		return err
	}

	if c.variant == Adaptive || c.variant == Hybrid {
		if c.adaptRate <= 0 {
			return bad("adapt_rate", c.adaptRate, "must be positive")
		}
		if c.leakRate < 0 {
			return bad("leak_rate", c.leakRate, "must be non-negative")
		}
		if c.deadZone < 0 {
			return bad("dead_zone", c.deadZone, "must be non-negative")
		}
		if err := pos("gain_min", c.gainMin); err != nil {
			return err
		}
		if err := pos("gain_max", c.gainMax); err != nil {
			return err
		}
		if c.gainMin >= c.gainMax {
			return bad("gain_min", c.gainMin, "must be below gain_max")
		}
		if c.gainInit < c.gainMin || c.gainInit > c.gainMax {
			return bad("gain_init", c.gainInit, "must lie in [gain_min, gain_max]")
		}
	}

	if c.variant == Hybrid {
		if err := pos("sta_gain1", c.staGain1); err != nil {
			return err
		}
		if err := pos("sta_gain2", c.staGain2); err != nil {
			return err
		}
		if err := pos("switch_threshold", c.switchThreshold); err != nil {
			return err
		}
		if c.hysteresisMargin < 0 {
			return bad("hysteresis_margin", c.hysteresisMargin, "must be non-negative")
		}
		if c.hysteresisMargin >= c.switchThreshold {
			return bad("hysteresis_margin", c.hysteresisMargin, "must be below switch_threshold")
		}
	}

	return nil
}

func gainName(v Variant, i int) string {
	names := map[Variant][]string{
		Classical:     {"k1", "k2", "lam1", "lam2", "K", "kd"},
		SuperTwisting: {"K1", "K2", "k1", "k2", "lam1", "lam2"},
		Adaptive:      {"k1", "k2", "lam1", "lam2", "gamma"},
		Hybrid:        {"c1", "lam1", "c2", "lam2"},
	}
	if n, ok := names[v]; ok && i < len(n) {
		return n[i]
	}
	return "gain"
}

func (c Config) Variant() Variant { return c.variant }

// Gains returns a copy of the active gain vector.
func (c Config) Gains() []float64 { return append([]float64(nil), c.gains...) }

func (c Config) MaxForce() float64      { return c.maxForce }
func (c Config) BoundaryLayer() float64 { return c.boundaryLayer }
func (c Config) Dt() float64            { return c.dt }

// WithGains revalidates and returns a copy of c carrying g as its gain
// vector.  The receiver is unchanged.  Used by the gain scheduler, which must
// not be able to smuggle an invalid vector past construction-time checks.
func (c Config) WithGains(g []float64) (Config, error) {
	p := Params{
		Gains:            g,
		MaxForce:         c.maxForce,
		BoundaryLayer:    c.boundaryLayer,
		Dt:               c.dt,
		AdaptRate:        c.adaptRate,
		LeakRate:         c.leakRate,
		DeadZone:         c.deadZone,
		GainMin:          c.gainMin,
		GainMax:          c.gainMax,
		GainInit:         c.gainInit,
		STAGain1:         c.staGain1,
		STAGain2:         c.staGain2,
		SwitchThreshold:  c.switchThreshold,
		HysteresisMargin: c.hysteresisMargin,
	}
	return New(c.variant, p)
}

// Bounds returns the per-dimension PSO search box for v's gain vector.  The
// boxes sit well inside the validation range so that every particle position
// inside them yields a constructible Config; they come from the Lyapunov
// reasoning that bounds each gain's useful range, not from tuning folklore.
func Bounds(v Variant) (low, up []float64) {
	switch v {
	case Classical:
		return []float64{0.1, 0.1, 0.1, 0.05, 1, 0},
			[]float64{50, 50, 50, 20, 200, 50}
	case SuperTwisting:
		return []float64{1, 1, 0.1, 0.1, 0.1, 0.05},
			[]float64{100, 100, 50, 50, 50, 20}
	case Adaptive:
		return []float64{0.1, 0.1, 0.1, 0.05, 0.01},
			[]float64{50, 50, 50, 20, 10}
	case Hybrid:
		return []float64{0.1, 0.05, 0.1, 0.05},
			[]float64{50, 20, 50, 20}
	}
	return nil, nil
}

// GainViolation measures how badly gains violates v's feasibility region.
// Zero means a Config could be built from it.  Swarm initialization uses this
// through the smctune.Feasibler interface to queue least-violating samples.
func GainViolation(v Variant, gains []float64) float64 {
	if len(gains) != GainCount(v) {
		return math.Inf(1)
	}
	tot := 0.0
	for i, g := range gains {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return math.Inf(1)
		}
		lo := minParam
		if v == Classical && i == 5 {
			lo = 0
		}
		if g < lo {
			tot += lo - g
		}
		if g > maxParam {
			tot += g - maxParam
		}
	}
	return tot
}

// Feasibler adapts GainViolation to the sampling interface.
type Feasibler struct{ V Variant }

func (f Feasibler) Violation(pos []float64) float64 { return GainViolation(f.V, pos) }
