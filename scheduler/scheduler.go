// Package scheduler interpolates a controller's gains between an aggressive
// and a conservative vector based on how far the plant is from upright.  The
// mode machine uses the same hysteresis discipline as the hybrid control law,
// applied externally to any wrapped variant; strictly positive gains are
// interpolated in log space so positivity survives the blend.
//
// Not every variant tolerates external gain replacement: variants with their
// own internal adaptation fight an outer scheduler (validation runs measured
// chattering increases up to roughly 3x when the composite law's coordination
// gains were scheduled externally).  Each variant therefore declares which
// gain indices are safe to interpolate, and wrapping the hybrid variant is
// refused unless explicitly opted into.
package scheduler

import (
	"math"

	"smctune"
	"smctune/controller"
)

// SafeMask reports, per gain index, whether the variant tolerates external
// interpolation of that gain.  Unsafe gains must be identical in both
// endpoint vectors.
func SafeMask(v controller.Variant) []bool {
	switch v {
	case controller.Classical:
		// the whole vector is stateless; everything is safe
		return []bool{true, true, true, true, true, true}
	case controller.SuperTwisting:
		// K1/K2 shape the integral law's finite-time reach; only the
		// surface gains are safe
		return []bool{false, false, true, true, true, true}
	case controller.Adaptive:
		// gamma drives the internal gain estimate; scheduling it nests two
		// adaptation loops
		return []bool{true, true, true, true, false}
	case controller.Hybrid:
		return []bool{false, false, false, false}
	}
	return nil
}

// logBlend reports whether gain index i of the variant carries a strictly
// positive constraint and must therefore blend in log space.  For the
// classical variant kd may be zero, so it blends linearly.
func logBlend(v controller.Variant, i int) bool {
	return !(v == controller.Classical && i == 5)
}

type Config struct {
	Variant      controller.Variant
	Aggressive   []float64 // active near upright
	Conservative []float64 // active at large error

	// Threshold and Margin define the hysteresis band on the error signal,
	// exactly as the hybrid law's band on the sliding variable.  The blend
	// fraction ramps across the band, so the gains at either edge already
	// equal the endpoint being switched to.
	Threshold float64
	Margin    float64

	// ErrSignal maps a plant state to the scalar scheduling error.  Default
	// is the larger joint angle magnitude.
	ErrSignal func(x []float64) float64

	// Params beyond the gains for validating blended configurations.
	Controller controller.Params

	// AllowHybrid opts into scheduling the hybrid variant.  Validation data
	// flags this combination as harmful, so it is off by default.
	AllowHybrid bool
}

// Scheduler owns the hysteresis mode state.  It is not safe for concurrent
// use; give each trajectory its own instance.
type Scheduler struct {
	cfg  Config
	base controller.Config

	mode     controller.Mode
	switches int
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Variant == controller.Hybrid && !cfg.AllowHybrid {
		return nil, &smctune.ConfigurationError{
			Param:  "variant",
			Reason: "scheduling the hybrid variant interferes with its internal mode machine; set AllowHybrid to override",
		}
	}
	if cfg.Threshold <= 0 || cfg.Margin <= 0 || cfg.Margin >= cfg.Threshold {
		return nil, &smctune.ConfigurationError{
			Param: "margin", Value: cfg.Margin,
			Reason: "need 0 < margin < threshold",
		}
	}
	if cfg.ErrSignal == nil {
		cfg.ErrSignal = func(x []float64) float64 {
			return math.Max(math.Abs(x[1]), math.Abs(x[2]))
		}
	}

	// both endpoints must be valid configurations on their own
	pa := cfg.Controller
	pa.Gains = cfg.Aggressive
	base, err := controller.New(cfg.Variant, pa)
	if err != nil {
		return nil, err
	}
	pc := cfg.Controller
	pc.Gains = cfg.Conservative
	if _, err := controller.New(cfg.Variant, pc); err != nil {
		return nil, err
	}

	mask := SafeMask(cfg.Variant)
	if cfg.Variant == controller.Hybrid && cfg.AllowHybrid {
		// experimental: the opt-in lifts the mask entirely
		mask = []bool{true, true, true, true}
	}
	for i, safe := range mask {
		if !safe && cfg.Aggressive[i] != cfg.Conservative[i] {
			return nil, &smctune.ConfigurationError{
				Param: "gains", Value: cfg.Conservative[i],
				Reason: "gain index not safe to interpolate for this variant; endpoints must match",
			}
		}
	}

	return &Scheduler{cfg: cfg, base: base}, nil
}

func (s *Scheduler) Mode() controller.Mode { return s.mode }

// Switches counts hysteresis mode transitions since construction.
func (s *Scheduler) Switches() int { return s.switches }

// Schedule advances the mode machine on x's error signal and returns the
// effective gain vector.  The blend fraction ramps linearly across the
// hysteresis band: 0 (fully aggressive) at threshold-margin and below, 1
// (fully conservative) at threshold+margin and above.
func (s *Scheduler) Schedule(x []float64) []float64 {
	e := s.cfg.ErrSignal(x)

	switch {
	case e > s.cfg.Threshold+s.cfg.Margin:
		if s.mode != controller.ConservativeMode {
			s.mode = controller.ConservativeMode
			s.switches++
		}
	case e < s.cfg.Threshold-s.cfg.Margin:
		if s.mode != controller.AggressiveMode {
			s.mode = controller.AggressiveMode
			s.switches++
		}
	}

	f := (e - (s.cfg.Threshold - s.cfg.Margin)) / (2 * s.cfg.Margin)
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}

	gains := make([]float64, len(s.cfg.Aggressive))
	for i := range gains {
		a, c := s.cfg.Aggressive[i], s.cfg.Conservative[i]
		if a == c || f == 0 {
			gains[i] = a
			continue
		}
		if f == 1 {
			gains[i] = c
			continue
		}
		if logBlend(s.cfg.Variant, i) {
			gains[i] = math.Exp((1-f)*math.Log(a) + f*math.Log(c))
		} else {
			gains[i] = (1-f)*a + f*c
		}
	}
	return gains
}

// Apply pushes the interpolated gains through the wrapped variant's own
// validating constructor and returns the effective configuration.  The blend
// preserves positivity, so validation only fails if the endpoints themselves
// straddle some non-interval constraint.
func (s *Scheduler) Apply(x []float64) (controller.Config, error) {
	return s.base.WithGains(s.Schedule(x))
}
