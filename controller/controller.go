package controller

import (
	"math"

	"smctune"
)

// Mode is the hybrid law's two-state machine.  Aggressive runs the
// super-twisting law; Conservative runs the self-tuning law.  The transition
// band around the switch threshold is a dead band: no other transitions
// exist, so the number of switches over any bounded-derivative sliding
// trajectory is finite.
type Mode int

const (
	AggressiveMode Mode = iota
	ConservativeMode
)

func (m Mode) String() string {
	if m == ConservativeMode {
		return "conservative"
	}
	return "aggressive"
}

// State is the mutable per-instance scratch a control law carries between
// ticks: the super-twisting integral term, the adaptive gain estimate, the
// hybrid mode, and the previous control (the only history any law needs).
// It is owned by exactly one trajectory and reset at the start of each run.
type State struct {
	Integral float64
	Gain     float64
	Mode     Mode

	PrevControl float64
	Saturated   bool
	SatCount    int
	Switches    int
}

// Plant is the dynamics model a controller may consult for equivalent
// control.  It matches the batch engine's dynamics contract; ok=false means
// the model cannot evaluate the state.
type Plant interface {
	Deriv(x []float64, u float64) (dx []float64, ok bool, diag string)
}

// Controller evaluates one control law.  It holds no mutable state of its
// own: everything that changes across ticks lives in State, which callers
// pass in and receive back updated.
type Controller struct {
	cfg Config
	dyn Plant
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithModel attaches a dynamics model.  The classical law then adds the
// model-based equivalent control term, which cancels the known drift of the
// sliding variable and leaves only the switching law to reject what the model
// misses.  Without a model the law runs in its model-free form.
func WithModel(dyn Plant) Option {
	return func(c *Controller) { c.dyn = dyn }
}

func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Config() Config { return c.cfg }

// InitState returns the scratch state for the start of a trajectory.
func (c *Controller) InitState() State {
	return State{Gain: c.cfg.gainInit}
}

// Sigma computes the sliding variable for x under c's surface gains: a
// weighted combination of angle and angular-velocity errors of both joints.
// Its zero-set is the manifold every variant drives the plant onto.
func (c *Controller) Sigma(x []float64) float64 {
	g := c.cfg.gains
	switch c.cfg.variant {
	case Classical, Adaptive, Hybrid:
		// layouts agree on [k1 k2 lam1 lam2 ...] up to naming
		k1, k2, lam1, lam2 := g[0], g[1], g[2], g[3]
		if c.cfg.variant == Hybrid {
			// hybrid layout is [c1 lam1 c2 lam2]
			k1, lam1, k2, lam2 = g[0], g[1], g[2], g[3]
		}
		return k1*(x[4]+lam1*x[1]) + k2*(x[5]+lam2*x[2])
	case SuperTwisting:
		k1, k2, lam1, lam2 := g[2], g[3], g[4], g[5]
		return k1*(x[4]+lam1*x[1]) + k2*(x[5]+lam2*x[2])
	}
	return 0
}

// Compute runs one control tick: it validates x, dispatches to the law for
// the config's variant, saturates the result to max_force, and returns the
// updated scratch state.  Saturation is never silent; st.Saturated reports
// whether the most recent tick clipped and st.SatCount accumulates.
func (c *Controller) Compute(x []float64, st State) (u float64, next State, err error) {
	if err := checkState(x); err != nil {
		return 0, st, err
	}

	next = st
	next.Saturated = false

	switch c.cfg.variant {
	case Classical:
		u = c.classical(x)
	case SuperTwisting:
		u, next = c.superTwisting(x, next)
	case Adaptive:
		u, next = c.adaptive(x, next)
	case Hybrid:
		u, next = c.hybrid(x, next)
	}

	if math.Abs(u) > c.cfg.maxForce {
		u = math.Copysign(c.cfg.maxForce, u)
		next.Saturated = true
		next.SatCount++
	}
	next.PrevControl = u
	return u, next, nil
}

func checkState(x []float64) error {
	if len(x) != StateDim {
		return &smctune.InvalidStateError{Len: len(x), Want: StateDim}
	}
	for i, v := range x {
		if math.IsNaN(v) {
			return &smctune.InvalidStateError{Len: StateDim, Want: StateDim, Index: i, Reason: "is NaN"}
		}
		if math.IsInf(v, 0) {
			return &smctune.InvalidStateError{Len: StateDim, Want: StateDim, Index: i, Reason: "is infinite"}
		}
	}
	return nil
}

// sat is the boundary-layer continuous switching approximation: linear
// inside the layer, sign outside.
func sat(s, eps float64) float64 {
	z := s / eps
	if z > 1 {
		return 1
	}
	if z < -1 {
		return -1
	}
	return z
}
