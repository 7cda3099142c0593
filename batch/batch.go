// Package batch integrates the plant forward in time for many candidate
// controllers at once.  Each candidate drives its own trajectory; a
// trajectory that goes non-finite or leaves the configured state bound is
// frozen in place (its last valid state is held) instead of propagating NaN
// through the batch, and its freeze step is recorded.  When every trajectory
// has frozen the run stops early, which saves most of the work during the
// early, mostly-unstable swarm generations.
package batch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"smctune/controller"
)

type Method int

const (
	Euler Method = iota
	RK4
)

func MethodFromString(s string) (Method, error) {
	switch s {
	case "euler", "":
		return Euler, nil
	case "rk4":
		return RK4, nil
	}
	return 0, fmt.Errorf("unknown integration method %q", s)
}

// Dynamics is the plant collaborator.  ok=false is an instability signal for
// the calling trajectory, not an error.
type Dynamics interface {
	Deriv(x []float64, u float64) (dx []float64, ok bool, diag string)
}

type Config struct {
	// Method selects the fixed-step integrator.  Euler is the default;
	// RK4 is for accuracy-critical runs and costs four derivative
	// evaluations per step.
	Method   Method
	Dt       float64
	Duration float64
	// StateBound freezes a trajectory once any state element's magnitude
	// exceeds it.
	StateBound float64
	// DisableEarlyStop forces integration over the whole duration even
	// when every trajectory is frozen.  Diagnostics only.
	DisableEarlyStop bool
}

type Engine struct {
	cfg Config
	dyn Dynamics
}

func New(dyn Dynamics, cfg Config) (*Engine, error) {
	if dyn == nil {
		return nil, fmt.Errorf("batch: dynamics is required")
	}
	if cfg.Dt <= 0 || cfg.Duration <= 0 {
		return nil, fmt.Errorf("batch: dt and duration must be positive (dt=%v duration=%v)", cfg.Dt, cfg.Duration)
	}
	if cfg.StateBound <= 0 {
		cfg.StateBound = 100
	}
	return &Engine{cfg: cfg, dyn: dyn}, nil
}

// Result holds the batched trajectories.  Slices are indexed
// [trajectory][step]; T has Steps+1 entries.
type Result struct {
	T        []float64
	States   [][][]float64
	Controls [][]float64
	Sigma    [][]float64
	// FrozenAt is the step index at which each trajectory froze, or -1.
	FrozenAt []int
	// Steps is the number of integration steps actually taken; less than
	// Duration/Dt when the early-stop path fired.
	Steps int
}

func (r *Result) Frozen(i int) bool { return r.FrozenAt[i] >= 0 }

// FreezeFrac returns how early trajectory i froze as a fraction of the full
// duration: 0 for a trajectory that survived, approaching 1 for one that
// failed immediately.  Fitness uses this for the graded instability penalty.
func (r *Result) FreezeFrac(i int, totalSteps int) float64 {
	if !r.Frozen(i) {
		return 0
	}
	return float64(totalSteps-r.FrozenAt[i]) / float64(totalSteps)
}

// Run integrates one trajectory per controller from the shared initial state.
// Controller scratch state is reset at the start of the run.  Failures are
// columnar: one trajectory freezing never affects its neighbors.
func (e *Engine) Run(ctrls []*controller.Controller, x0 []float64) (*Result, error) {
	if len(x0) != controller.StateDim {
		return nil, fmt.Errorf("batch: initial state has dimension %v, want %v", len(x0), controller.StateDim)
	}
	n := len(ctrls)
	if n == 0 {
		return nil, fmt.Errorf("batch: no controllers")
	}

	maxSteps := int(math.Round(e.cfg.Duration / e.cfg.Dt))
	res := &Result{
		T:        make([]float64, 1, maxSteps+1),
		States:   make([][][]float64, n),
		Controls: make([][]float64, n),
		Sigma:    make([][]float64, n),
		FrozenAt: make([]int, n),
	}

	cstates := make([]controller.State, n)
	for i, c := range ctrls {
		cstates[i] = c.InitState()
		res.States[i] = append(make([][]float64, 0, maxSteps+1), append([]float64(nil), x0...))
		res.Controls[i] = make([]float64, 0, maxSteps)
		res.Sigma[i] = make([]float64, 0, maxSteps)
		res.FrozenAt[i] = -1
	}

	for k := 0; k < maxSteps; k++ {
		if !e.cfg.DisableEarlyStop && allFrozen(res.FrozenAt) {
			break
		}

		for i, c := range ctrls {
			cur := res.States[i][len(res.States[i])-1]

			if res.Frozen(i) {
				// hold the last valid state and control
				res.States[i] = append(res.States[i], append([]float64(nil), cur...))
				res.Controls[i] = append(res.Controls[i], lastOrZero(res.Controls[i]))
				res.Sigma[i] = append(res.Sigma[i], lastOrZero(res.Sigma[i]))
				continue
			}

			u, next, err := c.Compute(cur, cstates[i])
			if err != nil {
				e.freeze(res, i, k)
				continue
			}
			cstates[i] = next

			nx, ok := e.step(cur, u)
			if !ok || exceedsBound(nx, e.cfg.StateBound) {
				e.freeze(res, i, k)
				continue
			}

			res.States[i] = append(res.States[i], nx)
			res.Controls[i] = append(res.Controls[i], u)
			res.Sigma[i] = append(res.Sigma[i], c.Sigma(cur))
		}

		res.Steps = k + 1
		res.T = append(res.T, float64(k+1)*e.cfg.Dt)
	}

	return res, nil
}

// freeze marks trajectory i frozen at step k and pads the step's samples by
// holding the last valid values.
func (e *Engine) freeze(res *Result, i, k int) {
	res.FrozenAt[i] = k
	cur := res.States[i][len(res.States[i])-1]
	res.States[i] = append(res.States[i], append([]float64(nil), cur...))
	res.Controls[i] = append(res.Controls[i], lastOrZero(res.Controls[i]))
	res.Sigma[i] = append(res.Sigma[i], lastOrZero(res.Sigma[i]))
}

// step advances one state by dt under constant control u (zero-order hold).
func (e *Engine) step(x []float64, u float64) ([]float64, bool) {
	dt := e.cfg.Dt
	switch e.cfg.Method {
	case RK4:
		k1, ok, _ := e.dyn.Deriv(x, u)
		if !ok {
			return nil, false
		}
		k2, ok, _ := e.dyn.Deriv(addScaled(x, 0.5*dt, k1), u)
		if !ok {
			return nil, false
		}
		k3, ok, _ := e.dyn.Deriv(addScaled(x, 0.5*dt, k2), u)
		if !ok {
			return nil, false
		}
		k4, ok, _ := e.dyn.Deriv(addScaled(x, dt, k3), u)
		if !ok {
			return nil, false
		}
		nx := append([]float64(nil), x...)
		floats.AddScaled(nx, dt/6, k1)
		floats.AddScaled(nx, dt/3, k2)
		floats.AddScaled(nx, dt/3, k3)
		floats.AddScaled(nx, dt/6, k4)
		return nx, finite(nx)
	default:
		dx, ok, _ := e.dyn.Deriv(x, u)
		if !ok {
			return nil, false
		}
		nx := addScaled(x, dt, dx)
		return nx, finite(nx)
	}
}

func addScaled(x []float64, h float64, dx []float64) []float64 {
	nx := append([]float64(nil), x...)
	floats.AddScaled(nx, h, dx)
	return nx
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func exceedsBound(x []float64, bound float64) bool {
	return floats.Norm(x, math.Inf(1)) > bound
}

func allFrozen(frozenAt []int) bool {
	for _, f := range frozenAt {
		if f < 0 {
			return false
		}
	}
	return true
}

func lastOrZero(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}
