// Package fitness turns candidate gain vectors into scalar costs for the
// swarm.  Each candidate is simulated over a weighted set of perturbation
// scenarios through the batch engine; per-scenario costs combine tracking
// error, control effort, control rate (a chattering proxy), and sliding-mode
// adherence, and the scenario set is aggregated as mean plus a worst-case
// term so that gains tuned here do not overfit the easy scenarios.
package fitness

import (
	"fmt"
	"math"

	"smctune"
	"smctune/batch"
	"smctune/controller"
	"smctune/plant"
)

// Scenario is an initial condition plus its weight in the aggregate cost.
type Scenario struct {
	Name   string
	X0     []float64
	Weight float64
}

// AnglePerturbation builds a scenario that tips both joints by angle radians
// with the cart at rest.
func AnglePerturbation(name string, angle, weight float64) Scenario {
	x0 := make([]float64, controller.StateDim)
	x0[1], x0[2] = angle, angle
	return Scenario{Name: name, X0: x0, Weight: weight}
}

// DefaultScenarios is the reference robustness mix: mostly-large
// perturbations so the worst-case term has teeth.
func DefaultScenarios() []Scenario {
	return []Scenario{
		AnglePerturbation("small", 0.02, 0.2),
		AnglePerturbation("medium", 0.05, 0.3),
		AnglePerturbation("large", 0.15, 0.5),
	}
}

// Terms weights or normalizes the four cost components.
type Terms struct {
	State  float64
	Effort float64
	Rate   float64
	Sigma  float64
}

type Config struct {
	Variant   controller.Variant
	Scenarios []Scenario

	// Alpha scales the worst-case scenario term added on top of the mean.
	Alpha float64

	// Weights mixes the four components; Norms are fixed scale constants
	// that undo unit mismatch before weighting.
	Weights Terms
	Norms   Terms

	// InstabilityPenalty scales the graded penalty for trajectories that
	// froze: penalty * (duration - freeze time) / duration.
	InstabilityPenalty float64

	Sim batch.Config

	// Params beyond the tuned gains for each candidate controller.
	Controller controller.Params
}

func (c *Config) fillDefaults() {
	if len(c.Scenarios) == 0 {
		c.Scenarios = DefaultScenarios()
	}
	if c.Alpha == 0 {
		c.Alpha = 0.3
	}
	if c.Weights == (Terms{}) {
		c.Weights = Terms{State: 1, Effort: 0.1, Rate: 0.05, Sigma: 0.5}
	}
	if c.Norms == (Terms{}) {
		c.Norms = Terms{State: 0.05, Effort: 50, Rate: 5e3, Sigma: 1}
	}
	if c.InstabilityPenalty == 0 {
		c.InstabilityPenalty = 1e3
	}
	if c.Sim.Dt == 0 {
		c.Sim.Dt = 0.01
	}
	if c.Sim.Duration == 0 {
		c.Sim.Duration = 10
	}
}

// Evaluator scores gain vectors.  It is safe for concurrent use: every
// evaluation clones the plant model and builds its own engine, so nothing is
// shared between in-flight calls.
type Evaluator struct {
	cfg Config
	dyn *plant.Model
}

func New(dyn *plant.Model, cfg Config) (*Evaluator, error) {
	if dyn == nil {
		return nil, fmt.Errorf("fitness: plant model is required")
	}
	cfg.fillDefaults()

	total := 0.0
	for _, sc := range cfg.Scenarios {
		if len(sc.X0) != controller.StateDim {
			return nil, fmt.Errorf("fitness: scenario %q has state dimension %v, want %v", sc.Name, len(sc.X0), controller.StateDim)
		}
		if sc.Weight <= 0 {
			return nil, fmt.Errorf("fitness: scenario %q has non-positive weight %v", sc.Name, sc.Weight)
		}
		total += sc.Weight
	}
	// normalize weights so the aggregate is insensitive to their scale
	for i := range cfg.Scenarios {
		cfg.Scenarios[i].Weight /= total
	}
	return &Evaluator{cfg: cfg, dyn: dyn}, nil
}

func (e *Evaluator) Config() Config { return e.cfg }

// Report is the per-candidate outcome: the scalar cost, its two aggregation
// terms, and instability diagnostics from the worst scenario.
type Report struct {
	Cost     float64
	MeanTerm float64 // mean over scenarios of weighted cost
	MaxTerm  float64 // worst weighted scenario cost

	// Chattering is the weighted mean of the normalized control-rate
	// integral, surfaced separately so runs can be compared on smoothness
	// without unpicking the aggregate cost.
	Chattering float64

	Unstable   bool
	FreezeStep int // earliest freeze step across scenarios, -1 if none
}

// Objective implements the solver's objective contract.  Gain vectors that
// fail construction-time validation return +Inf, not an error: the swarm
// treats them as maximally unfit and keeps searching.
func (e *Evaluator) Objective(v []float64) (float64, error) {
	reps, err := e.Score([][]float64{v})
	if err != nil {
		return math.Inf(1), err
	}
	return reps[0].Cost, nil
}

// Score evaluates a batch of gain vectors together: one simulation run per
// scenario carries every constructible candidate, so the per-run fixed costs
// are paid once per scenario instead of once per candidate.
func (e *Evaluator) Score(gains [][]float64) ([]Report, error) {
	n := len(gains)
	if n == 0 {
		return nil, fmt.Errorf("fitness: no gain vectors")
	}

	reps := make([]Report, n)
	ctrls := make([]*controller.Controller, 0, n)
	idx := make([]int, 0, n) // candidate index per live controller
	for i, g := range gains {
		p := e.cfg.Controller
		p.Gains = g
		p.Dt = e.cfg.Sim.Dt
		cfg, err := controller.New(e.cfg.Variant, p)
		if err != nil {
			reps[i] = Report{Cost: math.Inf(1), Unstable: true, FreezeStep: 0}
			continue
		}
		ctrls = append(ctrls, controller.NewController(cfg, controller.WithModel(e.dyn.Clone())))
		idx = append(idx, i)
		reps[i].FreezeStep = -1
	}
	if len(ctrls) == 0 {
		return reps, nil
	}

	eng, err := batch.New(e.dyn.Clone(), e.cfg.Sim)
	if err != nil {
		return nil, err
	}

	nsc := float64(len(e.cfg.Scenarios))
	maxTerm := make([]float64, len(ctrls))
	meanTerm := make([]float64, len(ctrls))
	meanRate := make([]float64, len(ctrls))
	for _, sc := range e.cfg.Scenarios {
		res, err := eng.Run(ctrls, sc.X0)
		if err != nil {
			return nil, err
		}
		total := int(math.Round(e.cfg.Sim.Duration / e.cfg.Sim.Dt))
		for j := range ctrls {
			c, rate := e.scenarioCost(res, j, total)
			c *= sc.Weight
			meanTerm[j] += c / nsc
			meanRate[j] += sc.Weight * rate / nsc
			if c > maxTerm[j] {
				maxTerm[j] = c
			}
			if res.Frozen(j) {
				i := idx[j]
				reps[i].Unstable = true
				if reps[i].FreezeStep < 0 || res.FrozenAt[j] < reps[i].FreezeStep {
					reps[i].FreezeStep = res.FrozenAt[j]
				}
			}
		}
	}
	for j, i := range idx {
		reps[i].MeanTerm = meanTerm[j]
		reps[i].MaxTerm = maxTerm[j]
		reps[i].Chattering = meanRate[j]
		reps[i].Cost = meanTerm[j] + e.cfg.Alpha*maxTerm[j]
	}
	return reps, nil
}

// scenarioCost integrates the four cost components for trajectory j and adds
// the graded instability penalty when the trajectory froze.  Held samples
// recorded after a freeze are excluded: the cost of a frozen trajectory must
// not depend on how long its batch peers kept the run alive.  The normalized
// control-rate integral is returned alongside the cost for reporting.
func (e *Evaluator) scenarioCost(res *batch.Result, j, totalSteps int) (cost, nrate float64) {
	dt := e.cfg.Sim.Dt
	w, nm := e.cfg.Weights, e.cfg.Norms

	nstate, nctl := len(res.States[j]), len(res.Controls[j])
	if res.Frozen(j) {
		k := res.FrozenAt[j]
		if k+1 < nstate {
			nstate = k + 1
		}
		if k < nctl {
			nctl = k
		}
	}

	var ise, effort, rate, sig float64
	for _, x := range res.States[j][1:nstate] {
		ise += (x[1]*x[1] + x[2]*x[2]) * dt
	}
	us := res.Controls[j][:nctl]
	for k, u := range us {
		effort += u * u * dt
		if k > 0 {
			d := (u - us[k-1]) / dt
			rate += d * d * dt
		}
	}
	for _, s := range res.Sigma[j][:nctl] {
		sig += s * s * dt
	}

	cost = w.State*ise/nm.State + w.Effort*effort/nm.Effort +
		w.Rate*rate/nm.Rate + w.Sigma*sig/nm.Sigma
	cost += e.cfg.InstabilityPenalty * res.FreezeFrac(j, totalSteps)
	return cost, rate / nm.Rate
}

// BatchEvaler adapts an Evaluator to the solver's Evaler seam so a whole
// swarm generation shares simulation runs.  The Objectiver argument is
// ignored; the evaluator is its own objective.  Wrap it in a CacheEvaler to
// also skip revisited positions.
type BatchEvaler struct {
	Ev *Evaluator
}

func (be BatchEvaler) Eval(_ smctune.Objectiver, points ...smctune.Point) ([]smctune.Point, int, error) {
	gains := make([][]float64, len(points))
	for i, p := range points {
		gains[i] = p.Pos()
	}
	reps, err := be.Ev.Score(gains)
	if err != nil {
		return nil, 0, err
	}
	for i := range points {
		points[i].Val = reps[i].Cost
	}
	return points, len(points), nil
}
