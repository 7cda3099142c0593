// Package swarm implements particle-swarm search over controller gain space.
// Positions are gain vectors; every stochastic coefficient is drawn from an
// explicit seeded source, so a run is reproducible bit-for-bit from its seed.
package swarm

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand"

	"smctune"
)

// These params are calculated using a constriction factor originally
// described in:
//
//	Clerc and M.  “The swarm and the queen: towards a deterministic and
//	adaptive particle swarm optimization” Proc. 1999 Congress on
//	Evolutionary Computation, pp. 1951-1957
//
// The cognition and social parameters correspond to c1 and c2 values of 2.05
// multiplied by their constriction coefficient; the default inertia is the
// constriction coefficient itself.
const (
	DefaultCognition = 1.496179765663133
	DefaultSocial    = 1.496179765663133
	DefaultInertia   = 0.7298437881283576
)

const (
	// TblParticles holds every particle position and cost per iteration.
	TblParticles = "swarmparticles"
	// TblParticlesBest holds each particle's personal best per iteration.
	TblParticlesBest = "swarmparticlesbest"
	// TblBest holds the swarm's global best per iteration.
	TblBest = "swarmbest"
)

// Constriction calculates the constriction coefficient for the given c1 and
// c2 of the particle velocity equation:
//
//	v_next = k(v_curr + c1*rand*(p_personal-x) + c2*rand*(p_glob-x))
//
// c1+c2 should usually be greater than (but close to) 4.
func Constriction(c1, c2 float64) float64 {
	phi := c1 + c2
	return 2 / math.Abs(2-phi-math.Sqrt(phi*phi-4*phi))
}

type Particle struct {
	Id int
	smctune.Point
	Vel  []float64
	Best smctune.Point
}

func (p *Particle) Move(gbest smctune.Point, vmax []float64, inertia, social, cognition float64, rng *rand.Rand) {
	// update velocity
	for i, currv := range p.Vel {
		// r1 and r2 MUST go inside this loop and be drawn uniquely for each
		// dimension of p's velocity.
		r1 := rng.Float64()
		r2 := rng.Float64()
		p.Vel[i] = inertia*currv +
			cognition*r1*(p.Best.At(i)-p.At(i)) +
			social*r2*(gbest.At(i)-p.At(i))
		if math.Abs(p.Vel[i]) > vmax[i] {
			p.Vel[i] = math.Copysign(vmax[i], p.Vel[i])
		}
	}

	// update position
	pos := make([]float64, p.Len())
	for i := range pos {
		pos[i] = p.At(i) + p.Vel[i]
	}
	p.Point = smctune.NewPoint(pos, math.Inf(1))
}

func (p *Particle) Kill(gbest smctune.Point, xtol, vtol float64) bool {
	if xtol == 0 || vtol == 0 {
		return false
	}

	totv := 0.0
	diffx := 0.0
	for i, v := range p.Vel {
		totv += v * v
		diffx += math.Pow(p.At(i)-gbest.At(i), 2)
	}
	return (totv < vtol*vtol) && (diffx < xtol*xtol)
}

func (p *Particle) Update(newp smctune.Point) {
	// the evaluated point may have been projected back into bounds, so only
	// the value transfers onto p's current position
	p.Val = newp.Val
	if p.Val < p.Best.Val {
		p.Best = newp
	}
}

type Population []*Particle

// NewPopulation initializes a population of particles from the given points
// with velocities drawn uniformly from [-vmax[i], vmax[i]] per dimension.
func NewPopulation(points []smctune.Point, vmax []float64, rng *rand.Rand) Population {
	pop := make(Population, len(points))
	for i, p := range points {
		pop[i] = &Particle{
			Id:    i,
			Point: p,
			Best:  p,
			Vel:   make([]float64, len(vmax)),
		}
		for j, v := range vmax {
			pop[i].Vel[j] = v * (1 - 2*rng.Float64())
		}
	}
	return pop
}

// NewPopulationRand creates a population of randomly positioned particles
// uniformly distributed in the box bounds described by low and up.
func NewPopulationRand(n int, low, up []float64, rng *rand.Rand) Population {
	points := smctune.RandPop(n, low, up, rng)
	return NewPopulation(points, vmaxfrombounds(low, up), rng)
}

// NewPopulationFeasible is NewPopulationRand restricted to fe's feasible
// region.  User-configured bounds need not sit inside the constructible gain
// region the way the built-in variant boxes do; when the sampling budget runs
// out before n feasible draws are found, the least-violating rejects fill the
// remainder and nbad reports how many.
func NewPopulationFeasible(n int, low, up []float64, fe smctune.Feasibler, rng *rand.Rand) (pop Population, nbad int) {
	points, nbad, _ := smctune.RandPopConstr(n, 20*n, low, up, fe, rng)
	return NewPopulation(points, vmaxfrombounds(low, up), rng), nbad
}

func (pop Population) Points() []smctune.Point {
	points := make([]smctune.Point, 0, len(pop))
	for _, p := range pop {
		points = append(points, p.Point)
	}
	return points
}

func (pop Population) Best() *Particle {
	if len(pop) == 0 {
		return nil
	}

	best := pop[0]
	for _, p := range pop[1:] {
		if p.Best.Val < best.Best.Val {
			best = p
		}
	}
	return best
}

// DivergedError reports that every particle in an iteration failed to produce
// a finite cost.  It carries the swarm as of the failing iteration so the
// caller can see where the search was when it died.
type DivergedError struct {
	Iter int
	Pop  Population
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("swarm: all %v particles non-finite at iteration %v; check bounds and plant model", len(e.Pop), e.Iter)
}

type Option func(*Iterator)

func Vmax(vmaxes []float64) Option {
	return func(it *Iterator) {
		it.Vmax = vmaxes
	}
}

func VmaxAll(vmax float64) Option {
	return func(it *Iterator) {
		for i := range it.Vmax {
			it.Vmax[i] = vmax
		}
	}
}

// VmaxBounds sets the maximum particle speed for each dimension equal to the
// bounded range for the problem.  This is a rule of thumb given in:
//
//	Eberhart, R.C.; Yuhui Shi, "Particle swarm optimization: developments,
//	applications and resources," Evolutionary Computation, 2001. Proceedings of
//	the 2001 Congress on , vol.1, no., pp.81,86 vol. 1, 2001 doi:
//	10.1109/CEC.2001.934374
func VmaxBounds(low, up []float64) Option {
	return func(it *Iterator) {
		it.Vmax = vmaxfrombounds(low, up)
	}
}

// Bounds keeps particle positions inside [low, up]: after every move each
// position component is clamped back to its box.  Gain bounds come from the
// controller's algebraic constraints, so the search never leaves the
// feasible region.
func Bounds(low, up []float64) Option {
	return func(it *Iterator) {
		it.Low = low
		it.Up = up
	}
}

func DB(db *sql.DB) Option {
	return func(it *Iterator) {
		it.Db = db
	}
}

func KillTol(xtol, vtol float64) Option {
	return func(it *Iterator) {
		it.Xtol = xtol
		it.Vtol = vtol
	}
}

func LearnFactors(cognition, social float64) Option {
	return func(it *Iterator) {
		it.Cognition = cognition
		it.Social = social
	}
}

// LinInertia sets particle inertia for velocity updates to vary linearly
// from the start (high) to end (low) values from 0 to maxiter.  Common values
// are start = 0.9 and end = 0.4.
func LinInertia(start, end float64, maxiter int) Option {
	return func(it *Iterator) {
		it.InertiaFn = func(iter int) float64 {
			return start - (start-end)*float64(iter)/float64(maxiter)
		}
	}
}

func FixedInertia(v float64) Option {
	return func(it *Iterator) {
		it.InertiaFn = func(iter int) float64 { return v }
	}
}

type Iterator struct {
	// Xtol is the distance from the global best under which particles are
	// considered for removal.  This must occur simultaneously with the Vtol
	// condition.
	Xtol float64
	// Vtol is the velocity under which particles are considered for removal.
	// This must occur simultaneously with the Xtol condition.
	Vtol float64
	Pop  Population
	smctune.Evaler
	Cognition float64
	Social    float64
	InertiaFn func(iter int) float64
	// Vmax is the speed limit per dimension for particles.  If nil,
	// infinity is used.
	Vmax []float64
	// Low and Up are the position box; positions are clamped back inside
	// after every move when set.
	Low, Up []float64
	Db      *sql.DB
	rng     *rand.Rand
	count   int
	best    smctune.Point
}

// NewIterator builds a swarm iterator over pop.  rng drives every stochastic
// coefficient; passing a source seeded identically reproduces the exact
// particle trajectories.
func NewIterator(e smctune.Evaler, pop Population, rng *rand.Rand, opts ...Option) *Iterator {
	if e == nil {
		e = smctune.SerialEvaler{}
	}

	vmax := make([]float64, pop[0].Len())
	for i := range vmax {
		vmax[i] = math.Inf(1)
	}

	it := &Iterator{
		Pop:       pop,
		Evaler:    e,
		Cognition: DefaultCognition,
		Social:    DefaultSocial,
		InertiaFn: func(iter int) float64 { return DefaultInertia },
		Vmax:      vmax,
		rng:       rng,
		best:      pop.Best().Point,
	}

	for _, opt := range opts {
		opt(it)
	}

	it.initdb()
	return it
}

// Best is the global best found so far.
func (it *Iterator) Best() smctune.Point { return it.best }

func (it *Iterator) AddPoint(p smctune.Point) {
	if p.Val < it.best.Val {
		it.best = p
	}
}

// Iterate runs one generation: evaluate all current positions, update
// personal bests, move every particle, then update the global best.  The
// global best is written exactly once, after all evaluations complete, so no
// particle's move within a generation can observe a partially updated best.
func (it *Iterator) Iterate(obj smctune.Objectiver) (best smctune.Point, neval int, err error) {
	it.count++

	points := it.Pop.Points()
	results, n, err := it.Evaler.Eval(obj, points...)
	if err != nil {
		return smctune.Point{Val: math.Inf(1)}, n, err
	}
	for i := range results {
		it.Pop[i].Update(results[i])
	}

	if it.allFailed(results) {
		return smctune.Point{Val: math.Inf(1)}, n, &DivergedError{Iter: it.count, Pop: it.Pop}
	}
	it.updateDb()

	// move particles against the previous global best
	for _, p := range it.Pop {
		p.Move(it.best, it.Vmax, it.InertiaFn(it.count), it.Social, it.Cognition, it.rng)
		it.clampPos(p)
	}

	pbest := it.Pop.Best()
	if pbest != nil && pbest.Best.Val < it.best.Val {
		it.best = pbest.Best
	}

	// Kill slow particles near the global optimum.
	// This MUST go after the updating of the iterator's best position.
	for i := len(it.Pop) - 1; i >= 0; i-- {
		if it.Pop[i].Kill(it.best, it.Xtol, it.Vtol) {
			it.Pop = append(it.Pop[:i], it.Pop[i+1:]...)
		}
	}

	return it.best, n, nil
}

func (it *Iterator) allFailed(results []smctune.Point) bool {
	for _, p := range results {
		if !math.IsInf(p.Val, 0) && !math.IsNaN(p.Val) {
			return false
		}
	}
	return len(results) > 0
}

func (it *Iterator) clampPos(p *Particle) {
	if it.Low == nil || it.Up == nil {
		return
	}
	pos := p.Pos()
	moved := false
	for i := range pos {
		if pos[i] < it.Low[i] {
			pos[i] = it.Low[i]
			moved = true
		} else if pos[i] > it.Up[i] {
			pos[i] = it.Up[i]
			moved = true
		}
	}
	if moved {
		p.Point = smctune.NewPoint(pos, math.Inf(1))
	}
}

// RunResult is a completed search: the best point, the per-iteration global
// best trace, and the evaluation count.
type RunResult struct {
	Best    smctune.Point
	History []float64
	Iters   int
	Neval   int
}

// Run drives Iterate for up to maxiter generations.  It stops early when the
// global best has improved by less than stalltol for stalliters consecutive
// iterations (pass stalliters <= 0 to disable).
func (it *Iterator) Run(obj smctune.Objectiver, maxiter, stalliters int, stalltol float64) (*RunResult, error) {
	res := &RunResult{History: make([]float64, 0, maxiter)}
	stalled := 0
	prev := math.Inf(1)

	for i := 0; i < maxiter; i++ {
		best, n, err := it.Iterate(obj)
		res.Neval += n
		res.Iters = i + 1
		if err != nil {
			return res, err
		}
		res.History = append(res.History, best.Val)
		res.Best = best

		if prev-best.Val < stalltol {
			stalled++
		} else {
			stalled = 0
		}
		prev = best.Val
		if stalliters > 0 && stalled >= stalliters {
			break
		}
	}
	return res, nil
}

func (it *Iterator) initdb() {
	if it.Db == nil {
		return
	}

	s := "CREATE TABLE IF NOT EXISTS " + TblParticles + " (particle INTEGER, iter INTEGER, val REAL"
	s += it.xdbsql("define")
	s += ");"

	_, err := it.Db.Exec(s)
	panicif(err)

	s = "CREATE TABLE IF NOT EXISTS " + TblParticlesBest + " (particle INTEGER, iter INTEGER, best REAL"
	s += it.xdbsql("define")
	s += ");"

	_, err = it.Db.Exec(s)
	panicif(err)

	s = "CREATE TABLE IF NOT EXISTS " + TblBest + " (iter INTEGER, val REAL"
	s += it.xdbsql("define")
	s += ");"
	_, err = it.Db.Exec(s)
	panicif(err)
}

func (it *Iterator) xdbsql(op string) string {
	s := ""
	// dimension count comes from the global best, which outlives any
	// particle the kill tolerances remove
	for i := 0; i < it.best.Len(); i++ {
		if op == "?" {
			s += ",?"
		} else if op == "define" {
			s += fmt.Sprintf(",x%v REAL", i)
		} else if op == "x" {
			s += fmt.Sprintf(",x%v", i)
		} else {
			panic("invalid db op " + op)
		}
	}
	return s
}

func pos2iface(pos []float64) []interface{} {
	iface := []interface{}{}
	for _, v := range pos {
		iface = append(iface, v)
	}
	return iface
}

func (it *Iterator) updateDb() {
	if it.Db == nil {
		return
	}

	tx, err := it.Db.Begin()
	if err != nil {
		panic(err.Error())
	}
	defer tx.Commit()

	s0 := "INSERT INTO " + TblParticles + " (particle,iter,val" + it.xdbsql("x") + ") VALUES (?,?,?" + it.xdbsql("?") + ");"
	s1 := "INSERT INTO " + TblParticlesBest + " (particle,iter,best" + it.xdbsql("x") + ") VALUES (?,?,?" + it.xdbsql("?") + ");"
	for _, p := range it.Pop {
		args := []interface{}{p.Id, it.count, p.Val}
		args = append(args, pos2iface(p.Pos())...)
		_, err := tx.Exec(s0, args...)
		panicif(err)

		args = []interface{}{p.Id, it.count, p.Best.Val}
		args = append(args, pos2iface(p.Best.Pos())...)
		_, err = tx.Exec(s1, args...)
		panicif(err)
	}

	s2 := "INSERT INTO " + TblBest + " (iter,val" + it.xdbsql("x") + ") VALUES (?,?" + it.xdbsql("?") + ");"
	glob := it.best
	args := []interface{}{it.count, glob.Val}
	args = append(args, pos2iface(glob.Pos())...)
	_, err = tx.Exec(s2, args...)
	panicif(err)
}

func panicif(err error) {
	if err != nil {
		panic(err.Error())
	}
}

func vmaxfrombounds(low, up []float64) []float64 {
	vmax := make([]float64, len(low))
	for i := range vmax {
		// Eberhart et al. suggest (up-low)/2 - removing the divide by two
		// helps the swarm avoid premature convergence on hard problems
		vmax[i] = (up[i] - low[i])
	}
	return vmax
}
