package smctune

import (
	"math"
	"math/rand"

	"github.com/petar/GoLLRB/llrb"
)

// Rng is the subset of math/rand used for sampling.  Callers that need
// reproducible runs pass a rand.Rand built from a fixed seed.
type Rng interface {
	Float64() float64
}

// RandPop generates n positions uniformly distributed inside the box bounds
// described by low and up.
func RandPop(n int, low, up []float64, rng Rng) []Point {
	if len(low) != len(up) {
		panic("low and up vectors are not same length")
	}

	ndims := len(low)

	points := make([]Point, n)
	for i := 0; i < n; i++ {
		pos := make([]float64, ndims)
		for j := range pos {
			pos[j] = low[j] + rng.Float64()*(up[j]-low[j])
		}
		points[i] = NewPoint(pos, math.Inf(1))
	}
	return points
}

// Feasibler reports how badly a candidate position violates a (possibly
// nonlinear) feasibility constraint.  Zero means feasible; larger values are
// worse.  Controller packages implement this over their algebraic stability
// constraints.
type Feasibler interface {
	Violation(pos []float64) float64
}

type item struct {
	Point
	howbad float64
}

func (p1 item) Less(than llrb.Item) bool {
	p2 := than.(item)
	return p1.howbad < p2.howbad
}

// RandPopConstr tries to generate a population of n feasible points inside
// the box bounds lb/ub that also satisfy fe.  It samples uniformly and keeps
// all feasible draws, queueing the least-violating infeasible draws so that a
// full population can still be returned if maxiter runs out before n feasible
// points are found.  nbad is the number of infeasible points included.
func RandPopConstr(n, maxiter int, lb, ub []float64, fe Feasibler, rng Rng) (points []Point, nbad, iter int) {
	ndims := len(lb)

	violaters := llrb.New()
	points = make([]Point, 0, n)
	for i := 0; i < maxiter; i++ {
		pos := make([]float64, ndims)
		for j := range pos {
			pos[j] = lb[j] + rng.Float64()*(ub[j]-lb[j])
		}
		p := NewPoint(pos, math.Inf(1))

		howbad := fe.Violation(pos)
		if howbad == 0 {
			points = append(points, p)
			if len(points) == n {
				return points, 0, i
			}
		} else {
			violaters.InsertNoReplace(item{p, howbad})
			for violaters.Len() > n-len(points) {
				violaters.DeleteMax()
			}
		}
	}

	nbad = n - len(points)
	for len(points) < n && violaters.Len() > 0 {
		p := violaters.DeleteMin().(item).Point
		points = append(points, p)
	}

	return points, nbad, maxiter
}

var _ Rng = (*rand.Rand)(nil)
