// Package smctune tunes sliding-mode controller gains for a double inverted
// pendulum using particle-swarm search.  The root package holds the small set
// of types shared by the solver, the fitness machinery, and the simulation
// engine: candidate points, objective/evaluator interfaces, and the error
// taxonomy.
package smctune

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// Point is a candidate gain vector paired with its cost.  Positions are
// copied on construction and never mutated afterward.
type Point struct {
	pos []float64
	Val float64
}

func NewPoint(pos []float64, val float64) Point {
	cpos := make([]float64, len(pos))
	copy(cpos, pos)
	return Point{pos: cpos, Val: val}
}

func (p Point) At(i int) float64 { return p.pos[i] }

func (p Point) Len() int { return len(p.pos) }

func (p Point) Pos() []float64 {
	pos := make([]float64, len(p.pos))
	copy(pos, p.pos)
	return pos
}

func hashPoint(p Point) [sha1.Size]byte {
	data := make([]byte, p.Len()*8)
	for i := 0; i < p.Len(); i++ {
		binary.BigEndian.PutUint64(data[i*8:], math.Float64bits(p.At(i)))
	}
	return sha1.Sum(data)
}

type Evaler interface {
	// Eval evaluates each point using obj and returns the values and number
	// of function evaluations n.  Unevaluated points should not be returned
	// in the results slice.
	Eval(obj Objectiver, points ...Point) (results []Point, n int, err error)
}

type Objectiver interface {
	// Objective evaluates the gain vector in v and returns the scalar cost.
	// The cost must be framed so that lower values are better.  Candidates
	// that cannot be simulated at all (e.g. gains violating a stability
	// constraint) should return positive infinity rather than an error;
	// errors are reserved for conditions that invalidate the whole search.
	Objective(v []float64) (float64, error)
}

// CacheEvaler wraps another Evaler and memoizes costs by gain-vector hash.
// Swarm iterations frequently revisit (nearly) converged positions late in a
// run and simulation is by far the dominant expense.
type CacheEvaler struct {
	ev    Evaler
	cache map[[sha1.Size]byte]float64
}

func NewCacheEvaler(ev Evaler) *CacheEvaler {
	return &CacheEvaler{
		ev:    ev,
		cache: map[[sha1.Size]byte]float64{},
	}
}

func (ev *CacheEvaler) Eval(obj Objectiver, points ...Point) (results []Point, n int, err error) {
	fromnew := make([]int, 0, len(points))
	newp := make([]Point, 0, len(points))
	for i, p := range points {
		if val, ok := ev.cache[hashPoint(p)]; ok {
			points[i].Val = val
		} else {
			fromnew = append(fromnew, i)
			newp = append(newp, p)
		}
	}

	newresults, n, err := ev.ev.Eval(obj, newp...)
	if err == nil {
		// a failed pass may hold values from before the failure alongside
		// the failing point's; memoizing any of them would pin a transient
		// error's +Inf forever
		for _, p := range newresults {
			ev.cache[hashPoint(p)] = p.Val
		}
	}

	for i, p := range newresults {
		points[fromnew[i]].Val = p.Val
	}

	// shrink if error resulted in fewer new results being returned
	if err != nil {
		if len(newresults) == 0 {
			return nil, n, err
		}
		points = points[:fromnew[len(newresults)-1]+1]
	}

	return points, n, err
}

type SerialEvaler struct {
	ContinueOnErr bool
}

func (ev SerialEvaler) Eval(obj Objectiver, points ...Point) (results []Point, n int, err error) {
	results = make([]Point, 0, len(points))
	for _, p := range points {
		p.Val, err = obj.Objective(p.Pos())
		results = append(results, p)
		if err != nil && !ev.ContinueOnErr {
			return results, len(results), err
		}
	}
	return results, len(results), nil
}

// ParallelEvaler evaluates points concurrently.  Point evaluations are
// data-independent (each candidate drives its own controller and trajectory
// state), so this requires no locking beyond the join.  The Objectiver must
// be safe for concurrent use.
type ParallelEvaler struct {
	// NConcurrent bounds the number of in-flight evaluations.  Zero means
	// one goroutine per point.
	NConcurrent int
}

func (ev ParallelEvaler) Eval(obj Objectiver, points ...Point) (results []Point, n int, err error) {
	results = make([]Point, len(points))
	copy(results, points)

	var g errgroup.Group
	if ev.NConcurrent > 0 {
		g.SetLimit(ev.NConcurrent)
	}
	for i := range results {
		i := i
		g.Go(func() error {
			val, err := obj.Objective(results[i].Pos())
			results[i].Val = val
			return err
		})
	}
	err = g.Wait()
	return results, len(results), err
}

type SimpleObjectiver func([]float64) float64

func (so SimpleObjectiver) Objective(v []float64) (float64, error) { return so(v), nil }

// ObjectivePrinter logs every evaluation it passes through.  Useful when
// watching a long tuning run converge.
type ObjectivePrinter struct {
	Objectiver
	Count int
}

func NewObjectivePrinter(obj Objectiver) *ObjectivePrinter {
	return &ObjectivePrinter{Objectiver: obj}
}

func (op *ObjectivePrinter) Objective(v []float64) (float64, error) {
	val, err := op.Objectiver.Objective(v)

	op.Count++
	fmt.Print(op.Count, " ")
	for _, x := range v {
		fmt.Print(x, " ")
	}
	fmt.Println("    ", val)

	return val, err
}
