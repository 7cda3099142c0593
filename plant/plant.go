// Package plant supplies the double-inverted-pendulum-on-cart dynamics the
// simulation engine integrates.  The rest of the module treats it as a black
// box: Deriv(state, u) -> (derivative, ok, diagnostic).  A failed mass-matrix
// solve or a non-finite result reports ok=false, which the batch engine
// treats as an instability signal for that trajectory only.
package plant

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State layout: [x th1 th2 xdot th1dot th2dot].  Angles are measured from
// the upright position, so theta = 0 is the (unstable) equilibrium.
const Dim = 6

type Params struct {
	CartMass float64 // kg
	Mass1    float64 // first link, lumped at distance Len1 (kg)
	Mass2    float64 // second link, lumped at distance Len2 (kg)
	Len1     float64 // m
	Len2     float64 // m
	Gravity  float64 // m/s^2

	CartDamping   float64 // viscous, N*s/m
	Joint1Damping float64 // viscous, N*m*s/rad
	Joint2Damping float64
}

// DefaultParams models the reference rig: a light second link on a heavily
// damped joint.  The damper keeps the internal dynamics slow enough that a
// sliding-mode controller holding sigma at zero also keeps the full state
// bounded over the usual 10s evaluation horizon.
func DefaultParams() Params {
	return Params{
		CartMass:      1.5,
		Mass1:         0.2,
		Mass2:         0.1,
		Len1:          0.4,
		Len2:          0.5,
		Gravity:       9.81,
		CartDamping:   0.1,
		Joint1Damping: 0.05,
		Joint2Damping: 3.0,
	}
}

type Model struct {
	par Params

	// scratch reused across calls; Deriv is therefore not safe for
	// concurrent use of a single Model.  The batch engine gives each
	// worker its own instance.
	m   *mat.Dense
	rhs *mat.VecDense
	acc *mat.VecDense
}

func New(par Params) *Model {
	return &Model{
		par: par,
		m:   mat.NewDense(3, 3, nil),
		rhs: mat.NewVecDense(3, nil),
		acc: mat.NewVecDense(3, nil),
	}
}

func (m *Model) Params() Params { return m.par }

// Clone returns an independent Model with its own scratch buffers.
func (m *Model) Clone() *Model { return New(m.par) }

// Deriv evaluates the state derivative under cart force u.  The generalized
// coordinates are q = [x th1 th2]; the dynamics are M(q)*qddot = f(q, qdot, u)
// with M the symmetric mass matrix.  The 3x3 solve goes through gonum's LU.
func (m *Model) Deriv(x []float64, u float64) (dx []float64, ok bool, diag string) {
	if len(x) != Dim {
		return nil, false, "state dimension mismatch"
	}

	p := m.par
	th1, th2 := x[1], x[2]
	xd, w1, w2 := x[3], x[4], x[5]

	s1, c1 := math.Sincos(th1)
	s2, c2 := math.Sincos(th2)
	s12 := math.Sin(th1 - th2)
	c12 := math.Cos(th1 - th2)

	m12 := p.Mass1 + p.Mass2

	m.m.Set(0, 0, p.CartMass+m12)
	m.m.Set(0, 1, m12*p.Len1*c1)
	m.m.Set(0, 2, p.Mass2*p.Len2*c2)
	m.m.Set(1, 0, m12*p.Len1*c1)
	m.m.Set(1, 1, m12*p.Len1*p.Len1)
	m.m.Set(1, 2, p.Mass2*p.Len1*p.Len2*c12)
	m.m.Set(2, 0, p.Mass2*p.Len2*c2)
	m.m.Set(2, 1, p.Mass2*p.Len1*p.Len2*c12)
	m.m.Set(2, 2, p.Mass2*p.Len2*p.Len2)

	m.rhs.SetVec(0, u+m12*p.Len1*w1*w1*s1+p.Mass2*p.Len2*w2*w2*s2-p.CartDamping*xd)
	m.rhs.SetVec(1, m12*p.Gravity*p.Len1*s1-p.Mass2*p.Len1*p.Len2*w2*w2*s12-p.Joint1Damping*w1)
	m.rhs.SetVec(2, p.Mass2*p.Gravity*p.Len2*s2+p.Mass2*p.Len1*p.Len2*w1*w1*s12-p.Joint2Damping*w2)

	if err := m.acc.SolveVec(m.m, m.rhs); err != nil {
		return nil, false, "mass matrix is singular"
	}

	dx = []float64{
		xd, w1, w2,
		m.acc.AtVec(0), m.acc.AtVec(1), m.acc.AtVec(2),
	}
	for _, v := range dx {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, "non-finite derivative"
		}
	}
	return dx, true, ""
}
