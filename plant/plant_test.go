package plant

import (
	"math"
	"testing"
)

func TestUprightEquilibrium(t *testing.T) {
	m := New(DefaultParams())
	dx, ok, diag := m.Deriv(make([]float64, Dim), 0)
	if !ok {
		t.Fatalf("equilibrium deriv failed: %v", diag)
	}
	for i, v := range dx {
		if math.Abs(v) > 1e-12 {
			t.Errorf("equilibrium derivative element %v = %v, want 0", i, v)
		}
	}
}

func TestUprightIsUnstable(t *testing.T) {
	m := New(DefaultParams())
	x := make([]float64, Dim)
	x[1] = 0.05 // tip the first link slightly

	dx, ok, diag := m.Deriv(x, 0)
	if !ok {
		t.Fatalf("deriv failed: %v", diag)
	}
	// gravity must accelerate the link further from upright
	if dx[4] <= 0 {
		t.Errorf("th1ddot = %v for positive tilt; inverted pendulum should fall away", dx[4])
	}
}

func TestControlForceActsOnCart(t *testing.T) {
	m := New(DefaultParams())
	x := make([]float64, Dim)

	dxPos, ok, _ := m.Deriv(x, 10)
	if !ok {
		t.Fatal("deriv failed")
	}
	dxNeg, ok, _ := m.Deriv(x, -10)
	if !ok {
		t.Fatal("deriv failed")
	}
	if dxPos[3] <= 0 || dxNeg[3] >= 0 {
		t.Errorf("cart acceleration does not follow force sign: +10 -> %v, -10 -> %v", dxPos[3], dxNeg[3])
	}
}

func TestDerivRejectsWrongDim(t *testing.T) {
	m := New(DefaultParams())
	if _, ok, _ := m.Deriv([]float64{1, 2, 3}, 0); ok {
		t.Error("expected failure for wrong state dimension")
	}
}

func TestJointDampingOpposesMotion(t *testing.T) {
	undamped := DefaultParams()
	undamped.CartDamping = 0
	undamped.Joint1Damping = 0
	undamped.Joint2Damping = 0

	x := make([]float64, Dim)
	x[4] = 1 // first joint spinning, links upright

	free, ok, _ := New(undamped).Deriv(x, 0)
	if !ok {
		t.Fatal("deriv failed")
	}
	damped, ok, _ := New(DefaultParams()).Deriv(x, 0)
	if !ok {
		t.Fatal("deriv failed")
	}
	if damped[4] >= free[4] {
		t.Errorf("joint damping does not oppose positive th1dot: damped %v, free %v", damped[4], free[4])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := New(DefaultParams())
	c := m.Clone()
	if c == m {
		t.Fatal("clone returned the same instance")
	}
	if c.Params() != m.Params() {
		t.Error("clone changed parameters")
	}
}
