package batch

import (
	"math"
	"reflect"
	"testing"

	"smctune/controller"
)

// rampDynamics is a stub plant whose trajectories grow at a fixed rate,
// ignoring control.  Growth is seeded by the initial state, so different
// initial magnitudes hit the state bound at different steps.
type rampDynamics struct{ rate float64 }

func (d rampDynamics) Deriv(x []float64, u float64) ([]float64, bool, string) {
	dx := make([]float64, len(x))
	for i := range dx {
		dx[i] = d.rate * x[i]
	}
	return dx, true, ""
}

// failAfter reports dynamics failure once any state element passes a cutoff.
type failAfter struct {
	rampDynamics
	cutoff float64
}

func (d failAfter) Deriv(x []float64, u float64) ([]float64, bool, string) {
	for _, v := range x {
		if math.Abs(v) > d.cutoff {
			return nil, false, "model left validity region"
		}
	}
	return d.rampDynamics.Deriv(x, u)
}

func testControllers(t *testing.T, n int) []*controller.Controller {
	t.Helper()
	ctrls := make([]*controller.Controller, n)
	for i := range ctrls {
		cfg, err := controller.New(controller.Classical, controller.Params{
			Gains: []float64{5, 5, 5, 0.5, 0.5, 0.5},
		})
		if err != nil {
			t.Fatal(err)
		}
		ctrls[i] = controller.NewController(cfg)
	}
	return ctrls
}

func x0(scale float64) []float64 {
	x := make([]float64, controller.StateDim)
	for i := range x {
		x[i] = scale
	}
	return x
}

func TestFreezeInvariant(t *testing.T) {
	eng, err := New(rampDynamics{rate: 5}, Config{
		Dt: 0.01, Duration: 1, StateBound: 1, DisableEarlyStop: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := eng.Run(testControllers(t, 1), x0(0.1))
	if err != nil {
		t.Fatal(err)
	}

	k := res.FrozenAt[0]
	if k < 0 {
		t.Fatal("trajectory never froze; expected bound violation")
	}
	frozen := res.States[0][k]
	for j := k; j < len(res.States[0]); j++ {
		if !reflect.DeepEqual(res.States[0][j], frozen) {
			t.Fatalf("state changed after freeze: step %v = %v, frozen = %v", j, res.States[0][j], frozen)
		}
	}
	for _, s := range res.States[0] {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatal("non-finite state recorded despite freeze guard")
			}
		}
	}
}

// pushDynamics moves only the cart element, directly by the control force.
// It lets two controllers in the same batch produce wildly different
// trajectories from the shared initial state.
type pushDynamics struct{}

func (pushDynamics) Deriv(x []float64, u float64) ([]float64, bool, string) {
	dx := make([]float64, len(x))
	dx[0] = u
	return dx, true, ""
}

func TestColumnarFailureIndependence(t *testing.T) {
	mkctrl := func(gainK float64) *controller.Controller {
		cfg, err := controller.New(controller.Classical, controller.Params{
			Gains: []float64{5, 5, 5, 0.5, gainK, 1e-9},
		})
		if err != nil {
			t.Fatal(err)
		}
		return controller.NewController(cfg)
	}
	// aggressive saturated controller rams the cart out of bounds;
	// the near-zero one barely moves it
	bad := mkctrl(1e4)
	good := mkctrl(1e-6)

	eng, err := New(pushDynamics{}, Config{Dt: 0.01, Duration: 1, StateBound: 10, DisableEarlyStop: true})
	if err != nil {
		t.Fatal(err)
	}

	solo, err := eng.Run([]*controller.Controller{good}, x0(0.1))
	if err != nil {
		t.Fatal(err)
	}
	mixed, err := eng.Run([]*controller.Controller{bad, good}, x0(0.1))
	if err != nil {
		t.Fatal(err)
	}

	if mixed.FrozenAt[0] < 0 {
		t.Fatal("aggressive trajectory should have frozen")
	}
	if mixed.FrozenAt[1] >= 0 {
		t.Fatal("gentle trajectory should not have frozen")
	}
	if !reflect.DeepEqual(mixed.States[1], solo.States[0]) {
		t.Error("healthy trajectory differs when batched with a failing one")
	}
}

func TestEarlyStopMatchesFullRun(t *testing.T) {
	mk := func(disable bool) *Result {
		eng, err := New(rampDynamics{rate: 5}, Config{
			Dt: 0.01, Duration: 5, StateBound: 1, DisableEarlyStop: disable,
		})
		if err != nil {
			t.Fatal(err)
		}
		res, err := eng.Run(testControllers(t, 3), x0(0.5))
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	early := mk(false)
	full := mk(true)

	if early.Steps >= full.Steps {
		t.Fatalf("early stop did not trigger: %v vs %v steps", early.Steps, full.Steps)
	}
	if !reflect.DeepEqual(early.FrozenAt, full.FrozenAt) {
		t.Errorf("freeze indices differ: %v vs %v", early.FrozenAt, full.FrozenAt)
	}
	for i := range early.States {
		for j := 0; j <= early.Steps; j++ {
			if !reflect.DeepEqual(early.States[i][j], full.States[i][j]) {
				t.Fatalf("trajectory %v step %v differs between early-stop and full run", i, j)
			}
		}
	}
}

func TestDynamicsFailureFreezes(t *testing.T) {
	eng, err := New(failAfter{rampDynamics{rate: 2}, 1}, Config{
		Dt: 0.01, Duration: 1, StateBound: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.Run(testControllers(t, 1), x0(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if res.FrozenAt[0] < 0 {
		t.Error("dynamics ok=false did not freeze the trajectory")
	}
}

func TestRK4SelectableAndMoreAccurate(t *testing.T) {
	// dx/dt = rate*x has the closed form x0*exp(rate*t); RK4 must land
	// closer than Euler at the same step size
	rate, dur, dt := 1.0, 1.0, 0.1
	exact := 0.1 * math.Exp(rate*dur)

	endState := func(m Method) float64 {
		eng, err := New(rampDynamics{rate: rate}, Config{Method: m, Dt: dt, Duration: dur, StateBound: 100})
		if err != nil {
			t.Fatal(err)
		}
		res, err := eng.Run(testControllers(t, 1), x0(0.1))
		if err != nil {
			t.Fatal(err)
		}
		final := res.States[0][len(res.States[0])-1]
		return final[0]
	}

	errEuler := math.Abs(endState(Euler) - exact)
	errRK4 := math.Abs(endState(RK4) - exact)
	if errRK4 >= errEuler {
		t.Errorf("rk4 error %v not below euler error %v", errRK4, errEuler)
	}
}

func TestMethodFromString(t *testing.T) {
	if m, err := MethodFromString(""); err != nil || m != Euler {
		t.Errorf("empty method: got %v, %v", m, err)
	}
	if m, err := MethodFromString("rk4"); err != nil || m != RK4 {
		t.Errorf("rk4: got %v, %v", m, err)
	}
	if _, err := MethodFromString("leapfrog"); err == nil {
		t.Error("expected error for unknown method")
	}
}
