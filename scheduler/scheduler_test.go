package scheduler

import (
	"errors"
	"math"
	"testing"

	"smctune"
	"smctune/controller"
)

var (
	aggClassical  = []float64{8, 8, 6, 1, 30, 2}
	consClassical = []float64{2, 2, 1, 0.3, 5, 0}
)

func classicalScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Variant:      controller.Classical,
		Aggressive:   aggClassical,
		Conservative: consClassical,
		Threshold:    0.2,
		Margin:       0.05,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// state builds a plant state whose default error signal equals e.
func state(e float64) []float64 {
	x := make([]float64, controller.StateDim)
	x[1] = e
	return x
}

func TestRefusesHybridWithoutOptIn(t *testing.T) {
	cfg := Config{
		Variant:      controller.Hybrid,
		Aggressive:   []float64{5, 5, 5, 0.5},
		Conservative: []float64{2, 2, 2, 0.5},
		Threshold:    0.2,
		Margin:       0.05,
	}
	_, err := New(cfg)
	if err == nil {
		t.Fatal("hybrid scheduling must be refused by default")
	}
	var cerr *smctune.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}

	cfg.AllowHybrid = true
	if _, err := New(cfg); err != nil {
		t.Fatalf("opt-in rejected: %v", err)
	}
}

func TestUnsafeGainMismatchRejected(t *testing.T) {
	cfg := Config{
		Variant:      controller.Adaptive,
		Aggressive:   []float64{8, 8, 6, 1, 2},
		Conservative: []float64{2, 2, 1, 0.3, 1}, // gamma differs
		Threshold:    0.2,
		Margin:       0.05,
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("differing adaptation rate across endpoints must be rejected")
	}

	cfg.Conservative[4] = 2 // gamma pinned
	if _, err := New(cfg); err != nil {
		t.Fatalf("matching unsafe gains rejected: %v", err)
	}
}

func TestBlendEndpoints(t *testing.T) {
	s := classicalScheduler(t)

	got := s.Schedule(state(0.01)) // far below the band
	for i := range got {
		if got[i] != aggClassical[i] {
			t.Errorf("below band: gain %v = %v, want aggressive %v", i, got[i], aggClassical[i])
		}
	}

	got = s.Schedule(state(0.9)) // far above
	for i := range got {
		if got[i] != consClassical[i] {
			t.Errorf("above band: gain %v = %v, want conservative %v", i, got[i], consClassical[i])
		}
	}

	// band center blends halfway: geometric mean for log-space gains,
	// arithmetic for kd
	got = s.Schedule(state(0.2))
	for i := 0; i < 5; i++ {
		want := math.Sqrt(aggClassical[i] * consClassical[i])
		if math.Abs(got[i]-want) > 1e-12 {
			t.Errorf("band center: gain %v = %v, want geometric mean %v", i, got[i], want)
		}
	}
	if want := (aggClassical[5] + consClassical[5]) / 2; got[5] != want {
		t.Errorf("band center: kd = %v, want %v", got[5], want)
	}
}

// Every blended vector must pass the wrapped variant's own validation, for
// any error magnitude.
func TestBlendAlwaysValid(t *testing.T) {
	s := classicalScheduler(t)
	for e := 0.0; e <= 1.0; e += 0.013 {
		if _, err := s.Apply(state(e)); err != nil {
			t.Fatalf("blend invalid at e=%v: %v", e, err)
		}
	}
}

func TestNoZeno(t *testing.T) {
	s := classicalScheduler(t)

	// oscillate inside the dead band
	for i := 0; i < 10000; i++ {
		s.Schedule(state(0.2 + 0.04*math.Sin(float64(i))))
	}
	if s.Switches() != 0 {
		t.Errorf("in-band oscillation caused %v switches, want 0", s.Switches())
	}

	// full crossings switch at most once each
	ncross := 6
	for k := 0; k < ncross; k++ {
		for i := 0; i <= 100; i++ {
			frac := float64(i) / 100
			e := 0.05 + 0.3*frac
			if k%2 == 1 {
				e = 0.35 - 0.3*frac
			}
			s.Schedule(state(e))
		}
	}
	if s.Switches() > ncross {
		t.Errorf("%v crossings caused %v switches", ncross, s.Switches())
	}
	if s.Switches() == 0 {
		t.Error("full sweeps caused no switches; test is vacuous")
	}
}

func TestModeMapping(t *testing.T) {
	s := classicalScheduler(t)
	s.Schedule(state(0.5))
	if s.Mode() != controller.ConservativeMode {
		t.Errorf("large error: mode %v, want conservative", s.Mode())
	}
	s.Schedule(state(0.01))
	if s.Mode() != controller.AggressiveMode {
		t.Errorf("small error: mode %v, want aggressive", s.Mode())
	}
}
