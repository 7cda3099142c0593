package controller

import (
	"errors"
	"math"
	"testing"

	"smctune"
)

func validParams(v Variant) Params {
	switch v {
	case Classical:
		return Params{Gains: []float64{5, 5, 5, 0.5, 0.5, 0.5}}
	case SuperTwisting:
		return Params{Gains: []float64{15, 8, 5, 5, 5, 0.5}}
	case Adaptive:
		return Params{Gains: []float64{5, 5, 5, 0.5, 1}}
	case Hybrid:
		return Params{Gains: []float64{5, 5, 5, 0.5}}
	}
	return Params{}
}

func TestNewValid(t *testing.T) {
	for _, v := range []Variant{Classical, SuperTwisting, Adaptive, Hybrid} {
		cfg, err := New(v, validParams(v))
		if err != nil {
			t.Errorf("[%v] unexpected error: %v", v, err)
			continue
		}
		if cfg.Variant() != v {
			t.Errorf("[%v] variant mismatch: got %v", v, cfg.Variant())
		}
		if got, want := len(cfg.Gains()), GainCount(v); got != want {
			t.Errorf("[%v] gain count: got %v want %v", v, got, want)
		}
	}
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name string
		v    Variant
		p    Params
	}{
		{"unknown variant", Variant("pid"), Params{Gains: []float64{1}}},
		{"wrong gain count", Classical, Params{Gains: []float64{1, 2, 3}}},
		{"nan gain", Classical, Params{Gains: []float64{math.NaN(), 5, 5, 0.5, 0.5, 0.5}}},
		{"inf gain", Classical, Params{Gains: []float64{math.Inf(1), 5, 5, 0.5, 0.5, 0.5}}},
		{"zero surface gain", Classical, Params{Gains: []float64{0, 5, 5, 0.5, 0.5, 0.5}}},
		{"negative switching gain", Classical, Params{Gains: []float64{5, 5, 5, 0.5, -1, 0.5}}},
		{"negative kd", Classical, Params{Gains: []float64{5, 5, 5, 0.5, 0.5, -0.1}}},
		{"param above range", Classical, Params{Gains: []float64{5, 5, 5, 0.5, 2e5, 0.5}}},
		{"zero sta gain", SuperTwisting, Params{Gains: []float64{0, 8, 5, 5, 5, 0.5}}},
		{"zero gamma", Adaptive, Params{Gains: []float64{5, 5, 5, 0.5, 0}}},
		{"gain_min above gain_max", Adaptive, Params{
			Gains: []float64{5, 5, 5, 0.5, 1}, GainMin: 300, GainMax: 200,
		}},
		{"gain_init outside clamp", Adaptive, Params{
			Gains: []float64{5, 5, 5, 0.5, 1}, GainMin: 1, GainMax: 5, GainInit: 50,
		}},
		{"margin above threshold", Hybrid, Params{
			Gains: []float64{5, 5, 5, 0.5}, SwitchThreshold: 0.5, HysteresisMargin: 0.6,
		}},
	}

	for _, test := range tests {
		_, err := New(test.v, test.p)
		if err == nil {
			t.Errorf("[%v] expected configuration error, got none", test.name)
			continue
		}
		var cerr *smctune.ConfigurationError
		if !errors.As(err, &cerr) {
			t.Errorf("[%v] expected *ConfigurationError, got %T: %v", test.name, err, err)
		}
	}
}

func TestConfigFrozen(t *testing.T) {
	cfg, err := New(Classical, validParams(Classical))
	if err != nil {
		t.Fatal(err)
	}

	g := cfg.Gains()
	g[0] = -99
	if cfg.Gains()[0] == -99 {
		t.Error("Gains() must return a copy, not the backing slice")
	}

	g2, err := cfg.WithGains([]float64{6, 6, 6, 0.6, 0.6, 0.6})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gains()[0] != 5 {
		t.Error("WithGains mutated the receiver")
	}
	if g2.Gains()[0] != 6 {
		t.Error("WithGains did not carry the new gains")
	}

	if _, err := cfg.WithGains([]float64{-1, 6, 6, 0.6, 0.6, 0.6}); err == nil {
		t.Error("WithGains accepted an invalid vector")
	}
}

func TestBoundsConstructible(t *testing.T) {
	// every corner of the search box must produce a valid Config
	for _, v := range []Variant{Classical, SuperTwisting, Adaptive, Hybrid} {
		low, up := Bounds(v)
		if len(low) != GainCount(v) || len(up) != GainCount(v) {
			t.Fatalf("[%v] bounds length mismatch", v)
		}
		for _, gains := range [][]float64{low, up} {
			if GainViolation(v, gains) != 0 {
				t.Errorf("[%v] bound corner %v violates feasibility", v, gains)
				continue
			}
			p := validParams(v)
			p.Gains = gains
			if _, err := New(v, p); err != nil {
				t.Errorf("[%v] bound corner not constructible: %v", v, err)
			}
		}
	}
}

func TestGainViolation(t *testing.T) {
	if v := GainViolation(Classical, []float64{5, 5, 5, 0.5, 0.5, 0.5}); v != 0 {
		t.Errorf("feasible vector scored %v, want 0", v)
	}
	if v := GainViolation(Classical, []float64{-1, 5, 5, 0.5, 0.5, 0.5}); v <= 0 {
		t.Errorf("infeasible vector scored %v, want > 0", v)
	}
	if v := GainViolation(Classical, []float64{1, 2}); !math.IsInf(v, 1) {
		t.Errorf("wrong-length vector scored %v, want +Inf", v)
	}
}
