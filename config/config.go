// Package config loads the tuning setup from a nested YAML mapping: plant
// parameters, per-variant controller settings and search bounds, simulation
// settings, fitness weights, and PSO hyperparameters.  Zero values fall back
// to the built-in defaults, so a config file only states what it changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"smctune/batch"
	"smctune/controller"
	"smctune/fitness"
	"smctune/plant"
)

type Config struct {
	Plant       Plant                 `yaml:"plant"`
	Sim         Sim                   `yaml:"sim"`
	Fitness     Fitness               `yaml:"fitness"`
	PSO         PSO                   `yaml:"pso"`
	Controllers map[string]Controller `yaml:"controllers"`
}

type Plant struct {
	CartMass      float64 `yaml:"cart_mass"`
	Mass1         float64 `yaml:"mass1"`
	Mass2         float64 `yaml:"mass2"`
	Len1          float64 `yaml:"len1"`
	Len2          float64 `yaml:"len2"`
	Gravity       float64 `yaml:"gravity"`
	CartDamping   float64 `yaml:"cart_damping"`
	Joint1Damping float64 `yaml:"joint1_damping"`
	Joint2Damping float64 `yaml:"joint2_damping"`
}

type Sim struct {
	Method     string  `yaml:"method"`
	Dt         float64 `yaml:"dt"`
	Duration   float64 `yaml:"duration"`
	StateBound float64 `yaml:"state_bound"`
}

type Scenario struct {
	Name   string  `yaml:"name"`
	Angle  float64 `yaml:"angle"`
	Weight float64 `yaml:"weight"`
}

type Terms struct {
	State  float64 `yaml:"state"`
	Effort float64 `yaml:"effort"`
	Rate   float64 `yaml:"rate"`
	Sigma  float64 `yaml:"sigma"`
}

type Fitness struct {
	Alpha              float64    `yaml:"alpha"`
	InstabilityPenalty float64    `yaml:"instability_penalty"`
	Scenarios          []Scenario `yaml:"scenarios"`
	Weights            Terms      `yaml:"weights"`
	Norms              Terms      `yaml:"norms"`
}

type PSO struct {
	Particles  int     `yaml:"particles"`
	MaxIter    int     `yaml:"max_iter"`
	StallIters int     `yaml:"stall_iters"`
	StallTol   float64 `yaml:"stall_tol"`
	Seed       int64   `yaml:"seed"`
	Cognition  float64 `yaml:"cognition"`
	Social     float64 `yaml:"social"`
	Inertia    float64 `yaml:"inertia"`
}

type Controller struct {
	Gains            []float64 `yaml:"gains"`
	Low              []float64 `yaml:"low"`
	Up               []float64 `yaml:"up"`
	MaxForce         float64   `yaml:"max_force"`
	BoundaryLayer    float64   `yaml:"boundary_layer"`
	AdaptRate        float64   `yaml:"adapt_rate"`
	LeakRate         float64   `yaml:"leak_rate"`
	DeadZone         float64   `yaml:"dead_zone"`
	GainMin          float64   `yaml:"gain_min"`
	GainMax          float64   `yaml:"gain_max"`
	GainInit         float64   `yaml:"gain_init"`
	STAGain1         float64   `yaml:"sta_gain1"`
	STAGain2         float64   `yaml:"sta_gain2"`
	SwitchThreshold  float64   `yaml:"switch_threshold"`
	HysteresisMargin float64   `yaml:"hysteresis_margin"`
}

// Default is the configuration used when no file (or an empty file) is given.
func Default() *Config {
	return &Config{
		Sim: Sim{Dt: 0.01, Duration: 10},
		PSO: PSO{Particles: 20, MaxIter: 50, Seed: 1},
		Controllers: map[string]Controller{
			string(controller.Classical): {Gains: []float64{5, 5, 5, 0.5, 0.5, 0.5}},
		},
	}
}

// Load reads path and merges it over the defaults.  Unknown YAML keys are an
// error; misspelled settings should fail loudly, not silently tune nothing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := unmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalStrict(data []byte, v interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		// empty document; defaults stand
		return nil
	}
	return err
}

func (c *Config) Validate() error {
	if c.Sim.Dt <= 0 || c.Sim.Duration <= 0 {
		return fmt.Errorf("config: sim dt and duration must be positive (dt=%v duration=%v)", c.Sim.Dt, c.Sim.Duration)
	}
	if _, err := batch.MethodFromString(c.Sim.Method); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PSO.Particles <= 0 || c.PSO.MaxIter <= 0 {
		return fmt.Errorf("config: pso particles and max_iter must be positive")
	}
	for name, cc := range c.Controllers {
		v := controller.Variant(name)
		if controller.GainCount(v) == 0 {
			return fmt.Errorf("config: unknown controller variant %q", name)
		}
		if len(cc.Gains) > 0 {
			if _, err := controller.New(v, cc.Params()); err != nil {
				return fmt.Errorf("config: controller %q: %w", name, err)
			}
		}
		if (cc.Low == nil) != (cc.Up == nil) {
			return fmt.Errorf("config: controller %q: low and up bounds must be given together", name)
		}
		if cc.Low != nil && (len(cc.Low) != controller.GainCount(v) || len(cc.Up) != controller.GainCount(v)) {
			return fmt.Errorf("config: controller %q: bounds length must be %v", name, controller.GainCount(v))
		}
	}
	for _, sc := range c.Fitness.Scenarios {
		if sc.Weight <= 0 {
			return fmt.Errorf("config: scenario %q has non-positive weight", sc.Name)
		}
	}
	return nil
}

// PlantParams maps the plant section onto the model's parameters; zero fields
// keep the reference rig values.
func (c *Config) PlantParams() plant.Params {
	p := plant.DefaultParams()
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&p.CartMass, c.Plant.CartMass)
	set(&p.Mass1, c.Plant.Mass1)
	set(&p.Mass2, c.Plant.Mass2)
	set(&p.Len1, c.Plant.Len1)
	set(&p.Len2, c.Plant.Len2)
	set(&p.Gravity, c.Plant.Gravity)
	set(&p.CartDamping, c.Plant.CartDamping)
	set(&p.Joint1Damping, c.Plant.Joint1Damping)
	set(&p.Joint2Damping, c.Plant.Joint2Damping)
	return p
}

func (c *Config) SimConfig() (batch.Config, error) {
	m, err := batch.MethodFromString(c.Sim.Method)
	if err != nil {
		return batch.Config{}, err
	}
	return batch.Config{
		Method:     m,
		Dt:         c.Sim.Dt,
		Duration:   c.Sim.Duration,
		StateBound: c.Sim.StateBound,
	}, nil
}

// FitnessConfig assembles the evaluator configuration for a variant.
func (c *Config) FitnessConfig(v controller.Variant) (fitness.Config, error) {
	sim, err := c.SimConfig()
	if err != nil {
		return fitness.Config{}, err
	}
	fc := fitness.Config{
		Variant:            v,
		Alpha:              c.Fitness.Alpha,
		InstabilityPenalty: c.Fitness.InstabilityPenalty,
		Weights:            fitness.Terms(c.Fitness.Weights),
		Norms:              fitness.Terms(c.Fitness.Norms),
		Sim:                sim,
	}
	for _, sc := range c.Fitness.Scenarios {
		fc.Scenarios = append(fc.Scenarios, fitness.AnglePerturbation(sc.Name, sc.Angle, sc.Weight))
	}
	if cc, ok := c.Controllers[string(v)]; ok {
		fc.Controller = cc.Params()
	}
	fc.Controller.Gains = nil // gains come from the candidates
	return fc, nil
}

// Bounds returns the search box for a variant: the configured bounds when
// present, else the variant's built-in constraint-derived box.
func (c *Config) Bounds(v controller.Variant) (low, up []float64) {
	if cc, ok := c.Controllers[string(v)]; ok && cc.Low != nil {
		return cc.Low, cc.Up
	}
	return controller.Bounds(v)
}

// Params maps a controller section onto construction parameters.
func (cc Controller) Params() controller.Params {
	return controller.Params{
		Gains:            cc.Gains,
		MaxForce:         cc.MaxForce,
		BoundaryLayer:    cc.BoundaryLayer,
		AdaptRate:        cc.AdaptRate,
		LeakRate:         cc.LeakRate,
		DeadZone:         cc.DeadZone,
		GainMin:          cc.GainMin,
		GainMax:          cc.GainMax,
		GainInit:         cc.GainInit,
		STAGain1:         cc.STAGain1,
		STAGain2:         cc.STAGain2,
		SwitchThreshold:  cc.SwitchThreshold,
		HysteresisMargin: cc.HysteresisMargin,
	}
}
