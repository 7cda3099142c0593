package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smctune/controller"
)

const sample = `
plant:
  mass2: 0.12
  joint2_damping: 2.5
sim:
  method: rk4
  dt: 0.005
  duration: 8
fitness:
  alpha: 0.5
  scenarios:
    - {name: small, angle: 0.02, weight: 0.2}
    - {name: large, angle: 0.15, weight: 0.8}
pso:
  particles: 10
  max_iter: 20
  seed: 42
controllers:
  classical:
    gains: [5, 5, 5, 0.5, 0.5, 0.5]
    low: [0.1, 0.1, 0.1, 0.05, 1, 0]
    up: [50, 50, 50, 20, 200, 50]
  adaptive:
    gains: [5, 5, 5, 0.5, 1]
    gain_max: 100
`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 0.005, cfg.Sim.Dt)
	assert.Equal(t, int64(42), cfg.PSO.Seed)
	assert.Len(t, cfg.Fitness.Scenarios, 2)

	p := cfg.PlantParams()
	assert.Equal(t, 0.12, p.Mass2)
	assert.Equal(t, 2.5, p.Joint2Damping)
	// unset fields keep the reference rig values
	assert.Equal(t, 1.5, p.CartMass)

	sim, err := cfg.SimConfig()
	require.NoError(t, err)
	assert.Equal(t, 8.0, sim.Duration)

	fc, err := cfg.FitnessConfig(controller.Classical)
	require.NoError(t, err)
	assert.Equal(t, 0.5, fc.Alpha)
	assert.Len(t, fc.Scenarios, 2)
	assert.Nil(t, fc.Controller.Gains)

	low, up := cfg.Bounds(controller.Classical)
	assert.Equal(t, []float64{0.1, 0.1, 0.1, 0.05, 1, 0}, low)
	assert.Len(t, up, 6)
}

func TestEmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Sim, cfg.Sim)
	assert.Equal(t, def.PSO, cfg.PSO)
}

func TestUnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("simulation:\n  dt: 0.01\n"))
	assert.Error(t, err, "misspelled section must not be ignored")
}

func TestInvalidSettingsRejected(t *testing.T) {
	cases := []string{
		"sim:\n  dt: -1\n",
		"sim:\n  method: leapfrog\n",
		"pso:\n  particles: 0\n",
		"controllers:\n  bogus:\n    gains: [1]\n",
		"controllers:\n  classical:\n    gains: [5, 5, 5]\n",
		"controllers:\n  classical:\n    low: [1, 1, 1, 1, 1, 1]\n",
		"fitness:\n  scenarios:\n    - {name: s, angle: 0.1, weight: -2}\n",
	}
	for _, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, "doc should be rejected: %s", doc)
	}
}

func TestBoundsFallBackToVariantBox(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	low, up := cfg.Bounds(controller.SuperTwisting)
	wlow, wup := controller.Bounds(controller.SuperTwisting)
	assert.Equal(t, wlow, low)
	assert.Equal(t, wup, up)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tune.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.PSO.Particles)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
