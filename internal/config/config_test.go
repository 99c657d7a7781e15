package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const validYAML = `
run:
  max_outer_iterations: 3
  max_pathfinding_iterations: 5
  convergence_gap: 0.01
  capacity_enforced: true
  simulation_enabled: true
  dispersion: 1.0
  overlap_variable: count
  overlap_scale_parameter: 1.0
  pathfinding_mode: deterministic
  time_window_min: 30
  max_paths: 5
weights:
  - user_class: all
    purpose: work
    link_kind: trip
    mode: bus
    attribute: time
    value: 1.0
    growth: constant
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	assert.NoError(t, err)
	assert.Equal(t, 3, cfg.Run.MaxOuterIterations)
	assert.Equal(t, ModeDeterministic, cfg.Run.PathfindingMode)
	assert.Len(t, cfg.Weights, 1)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
run:
  dispersion: 2.0
weights:
  - user_class: all
    purpose: work
    link_kind: trip
    mode: "*"
    attribute: time
    value: 1.0
    growth: constant
`))
	assert.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Run.Dispersion)
	// untouched fields keep the engine defaults
	assert.Equal(t, 10, cfg.Run.MaxPathfindingIterations)
	assert.Equal(t, OverlapCount, cfg.Run.OverlapVariable)
	assert.True(t, cfg.Run.CapacityEnforced)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero outer iterations", func(c *Config) { c.Run.MaxOuterIterations = 0 }},
		{"negative gap", func(c *Config) { c.Run.ConvergenceGap = -0.1 }},
		{"unknown overlap variable", func(c *Config) { c.Run.OverlapVariable = "length" }},
		{"unknown pathfinding mode", func(c *Config) { c.Run.PathfindingMode = "greedy" }},
		{"unknown growth", func(c *Config) { c.Weights[0].Growth = "quadratic" }},
		{"unknown attribute", func(c *Config) { c.Weights[0].Attribute = "comfort" }},
		{"logarithmic base too small", func(c *Config) {
			c.Weights[0].Growth = "logarithmic"
			c.Weights[0].LogBase = 1.0
		}},
		{"logistic without max", func(c *Config) {
			c.Weights[0].Growth = "logistic"
			c.Weights[0].Value = 0.2
			c.Weights[0].LogisticMax = 0
		}},
		{"exponential with non-positive value", func(c *Config) {
			c.Weights[0].Growth = "exponential"
			c.Weights[0].Value = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validYAML))
			assert.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			assert.Error(t, err)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("run: [not a map"))
	assert.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 4, Run{WorkerCount: 4}.Workers())
	assert.Greater(t, Run{WorkerCount: 0}.Workers(), 0)
	assert.Greater(t, Run{WorkerCount: -1}.Workers(), 0)
}
