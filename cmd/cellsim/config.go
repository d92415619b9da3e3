package main

import (
	"os"

	"github.com/myokit/beta/internal/model"
	"gopkg.in/yaml.v3"
)

// StimulusConfig mirrors a pacing.EventRecord in the YAML protocol file.
type StimulusConfig struct {
	Start      float64 `yaml:"start"`
	Duration   float64 `yaml:"duration"`
	Period     float64 `yaml:"period"`
	Multiplier float64 `yaml:"multiplier"`
	Level      float64 `yaml:"level"`
}

// Config is the on-disk protocol/run configuration cellsim loads via
// --config, following the teacher's config.Load/DefaultConfig shape.
type Config struct {
	TMax        float64            `yaml:"tmax"`
	LogInterval float64            `yaml:"log_interval"`
	Stimulus    StimulusConfig     `yaml:"stimulus"`
	AbsTol      float64            `yaml:"abs_tol"`
	RelTol      float64            `yaml:"rel_tol"`
	MaxStepSize float64            `yaml:"max_step_size"`
	Literals    map[string]float64 `yaml:"literals"`
	Parameters  map[string]float64 `yaml:"parameters"`
}

// DefaultConfig returns a one-beat run for the shipped Beeler-Reuter model,
// in milliseconds: a 2 ms stimulus at t=0, repeating every 1000 ms, run to
// tmax=1000 so only the first beat falls inside the run.
func DefaultConfig() *Config {
	return &Config{
		TMax:        1000,
		LogInterval: 1.0,
		Stimulus: StimulusConfig{
			Start:      0,
			Duration:   2,
			Period:     1000,
			Multiplier: 0,
			Level:      1,
		},
		AbsTol:      1e-6,
		RelTol:      1e-4,
		MaxStepSize: 1.0,
	}
}

// LoadConfig reads a YAML protocol file, defaulting any field it omits.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overrideByName copies defaults and applies any named override present in
// values, looking names up against the parallel names slice.
func overrideByName(names []string, defaults []float64, values map[string]float64) []float64 {
	out := append([]float64(nil), defaults...)
	for i, name := range names {
		if v, ok := values[name]; ok {
			out[i] = v
		}
	}
	return out
}

func (c *Config) literals(def model.Definition) []float64 {
	return overrideByName(def.LiteralNames, def.DefaultLiterals, c.Literals)
}

func (c *Config) parameters(def model.Definition) []float64 {
	return overrideByName(def.ParameterNames, def.DefaultParameters, c.Parameters)
}
