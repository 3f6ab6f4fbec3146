// Package config loads the YAML configuration of a training run and
// builds the run it describes.
package config

import (
	"fmt"
	"os"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/agent/hyperparam"
	"github.com/hypera/hypera/agent/segmentation"
	"github.com/hypera/hypera/coordinator"
	"github.com/hypera/hypera/environment"
	"github.com/hypera/hypera/experiment"
	"gopkg.in/yaml.v3"
)

// RunConfig is the configuration of a training run. Sections absent
// from a configuration file keep their defaults.
//
//	seed: 7
//	environment:
//	  epochs: 100
//	agents:
//	  - type: LearningRate
//	    name: lr
//	    initial_value: 0.001
//	  - type: FGBalance
//	coordinator:
//	  conflict_resolution: weighted_average
type RunConfig struct {
	// Seed seeds the training run and every agent without a seed of
	// its own
	Seed uint64 `yaml:"seed"`

	// StateWindow is the number of epochs summarized by the enhanced
	// state vector of shared state
	StateWindow int `yaml:"state_window"`

	Environment environment.SyntheticConfig `yaml:"environment"`
	Agents      []agent.TypedConfig         `yaml:"agents"`
	Coordinator coordinator.Config          `yaml:"coordinator"`
	Experiment  experiment.Config           `yaml:"experiment"`

	// Journal is the path of the SQLite audit journal, or empty to not
	// keep one
	Journal string `yaml:"journal"`
}

// Default returns the default run: a learning rate agent, a class
// weights agent and a foreground-background balance agent tuning a
// synthetic training run
func Default() RunConfig {
	return RunConfig{
		StateWindow: 10,
		Environment: environment.DefaultSyntheticConfig(),
		Agents: []agent.TypedConfig{
			{Config: hyperparam.DefaultLearningRateConfig()},
			{Config: hyperparam.DefaultClassWeightsConfig()},
			{Config: segmentation.DefaultFGBalanceConfig()},
		},
		Coordinator: coordinator.DefaultConfig(),
		Experiment:  experiment.DefaultConfig(),
	}
}

// Load reads the RunConfig in the YAML file at path
func Load(path string) (RunConfig, error) {
	in, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load: %v", err)
	}
	return Parse(in)
}

// Parse decodes and validates a YAML RunConfig
func Parse(in []byte) (RunConfig, error) {
	c := Default()
	if err := yaml.Unmarshal(in, &c); err != nil {
		return RunConfig{}, fmt.Errorf("parse: %v", err)
	}
	if err := c.Validate(); err != nil {
		return RunConfig{}, fmt.Errorf("parse: %v", err)
	}
	return c, nil
}

// Validate returns an error if the configuration is invalid
func (c RunConfig) Validate() error {
	if err := c.Environment.Validate(); err != nil {
		return fmt.Errorf("environment: %v", err)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %v", err)
	}
	if err := c.Experiment.Validate(); err != nil {
		return fmt.Errorf("experiment: %v", err)
	}

	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Config == nil {
			return fmt.Errorf("agents: agent %d has no configuration", i)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents: %v: %v", a.Type(), err)
		}

		name := agentName(a.Config)
		if names[name] {
			return fmt.Errorf("agents: duplicate agent name %q", name)
		}
		names[name] = true

		if cw, ok := a.Config.(hyperparam.ClassWeightsConfig); ok &&
			cw.NumClasses != c.Environment.NumClasses {
			return fmt.Errorf("agents: %v has %d classes, the environment "+
				"has %d", name, cw.NumClasses, c.Environment.NumClasses)
		}
	}
	return nil
}

// agentName returns the name of the agent configured by c
func agentName(c agent.Config) string {
	switch c := c.(type) {
	case hyperparam.LearningRateConfig:
		return c.Name
	case hyperparam.ClassWeightsConfig:
		return c.Name
	case segmentation.FGBalanceConfig:
		return c.Name
	}
	return string(c.Type())
}
