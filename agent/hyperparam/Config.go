package hyperparam

import (
	"fmt"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
)

func init() {
	agent.Register(agent.LearningRate, func() agent.Config {
		return DefaultLearningRateConfig()
	})
	agent.Register(agent.ClassWeights, func() agent.Config {
		return DefaultClassWeightsConfig()
	})
}

// Config holds the configuration shared by all hyperparameter agents
type Config struct {
	Name     string               `yaml:"name"`
	Schedule agent.ScheduleConfig `yaml:",inline"`

	// Metrics are the names of the metrics summarized in the state
	Metrics  []string `yaml:"metrics"`
	StateDim int      `yaml:"state_dim"`

	// EnhancedState selects the enhanced state vector of shared state
	// over raw metric histories whenever it is available
	EnhancedState bool `yaml:"enhanced_state"`

	Discount float64               `yaml:"discount"`
	Reward   RewardConfig          `yaml:"reward"`
	Policy   policy.GaussianConfig `yaml:"policy"`
	Seed     uint64                `yaml:"seed"`
}

// Validate returns an error if the configuration is invalid
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("validate: agent must have a name")
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if c.StateDim < 1 {
		return fmt.Errorf("validate: state dimension must be positive, got %d",
			c.StateDim)
	}
	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1], got %v",
			c.Discount)
	}
	if err := c.Reward.Validate(); err != nil {
		return err
	}
	return c.Policy.Validate()
}

// LearningRateConfig configures a learning rate agent
type LearningRateConfig struct {
	Config       `yaml:",inline"`
	InitialValue float64 `yaml:"initial_value"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
}

// DefaultLearningRateConfig returns the default learning rate agent
// configuration
func DefaultLearningRateConfig() LearningRateConfig {
	return LearningRateConfig{
		Config: Config{
			Name: "learning_rate_agent",
			Schedule: agent.ScheduleConfig{
				UpdateFrequency: 1,
				Patience:        3,
				Cooldown:        5,
			},
			Metrics:       []string{"loss", "val_loss", "dice_score"},
			StateDim:      20,
			EnhancedState: true,
			Discount:      0.99,
			Reward:        DefaultRewardConfig(),
			Policy:        policy.DefaultGaussianConfig(),
		},
		InitialValue: 1e-3,
		Min:          1e-6,
		Max:          1e-1,
	}
}

// Type implements the agent.Config interface
func (c LearningRateConfig) Type() agent.Type {
	return agent.LearningRate
}

// Validate implements the agent.Config interface
func (c LearningRateConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Min <= 0 {
		return fmt.Errorf("validate: minimum learning rate must be positive, "+
			"got %v", c.Min)
	}
	if c.Min >= c.Max {
		return fmt.Errorf("validate: minimum learning rate %v must be below "+
			"the maximum %v", c.Min, c.Max)
	}
	if c.InitialValue < c.Min || c.InitialValue > c.Max {
		return fmt.Errorf("validate: initial learning rate %v outside of "+
			"[%v, %v]", c.InitialValue, c.Min, c.Max)
	}
	return nil
}

// ClassWeightsConfig configures a class weights agent
type ClassWeightsConfig struct {
	Config     `yaml:",inline"`
	NumClasses int `yaml:"num_classes"`

	// InitialWeights defaults to one for each class
	InitialWeights []float64 `yaml:"initial_weights"`
	Min            float64   `yaml:"min"`
	Max            float64   `yaml:"max"`
}

// DefaultClassWeightsConfig returns the default class weights agent
// configuration
func DefaultClassWeightsConfig() ClassWeightsConfig {
	return ClassWeightsConfig{
		Config: Config{
			Name: "class_weights_agent",
			Schedule: agent.ScheduleConfig{
				UpdateFrequency: 10,
				Patience:        8,
				Cooldown:        15,
			},
			Metrics: []string{"loss", "val_loss", "dice_score",
				"class_dice"},
			StateDim:      24,
			EnhancedState: true,
			Discount:      0.99,
			Reward:        DefaultRewardConfig(),
			Policy:        policy.DefaultGaussianConfig(),
		},
		NumClasses: 2,
		Min:        0.5,
		Max:        5.0,
	}
}

// Type implements the agent.Config interface
func (c ClassWeightsConfig) Type() agent.Type {
	return agent.ClassWeights
}

// Validate implements the agent.Config interface
func (c ClassWeightsConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.NumClasses < 1 {
		return fmt.Errorf("validate: need at least one class, got %d",
			c.NumClasses)
	}
	if c.Min <= 0 {
		return fmt.Errorf("validate: minimum class weight must be positive, "+
			"got %v", c.Min)
	}
	if c.Min >= c.Max {
		return fmt.Errorf("validate: minimum class weight %v must be below "+
			"the maximum %v", c.Min, c.Max)
	}
	if c.InitialWeights == nil {
		if c.Min > 1.0 || c.Max < 1.0 {
			return fmt.Errorf("validate: default initial weight 1 outside of "+
				"[%v, %v]", c.Min, c.Max)
		}
		return nil
	}
	if len(c.InitialWeights) != c.NumClasses {
		return fmt.Errorf("validate: invalid number of initial weights"+
			"\n\twant(%v)\n\thave(%v)", c.NumClasses, len(c.InitialWeights))
	}
	for _, w := range c.InitialWeights {
		if w < c.Min || w > c.Max {
			return fmt.Errorf("validate: initial weight %v outside of "+
				"[%v, %v]", w, c.Min, c.Max)
		}
	}
	return nil
}

// initialWeights returns the initial class weights
func (c ClassWeightsConfig) initialWeights() agent.Value {
	if c.InitialWeights != nil {
		return agent.Value(c.InitialWeights).Copy()
	}
	weights := make(agent.Value, c.NumClasses)
	for i := range weights {
		weights[i] = 1.0
	}
	return weights
}
