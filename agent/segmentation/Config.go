package segmentation

import (
	"fmt"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
)

func init() {
	agent.Register(agent.FGBalance, func() agent.Config {
		return DefaultFGBalanceConfig()
	})
}

// FGBalanceConfig configures a foreground-background balance agent
type FGBalanceConfig struct {
	Name string `yaml:"name"`

	InitialThreshold float64 `yaml:"initial_threshold"`
	MinThreshold     float64 `yaml:"min_threshold"`
	MaxThreshold     float64 `yaml:"max_threshold"`
	ThresholdStep    float64 `yaml:"threshold_step"`

	// AvgDecay is the decay of the moving average of the predicted
	// foreground ratio
	AvgDecay float64 `yaml:"avg_decay"`

	// PoolSize is the side of the grid images are average pooled to
	// before they are input to the network
	PoolSize int `yaml:"pool_size"`

	// UpdateFrequency is the number of steps between learning steps
	UpdateFrequency int     `yaml:"update_frequency"`
	Gamma           float64 `yaml:"gamma"`

	// StateDim and ActionDim are the dimensions of the continuous
	// policy used to refine segmentations
	StateDim  int `yaml:"state_dim"`
	ActionDim int `yaml:"action_dim"`

	Network    policy.CategoricalConfig `yaml:"network"`
	Continuous policy.GaussianConfig    `yaml:"continuous"`
	Seed       uint64                   `yaml:"seed"`
}

// DefaultFGBalanceConfig returns the default foreground-background
// balance agent configuration
func DefaultFGBalanceConfig() FGBalanceConfig {
	return FGBalanceConfig{
		Name:             "fg_balance",
		InitialThreshold: 0.5,
		MinThreshold:     0.1,
		MaxThreshold:     0.9,
		ThresholdStep:    0.05,
		AvgDecay:         0.9,
		PoolSize:         8,
		UpdateFrequency:  2,
		Gamma:            0.99,
		StateDim:         10,
		ActionDim:        1,
		Network: policy.DefaultCategoricalConfig([]int{256, 128, 64},
			3e-4),
		Continuous: policy.DefaultGaussianConfig(),
	}
}

// Type implements the agent.Config interface
func (c FGBalanceConfig) Type() agent.Type {
	return agent.FGBalance
}

// Validate implements the agent.Config interface
func (c FGBalanceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("validate: agent must have a name")
	}
	if c.MinThreshold < 0 || c.MaxThreshold > 1 ||
		c.MinThreshold >= c.MaxThreshold {
		return fmt.Errorf("validate: invalid threshold range [%v, %v]",
			c.MinThreshold, c.MaxThreshold)
	}
	if c.InitialThreshold < c.MinThreshold ||
		c.InitialThreshold > c.MaxThreshold {
		return fmt.Errorf("validate: initial threshold %v outside of "+
			"[%v, %v]", c.InitialThreshold, c.MinThreshold, c.MaxThreshold)
	}
	if c.ThresholdStep <= 0 {
		return fmt.Errorf("validate: threshold step must be positive")
	}
	if c.AvgDecay < 0 || c.AvgDecay >= 1 {
		return fmt.Errorf("validate: average decay must be in [0, 1), got %v",
			c.AvgDecay)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("validate: pool size must be positive")
	}
	if c.UpdateFrequency < 1 {
		return fmt.Errorf("validate: update frequency must be >= 1")
	}
	if c.StateDim < 1 || c.ActionDim < 1 {
		return fmt.Errorf("validate: state and action dimensions must be "+
			"positive, got (%d, %d)", c.StateDim, c.ActionDim)
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	return c.Continuous.Validate()
}
