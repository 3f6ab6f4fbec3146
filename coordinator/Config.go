package coordinator

import "fmt"

// Resolution is a conflict resolution mode
type Resolution string

const (
	// WeightedAverage combines decisions by their element-wise mean
	// weighted by agent weight
	WeightedAverage Resolution = "weighted_average"

	// Priority selects the decision of the highest weighted agent
	Priority Resolution = "priority"

	// Voting binarizes the element-wise mean of all decisions at 0.5
	Voting Resolution = "voting"
)

// Config configures a Coordinator
type Config struct {
	// Resolution is the conflict resolution mode. Unknown modes select
	// the first available decision.
	Resolution Resolution `yaml:"conflict_resolution"`

	// WeightWindow is the number of recent rewards an agent's weight
	// is computed from
	WeightWindow int `yaml:"weight_window"`

	// MinWeight is the floor of an agent's weight before weights are
	// renormalized
	MinWeight float64 `yaml:"min_weight"`
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		Resolution:   WeightedAverage,
		WeightWindow: 10,
		MinWeight:    0.1,
	}
}

// Validate returns an error if the configuration is invalid
func (c Config) Validate() error {
	if c.WeightWindow < 1 {
		return fmt.Errorf("validate: weight window must be >= 1, got %d",
			c.WeightWindow)
	}
	if c.MinWeight <= 0 {
		return fmt.Errorf("validate: minimum weight must be positive, got %v",
			c.MinWeight)
	}
	return nil
}

// Known returns whether r is one of the defined resolution modes
func (r Resolution) Known() bool {
	switch r {
	case WeightedAverage, Priority, Voting:
		return true
	}
	return false
}
