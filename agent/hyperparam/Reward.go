package hyperparam

import (
	"fmt"
	"math"

	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/utils/floatutils"
	"gonum.org/v1/gonum/stat"
)

// stabilityWindow is the number of val_loss values the stability
// component is computed over
const stabilityWindow = 5

// RewardConfig configures the reward of a hyperparameter agent.
//
// The reward is a weighted sum of three components computed from
// shared state after an epoch:
//
//	stability      = -std(recent val_loss)
//	generalization = -(val_loss - loss)
//	efficiency     = (previous loss - loss) / |previous loss|
//
// Missing metrics contribute 0. With AdaptiveScaling the raw reward is
// standardized by the mean and standard deviation of the last
// ScalingWindow raw rewards before it is clipped to [ClipMin, ClipMax].
type RewardConfig struct {
	StabilityWeight      float64 `yaml:"stability_weight"`
	GeneralizationWeight float64 `yaml:"generalization_weight"`
	EfficiencyWeight     float64 `yaml:"efficiency_weight"`

	ClipMin float64 `yaml:"clip_min"`
	ClipMax float64 `yaml:"clip_max"`

	AdaptiveScaling bool `yaml:"adaptive_scaling"`
	ScalingWindow   int  `yaml:"scaling_window"`
}

// DefaultRewardConfig returns the default reward configuration
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		StabilityWeight:      0.3,
		GeneralizationWeight: 0.4,
		EfficiencyWeight:     0.3,
		ClipMin:              -10.0,
		ClipMax:              10.0,
		AdaptiveScaling:      true,
		ScalingWindow:        100,
	}
}

// Validate returns an error if the configuration is invalid
func (r RewardConfig) Validate() error {
	if r.ClipMin >= r.ClipMax {
		return fmt.Errorf("validate: invalid reward clip range [%v, %v]",
			r.ClipMin, r.ClipMax)
	}
	if r.AdaptiveScaling && r.ScalingWindow < 2 {
		return fmt.Errorf("validate: reward scaling window must be at "+
			"least 2, got %d", r.ScalingWindow)
	}
	return nil
}

// rewarder computes rewards from shared state
type rewarder struct {
	config  RewardConfig
	history []float64 // Raw rewards used for adaptive scaling
	epoch   int       // Epoch of the last raw reward in history
}

func newRewarder(config RewardConfig) *rewarder {
	return &rewarder{config: config}
}

// components returns the stability, generalization and efficiency
// components of the reward
func (r *rewarder) components(m state.Metrics) (float64, float64,
	float64) {
	var stability, generalization, efficiency float64

	if valLoss := m.MetricHistory("val_loss", stabilityWindow); len(
		valLoss) > 1 {
		stability = -floatutils.StdDev(valLoss)
	}

	if gap, ok := m.OverfittingSignals()["generalization_gap"]; ok {
		generalization = -gap
	}

	if loss := m.MetricHistory("loss", 2); len(loss) == 2 && loss[0] != 0 {
		efficiency = (loss[0] - loss[1]) / math.Abs(loss[0])
	}

	return stability, generalization, efficiency
}

// reward computes the reward from the current contents of m. The
// scaling history holds one raw reward per epoch, so a second call in
// the same epoch replaces that epoch's raw reward instead of adding
// another.
func (r *rewarder) reward(m state.Metrics) float64 {
	stability, generalization, efficiency := r.components(m)
	raw := r.config.StabilityWeight*stability +
		r.config.GeneralizationWeight*generalization +
		r.config.EfficiencyWeight*efficiency

	reward := raw
	if r.config.AdaptiveScaling {
		if epoch := m.CurrentEpoch(); len(r.history) > 0 && r.epoch == epoch {
			r.history[len(r.history)-1] = raw
		} else {
			r.history = append(r.history, raw)
			r.epoch = epoch
		}
		if len(r.history) > r.config.ScalingWindow {
			r.history = r.history[len(r.history)-r.config.ScalingWindow:]
		}
		if len(r.history) > 1 {
			mean, std := stat.PopMeanStdDev(r.history, nil)
			if std > 1e-8 {
				reward = (raw - mean) / std
			}
		}
	}

	return floatutils.Clip(reward, r.config.ClipMin, r.config.ClipMax)
}

func (r *rewarder) reset() {
	r.history = nil
	r.epoch = 0
}
