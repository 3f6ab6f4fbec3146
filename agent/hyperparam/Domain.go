package hyperparam

import (
	"fmt"
	"math"
	"sort"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/utils/floatutils"
	"gonum.org/v1/gonum/floats"
)

// classDiceMetric is the pseudo-metric naming the per-class dice
// scores dice_class_0, dice_class_1, ...
const classDiceMetric = "class_dice"

// classWeightsHistory is the history window of metrics in the raw
// class weights state
const classWeightsHistory = 5

// domain describes one kind of hyperparameter: the features its agent
// observes and how policy actions map to new values
type domain interface {
	// Key returns the shared state key of the hyperparameter
	Key() string
	ActionDim() int

	// Features returns the state features of the hyperparameter, not
	// yet fit to the state dimension
	Features(m state.Metrics, value agent.Value, epochsSinceUpdate int,
		enhanced bool) []float64

	// Apply maps an action of length ActionDim to a new value
	Apply(value agent.Value, action []float64) agent.Value

	// Format returns a printable value for logging
	Format(agent.Value) string
}

// learningRate is the domain of a scalar learning rate. Actions scale
// the learning rate by 3^action.
type learningRate struct {
	min, max float64
	metrics  []string
	stateDim int
}

func (l learningRate) Key() string {
	return "learning_rate"
}

func (l learningRate) ActionDim() int {
	return 1
}

// normalized returns the position of lr in [min, max] on a log scale
func (l learningRate) normalized(lr float64) float64 {
	return (math.Log10(lr) - math.Log10(l.min)) /
		(math.Log10(l.max) - math.Log10(l.min))
}

func (l learningRate) Features(m state.Metrics, value agent.Value,
	epochsSinceUpdate int, enhanced bool) []float64 {
	var features []float64

	if enhanced {
		features = m.EnhancedStateVector(l.metrics)
	}
	if len(features) > 0 {
		features = append(features, overfitting(m)...)
	} else {
		window := l.stateDim
		if len(l.metrics) > 0 {
			window = l.stateDim / len(l.metrics)
		}
		for _, name := range l.metrics {
			history := m.MetricHistory(name, window)
			if len(history) == 0 {
				features = append(features, 0.0, 0.0, 0.0)
				continue
			}
			features = append(features, history[len(history)-1],
				trend(history), floatutils.StdDev(history))
		}
	}

	features = append(features, l.normalized(value.Scalar()))
	return append(features, schedulingFeatures(m, epochsSinceUpdate)...)
}

func (l learningRate) Apply(value agent.Value, action []float64) agent.Value {
	factor := math.Pow(3.0, action[0])
	return agent.Value{floatutils.Clip(value.Scalar()*factor, l.min, l.max)}
}

func (l learningRate) Format(value agent.Value) string {
	return fmt.Sprintf("%.6f", value.Scalar())
}

// classWeights is the domain of per-class loss weights. Actions scale
// the weight of each class by 2^action, after which the weights are
// clipped and rescaled to a mean of 1.
type classWeights struct {
	min, max   float64
	numClasses int
	metrics    []string
}

func (c classWeights) Key() string {
	return "class_weights"
}

func (c classWeights) ActionDim() int {
	return c.numClasses
}

func (c classWeights) Features(m state.Metrics, value agent.Value,
	epochsSinceUpdate int, enhanced bool) []float64 {
	var features []float64

	if enhanced {
		features = m.EnhancedStateVector(c.metrics)
	}
	if len(features) > 0 {
		features = append(features, overfitting(m)...)
	} else {
		for _, name := range c.metrics {
			if name == classDiceMetric {
				continue
			}
			history := m.MetricHistory(name, classWeightsHistory)
			if len(history) == 0 {
				features = append(features, 0.0, 0.0)
				continue
			}
			features = append(features, history[len(history)-1],
				trend(history))
		}
	}

	for _, w := range value {
		features = append(features, (w-c.min)/(c.max-c.min))
	}

	overall, _ := m.LatestMetric("dice_score")
	for i := 0; i < c.numClasses; i++ {
		dice, ok := m.LatestMetric(fmt.Sprintf("dice_class_%d", i))
		if !ok {
			dice = overall
		}
		features = append(features, dice)
	}

	return append(features, schedulingFeatures(m, epochsSinceUpdate)...)
}

func (c classWeights) Apply(value agent.Value, action []float64) agent.Value {
	weights := make(agent.Value, c.numClasses)
	for i := range weights {
		factor := math.Pow(2.0, action[i])
		weights[i] = floatutils.Clip(value[i]*factor, c.min, c.max)
	}

	if sum := floats.Sum(weights); sum > 0 {
		floats.Scale(float64(c.numClasses)/sum, weights)
	}
	return weights
}

func (c classWeights) Format(value agent.Value) string {
	return fmt.Sprintf("%.4f", []float64(value))
}

// overfitting returns the overfitting signals of m ordered by name
func overfitting(m state.Metrics) []float64 {
	signals := m.OverfittingSignals()
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]float64, len(names))
	for i, name := range names {
		values[i] = signals[name]
	}
	return values
}

// schedulingFeatures returns the normalized epochs since the last
// update and the training progress
func schedulingFeatures(m state.Metrics, epochsSinceUpdate int) []float64 {
	progress := 0.0
	if total, ok := m.TotalEpochs(); ok {
		progress = float64(m.CurrentEpoch()) / float64(total)
	}
	return []float64{float64(epochsSinceUpdate) / 10.0, progress}
}

// trend returns the difference between the last and first values
func trend(history []float64) float64 {
	if len(history) < 2 {
		return 0.0
	}
	return history[len(history)-1] - history[0]
}
