// Package state implements the shared state that hyperparameter and
// segmentation agents observe and write back to during a training run.
//
// A single Manager is created per training run and passed explicitly to
// every agent and coordinator that needs it. Agents are stepped
// sequentially, so the Manager is not safe for concurrent use.
package state

import "gonum.org/v1/gonum/mat"

// Metrics is the view of shared state used by hyperparameter agents
type Metrics interface {
	// MetricHistory returns at most the last window values recorded
	// for a metric, most recent last. A window <= 0 returns the full
	// history.
	MetricHistory(name string, window int) []float64

	// LatestMetric returns the most recent value of a metric and
	// whether the metric has been recorded at all
	LatestMetric(name string) (float64, bool)

	// EnhancedStateVector returns summary features of the named
	// metrics, possibly empty
	EnhancedStateVector(names []string) []float64

	// OverfittingSignals returns signals of overfitting keyed by name,
	// possibly empty
	OverfittingSignals() map[string]float64

	CurrentEpoch() int

	// TotalEpochs returns the number of epochs in the training run and
	// whether it is known
	TotalEpochs() (int, bool)

	SetHyperparameter(key string, value []float64)
}

// Segmentation is the view of shared state used by segmentation agents
// and their coordinator. Images, masks and predictions are single
// channel H x W matrices; any of them may be nil if not yet set.
type Segmentation interface {
	CurrentImage() *mat.Dense
	SetCurrentImage(*mat.Dense)

	// CurrentMask returns the ground truth mask of the current image
	CurrentMask() *mat.Dense
	GroundTruth() *mat.Dense

	CurrentPrediction() *mat.Dense
	SetCurrentPrediction(*mat.Dense)

	// UpdateSegmentation records a refined segmentation of the current
	// image
	UpdateSegmentation(*mat.Dense)

	SetFeature(key string, value *mat.Dense)
	Step() int
}
