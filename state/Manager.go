package state

import (
	"github.com/hypera/hypera/utils/floatutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultWindow is the number of recent epochs summarized by the
// enhanced state vector and overfitting signals
const DefaultWindow = 10

// Manager implements an in-memory store of training metrics,
// hyperparameters and segmentation tensors. Manager implements both
// Metrics and Segmentation.
type Manager struct {
	window int

	metrics         map[string][]float64
	hyperparameters map[string][]float64
	features        map[string]*mat.Dense

	epoch       int
	totalEpochs int
	step        int

	image        *mat.Dense
	mask         *mat.Dense
	prediction   *mat.Dense
	segmentation *mat.Dense
}

// NewManager returns a new Manager whose enhanced state vector and
// overfitting signals summarize the last window epochs. If window < 2,
// DefaultWindow is used.
func NewManager(window int) *Manager {
	if window < 2 {
		window = DefaultWindow
	}
	return &Manager{
		window:          window,
		metrics:         make(map[string][]float64),
		hyperparameters: make(map[string][]float64),
		features:        make(map[string]*mat.Dense),
	}
}

// RecordMetric appends a value to the history of a metric
func (m *Manager) RecordMetric(name string, value float64) {
	m.metrics[name] = append(m.metrics[name], value)
}

// MetricHistory implements the Metrics interface
func (m *Manager) MetricHistory(name string, window int) []float64 {
	history := m.metrics[name]
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	return append([]float64{}, history...)
}

// LatestMetric implements the Metrics interface
func (m *Manager) LatestMetric(name string) (float64, bool) {
	history := m.metrics[name]
	if len(history) == 0 {
		return 0.0, false
	}
	return history[len(history)-1], true
}

// EnhancedStateVector returns, for each named metric with a recorded
// history, the features [latest, mean, std, slope] over the last
// window epochs. Metrics with no history are skipped, so the vector is
// empty if none of the named metrics have been recorded.
func (m *Manager) EnhancedStateVector(names []string) []float64 {
	vector := make([]float64, 0, 4*len(names))
	for _, name := range names {
		history := m.MetricHistory(name, m.window)
		if len(history) == 0 {
			continue
		}
		vector = append(vector, history[len(history)-1], stat.Mean(history,
			nil), floatutils.StdDev(history), floatutils.Slope(history))
	}
	return vector
}

// OverfittingSignals returns the generalization gap between the
// latest val_loss and loss, the trend of val_loss and the trend of
// the generalization gap. Both loss and val_loss must have been
// recorded, otherwise the returned map is empty.
func (m *Manager) OverfittingSignals() map[string]float64 {
	signals := make(map[string]float64)

	loss := m.MetricHistory("loss", m.window)
	valLoss := m.MetricHistory("val_loss", m.window)
	if len(loss) == 0 || len(valLoss) == 0 {
		return signals
	}

	n := len(loss)
	if len(valLoss) < n {
		n = len(valLoss)
	}
	gaps := make([]float64, n)
	for i := 0; i < n; i++ {
		gaps[i] = valLoss[len(valLoss)-n+i] - loss[len(loss)-n+i]
	}

	signals["generalization_gap"] = gaps[n-1]
	signals["val_loss_trend"] = floatutils.Slope(valLoss)
	signals["gap_trend"] = floatutils.Slope(gaps)
	return signals
}

// SetEpoch sets the current epoch
func (m *Manager) SetEpoch(epoch int) {
	m.epoch = epoch
}

// CurrentEpoch implements the Metrics interface
func (m *Manager) CurrentEpoch() int {
	return m.epoch
}

// SetTotalEpochs sets the number of epochs in the training run. A
// value <= 0 marks the total as unknown.
func (m *Manager) SetTotalEpochs(total int) {
	m.totalEpochs = total
}

// TotalEpochs implements the Metrics interface
func (m *Manager) TotalEpochs() (int, bool) {
	return m.totalEpochs, m.totalEpochs > 0
}

// SetHyperparameter implements the Metrics interface
func (m *Manager) SetHyperparameter(key string, value []float64) {
	m.hyperparameters[key] = append([]float64{}, value...)
}

// Hyperparameter returns a copy of the current value of a
// hyperparameter and whether it has been set
func (m *Manager) Hyperparameter(key string) ([]float64, bool) {
	value, ok := m.hyperparameters[key]
	if !ok {
		return nil, false
	}
	return append([]float64{}, value...), true
}

// SetStep sets the current training step
func (m *Manager) SetStep(step int) {
	m.step = step
}

// Step implements the Segmentation interface
func (m *Manager) Step() int {
	return m.step
}

// CurrentImage implements the Segmentation interface
func (m *Manager) CurrentImage() *mat.Dense {
	return m.image
}

// SetCurrentImage implements the Segmentation interface
func (m *Manager) SetCurrentImage(image *mat.Dense) {
	m.image = image
}

// CurrentMask implements the Segmentation interface
func (m *Manager) CurrentMask() *mat.Dense {
	return m.mask
}

// SetCurrentMask sets the ground truth mask of the current image
func (m *Manager) SetCurrentMask(mask *mat.Dense) {
	m.mask = mask
}

// GroundTruth implements the Segmentation interface
func (m *Manager) GroundTruth() *mat.Dense {
	return m.mask
}

// CurrentPrediction implements the Segmentation interface
func (m *Manager) CurrentPrediction() *mat.Dense {
	return m.prediction
}

// SetCurrentPrediction implements the Segmentation interface
func (m *Manager) SetCurrentPrediction(prediction *mat.Dense) {
	m.prediction = prediction
}

// UpdateSegmentation implements the Segmentation interface
func (m *Manager) UpdateSegmentation(segmentation *mat.Dense) {
	m.segmentation = segmentation
}

// CurrentSegmentation returns the last segmentation recorded with
// UpdateSegmentation
func (m *Manager) CurrentSegmentation() *mat.Dense {
	return m.segmentation
}

// SetFeature implements the Segmentation interface
func (m *Manager) SetFeature(key string, value *mat.Dense) {
	m.features[key] = value
}

// Feature returns the feature stored under key, or nil
func (m *Manager) Feature(key string) *mat.Dense {
	return m.features[key]
}
