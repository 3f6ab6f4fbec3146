package environment

import (
	"testing"

	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/timestep"
	"github.com/hypera/hypera/utils/matutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Trainer = &Synthetic{}

func newSynthetic(t *testing.T, lr float64) (*Synthetic, *state.Manager) {
	t.Helper()
	config := DefaultSyntheticConfig()
	config.Noise = 0
	config.Seed = 3
	m := state.NewManager(0)
	m.SetHyperparameter("learning_rate", []float64{lr})
	s, err := NewSynthetic(config, m)
	require.NoError(t, err)
	return s, m
}

func TestRunEpochRecordsMetrics(t *testing.T) {
	s, m := newSynthetic(t, 3e-3)
	require.NoError(t, s.RunEpoch(0))

	for _, name := range []string{"loss", "val_loss", "dice_score",
		"dice_class_0", "dice_class_1"} {
		_, ok := m.LatestMetric(name)
		assert.True(t, ok, name)
	}
	total, ok := m.TotalEpochs()
	assert.True(t, ok)
	assert.Equal(t, 50, total)
	assert.Equal(t, 0, m.CurrentEpoch())

	loss, _ := m.LatestMetric("loss")
	valLoss, _ := m.LatestMetric("val_loss")
	assert.GreaterOrEqual(t, valLoss, loss)
}

func TestRunEpochOutOfRange(t *testing.T) {
	s, _ := newSynthetic(t, 3e-3)
	assert.Error(t, s.RunEpoch(-1))
	assert.Error(t, s.RunEpoch(s.Epochs()))
}

func TestLearningRateResponse(t *testing.T) {
	lossAfter := func(lr float64) float64 {
		s, m := newSynthetic(t, lr)
		for epoch := 0; epoch < 10; epoch++ {
			require.NoError(t, s.RunEpoch(epoch))
		}
		loss, _ := m.LatestMetric("loss")
		return loss
	}

	optimal := lossAfter(3e-3)
	assert.Less(t, optimal, lossAfter(1e-5))
	assert.Less(t, optimal, 1.0)
	assert.Greater(t, lossAfter(1.0), 1.0)
}

func TestClassWeightsResponse(t *testing.T) {
	s, m := newSynthetic(t, 3e-3)
	m.SetHyperparameter("class_weights", []float64{0.6, 1.4})
	require.NoError(t, s.RunEpoch(0))
	ideal, _ := m.LatestMetric("dice_class_1")

	s, m = newSynthetic(t, 3e-3)
	m.SetHyperparameter("class_weights", []float64{1.6, 0.4})
	require.NoError(t, s.RunEpoch(0))
	skewed, _ := m.LatestMetric("dice_class_1")

	assert.Greater(t, ideal, skewed)
}

func TestStep(t *testing.T) {
	s, m := newSynthetic(t, 3e-3)
	require.NoError(t, s.RunEpoch(0))
	require.NoError(t, s.Step(timestep.New(timestep.Mid, 0, 5, 0)))

	assert.Equal(t, 5, m.Step())
	image, mask, pred := m.CurrentImage(), m.CurrentMask(),
		m.CurrentPrediction()
	require.NotNil(t, image)
	assert.True(t, matutils.SameShape(image, mask))
	assert.True(t, matutils.SameShape(image, pred))

	ratio := matutils.Ratio(mask, 0.5)
	assert.Greater(t, ratio, 0.0)
	assert.Less(t, ratio, 1.0)

	// Without noise, the prediction agrees with the mask everywhere
	tp, fp, fn, _ := matutils.Confusion(pred, mask, 0.5)
	assert.Zero(t, fp)
	assert.Zero(t, fn)
	assert.Greater(t, tp, 0.0)
}

func TestSyntheticConfigValidate(t *testing.T) {
	config := DefaultSyntheticConfig()
	require.NoError(t, config.Validate())

	config.IdealClassWeights = []float64{1}
	assert.Error(t, config.Validate())

	config = DefaultSyntheticConfig()
	config.FGRatio = 1
	assert.Error(t, config.Validate())

	config = DefaultSyntheticConfig()
	config.Epochs = 0
	assert.Error(t, config.Validate())
}
