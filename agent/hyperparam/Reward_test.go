package hyperparam

import (
	"testing"

	"github.com/hypera/hypera/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardComponents(t *testing.T) {
	m := state.NewManager(0)
	m.RecordMetric("loss", 2.0)
	m.RecordMetric("loss", 1.0)
	m.RecordMetric("val_loss", 1.5)
	m.RecordMetric("val_loss", 1.5)

	r := newRewarder(DefaultRewardConfig())
	stability, generalization, efficiency := r.components(m)
	assert.Equal(t, 0.0, stability)
	assert.InDelta(t, -0.5, generalization, 1e-12)
	assert.InDelta(t, 0.5, efficiency, 1e-12)
}

func TestRewardMissingMetrics(t *testing.T) {
	r := newRewarder(DefaultRewardConfig())
	assert.Equal(t, 0.0, r.reward(state.NewManager(0)))
}

func TestRewardUnscaled(t *testing.T) {
	config := DefaultRewardConfig()
	config.AdaptiveScaling = false
	r := newRewarder(config)

	m := state.NewManager(0)
	m.RecordMetric("loss", 2.0)
	m.RecordMetric("loss", 1.0)
	m.RecordMetric("val_loss", 1.0)

	// 0.4 * 0 + 0.3 * 0.5
	assert.InDelta(t, 0.15, r.reward(m), 1e-12)
}

func TestRewardClipped(t *testing.T) {
	config := DefaultRewardConfig()
	config.AdaptiveScaling = false
	config.ClipMax = 0.1
	r := newRewarder(config)

	m := state.NewManager(0)
	m.RecordMetric("loss", 2.0)
	m.RecordMetric("loss", 1.0)
	assert.Equal(t, 0.1, r.reward(m))
}

func TestRewardAdaptiveScaling(t *testing.T) {
	config := DefaultRewardConfig()
	config.ScalingWindow = 3
	r := newRewarder(config)

	m := state.NewManager(0)
	for epoch, loss := range []float64{4, 2, 1, 0.5, 0.4} {
		m.SetEpoch(epoch)
		m.RecordMetric("loss", loss)
		r.reward(m)
	}
	require.Len(t, r.history, 3)

	r.reset()
	assert.Empty(t, r.history)
}

func TestRewardRepeatedWithinEpoch(t *testing.T) {
	r := newRewarder(DefaultRewardConfig())
	m := state.NewManager(0)
	for epoch, loss := range []float64{4, 2, 1.5} {
		m.SetEpoch(epoch)
		m.RecordMetric("loss", loss)
		r.reward(m)
	}

	m.SetEpoch(3)
	m.RecordMetric("loss", 1)
	first := r.reward(m)
	history := append([]float64{}, r.history...)

	assert.Equal(t, first, r.reward(m))
	assert.Equal(t, first, r.reward(m))
	assert.Equal(t, history, r.history)
	assert.Len(t, r.history, 4)
}

func TestRewardConfigValidate(t *testing.T) {
	config := DefaultRewardConfig()
	config.ClipMin = 10
	assert.Error(t, config.Validate())

	config = DefaultRewardConfig()
	config.ScalingWindow = 1
	assert.Error(t, config.Validate())
}
