package segmentation

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
	"github.com/hypera/hypera/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var _ agent.Segmentation = &FGBalance{}

func testConfig(seed uint64) FGBalanceConfig {
	config := DefaultFGBalanceConfig()
	config.PoolSize = 2
	config.Network = policy.DefaultCategoricalConfig([]int{8}, 0.01)
	config.Seed = seed
	return config
}

func newFGBalance(t *testing.T, seed uint64) (*FGBalance, *state.Manager) {
	t.Helper()
	m := state.NewManager(0)
	f, err := NewFGBalance(testConfig(seed), m)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, m
}

func setTensors(m *state.Manager) {
	m.SetCurrentImage(mat.NewDense(2, 2, []float64{0.1, 0.2, 0.3, 0.4}))
	m.SetCurrentMask(mat.NewDense(2, 2, []float64{1, 0, 0, 0}))
	m.SetCurrentPrediction(mat.NewDense(2, 2, []float64{0.9, 0.6, 0.2, 0.1}))
}

func scalar(t *testing.T, f agent.Features, key string) float64 {
	t.Helper()
	v, ok := f.Scalar(key)
	require.True(t, ok, key)
	return v
}

func TestObserveMissingTensors(t *testing.T) {
	f, m := newFGBalance(t, 1)
	assert.Empty(t, f.Observe())

	m.SetCurrentImage(mat.NewDense(2, 2, nil))
	m.SetCurrentMask(mat.NewDense(2, 2, nil))
	assert.Empty(t, f.Observe())
	assert.Equal(t, 0, f.State().ObservationHistory)
}

func TestObserveShapeMismatch(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)
	m.SetCurrentPrediction(mat.NewDense(3, 3, nil))
	assert.Empty(t, f.Observe())
}

func TestObserve(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)

	obs := f.Observe()
	assert.Equal(t, 0.25, scalar(t, obs, GTFGRatio))
	assert.Equal(t, 0.5, scalar(t, obs, PredFGRatio))
	assert.Equal(t, 0.25, scalar(t, obs, TargetFGRatio))
	assert.InDelta(t, 0.5, scalar(t, obs, AvgFGRatio), 1e-12)
	assert.Equal(t, 0.5, scalar(t, obs, Precision))
	assert.Equal(t, 1.0, scalar(t, obs, Recall))
	assert.InDelta(t, 2.0/3, scalar(t, obs, F1Score), 1e-12)
	assert.Equal(t, 0.75, scalar(t, obs, FGWeight))
	assert.Equal(t, 0.25, scalar(t, obs, BGWeight))
	assert.Equal(t, 0.25, scalar(t, obs, FGRatioDiff))
	assert.Equal(t, 0.5, scalar(t, obs, Threshold))
	assert.NotNil(t, obs[agent.CurrentImage])

	// The moving average decays toward the predicted ratio
	m.SetCurrentPrediction(mat.NewDense(2, 2, []float64{1, 1, 1, 1}))
	obs = f.Observe()
	assert.InDelta(t, 0.9*0.5+0.1*1.0, scalar(t, obs, AvgFGRatio), 1e-12)
	assert.Equal(t, 2, f.State().ObservationHistory)
}

func TestDecideEmpty(t *testing.T) {
	f, _ := newFGBalance(t, 1)
	d := f.Decide(agent.Features{})
	assert.Equal(t, agent.NoAction, d.Action)
	assert.Nil(t, d.Output)
	assert.Equal(t, 0.5, f.Threshold())
}

func TestDecide(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)
	f.Eval()

	obs := f.Observe()
	d := f.Decide(obs)
	require.Len(t, d.Probabilities, 3)

	want := map[int]float64{
		IncreaseThreshold: 0.55,
		DecreaseThreshold: 0.45,
		HoldThreshold:     0.5,
	}[d.Action]
	assert.InDelta(t, want, f.Threshold(), 1e-12)
	assert.Equal(t, f.Threshold(), d.Info[Threshold])

	require.NotNil(t, d.Output)
	assert.True(t, mat.Equal(d.Output, mat.NewDense(2, 2, []float64{
		1, 1, 0, 0})))
	assert.Equal(t, 1, f.State().ActionHistory)
}

func TestThresholdBounds(t *testing.T) {
	f, _ := newFGBalance(t, 1)
	for i := 0; i < 20; i++ {
		f.adjust(IncreaseThreshold)
	}
	assert.Equal(t, 0.9, f.Threshold())

	for i := 0; i < 20; i++ {
		f.adjust(DecreaseThreshold)
	}
	assert.Equal(t, 0.1, f.Threshold())
}

func TestApplyAction(t *testing.T) {
	f, m := newFGBalance(t, 1)
	assert.Nil(t, f.ApplyAction([]float64{1}, agent.Features{}))
	assert.Equal(t, 0.5, f.Threshold())

	setTensors(m)
	for _, test := range []struct {
		action    float64
		threshold float64
	}{
		{0.5, 0.55},
		{0.2, 0.55},
		{-0.33, 0.55},
		{-0.5, 0.5},
		{-1, 0.45},
	} {
		m.SetCurrentPrediction(mat.NewDense(2, 2, []float64{
			0.9, 0.6, 0.2, 0.1}))
		out := f.ApplyAction([]float64{test.action}, agent.Features{})
		require.NotNil(t, out)
		assert.InDelta(t, test.threshold, f.Threshold(), 1e-12,
			"action %v", test.action)
		assert.Equal(t, out, m.CurrentPrediction())
	}
}

func TestApplyActionUsesObservation(t *testing.T) {
	f, m := newFGBalance(t, 1)
	preds := mat.NewDense(1, 2, []float64{0.7, 0.3})

	out := f.ApplyAction(nil, agent.Features{agent.CurrentSegmentation: preds})
	assert.True(t, mat.Equal(mat.NewDense(1, 2, []float64{1, 0}), out))
	assert.Equal(t, out, m.CurrentPrediction())
}

func TestStateRepresentation(t *testing.T) {
	f, m := newFGBalance(t, 1)
	assert.Equal(t, make([]float64, 10), f.StateRepresentation(nil))

	setTensors(m)
	obs := f.Observe()
	s := f.StateRepresentation(obs)
	require.Len(t, s, 10)

	// Pooled 2 x 2 prediction, then the two ratios, then padding
	assert.Equal(t, []float64{0.9, 0.6, 0.2, 0.1, 0.5, 0.25}, s[:6])
	assert.Equal(t, make([]float64, 4), s[6:])

	s = f.StateRepresentation(agent.Features{
		agent.CurrentSegmentation: mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
	})
	assert.Equal(t, []float64{1, 2, 3, 4, 0.5, 0.5}, s[:6])
}

func TestUpdateGating(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)

	// Too early to learn
	f.Decide(f.Observe())
	metrics, err := f.Update(1, false)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	// Enough steps, but a single decision
	m.SetStep(2)
	metrics, err = f.Update(1, false)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	f.Decide(f.Observe())
	m.SetStep(3)
	metrics, err = f.Update(1, false)
	require.NoError(t, err)
	assert.Empty(t, metrics)

	m.SetStep(4)
	metrics, err = f.Update(0.5, false)
	require.NoError(t, err)
	assert.Contains(t, metrics, "policy_loss")
	assert.Equal(t, 0.5, metrics["reward"])
	assert.Equal(t, f.Threshold(), metrics[Threshold])
	assert.Equal(t, 0.25, metrics[TargetFGRatio])
	assert.Equal(t, 4, f.State().RewardHistory)
}

func TestUpdateChangesPolicy(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)
	obs := f.Observe()
	f.Decide(obs)
	f.Decide(obs)
	action := f.actions[len(f.actions)-1]

	features := f.observations[0].Features
	before, err := f.network.Probabilities(features)
	require.NoError(t, err)

	f.Update(1, false)
	m.SetStep(10)
	_, err = f.Update(1, false)
	require.NoError(t, err)

	after, err := f.network.Probabilities(features)
	require.NoError(t, err)
	assert.Greater(t, after[action], before[action])
}

func TestStateRoundTrip(t *testing.T) {
	f, _ := newFGBalance(t, 1)
	s := f.State()
	s.Threshold = 0.3
	s.TargetFGRatio = 0.2
	s.LearningRate = 0.5
	s.UpdateFrequency = 7
	s.Training = false
	require.NoError(t, f.SetState(s))

	got := f.State()
	assert.Equal(t, 0.3, got.Threshold)
	assert.Equal(t, 0.2, got.TargetFGRatio)
	assert.Equal(t, 0.5, got.LearningRate)
	assert.Equal(t, 7, got.UpdateFrequency)
	assert.False(t, got.Training)
	assert.True(t, f.IsEval())

	s.UpdateFrequency = 0
	assert.Error(t, f.SetState(s))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fg_balance_agent")
	f, m := newFGBalance(t, 1)
	setTensors(m)
	f.Decide(f.Observe())
	f.adjust(IncreaseThreshold)
	f.adjust(IncreaseThreshold)
	f.Eval()
	require.NoError(t, f.Save(path))

	g, _ := newFGBalance(t, 2)
	require.NotEqual(t, f.Threshold(), g.Threshold())
	require.NoError(t, g.Load(path))

	assert.Equal(t, f.Threshold(), g.Threshold())
	assert.Equal(t, f.State().TargetFGRatio, g.State().TargetFGRatio)
	assert.Equal(t, f.State().AvgFGRatio, g.State().AvgFGRatio)
	assert.True(t, g.IsEval())

	input := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.25}
	want, err := f.network.Probabilities(input)
	require.NoError(t, err)
	have, err := g.network.Probabilities(input)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, have, 1e-12)

	state := mat.NewVecDense(10, []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	assert.Equal(t, f.Policy().SelectAction(state),
		g.Policy().SelectAction(state))
}

func TestLoadMissing(t *testing.T) {
	f, _ := newFGBalance(t, 1)
	err := f.Load(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, agent.ErrCheckpointNotFound))
	assert.Equal(t, 0.5, f.Threshold())
}

func TestLoadIncompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fg_balance_agent")
	config := testConfig(1)
	config.Network = policy.DefaultCategoricalConfig([]int{4}, 0.01)
	f, err := NewFGBalance(config, state.NewManager(0))
	require.NoError(t, err)
	f.adjust(IncreaseThreshold)
	require.NoError(t, f.Save(path))

	g, _ := newFGBalance(t, 1)
	assert.Error(t, g.Load(path))
	assert.Equal(t, 0.5, g.Threshold())
}

func TestReset(t *testing.T) {
	f, m := newFGBalance(t, 1)
	setTensors(m)
	f.Decide(f.Observe())
	f.Update(1, false)
	f.adjust(IncreaseThreshold)

	require.NoError(t, f.Reset())
	s := f.State()
	assert.Equal(t, 0.5, s.Threshold)
	assert.Equal(t, 0.5, s.TargetFGRatio)
	assert.Equal(t, 0.5, s.AvgFGRatio)
	assert.Zero(t, s.ActionHistory)
	assert.Zero(t, s.RewardHistory)
	assert.Zero(t, s.ObservationHistory)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultFGBalanceConfig()
	require.NoError(t, config.Validate())

	config.MinThreshold = 0.95
	assert.Error(t, config.Validate())

	config = DefaultFGBalanceConfig()
	config.InitialThreshold = 0.05
	assert.Error(t, config.Validate())

	config = DefaultFGBalanceConfig()
	config.PoolSize = 0
	assert.Error(t, config.Validate())
}
