package hyperparam

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

var _ agent.Hyperparameter = &Agent{}

// fixedPolicy always selects the same action and records the
// transitions it is updated with
type fixedPolicy struct {
	Dims    int
	Feats   int
	Action  []float64
	updates []timestep.Transition
	eval    bool
}

func (f *fixedPolicy) SelectAction(*mat.VecDense) *mat.VecDense {
	return mat.NewVecDense(f.Dims, append([]float64{}, f.Action...))
}

func (f *fixedPolicy) Update(t timestep.Transition) (policy.Metrics, error) {
	f.updates = append(f.updates, t)
	return policy.Metrics{"td_error": t.Reward}, nil
}

func (f *fixedPolicy) Features() int   { return f.Feats }
func (f *fixedPolicy) ActionDims() int { return f.Dims }
func (f *fixedPolicy) Eval()           { f.eval = true }
func (f *fixedPolicy) Train()          { f.eval = false }
func (f *fixedPolicy) IsEval() bool    { return f.eval }

type fixedPolicyData struct {
	Dims, Feats int
	Action      []float64
}

func (f *fixedPolicy) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(fixedPolicyData{f.Dims, f.Feats,
		f.Action})
	return buf.Bytes(), err
}

func (f *fixedPolicy) GobDecode(in []byte) error {
	var data fixedPolicyData
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&data); err != nil {
		return err
	}
	f.Dims, f.Feats, f.Action = data.Dims, data.Feats, data.Action
	return nil
}

func newLearningRate(t *testing.T, action float64) (*Agent, *state.Manager,
	*fixedPolicy) {
	t.Helper()
	m := state.NewManager(0)
	config := DefaultLearningRateConfig()
	config.Schedule = agent.ScheduleConfig{UpdateFrequency: 1}

	a, err := NewLearningRate(config, m)
	require.NoError(t, err)

	p := &fixedPolicy{Dims: 1, Feats: config.StateDim,
		Action: []float64{action}}
	require.NoError(t, a.SetPolicy(p))
	return a, m, p
}

func newClassWeights(t *testing.T, numClasses int) (*Agent,
	*state.Manager) {
	t.Helper()
	m := state.NewManager(0)
	config := DefaultClassWeightsConfig()
	config.NumClasses = numClasses
	config.Schedule = agent.ScheduleConfig{UpdateFrequency: 1}

	a, err := NewClassWeights(config, m)
	require.NoError(t, err)
	return a, m
}

func TestLearningRateActionToHyperparameter(t *testing.T) {
	a, _, _ := newLearningRate(t, 0)

	assert.InDelta(t, 3e-3, a.ActionToHyperparameter([]float64{1}).Scalar(),
		1e-12)
	assert.InDelta(t, 1e-3/3, a.ActionToHyperparameter([]float64{-1}).Scalar(),
		1e-12)
	assert.InDelta(t, 1e-3, a.ActionToHyperparameter([]float64{0}).Scalar(),
		1e-12)

	// Malformed actions are fitted rather than rejected
	assert.InDelta(t, 1e-3, a.ActionToHyperparameter(nil).Scalar(), 1e-12)
	assert.InDelta(t, 3e-3, a.ActionToHyperparameter([]float64{1, 5}).Scalar(),
		1e-12)
}

func TestLearningRateClipped(t *testing.T) {
	m := state.NewManager(0)
	config := DefaultLearningRateConfig()
	config.InitialValue = 0.09
	a, err := NewLearningRate(config, m)
	require.NoError(t, err)

	assert.Equal(t, 0.1, a.ActionToHyperparameter([]float64{1}).Scalar())
}

func TestClassWeightsActionToHyperparameter(t *testing.T) {
	a, _ := newClassWeights(t, 3)

	weights := a.ActionToHyperparameter([]float64{1, 0, -1})
	require.Len(t, weights, 3)
	assert.InDelta(t, 1.0, floats.Sum(weights)/3, 1e-12)
	assert.Greater(t, weights[0], weights[1])
	assert.Greater(t, weights[1], weights[2])

	// Pre-renormalization weights are 2, 1, 0.5
	assert.InDelta(t, 2.0/3.5*3, weights[0], 1e-12)
}

func TestNonFiniteActionsLeaveValueUnchanged(t *testing.T) {
	a, m, p := newLearningRate(t, 0)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Equal(t, agent.Value{1e-3}, a.ActionToHyperparameter(
			[]float64{v}), "action %v", v)
	}

	update := a.UpdateHyperparameter([]float64{math.NaN()})
	assert.Equal(t, agent.Value{1e-3}, update.NewValue)
	assert.Equal(t, []float64{1}, update.RelativeChange)
	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64{1e-3}, lr)

	// The transition handed to the policy holds the replaced action
	_, err := a.Observe(1, false)
	require.NoError(t, err)
	require.Len(t, p.updates, 1)
	assert.Equal(t, 0.0, p.updates[0].Action.AtVec(0))

	assert.InDelta(t, 3e-3, a.ActionToHyperparameter([]float64{1}).Scalar(),
		1e-12)

	cw, _ := newClassWeights(t, 3)
	weights := cw.ActionToHyperparameter([]float64{math.NaN(), 1, math.Inf(-1)})
	for _, w := range weights {
		assert.False(t, math.IsNaN(w))
	}
	assert.InDelta(t, 1.0, floats.Sum(weights)/3, 1e-12)
	assert.InDelta(t, weights[0], weights[2], 1e-12)
	assert.Greater(t, weights[1], weights[0])
}

func TestClassWeightsMonotonic(t *testing.T) {
	a, _ := newClassWeights(t, 2)

	prev := math.Inf(-1)
	for _, action := range []float64{-1, -0.5, 0, 0.5, 1} {
		w := a.ActionToHyperparameter([]float64{action, 0})
		ratio := w[0] / w[1]
		assert.GreaterOrEqual(t, ratio, prev)
		prev = ratio
	}
}

func TestClassWeightsBounds(t *testing.T) {
	a, _ := newClassWeights(t, 2)
	for i := 0; i < 5; i++ {
		a.UpdateHyperparameter([]float64{1, -1})
		assert.InDelta(t, 1.0, floats.Sum(a.Value())/2, 1e-12)
	}

	// Clipping to [0.5, 5] before renormalization bounds the ratio
	w := a.Value()
	assert.LessOrEqual(t, w[0]/w[1], 5.0/0.5+1e-9)
}

func TestStateRepresentationLength(t *testing.T) {
	for _, enhanced := range []bool{true, false} {
		for _, stateDim := range []int{3, 20, 40} {
			m := state.NewManager(0)
			config := DefaultLearningRateConfig()
			config.EnhancedState = enhanced
			config.StateDim = stateDim
			a, err := NewLearningRate(config, m)
			require.NoError(t, err)

			assert.Len(t, a.StateRepresentation(), stateDim)
			for i := 0; i < 15; i++ {
				m.RecordMetric("loss", 1/float64(i+1))
				m.RecordMetric("val_loss", 1.2/float64(i+1))
				m.RecordMetric("dice_score", 0.05*float64(i))
			}
			assert.Len(t, a.StateRepresentation(), stateDim)
		}
	}
}

func TestLearningRateEnhancedState(t *testing.T) {
	a, m, _ := newLearningRate(t, 0)
	m.SetTotalEpochs(10)
	m.SetEpoch(5)
	for i := 0; i < 3; i++ {
		m.RecordMetric("loss", 1.0)
		m.RecordMetric("val_loss", 1.5)
		m.RecordMetric("dice_score", 0.5)
	}

	s := a.StateRepresentation()
	require.Len(t, s, 20)
	assert.Equal(t, []float64{1, 1, 0, 0}, s[0:4])

	// Overfitting signals in name order: gap_trend, generalization_gap,
	// val_loss_trend
	assert.InDelta(t, 0.0, s[12], 1e-12)
	assert.InDelta(t, 0.5, s[13], 1e-12)
	assert.InDelta(t, 0.0, s[14], 1e-12)

	assert.InDelta(t, 0.6, s[15], 1e-12) // log-normalized 1e-3
	assert.Equal(t, 0.5, s[16])          // 5 epochs without an update
	assert.Equal(t, 0.5, s[17])
	assert.Equal(t, []float64{0, 0}, s[18:])
}

func TestLearningRateFallbackState(t *testing.T) {
	m := state.NewManager(0)
	config := DefaultLearningRateConfig()
	config.EnhancedState = false
	a, err := NewLearningRate(config, m)
	require.NoError(t, err)

	m.RecordMetric("loss", 2)
	m.RecordMetric("loss", 1)

	s := a.StateRepresentation()
	assert.Equal(t, []float64{1, -1, 0.5}, s[0:3])
	assert.Equal(t, make([]float64, 6), s[3:9])
	assert.InDelta(t, 0.6, s[9], 1e-12)
}

func TestClassWeightsStateMissingMetrics(t *testing.T) {
	a, m := newClassWeights(t, 2)
	m.RecordMetric("dice_class_1", 0.7)

	s := a.StateRepresentation()
	require.Len(t, s, 24)
	assert.Equal(t, make([]float64, 6), s[0:6])
	assert.InDelta(t, 0.5/4.5, s[6], 1e-12)
	assert.InDelta(t, 0.5/4.5, s[7], 1e-12)

	// dice_class_0 falls back to the overall dice, which is missing
	assert.Equal(t, 0.0, s[8])
	assert.Equal(t, 0.7, s[9])
}

func TestSelectActionRespectsSchedule(t *testing.T) {
	m := state.NewManager(0)
	a, err := NewLearningRate(DefaultLearningRateConfig(), m)
	require.NoError(t, err)

	// Default patience is 3
	value, ok := a.SelectAction(0)
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.Equal(t, agent.Idle, a.Phase(0))

	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64{1e-3}, lr)
}

func TestSelectActionDoesNotCommit(t *testing.T) {
	a, m, _ := newLearningRate(t, 1)

	value, ok := a.SelectAction(0)
	require.True(t, ok)
	assert.InDelta(t, 3e-3, value.Scalar(), 1e-12)
	assert.Equal(t, 1e-3, a.Value().Scalar())

	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64{1e-3}, lr)
	assert.False(t, a.Pending())
}

func TestSelectAndUpdateWithoutStep(t *testing.T) {
	m := state.NewManager(0)
	a, err := NewLearningRate(DefaultLearningRateConfig(), m)
	require.NoError(t, err)
	require.NoError(t, a.SetPolicy(&fixedPolicy{Dims: 1, Feats: 20,
		Action: []float64{0.5}}))

	// Patience 3 and cooldown 5 with an update every epoch
	var acted []int
	for epoch := 0; epoch < 50; epoch++ {
		m.SetEpoch(epoch)
		if _, ok := a.SelectAction(epoch); !ok {
			continue
		}
		a.UpdateHyperparameter([]float64{0.5})
		acted = append(acted, epoch)
	}
	assert.Equal(t, []int{3, 8, 13, 18, 23, 28, 33, 38, 43, 48}, acted)
}

type recorder struct {
	updates []agent.Update
}

func (r *recorder) RecordUpdate(u agent.Update) error {
	r.updates = append(r.updates, u)
	return nil
}

func TestStepCommits(t *testing.T) {
	m := state.NewManager(0)
	config := DefaultLearningRateConfig()
	config.Schedule = agent.ScheduleConfig{UpdateFrequency: 1, Patience: 2,
		Cooldown: 0}
	a, err := NewLearningRate(config, m)
	require.NoError(t, err)
	p := &fixedPolicy{Dims: 1, Feats: 20, Action: []float64{-1}}
	require.NoError(t, a.SetPolicy(p))
	r := &recorder{}
	a.SetRecorder(r)

	_, ok := a.Step(0)
	assert.False(t, ok)
	_, ok = a.Step(1)
	assert.False(t, ok)

	update, ok := a.Step(2)
	require.True(t, ok)
	assert.Equal(t, "learning_rate", update.Hyperparameter)
	assert.Equal(t, agent.Value{1e-3}, update.OldValue)
	assert.InDelta(t, 1e-3/3, update.NewValue.Scalar(), 1e-12)
	assert.InDelta(t, 1.0/3, update.RelativeChange[0], 1e-12)
	assert.Equal(t, 2, update.Epoch)
	assert.Equal(t, []agent.Update{update}, r.updates)

	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64(update.NewValue), lr)

	// Patience restarts after an update
	_, ok = a.Step(3)
	assert.False(t, ok)
}

func TestObserve(t *testing.T) {
	a, _, p := newLearningRate(t, 0.5)

	metrics, err := a.Observe(1, false)
	require.NoError(t, err)
	assert.Empty(t, metrics)
	assert.Empty(t, p.updates)

	_, ok := a.Step(0)
	require.True(t, ok)
	require.True(t, a.Pending())

	metrics, err = a.Observe(2, true)
	require.NoError(t, err)
	assert.Equal(t, 2.0, metrics["reward"])
	require.Len(t, p.updates, 1)
	assert.Equal(t, 0.5, p.updates[0].Action.AtVec(0))
	assert.Equal(t, 0.0, p.updates[0].Discount)
	assert.False(t, a.Pending())
}

func TestObserveWithGaussian(t *testing.T) {
	m := state.NewManager(0)
	config := DefaultClassWeightsConfig()
	config.Schedule = agent.ScheduleConfig{UpdateFrequency: 1}
	a, err := NewClassWeights(config, m)
	require.NoError(t, err)

	_, ok := a.Step(0)
	require.True(t, ok)
	metrics, err := a.Observe(1, false)
	require.NoError(t, err)
	assert.Contains(t, metrics, "td_error")
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning_rate_agent")
	a, _, _ := newLearningRate(t, 1)
	_, ok := a.Step(0)
	require.True(t, ok)
	require.NoError(t, a.Save(path))

	b, m, _ := newLearningRate(t, 0)
	require.NoError(t, b.Load(path))
	assert.Equal(t, a.Value(), b.Value())
	assert.Equal(t, a.schedule.State(), b.schedule.State())
	assert.True(t, b.Pending())

	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64(a.Value()), lr)
}

func TestLoadMissing(t *testing.T) {
	a, _, _ := newLearningRate(t, 1)
	err := a.Load(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, agent.ErrCheckpointNotFound))
	assert.Equal(t, 1e-3, a.Value().Scalar())
}

func TestLoadWrongAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "class_weights_agent")
	cw, _ := newClassWeights(t, 2)
	require.NoError(t, cw.Save(path))

	lr, _, _ := newLearningRate(t, 1)
	assert.Error(t, lr.Load(path))
	assert.Equal(t, 1e-3, lr.Value().Scalar())
}

func TestReset(t *testing.T) {
	a, m, p := newLearningRate(t, 1)
	_, ok := a.Step(0)
	require.True(t, ok)

	p.Action = []float64{-1}
	require.NoError(t, a.Reset())
	assert.Equal(t, 1e-3, a.Value().Scalar())
	assert.Equal(t, []float64{1}, p.Action)
	assert.False(t, a.Pending())
	assert.Equal(t, agent.ScheduleState{}, a.schedule.State())

	lr, _ := m.Hyperparameter("learning_rate")
	assert.Equal(t, []float64{1e-3}, lr)
}

func TestSetPolicyDimensions(t *testing.T) {
	a, _, _ := newLearningRate(t, 0)
	assert.Error(t, a.SetPolicy(&fixedPolicy{Dims: 2, Feats: 20}))
}

func TestConfigValidate(t *testing.T) {
	lr := DefaultLearningRateConfig()
	require.NoError(t, lr.Validate())

	lr.Min = 0
	assert.Error(t, lr.Validate())

	lr = DefaultLearningRateConfig()
	lr.InitialValue = 1
	assert.Error(t, lr.Validate())

	cw := DefaultClassWeightsConfig()
	require.NoError(t, cw.Validate())

	cw.InitialWeights = []float64{1}
	assert.Error(t, cw.Validate())

	cw = DefaultClassWeightsConfig()
	cw.Min = 2
	assert.Error(t, cw.Validate())
}

func TestTypedConfigDecodesDefaults(t *testing.T) {
	src := "type: LearningRate\nname: lr\ninitial_value: 0.01\npatience: 1\n"
	var c agent.TypedConfig
	require.NoError(t, yaml.Unmarshal([]byte(src), &c))

	config, ok := c.Config.(LearningRateConfig)
	require.True(t, ok)
	assert.Equal(t, "lr", config.Name)
	assert.Equal(t, 0.01, config.InitialValue)
	assert.Equal(t, 1, config.Schedule.Patience)
	assert.Equal(t, 5, config.Schedule.Cooldown)
	assert.Equal(t, 1e-6, config.Min)
	assert.NoError(t, config.Validate())
}
