package policy

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/hypera/hypera/timestep"
	"github.com/hypera/hypera/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// StdOffset is added to the standard deviation of each action
// dimension so that it never reaches zero
const StdOffset float64 = 1e-3

// Bounds on the log standard deviation of each action dimension
const (
	MinLogStd float64 = -5.0
	MaxLogStd float64 = 2.0
)

// GaussianConfig describes the learning rates and trace decay of a
// Gaussian policy
type GaussianConfig struct {
	ActorLearningRate  float64 `yaml:"actor_learning_rate"`
	CriticLearningRate float64 `yaml:"critic_learning_rate"`
	Decay              float64 `yaml:"decay"` // Eligibility trace decay
}

// DefaultGaussianConfig returns the default Gaussian policy
// configuration
func DefaultGaussianConfig() GaussianConfig {
	return GaussianConfig{
		ActorLearningRate:  0.01,
		CriticLearningRate: 0.1,
		Decay:              0.5,
	}
}

// Validate returns an error if the configuration is invalid
func (c GaussianConfig) Validate() error {
	if c.ActorLearningRate <= 0 || c.CriticLearningRate <= 0 {
		return fmt.Errorf("validate: learning rates must be positive")
	}
	if c.Decay < 0 || c.Decay > 1 {
		return fmt.Errorf("validate: decay must be in [0, 1], got %v",
			c.Decay)
	}
	return nil
}

// Gaussian implements a multi-dimensional linear Gaussian actor-critic.
// The mean and log standard deviation of each action dimension as well
// as the state value are linear in the state features, and all three
// are learned online with eligibility traces. Sampled actions are
// clipped to [-1, 1].
type Gaussian struct {
	config     GaussianConfig
	features   int
	actionDims int

	// Each row holds the weights of one action dimension
	meanWeights *mat.Dense
	stdWeights  *mat.Dense
	critic      *mat.VecDense

	meanTrace   *mat.Dense
	stdTrace    *mat.Dense
	criticTrace *mat.VecDense

	seed   uint64
	source rand.Source
	eval   bool
}

// NewGaussian returns a new Gaussian policy over actionDims dimensional
// actions for states with features features. All weights start at
// zero, so the initial policy has mean 0 and standard deviation
// 1 + StdOffset in each dimension.
func NewGaussian(features, actionDims int, config GaussianConfig,
	seed uint64) (*Gaussian, error) {
	if features < 1 || actionDims < 1 {
		return nil, fmt.Errorf("newgaussian: features and action dimensions "+
			"must be positive, got (%d, %d)", features, actionDims)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newgaussian: %v", err)
	}

	return &Gaussian{
		config:      config,
		features:    features,
		actionDims:  actionDims,
		meanWeights: mat.NewDense(actionDims, features, nil),
		stdWeights:  mat.NewDense(actionDims, features, nil),
		critic:      mat.NewVecDense(features, nil),
		meanTrace:   mat.NewDense(actionDims, features, nil),
		stdTrace:    mat.NewDense(actionDims, features, nil),
		criticTrace: mat.NewVecDense(features, nil),
		seed:        seed,
		source:      rand.NewSource(seed),
	}, nil
}

// Features returns the number of state features the policy expects
func (g *Gaussian) Features() int {
	return g.features
}

// ActionDims returns the dimension of actions
func (g *Gaussian) ActionDims() int {
	return g.actionDims
}

// Mean gets the mean of the policy given some state
func (g *Gaussian) Mean(state mat.Vector) *mat.VecDense {
	mean := mat.NewVecDense(g.actionDims, nil)
	mean.MulVec(g.meanWeights, state)
	return mean
}

// Std gets the standard deviation of the policy given some state
func (g *Gaussian) Std(state mat.Vector) *mat.VecDense {
	std := mat.NewVecDense(g.actionDims, nil)
	std.MulVec(g.stdWeights, state)
	for i := 0; i < std.Len(); i++ {
		logStd := floatutils.Clip(std.AtVec(i), MinLogStd, MaxLogStd)
		std.SetVec(i, math.Exp(logStd)+StdOffset)
	}
	return std
}

// Value returns the critic's estimate of the value of a state
func (g *Gaussian) Value(state mat.Vector) float64 {
	return mat.Dot(g.critic, state)
}

// SelectAction samples an action for the given state. In evaluation
// mode the mean action is returned. Actions are clipped to [-1, 1].
func (g *Gaussian) SelectAction(state *mat.VecDense) *mat.VecDense {
	if state.Len() != g.features {
		panic(fmt.Sprintf("selectaction: invalid state length\n\twant(%v)"+
			"\n\thave(%v)", g.features, state.Len()))
	}
	mean := g.Mean(state)

	var action []float64
	if g.eval {
		action = mean.RawVector().Data
	} else {
		std := g.Std(state)
		variance := make([]float64, g.actionDims)
		for i := range variance {
			variance[i] = std.AtVec(i) * std.AtVec(i)
		}

		cov := mat.NewDiagDense(g.actionDims, variance)
		dist, ok := distmv.NewNormal(mean.RawVector().Data, cov, g.source)
		if !ok {
			panic(fmt.Sprintf("selectaction: non-positive-definite "+
				"covariance %v", variance))
		}
		action = dist.Rand(nil)
	}

	for i := range action {
		action[i] = floatutils.Clip(action[i], -1.0, 1.0)
	}
	return mat.NewVecDense(g.actionDims, action)
}

// Update performs one online actor-critic update with eligibility
// traces from the transition t
func (g *Gaussian) Update(t timestep.Transition) (Metrics, error) {
	if t.State == nil || t.NextState == nil || t.Action == nil {
		return nil, fmt.Errorf("update: transition must have a state, " +
			"action and next state")
	}
	if t.State.Len() != g.features || t.NextState.Len() != g.features {
		return nil, fmt.Errorf("update: invalid state length\n\twant(%v)"+
			"\n\thave(%v)", g.features, t.State.Len())
	}
	if t.Action.Len() != g.actionDims {
		return nil, fmt.Errorf("update: invalid action length\n\twant(%v)"+
			"\n\thave(%v)", g.actionDims, t.Action.Len())
	}

	state := t.State
	traceDecay := t.Discount * g.config.Decay

	stateValue := g.Value(state)
	tdError := t.Reward + t.Discount*g.Value(t.NextState) - stateValue

	// Update the critic
	g.criticTrace.AddScaledVec(state, traceDecay, g.criticTrace)
	g.critic.AddScaledVec(g.critic, g.config.CriticLearningRate*tdError,
		g.criticTrace)

	// Update the actor, one action dimension at a time
	mean := g.Mean(state)
	std := g.Std(state)
	for i := 0; i < g.actionDims; i++ {
		a, mu, sigma := t.Action.AtVec(i), mean.AtVec(i), std.AtVec(i)

		meanGradScale := tdError * (a - mu) / (sigma * sigma)
		stdGradScale := tdError * (math.Pow((a-mu)/sigma, 2) - 1.0)

		meanTrace := g.meanTrace.RowView(i).(*mat.VecDense)
		meanTrace.ScaleVec(traceDecay, meanTrace)
		meanTrace.AddScaledVec(meanTrace, meanGradScale, state)

		stdTrace := g.stdTrace.RowView(i).(*mat.VecDense)
		stdTrace.ScaleVec(traceDecay, stdTrace)
		stdTrace.AddScaledVec(stdTrace, stdGradScale, state)

		meanWeights := g.meanWeights.RowView(i).(*mat.VecDense)
		meanWeights.AddScaledVec(meanWeights, g.config.ActorLearningRate,
			meanTrace)

		stdWeights := g.stdWeights.RowView(i).(*mat.VecDense)
		stdWeights.AddScaledVec(stdWeights,
			g.config.ActorLearningRate/(sigma*sigma), stdTrace)
	}

	return Metrics{
		"td_error":    tdError,
		"state_value": stateValue,
	}, nil
}

// Eval sets the policy to evaluation mode
func (g *Gaussian) Eval() {
	g.eval = true
}

// Train sets the policy to training mode
func (g *Gaussian) Train() {
	g.eval = false
}

// IsEval returns whether the policy is in evaluation mode
func (g *Gaussian) IsEval() bool {
	return g.eval
}

// gaussianData holds the gob-encodable state of a Gaussian
type gaussianData struct {
	Config      GaussianConfig
	Features    int
	ActionDims  int
	MeanWeights []float64
	StdWeights  []float64
	Critic      []float64
	MeanTrace   []float64
	StdTrace    []float64
	CriticTrace []float64
	Seed        uint64
	Eval        bool
}

// GobEncode implements the gob.GobEncoder interface
func (g *Gaussian) GobEncode() ([]byte, error) {
	data := gaussianData{
		Config:      g.config,
		Features:    g.features,
		ActionDims:  g.actionDims,
		MeanWeights: g.meanWeights.RawMatrix().Data,
		StdWeights:  g.stdWeights.RawMatrix().Data,
		Critic:      g.critic.RawVector().Data,
		MeanTrace:   g.meanTrace.RawMatrix().Data,
		StdTrace:    g.stdTrace.RawMatrix().Data,
		CriticTrace: g.criticTrace.RawVector().Data,
		Seed:        g.seed,
		Eval:        g.eval,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("gobencode: %v", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The random
// source is re-seeded from the encoded seed.
func (g *Gaussian) GobDecode(in []byte) error {
	var data gaussianData
	if err := gob.NewDecoder(bytes.NewReader(in)).Decode(&data); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}

	weightLen := data.Features * data.ActionDims
	for _, w := range [][]float64{data.MeanWeights, data.StdWeights,
		data.MeanTrace, data.StdTrace} {
		if len(w) != weightLen {
			return fmt.Errorf("gobdecode: invalid number of weights"+
				"\n\twant(%v)\n\thave(%v)", weightLen, len(w))
		}
	}
	if len(data.Critic) != data.Features ||
		len(data.CriticTrace) != data.Features {
		return fmt.Errorf("gobdecode: invalid number of critic weights")
	}

	*g = Gaussian{
		config:      data.Config,
		features:    data.Features,
		actionDims:  data.ActionDims,
		meanWeights: mat.NewDense(data.ActionDims, data.Features, data.MeanWeights),
		stdWeights:  mat.NewDense(data.ActionDims, data.Features, data.StdWeights),
		critic:      mat.NewVecDense(data.Features, data.Critic),
		meanTrace:   mat.NewDense(data.ActionDims, data.Features, data.MeanTrace),
		stdTrace:    mat.NewDense(data.ActionDims, data.Features, data.StdTrace),
		criticTrace: mat.NewVecDense(data.Features, data.CriticTrace),
		seed:        data.Seed,
		source:      rand.NewSource(data.Seed),
		eval:        data.Eval,
	}
	return nil
}
