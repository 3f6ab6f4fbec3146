package policy

import (
	"fmt"
	"math"

	"github.com/hypera/hypera/initwfn"
	"github.com/hypera/hypera/network"
	"github.com/hypera/hypera/solver"
	"github.com/hypera/hypera/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// CategoricalConfig describes the network and solver of a Categorical
// policy
type CategoricalConfig struct {
	HiddenSizes []int                 `yaml:"hidden_sizes"`
	Activations []*network.Activation `yaml:"activations"`
	InitWFn     *initwfn.InitWFn      `yaml:"init"`
	Solver      *solver.Solver        `yaml:"solver"`
}

// DefaultCategoricalConfig returns a configuration with the given
// hidden layer sizes, ReLU activations, Glorot uniform initialization
// and an Adam solver with step size stepSize
func DefaultCategoricalConfig(hiddenSizes []int,
	stepSize float64) CategoricalConfig {
	activations := make([]*network.Activation, len(hiddenSizes))
	for i := range activations {
		activations[i] = network.ReLU()
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(err)
	}
	s, err := solver.NewDefaultAdam(stepSize, 1)
	if err != nil {
		panic(err)
	}

	return CategoricalConfig{
		HiddenSizes: append([]int{}, hiddenSizes...),
		Activations: activations,
		InitWFn:     init,
		Solver:      s,
	}
}

// Validate returns an error if the configuration is invalid
func (c CategoricalConfig) Validate() error {
	if len(c.HiddenSizes) != len(c.Activations) {
		return fmt.Errorf("validate: need one activation per hidden layer, "+
			"got %d layers and %d activations", len(c.HiddenSizes),
			len(c.Activations))
	}
	for _, size := range c.HiddenSizes {
		if size < 1 {
			return fmt.Errorf("validate: hidden layer sizes must be positive")
		}
	}
	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: no solver")
	}
	return nil
}

// Categorical implements a softmax policy over a discrete set of
// actions, parameterized by a multi-layered perceptron. Actions are
// sampled from the policy in training mode and chosen greedily in
// evaluation mode.
//
// The policy keeps two copies of its network. The behaviour network
// computes logits for action selection. The training network lives on
// a separate graph that also computes the REINFORCE loss
//
//	loss = -log π(action | features) * reward
//
// and its gradient. After each solver step the behaviour network is
// set to the training network's weights.
type Categorical struct {
	config     CategoricalConfig
	features   int
	numActions int

	behaviour   network.NeuralNet
	behaviourVM G.VM

	train         network.NeuralNet
	trainVM       G.VM
	actionIndices *G.Node // One-hot encoding of the action to learn from
	shift         *G.Node // Logit shift for a stable log-sum-exp
	reward        *G.Node
	lossVal       G.Value

	source rand.Source
	eval   bool
}

// NewCategorical returns a new Categorical policy over numActions
// actions for inputs with features features
func NewCategorical(features, numActions int, config CategoricalConfig,
	seed uint64) (*Categorical, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newcategorical: %v", err)
	}
	if numActions < 2 {
		return nil, fmt.Errorf("newcategorical: need at least 2 actions, "+
			"got %d", numActions)
	}

	// Each policy owns its solver state
	s := *config.Solver
	s.Reset()
	config.Solver = &s

	biases := make([]bool, len(config.HiddenSizes))
	for i := range biases {
		biases[i] = true
	}

	behaviour, err := network.NewMLP(features, 1, numActions, G.NewGraph(),
		config.HiddenSizes, biases, config.InitWFn.InitWFn(),
		config.Activations)
	if err != nil {
		return nil, fmt.Errorf("newcategorical: could not create policy "+
			"network: %v", err)
	}

	train, err := behaviour.Clone()
	if err != nil {
		return nil, fmt.Errorf("newcategorical: could not create training "+
			"network: %v", err)
	}
	g := train.Graph()
	logits := train.Prediction()

	actionIndices := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(logits.Shape()...),
		G.WithInit(G.Zeroes()),
		G.WithName("actionIndices"),
	)
	shift := G.NewScalar(g, tensor.Float64, G.WithName("shift"),
		G.WithValue(0.0))
	reward := G.NewScalar(g, tensor.Float64, G.WithName("reward"),
		G.WithValue(0.0))

	// log π(a|s) = logits[a] - log Σ exp(logits)
	selected := G.Must(G.Sum(G.Must(G.HadamardProd(actionIndices, logits))))
	logSumExp := G.Must(G.Sub(logits, shift))
	logSumExp = G.Must(G.Exp(logSumExp))
	logSumExp = G.Must(G.Log(G.Must(G.Sum(logSumExp))))
	logSumExp = G.Must(G.Add(logSumExp, shift))
	logProb := G.Must(G.Sub(selected, logSumExp))

	loss := G.Must(G.Neg(G.Must(G.Mul(logProb, reward))))

	c := &Categorical{
		config:        config,
		features:      features,
		numActions:    numActions,
		behaviour:     behaviour,
		behaviourVM:   G.NewTapeMachine(behaviour.Graph()),
		train:         train,
		actionIndices: actionIndices,
		shift:         shift,
		reward:        reward,
		source:        rand.NewSource(seed),
	}
	G.Read(loss, &c.lossVal)

	if _, err := G.Grad(loss, train.Learnables()...); err != nil {
		return nil, fmt.Errorf("newcategorical: could not compute "+
			"gradient: %v", err)
	}
	c.trainVM = G.NewTapeMachine(g, G.BindDualValues(train.Learnables()...))

	return c, nil
}

// Features returns the number of input features
func (c *Categorical) Features() int {
	return c.features
}

// NumActions returns the number of actions
func (c *Categorical) NumActions() int {
	return c.numActions
}

// Logits returns the action logits for the given features
func (c *Categorical) Logits(features []float64) ([]float64, error) {
	if err := c.behaviour.SetInput(features); err != nil {
		return nil, fmt.Errorf("logits: %v", err)
	}
	if err := c.behaviourVM.RunAll(); err != nil {
		return nil, fmt.Errorf("logits: could not run forward pass: %v", err)
	}
	logits := append([]float64{}, c.behaviour.Output().Data().([]float64)...)
	c.behaviourVM.Reset()

	return logits, nil
}

// Probabilities returns the probability of each action for the given
// features
func (c *Categorical) Probabilities(features []float64) ([]float64, error) {
	logits, err := c.Logits(features)
	if err != nil {
		return nil, fmt.Errorf("probabilities: %v", err)
	}
	return floatutils.Softmax(logits), nil
}

// SelectAction selects an action for the given features, returning
// the action along with the probabilities it was selected with
func (c *Categorical) SelectAction(features []float64) (int, []float64,
	error) {
	probs, err := c.Probabilities(features)
	if err != nil {
		return 0, nil, fmt.Errorf("selectaction: %v", err)
	}

	if c.eval {
		return floatutils.ArgMax(probs...), probs, nil
	}
	dist := distuv.NewCategorical(probs, c.source)
	return int(dist.Rand()), probs, nil
}

// LogProb returns the log probability of selecting action given the
// features
func (c *Categorical) LogProb(features []float64, action int) (float64,
	error) {
	probs, err := c.Probabilities(features)
	if err != nil {
		return 0, fmt.Errorf("logprob: %v", err)
	}
	if action < 0 || action >= c.numActions {
		return 0, fmt.Errorf("logprob: action %d out of range [0, %d)",
			action, c.numActions)
	}
	return math.Log(probs[action]), nil
}

// Learn performs a single REINFORCE step on the action taken for the
// given features, scaled by reward, and returns the loss before the
// step
func (c *Categorical) Learn(features []float64, action int,
	reward float64) (float64, error) {
	if action < 0 || action >= c.numActions {
		return 0, fmt.Errorf("learn: action %d out of range [0, %d)",
			action, c.numActions)
	}

	logits, err := c.Logits(features)
	if err != nil {
		return 0, fmt.Errorf("learn: %v", err)
	}

	if err := c.train.SetInput(features); err != nil {
		return 0, fmt.Errorf("learn: %v", err)
	}
	oneHot := make([]float64, c.numActions)
	oneHot[action] = 1.0
	indices := tensor.New(
		tensor.WithBacking(oneHot),
		tensor.WithShape(c.actionIndices.Shape()...),
	)
	if err := G.Let(c.actionIndices, indices); err != nil {
		return 0, fmt.Errorf("learn: could not set action: %v", err)
	}
	if err := G.Let(c.shift, G.NewF64(floats.Max(logits))); err != nil {
		return 0, fmt.Errorf("learn: could not set shift: %v", err)
	}
	if err := G.Let(c.reward, G.NewF64(reward)); err != nil {
		return 0, fmt.Errorf("learn: could not set reward: %v", err)
	}

	if err := c.trainVM.RunAll(); err != nil {
		return 0, fmt.Errorf("learn: could not run training graph: %v", err)
	}
	loss := c.lossVal.Data().(float64)

	if err := c.config.Solver.Step(c.train.Model()); err != nil {
		return 0, fmt.Errorf("learn: could not step solver: %v", err)
	}
	c.trainVM.Reset()

	if err := c.behaviour.Set(c.train); err != nil {
		return 0, fmt.Errorf("learn: could not sync behaviour network: %v",
			err)
	}
	return loss, nil
}

// Weights returns a copy of the policy network weights
func (c *Categorical) Weights() [][]float64 {
	return c.behaviour.Weights()
}

// SetWeights sets the weights of the policy network
func (c *Categorical) SetWeights(weights [][]float64) error {
	if err := c.behaviour.SetWeights(weights); err != nil {
		return fmt.Errorf("setweights: %v", err)
	}
	if err := c.train.SetWeights(weights); err != nil {
		return fmt.Errorf("setweights: %v", err)
	}
	return nil
}

// SetLearningRate replaces the solver with one of the same type using
// the given step size. Accumulated solver state is discarded.
func (c *Categorical) SetLearningRate(stepSize float64) {
	switch config := c.config.Solver.Config.(type) {
	case solver.AdamConfig:
		config.StepSize = stepSize
		c.config.Solver.Config = config
	case solver.VanillaConfig:
		config.StepSize = stepSize
		c.config.Solver.Config = config
	case solver.RMSPropConfig:
		config.StepSize = stepSize
		c.config.Solver.Config = config
	}
	c.config.Solver.Reset()
}

// LearningRate returns the step size of the solver
func (c *Categorical) LearningRate() float64 {
	return c.config.Solver.Config.LearningRate()
}

// Eval sets the policy to evaluation mode
func (c *Categorical) Eval() {
	c.eval = true
}

// Train sets the policy to training mode
func (c *Categorical) Train() {
	c.eval = false
}

// IsEval returns whether the policy is in evaluation mode
func (c *Categorical) IsEval() bool {
	return c.eval
}

// Close releases the resources held by the policy's VMs
func (c *Categorical) Close() error {
	if err := c.behaviourVM.Close(); err != nil {
		return err
	}
	return c.trainVM.Close()
}
