// Package segmentation implements agents that act on the segmentation
// of the current image during training.
package segmentation

import (
	"fmt"
	"math"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/utils/floatutils"
	"github.com/hypera/hypera/utils/matutils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Threshold actions of an FGBalance agent
const (
	IncreaseThreshold int = iota
	DecreaseThreshold
	HoldThreshold
	numActions
)

// ActionCutoff is the magnitude a continuous action must exceed to move
// the threshold
const ActionCutoff = 0.33

// Keys of the scalar features of FGBalance observations
const (
	GTFGRatio     = "gt_fg_ratio"
	PredFGRatio   = "pred_fg_ratio"
	AvgFGRatio    = "avg_fg_ratio"
	TargetFGRatio = "target_fg_ratio"
	Threshold     = "segmentation_threshold"
	Precision     = "precision"
	Recall        = "recall"
	F1Score       = "f1_score"
	FGWeight      = "fg_weight"
	BGWeight      = "bg_weight"
	FGRatioDiff   = "fg_ratio_diff"
)

// observation is the part of an observation needed to learn from the
// decision taken on it
type observation struct {
	Features    []float64
	PredFGRatio float64
	TargetRatio float64
}

// FGBalance implements a segmentation agent that balances foreground
// and background by moving the threshold at which the predicted
// probabilities are binarized.
//
// On each step the agent observes the current image, mask and
// prediction, decides whether to increase, decrease or hold the
// threshold with a categorical policy over pooled image features and
// learns from the reward of its last decision with REINFORCE. A
// continuous policy drives the same threshold adjustments when the
// agent refines a segmentation directly.
type FGBalance struct {
	config FGBalanceConfig
	state  state.Segmentation

	network           *policy.Categorical
	continuous        policy.Continuous
	initialContinuous []byte

	threshold      float64
	target         float64
	avg            float64
	gamma          float64
	lastUpdateStep int

	observations []observation
	actions      []int
	rewards      []float64
}

// NewFGBalance returns a new FGBalance agent acting on s
func NewFGBalance(config FGBalanceConfig, s state.Segmentation) (*FGBalance,
	error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newfgbalance: %v", err)
	}

	network, err := policy.NewCategorical(config.PoolSize*config.PoolSize+2,
		numActions, config.Network, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("newfgbalance: %v", err)
	}

	continuous, err := policy.NewGaussian(config.StateDim, config.ActionDim,
		config.Continuous, config.Seed)
	if err != nil {
		return nil, fmt.Errorf("newfgbalance: %v", err)
	}

	f := &FGBalance{
		config:  config,
		state:   s,
		network: network,
	}
	if err := f.SetPolicy(continuous); err != nil {
		return nil, fmt.Errorf("newfgbalance: %v", err)
	}
	f.resetScalars()

	logrus.Infof("initialized %v with threshold %.2f", config.Name,
		f.threshold)
	return f, nil
}

func (f *FGBalance) resetScalars() {
	f.threshold = f.config.InitialThreshold
	f.target = 0.5
	f.avg = 0.5
	f.gamma = f.config.Gamma
	f.lastUpdateStep = 0
	f.observations = nil
	f.actions = nil
	f.rewards = nil
}

// SetPolicy replaces the continuous policy of the agent. Reset restores
// the policy to its state when it was set.
func (f *FGBalance) SetPolicy(p policy.Continuous) error {
	if p.Features() != f.config.StateDim ||
		p.ActionDims() != f.config.ActionDim {
		return fmt.Errorf("setpolicy: invalid policy dimensions"+
			"\n\twant(%v, %v)\n\thave(%v, %v)", f.config.StateDim,
			f.config.ActionDim, p.Features(), p.ActionDims())
	}
	encoded, err := p.GobEncode()
	if err != nil {
		return fmt.Errorf("setpolicy: could not encode policy: %v", err)
	}
	f.continuous = p
	f.initialContinuous = encoded
	return nil
}

// Name implements the agent.Agent interface
func (f *FGBalance) Name() string {
	return f.config.Name
}

// Threshold returns the current segmentation threshold
func (f *FGBalance) Threshold() float64 {
	return f.threshold
}

// StateDim implements the agent.Segmentation interface
func (f *FGBalance) StateDim() int {
	return f.config.StateDim
}

// Policy implements the agent.Segmentation interface
func (f *FGBalance) Policy() policy.Continuous {
	return f.continuous
}

// Network returns the categorical policy used by Decide
func (f *FGBalance) Network() *policy.Categorical {
	return f.network
}

// Observe implements the agent.Segmentation interface
func (f *FGBalance) Observe() agent.Features {
	image := f.state.CurrentImage()
	mask := f.state.CurrentMask()
	prediction := f.state.CurrentPrediction()
	if image == nil || mask == nil || prediction == nil {
		return agent.Features{}
	}
	if !matutils.SameShape(mask, prediction) {
		logrus.Warnf("%v: mask and prediction shapes differ, skipping "+
			"observation", f.Name())
		return agent.Features{}
	}

	gtRatio := matutils.Ratio(mask, 0.5)
	predRatio := matutils.Ratio(prediction, f.threshold)
	f.target = gtRatio
	f.avg = f.config.AvgDecay*f.avg + (1-f.config.AvgDecay)*predRatio

	tp, fp, fn, tn := matutils.Confusion(prediction, mask, f.threshold)
	precision, recall, f1 := 0.0, 0.0, 0.0
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	fgWeight, bgWeight := 0.5, 0.5
	if total := tp + fp + fn + tn; total > 0 {
		fgWeight = (fp + tn) / total
		bgWeight = (tp + fn) / total
	}

	f.observations = append(f.observations, observation{
		Features:    f.features(image, predRatio, f.target),
		PredFGRatio: predRatio,
		TargetRatio: f.target,
	})

	return agent.Features{
		agent.CurrentImage:      image,
		agent.CurrentMask:       mask,
		agent.CurrentPrediction: prediction,
		GTFGRatio:               matutils.Scalar(gtRatio),
		PredFGRatio:             matutils.Scalar(predRatio),
		AvgFGRatio:              matutils.Scalar(f.avg),
		TargetFGRatio:           matutils.Scalar(f.target),
		Threshold:               matutils.Scalar(f.threshold),
		Precision:               matutils.Scalar(precision),
		Recall:                  matutils.Scalar(recall),
		F1Score:                 matutils.Scalar(f1),
		FGWeight:                matutils.Scalar(fgWeight),
		BGWeight:                matutils.Scalar(bgWeight),
		FGRatioDiff:             matutils.Scalar(math.Abs(predRatio - gtRatio)),
	}
}

// features returns the input of the categorical policy: the image
// average pooled to PoolSize x PoolSize followed by the predicted and
// target foreground ratios
func (f *FGBalance) features(image mat.Matrix, predRatio,
	target float64) []float64 {
	pooled := matutils.AvgPool(image, f.config.PoolSize, f.config.PoolSize)
	return append(pooled, predRatio, target)
}

// Decide implements the agent.Segmentation interface. The returned
// Decision holds the prediction binarized at the new threshold.
func (f *FGBalance) Decide(obs agent.Features) agent.Decision {
	image := obs[agent.CurrentImage]
	if len(obs) == 0 || image == nil {
		return agent.Decision{Action: agent.NoAction}
	}
	predRatio, _ := obs.Scalar(PredFGRatio)
	target, _ := obs.Scalar(TargetFGRatio)

	action, probs, err := f.network.SelectAction(f.features(image,
		predRatio, target))
	if err != nil {
		logrus.Warnf("%v: could not select action: %v", f.Name(), err)
		return agent.Decision{Action: agent.NoAction}
	}
	f.actions = append(f.actions, action)
	f.adjust(action)

	decision := agent.Decision{
		Action:        action,
		Probabilities: probs,
		Info: map[string]float64{
			Threshold:     f.threshold,
			PredFGRatio:   predRatio,
			TargetFGRatio: target,
		},
	}
	if prediction := obs[agent.CurrentPrediction]; prediction != nil {
		decision.Output = matutils.Threshold(prediction, f.threshold)
	}
	return decision
}

// adjust moves the threshold by one step according to action
func (f *FGBalance) adjust(action int) {
	switch action {
	case IncreaseThreshold:
		f.threshold = math.Min(f.threshold+f.config.ThresholdStep,
			f.config.MaxThreshold)
	case DecreaseThreshold:
		f.threshold = math.Max(f.threshold-f.config.ThresholdStep,
			f.config.MinThreshold)
	}
}

// Update implements the agent.Segmentation interface. The agent learns
// at most once every UpdateFrequency steps of shared state, and only
// once it has recorded at least two decisions and rewards.
func (f *FGBalance) Update(reward float64, done bool) (policy.Metrics,
	error) {
	f.rewards = append(f.rewards, reward)

	step := f.state.Step()
	if step-f.lastUpdateStep < f.config.UpdateFrequency {
		return policy.Metrics{}, nil
	}
	f.lastUpdateStep = step

	if len(f.actions) < 2 || len(f.rewards) < 2 || len(f.observations) == 0 {
		return policy.Metrics{}, nil
	}
	obs := f.observations[len(f.observations)-1]
	action := f.actions[len(f.actions)-1]

	loss, err := f.network.Learn(obs.Features, action, reward)
	if err != nil {
		return nil, fmt.Errorf("update: %v", err)
	}

	return policy.Metrics{
		"policy_loss": loss,
		"reward":      reward,
		Threshold:     f.threshold,
		PredFGRatio:   obs.PredFGRatio,
		TargetFGRatio: obs.TargetRatio,
		FGRatioDiff:   math.Abs(obs.PredFGRatio - obs.TargetRatio),
	}, nil
}

// prediction returns the prediction an observation refers to
func predictionOf(obs agent.Features) *mat.Dense {
	if p := obs[agent.CurrentPrediction]; p != nil {
		return p
	}
	return obs[agent.CurrentSegmentation]
}

// StateRepresentation implements the agent.Segmentation interface.
// The state is the pooled prediction followed by the predicted and
// target foreground ratios, fit to StateDim. Observations without a
// prediction have an all zero state.
func (f *FGBalance) StateRepresentation(obs agent.Features) []float64 {
	p := predictionOf(obs)
	if p == nil {
		return make([]float64, f.config.StateDim)
	}

	predRatio, ok := obs.Scalar(PredFGRatio)
	if !ok {
		predRatio = 0.5
	}
	target, ok := obs.Scalar(TargetFGRatio)
	if !ok {
		target = 0.5
	}
	return floatutils.Fit(f.features(p, predRatio, target), f.config.StateDim)
}

// ApplyAction implements the agent.Segmentation interface. Actions
// below -ActionCutoff decrease the threshold, actions above
// ActionCutoff increase it. The binarized prediction is written back
// to shared state.
func (f *FGBalance) ApplyAction(action []float64,
	obs agent.Features) *mat.Dense {
	p := predictionOf(obs)
	if p == nil {
		p = f.state.CurrentPrediction()
	}
	if p == nil {
		return nil
	}

	switch v := floatutils.Fit(action, 1)[0]; {
	case v < -ActionCutoff:
		f.adjust(DecreaseThreshold)
	case v > ActionCutoff:
		f.adjust(IncreaseThreshold)
	}

	binary := matutils.Threshold(p, f.threshold)
	f.state.SetCurrentPrediction(binary)
	return binary
}

// Eval sets the agent's policies to evaluation mode
func (f *FGBalance) Eval() {
	f.network.Eval()
	f.continuous.Eval()
}

// Train sets the agent's policies to training mode
func (f *FGBalance) Train() {
	f.network.Train()
	f.continuous.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (f *FGBalance) IsEval() bool {
	return f.network.IsEval()
}

// State is a snapshot of the scalar state of an FGBalance agent
type State struct {
	Threshold       float64
	TargetFGRatio   float64
	AvgFGRatio      float64
	LearningRate    float64
	Gamma           float64
	UpdateFrequency int
	LastUpdateStep  int
	Training        bool

	ActionHistory      int
	RewardHistory      int
	ObservationHistory int
}

// State returns a snapshot of the agent's scalar state
func (f *FGBalance) State() State {
	return State{
		Threshold:          f.threshold,
		TargetFGRatio:      f.target,
		AvgFGRatio:         f.avg,
		LearningRate:       f.network.LearningRate(),
		Gamma:              f.gamma,
		UpdateFrequency:    f.config.UpdateFrequency,
		LastUpdateStep:     f.lastUpdateStep,
		Training:           !f.IsEval(),
		ActionHistory:      len(f.actions),
		RewardHistory:      len(f.rewards),
		ObservationHistory: len(f.observations),
	}
}

// SetState sets the agent's scalar state. History lengths are ignored.
// A change of learning rate restarts the solver with the new step size.
func (f *FGBalance) SetState(s State) error {
	if s.UpdateFrequency < 1 {
		return fmt.Errorf("setstate: update frequency must be >= 1")
	}
	if s.LearningRate <= 0 {
		return fmt.Errorf("setstate: learning rate must be positive")
	}

	f.threshold = floatutils.Clip(s.Threshold, f.config.MinThreshold,
		f.config.MaxThreshold)
	f.target = s.TargetFGRatio
	f.avg = s.AvgFGRatio
	f.gamma = s.Gamma
	f.config.UpdateFrequency = s.UpdateFrequency
	f.lastUpdateStep = s.LastUpdateStep
	if s.LearningRate != f.network.LearningRate() {
		f.network.SetLearningRate(s.LearningRate)
	}
	if s.Training {
		f.Train()
	} else {
		f.Eval()
	}
	return nil
}

// Reset implements the agent.Agent interface
func (f *FGBalance) Reset() error {
	network, err := policy.NewCategorical(f.network.Features(), numActions,
		f.config.Network, f.config.Seed)
	if err != nil {
		return fmt.Errorf("reset: %v", err)
	}
	if err := f.continuous.GobDecode(f.initialContinuous); err != nil {
		return fmt.Errorf("reset: could not restore policy: %v", err)
	}
	if err := f.network.Close(); err != nil {
		logrus.Warnf("%v: could not close network: %v", f.Name(), err)
	}

	f.network = network
	f.resetScalars()
	return nil
}

// Close releases the resources held by the agent's network
func (f *FGBalance) Close() error {
	return f.network.Close()
}

// checkpoint is the gob encoded form of an FGBalance agent
type checkpoint struct {
	Name  string
	State State

	Weights    [][]float64
	Continuous []byte

	Actions []int
	Rewards []float64
}

// Save implements the agent.Agent interface. The checkpoint holds the
// network weights, the continuous policy and the scalar state. Solver
// statistics are not saved; a loaded agent restarts its solver with
// the saved learning rate.
func (f *FGBalance) Save(path string) error {
	continuous, err := f.continuous.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode policy: %v", err)
	}

	c := checkpoint{
		Name:       f.Name(),
		State:      f.State(),
		Weights:    f.network.Weights(),
		Continuous: continuous,
		Actions:    f.actions,
		Rewards:    f.rewards,
	}
	if err := agent.SaveGob(path, c); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load implements the agent.Agent interface. The checkpoint is fully
// decoded and checked before any state of the agent changes.
func (f *FGBalance) Load(path string) error {
	var c checkpoint
	if err := agent.LoadGob(path, &c); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	current := f.network.Weights()
	if len(c.Weights) != len(current) {
		return fmt.Errorf("load: invalid number of weight slices"+
			"\n\twant(%v)\n\thave(%v)", len(current), len(c.Weights))
	}
	for i := range current {
		if len(c.Weights[i]) != len(current[i]) {
			return fmt.Errorf("load: invalid number of weights in slice %d"+
				"\n\twant(%v)\n\thave(%v)", i, len(current[i]),
				len(c.Weights[i]))
		}
	}
	if c.State.UpdateFrequency < 1 || c.State.LearningRate <= 0 {
		return fmt.Errorf("load: invalid agent state")
	}

	previous, err := f.continuous.GobEncode()
	if err != nil {
		return fmt.Errorf("load: could not encode current policy: %v", err)
	}
	if err := f.continuous.GobDecode(c.Continuous); err != nil {
		return fmt.Errorf("load: could not decode policy: %v", err)
	}
	if f.continuous.Features() != f.config.StateDim ||
		f.continuous.ActionDims() != f.config.ActionDim {
		if err := f.continuous.GobDecode(previous); err != nil {
			return fmt.Errorf("load: could not restore policy: %v", err)
		}
		return fmt.Errorf("load: checkpoint policy has invalid dimensions")
	}

	if err := f.network.SetWeights(c.Weights); err != nil {
		return fmt.Errorf("load: %v", err)
	}
	if err := f.SetState(c.State); err != nil {
		return fmt.Errorf("load: %v", err)
	}
	f.actions = c.Actions
	f.rewards = c.Rewards
	return nil
}
