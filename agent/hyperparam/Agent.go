// Package hyperparam implements agents that tune a hyperparameter of a
// training run between epochs: a LearningRate agent and a
// ClassWeights agent.
//
// An agent builds a fixed length state vector from the metrics in
// shared state, asks its continuous policy for an action in [-1, 1]
// and maps the action to a new hyperparameter value by a multiplicative
// scaling law. A Schedule decides at which epochs the agent acts.
package hyperparam

import (
	"fmt"
	"math"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/timestep"
	"github.com/hypera/hypera/utils/floatutils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pending is the state and action of the last committed update whose
// reward has not been observed yet
type pending struct {
	State  []float64
	Action []float64
}

// Agent implements agent.Hyperparameter for any hyperparameter domain
type Agent struct {
	config  Config
	domain  domain
	metrics state.Metrics

	schedule *agent.Schedule
	policy   policy.Continuous
	rewarder *rewarder
	recorder agent.Recorder

	initial       agent.Value
	value         agent.Value
	pending       *pending
	initialPolicy []byte // Encoded policy restored on Reset
}

// NewLearningRate returns a new learning rate agent that writes the
// learning rate to metrics
func NewLearningRate(config LearningRateConfig,
	metrics state.Metrics) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newlearningrate: %v", err)
	}
	d := learningRate{
		min:      config.Min,
		max:      config.Max,
		metrics:  append([]string{}, config.Metrics...),
		stateDim: config.StateDim,
	}

	a, err := newAgent(config.Config, d, agent.Value{config.InitialValue},
		metrics)
	if err != nil {
		return nil, fmt.Errorf("newlearningrate: %v", err)
	}
	return a, nil
}

// NewClassWeights returns a new class weights agent that writes the
// class weights to metrics
func NewClassWeights(config ClassWeightsConfig,
	metrics state.Metrics) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newclassweights: %v", err)
	}
	d := classWeights{
		min:        config.Min,
		max:        config.Max,
		numClasses: config.NumClasses,
		metrics:    append([]string{}, config.Metrics...),
	}

	a, err := newAgent(config.Config, d, config.initialWeights(), metrics)
	if err != nil {
		return nil, fmt.Errorf("newclassweights: %v", err)
	}
	return a, nil
}

func newAgent(config Config, d domain, initial agent.Value,
	metrics state.Metrics) (*Agent, error) {
	schedule, err := agent.NewSchedule(config.Schedule)
	if err != nil {
		return nil, err
	}

	p, err := policy.NewGaussian(config.StateDim, d.ActionDim(),
		config.Policy, config.Seed)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:   config,
		domain:   d,
		metrics:  metrics,
		schedule: schedule,
		rewarder: newRewarder(config.Reward),
		initial:  initial.Copy(),
		value:    initial.Copy(),
	}
	if err := a.SetPolicy(p); err != nil {
		return nil, err
	}

	metrics.SetHyperparameter(d.Key(), a.value)
	logrus.Infof("initialized %v with %v=%v", config.Name, d.Key(),
		d.Format(a.value))
	return a, nil
}

// SetPolicy replaces the policy of the agent. The policy must act on
// StateDim features with ActionDim dimensional actions. Reset restores
// the policy to its state when it was set.
func (a *Agent) SetPolicy(p policy.Continuous) error {
	if p.Features() != a.config.StateDim || p.ActionDims() != a.ActionDim() {
		return fmt.Errorf("setpolicy: invalid policy dimensions"+
			"\n\twant(%v, %v)\n\thave(%v, %v)", a.config.StateDim,
			a.ActionDim(), p.Features(), p.ActionDims())
	}
	encoded, err := p.GobEncode()
	if err != nil {
		return fmt.Errorf("setpolicy: could not encode policy: %v", err)
	}

	a.policy = p
	a.initialPolicy = encoded
	return nil
}

// SetRecorder sets the Recorder that receives every committed update
func (a *Agent) SetRecorder(r agent.Recorder) {
	a.recorder = r
}

// Name implements the agent.Agent interface
func (a *Agent) Name() string {
	return a.config.Name
}

// Key implements the agent.Hyperparameter interface
func (a *Agent) Key() string {
	return a.domain.Key()
}

// Value implements the agent.Hyperparameter interface
func (a *Agent) Value() agent.Value {
	return a.value.Copy()
}

// StateDim implements the agent.Hyperparameter interface
func (a *Agent) StateDim() int {
	return a.config.StateDim
}

// ActionDim implements the agent.Hyperparameter interface
func (a *Agent) ActionDim() int {
	return a.domain.ActionDim()
}

// Policy returns the policy of the agent
func (a *Agent) Policy() policy.Continuous {
	return a.policy
}

// StateRepresentation implements the agent.Hyperparameter interface
func (a *Agent) StateRepresentation() []float64 {
	features := a.domain.Features(a.metrics, a.value,
		a.schedule.EpochsSinceUpdate(a.metrics.CurrentEpoch()),
		a.config.EnhancedState)
	return floatutils.Fit(features, a.config.StateDim)
}

// ShouldUpdate implements the agent.Hyperparameter interface
func (a *Agent) ShouldUpdate(epoch int) bool {
	return a.schedule.ShouldUpdate(epoch)
}

// Phase implements the agent.Hyperparameter interface
func (a *Agent) Phase(epoch int) agent.Phase {
	return a.schedule.Phase(epoch)
}

// SelectAction implements the agent.Hyperparameter interface
func (a *Agent) SelectAction(epoch int) (agent.Value, bool) {
	if !a.ShouldUpdate(epoch) {
		return nil, false
	}
	_, action := a.act()
	return a.ActionToHyperparameter(action), true
}

// act queries the policy in the current state
func (a *Agent) act() ([]float64, []float64) {
	s := a.StateRepresentation()
	action := a.policy.SelectAction(mat.NewVecDense(len(s), s))
	return s, append([]float64{}, action.RawVector().Data...)
}

// ActionToHyperparameter implements the agent.Hyperparameter interface
func (a *Agent) ActionToHyperparameter(action []float64) agent.Value {
	return a.domain.Apply(a.value, a.sanitize(action))
}

// sanitize fits action to the action dimension and replaces non-finite
// components with 0, which leaves the value unchanged
func (a *Agent) sanitize(action []float64) []float64 {
	if len(action) != a.ActionDim() {
		logrus.Warnf("%v: fitting action of length %d to %d", a.Name(),
			len(action), a.ActionDim())
	}
	action = floatutils.Fit(action, a.ActionDim())
	for i, v := range action {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logrus.Warnf("%v: replacing non-finite action component %d "+
				"(%v) with 0", a.Name(), i, v)
			action[i] = 0.0
		}
	}
	return action
}

// UpdateHyperparameter implements the agent.Hyperparameter interface.
// The update is committed at the current epoch of shared state.
func (a *Agent) UpdateHyperparameter(action []float64) agent.Update {
	return a.commit(a.StateRepresentation(), action,
		a.metrics.CurrentEpoch())
}

// commit commits the value mapped from action, taken in state s
func (a *Agent) commit(s, action []float64, epoch int) agent.Update {
	action = a.sanitize(action)
	old := a.value.Copy()
	a.value = a.domain.Apply(a.value, action)

	relative := make([]float64, len(a.value))
	for i := range relative {
		relative[i] = a.value[i] / old[i]
	}

	a.metrics.SetHyperparameter(a.Key(), a.value)
	a.schedule.Commit(epoch)
	a.pending = &pending{State: s, Action: action}

	if len(relative) == 1 {
		logrus.Infof("updated %v: %v -> %v (factor: %.2f)", a.Key(),
			a.domain.Format(old), a.domain.Format(a.value), relative[0])
	} else {
		logrus.Infof("updated %v: %v -> %v (relative change: %.2f)", a.Key(),
			a.domain.Format(old), a.domain.Format(a.value), relative)
	}

	update := agent.Update{
		Hyperparameter: a.Key(),
		OldValue:       old,
		NewValue:       a.value.Copy(),
		RelativeChange: relative,
		Epoch:          epoch,
	}
	if a.recorder != nil {
		if err := a.recorder.RecordUpdate(update); err != nil {
			logrus.Warnf("%v: could not record update: %v", a.Name(), err)
		}
	}
	return update
}

// Step implements the agent.Hyperparameter interface
func (a *Agent) Step(epoch int) (agent.Update, bool) {
	if !a.ShouldUpdate(epoch) {
		logrus.Debugf("%v: %v at epoch %d", a.Name(), a.Phase(epoch), epoch)
		return agent.Update{}, false
	}
	s, action := a.act()
	return a.commit(s, action, epoch), true
}

// Observe implements the agent.Hyperparameter interface
func (a *Agent) Observe(reward float64, done bool) (policy.Metrics, error) {
	if a.pending == nil {
		return policy.Metrics{}, nil
	}

	s := a.pending.State
	next := a.StateRepresentation()
	t := timestep.NewTransition(
		mat.NewVecDense(len(s), s),
		mat.NewVecDense(len(a.pending.Action), a.pending.Action),
		reward,
		done,
		a.config.Discount,
		mat.NewVecDense(len(next), next),
	)

	metrics, err := a.policy.Update(t)
	if err != nil {
		return nil, fmt.Errorf("observe: %v", err)
	}
	a.pending = nil

	if metrics == nil {
		metrics = policy.Metrics{}
	}
	metrics["reward"] = reward
	return metrics, nil
}

// Reward implements the agent.Hyperparameter interface
func (a *Agent) Reward() float64 {
	return a.rewarder.reward(a.metrics)
}

// Pending returns whether the agent has committed an update whose
// reward has not been observed
func (a *Agent) Pending() bool {
	return a.pending != nil
}

// Reset implements the agent.Agent interface
func (a *Agent) Reset() error {
	if err := a.policy.GobDecode(a.initialPolicy); err != nil {
		return fmt.Errorf("reset: could not restore policy: %v", err)
	}
	a.value = a.initial.Copy()
	a.schedule.Reset()
	a.rewarder.reset()
	a.pending = nil
	a.metrics.SetHyperparameter(a.Key(), a.value)
	return nil
}

// checkpoint is the gob encoded form of an Agent
type checkpoint struct {
	Name          string
	Key           string
	Value         []float64
	Schedule      agent.ScheduleState
	RewardHistory []float64
	RewardEpoch   int
	Pending       *pending
	Policy        []byte
}

// Save implements the agent.Agent interface
func (a *Agent) Save(path string) error {
	encoded, err := a.policy.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode policy: %v", err)
	}

	c := checkpoint{
		Name:          a.Name(),
		Key:           a.Key(),
		Value:         a.value,
		Schedule:      a.schedule.State(),
		RewardHistory: a.rewarder.history,
		RewardEpoch:   a.rewarder.epoch,
		Pending:       a.pending,
		Policy:        encoded,
	}
	if err := agent.SaveGob(path, c); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}

// Load implements the agent.Agent interface
func (a *Agent) Load(path string) error {
	var c checkpoint
	if err := agent.LoadGob(path, &c); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	if c.Key != a.Key() {
		return fmt.Errorf("load: checkpoint is for %v, not %v", c.Key,
			a.Key())
	}
	if len(c.Value) != len(a.value) {
		return fmt.Errorf("load: invalid value length\n\twant(%v)\n\thave(%v)",
			len(a.value), len(c.Value))
	}
	previous, err := a.policy.GobEncode()
	if err != nil {
		return fmt.Errorf("load: could not encode current policy: %v", err)
	}
	if err := a.policy.GobDecode(c.Policy); err != nil {
		return fmt.Errorf("load: could not decode policy: %v", err)
	}
	if a.policy.Features() != a.StateDim() ||
		a.policy.ActionDims() != a.ActionDim() {
		if err := a.policy.GobDecode(previous); err != nil {
			return fmt.Errorf("load: could not restore policy: %v", err)
		}
		return fmt.Errorf("load: checkpoint policy has invalid dimensions")
	}

	a.value = agent.Value(c.Value)
	a.schedule.SetState(c.Schedule)
	a.rewarder.history = c.RewardHistory
	a.rewarder.epoch = c.RewardEpoch
	a.pending = c.Pending
	a.metrics.SetHyperparameter(a.Key(), a.value)
	return nil
}
