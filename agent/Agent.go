// Package agent defines the capability sets shared by hyperparameter
// agents and segmentation agents, the values they exchange with the
// training loop and the scheduling state machine that decides when a
// hyperparameter agent acts.
package agent

import (
	"github.com/hypera/hypera/policy"
	"gonum.org/v1/gonum/mat"
)

// Agent is the capability set common to all agents
type Agent interface {
	Name() string

	// Save writes a checkpoint of the agent to path
	Save(path string) error

	// Load restores the agent from the checkpoint at path. If no
	// checkpoint exists, an error wrapping ErrCheckpointNotFound is
	// returned. The agent is left unchanged on any error.
	Load(path string) error

	// Reset restores the agent to its initial state
	Reset() error
}

// Hyperparameter is an agent that owns a single hyperparameter of the
// training run and adjusts it between epochs
type Hyperparameter interface {
	Agent

	// Key returns the key of the hyperparameter in shared state
	Key() string
	Value() Value

	// StateRepresentation returns the state vector the agent's policy
	// acts on. The vector always has StateDim() elements.
	StateRepresentation() []float64
	StateDim() int
	ActionDim() int

	ShouldUpdate(epoch int) bool

	// SelectAction returns the candidate value proposed by the policy
	// at epoch, or false if the agent should not update at epoch. The
	// candidate is not committed.
	SelectAction(epoch int) (Value, bool)

	// ActionToHyperparameter maps a raw policy action to a value within
	// the hyperparameter's domain. Actions of the wrong length are
	// zero-padded or truncated.
	ActionToHyperparameter(action []float64) Value

	// UpdateHyperparameter commits the value mapped from action and
	// returns an audit record of the change
	UpdateHyperparameter(action []float64) Update

	// Step selects and commits an action at epoch if the schedule
	// allows, advancing the schedule otherwise
	Step(epoch int) (Update, bool)

	// Observe feeds the reward for the last committed action back to
	// the policy. It does nothing if no action is pending.
	Observe(reward float64, done bool) (policy.Metrics, error)

	// Reward computes the reward of the agent's last action from the
	// metrics in shared state
	Reward() float64

	Phase(epoch int) Phase
}

// Segmentation is an agent that acts on the segmentation of the
// current image
type Segmentation interface {
	Agent

	// Observe reads the current image, mask and prediction from shared
	// state. It returns an empty Features if any of them is missing.
	Observe() Features

	// Decide selects a discrete action from the observed features and
	// applies it immediately. The Decision has Action NoAction if the
	// features are empty.
	Decide(Features) Decision

	// Update records the reward of the last decision and learns from it
	// when enough decisions have been recorded. Metrics is empty if no
	// learning step was taken.
	Update(reward float64, done bool) (policy.Metrics, error)

	// StateRepresentation returns the state vector of the continuous
	// policy for an observation. The vector always has StateDim()
	// elements.
	StateRepresentation(obs Features) []float64
	StateDim() int
	Policy() policy.Continuous

	// ApplyAction applies a continuous action to the prediction in obs,
	// falling back to the prediction in shared state, and returns the
	// refined prediction or nil if there is no prediction to refine
	ApplyAction(action []float64, obs Features) *mat.Dense
}

// Features maps feature names to single channel matrices. Scalar
// features are stored as 1 x 1 matrices.
type Features map[string]*mat.Dense

// Keys of the tensors in Features shared by all segmentation agents
const (
	CurrentImage        = "current_image"
	CurrentMask         = "current_mask"
	CurrentPrediction   = "current_prediction"
	CurrentSegmentation = "current_segmentation"
	GroundTruth         = "ground_truth"
)

// Scalar returns the scalar feature stored under key and whether it
// exists
func (f Features) Scalar(key string) (float64, bool) {
	m, ok := f[key]
	if !ok || m == nil {
		return 0.0, false
	}
	return m.At(0, 0), true
}

// NoAction is the Action of a Decision on which no action was taken
const NoAction = -1

// Decision is the outcome of a segmentation agent's Decide
type Decision struct {
	Action        int
	Probabilities []float64

	// Output is the agent's segmentation of the current image after
	// the action was applied, nil if there is none
	Output *mat.Dense
	Info   map[string]float64
}

// Value is the normalized representation of a hyperparameter value.
// Scalar hyperparameters have a single element.
type Value []float64

// Copy returns a copy of v
func (v Value) Copy() Value {
	if v == nil {
		return nil
	}
	return append(Value{}, v...)
}

// Scalar returns the first element of v or 0 if v is empty
func (v Value) Scalar() float64 {
	if len(v) == 0 {
		return 0.0
	}
	return v[0]
}

// Update is the audit record of a committed hyperparameter change
type Update struct {
	Hyperparameter string
	OldValue       Value
	NewValue       Value

	// RelativeChange holds NewValue[i] / OldValue[i]
	RelativeChange []float64
	Epoch          int
}

// Recorder receives every committed hyperparameter update
type Recorder interface {
	RecordUpdate(Update) error
}
