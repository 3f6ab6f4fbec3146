// Package timestep implements timesteps of the interaction between the
// agents and the training run they tune
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either the
// first step of a training run, a middle step, or the last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single coordinator cycle of a training
// run. Step counts cycles over the whole run, while Epoch is the
// training epoch the cycle belongs to.
type TimeStep struct {
	stepType StepType
	Epoch    int
	Number   int
	Reward   float64
}

// New returns a new TimeStep
func New(t StepType, epoch, number int, reward float64) TimeStep {
	return TimeStep{stepType: t, Epoch: epoch, Number: number, Reward: reward}
}

// First returns whether a TimeStep is the first in a training run
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in a training run
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in a training run
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Epoch: %v  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.Reward, t.Epoch, t.Number)
}

// Transition packages together a single (s, a, r, γ, s') transition
// that a continuous policy learns from
type Transition struct {
	State     *mat.VecDense
	Action    *mat.VecDense
	Reward    float64
	Discount  float64
	NextState *mat.VecDense
}

// NewTransition returns a new Transition. The discount is 0.0 on the
// last transition of a training run.
func NewTransition(state, action *mat.VecDense, reward float64, done bool,
	discount float64, nextState *mat.VecDense) Transition {
	if done {
		discount = 0.0
	}
	return Transition{
		State:     state,
		Action:    action,
		Reward:    reward,
		Discount:  discount,
		NextState: nextState,
	}
}
