// Package policy implements the learning strategies that agents are
// built on: continuous-action policies that agents query for
// hyperparameter adjustments and discrete-action policies that
// segmentation agents use to move their decision thresholds.
package policy

import (
	"encoding/gob"

	"github.com/hypera/hypera/timestep"
	"gonum.org/v1/gonum/mat"
)

// Metrics holds named diagnostics returned by a policy update
type Metrics map[string]float64

// Continuous is a policy over actions in [-1, 1]^ActionDims(). Agents
// depend only on this contract, so any actor-critic implementation,
// such as soft actor-critic, can be injected in place of the default
// linear Gaussian policy.
type Continuous interface {
	// SelectAction returns an action in [-1, 1]^ActionDims() for the
	// given state. In evaluation mode the action is deterministic.
	SelectAction(state *mat.VecDense) *mat.VecDense

	// Update learns from a single transition
	Update(t timestep.Transition) (Metrics, error)

	Features() int
	ActionDims() int

	Eval()
	Train()
	IsEval() bool

	gob.GobEncoder
	gob.GobDecoder
}
