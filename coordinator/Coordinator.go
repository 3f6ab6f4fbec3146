// Package coordinator implements a Coordinator that runs a set of
// segmentation agents sharing one segmentation output.
//
// Each cycle the Coordinator fans an observation out to all agents,
// collects their decisions and combines them into one segmentation by
// a conflict resolution mode. Rewards fed back through UpdateAgents
// determine a weight per agent, which the resolution modes use to
// trust some agents over others.
package coordinator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/policy"
	"github.com/hypera/hypera/state"
	"github.com/hypera/hypera/utils/floatutils"
	"github.com/hypera/hypera/utils/matutils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TotalReward is the reward key used for agents without a reward of
// their own
const TotalReward = "total"

// Stage is the stage of the coordinator's cycle
type Stage int

const (
	// Idle coordinators are between cycles
	Idle Stage = iota

	// Observing coordinators are collecting features from their agents
	Observing

	// Deciding coordinators are collecting decisions from their agents
	Deciding

	// Resolving coordinators are combining decisions into a prediction
	Resolving

	// Updating coordinators are delivering rewards and recomputing
	// agent weights
	Updating
)

// String implements the fmt.Stringer interface
func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Observing:
		return "observing"
	case Deciding:
		return "deciding"
	case Resolving:
		return "resolving"
	case Updating:
		return "updating"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// WeightRecorder receives the agent weights after every weight update
type WeightRecorder interface {
	RecordWeights(step int, weights map[string]float64) error
}

// Coordinator runs a set of segmentation agents. Agents are always
// stepped sequentially in the order they were given to New, which also
// breaks ties between equally weighted agents.
type Coordinator struct {
	config Config
	state  state.Segmentation
	agents []agent.Segmentation

	weights     map[string]float64
	performance map[string][]float64
	decisions   map[string]agent.Decision

	recorder WeightRecorder
	stage    Stage
}

// New returns a new Coordinator over agents. All agents start with
// weight 1.
func New(config Config, s state.Segmentation,
	agents ...agent.Segmentation) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if !config.Resolution.Known() {
		logrus.Warnf("unknown conflict resolution %q, using the first "+
			"available decision", config.Resolution)
	}

	c := &Coordinator{
		config:      config,
		state:       s,
		weights:     make(map[string]float64, len(agents)),
		performance: make(map[string][]float64, len(agents)),
	}
	for _, a := range agents {
		if _, ok := c.weights[a.Name()]; ok {
			return nil, fmt.Errorf("new: duplicate agent name %q", a.Name())
		}
		c.agents = append(c.agents, a)
		c.weights[a.Name()] = 1.0
		c.performance[a.Name()] = nil
	}
	return c, nil
}

// SetRecorder sets the WeightRecorder that receives agent weights
func (c *Coordinator) SetRecorder(r WeightRecorder) {
	c.recorder = r
}

// Agents returns the agents of the coordinator in stepping order
func (c *Coordinator) Agents() []agent.Segmentation {
	return append([]agent.Segmentation{}, c.agents...)
}

// Resolution returns the conflict resolution mode
func (c *Coordinator) Resolution() Resolution {
	return c.config.Resolution
}

// Stage returns the stage of the coordinator's cycle
func (c *Coordinator) Stage() Stage {
	return c.stage
}

// Weights returns a copy of the agent weights
func (c *Coordinator) Weights() map[string]float64 {
	weights := make(map[string]float64, len(c.weights))
	for name, w := range c.weights {
		weights[name] = w
	}
	return weights
}

// Performance returns a copy of the rewards recorded for an agent
func (c *Coordinator) Performance(name string) []float64 {
	return append([]float64{}, c.performance[name]...)
}

// Decisions returns the decisions of the last call to MakeDecision
func (c *Coordinator) Decisions() map[string]agent.Decision {
	return c.decisions
}

// ProcessObservation sets image as the current image and has every
// agent observe the shared state. The returned features hold every
// agent's features keyed by "<agent name>_<feature>", and are mirrored
// into shared state under the same keys.
func (c *Coordinator) ProcessObservation(image *mat.Dense) agent.Features {
	c.stage = Observing
	defer func() { c.stage = Idle }()

	c.state.SetCurrentImage(image)

	features := make(agent.Features)
	for _, a := range c.agents {
		for key, value := range a.Observe() {
			namespaced := a.Name() + "_" + key
			c.state.SetFeature(namespaced, value)
			features[namespaced] = value
		}
	}
	return features
}

// MakeDecision routes each agent's namespaced features back to it,
// collects the agents' decisions and resolves them into one
// segmentation, which becomes the current prediction of shared state.
// If no agent produced a decision, nil is returned and the current
// prediction is left unchanged.
func (c *Coordinator) MakeDecision(features agent.Features) *mat.Dense {
	c.stage = Deciding
	defer func() { c.stage = Idle }()

	c.decisions = make(map[string]agent.Decision, len(c.agents))
	for _, a := range c.agents {
		prefix := a.Name() + "_"
		own := make(agent.Features)
		for key, value := range features {
			if strings.HasPrefix(key, prefix) {
				own[strings.TrimPrefix(key, prefix)] = value
			}
		}
		c.decisions[a.Name()] = a.Decide(own)
	}

	c.stage = Resolving
	combined := c.resolve(c.decisions)
	if combined != nil {
		c.state.SetCurrentPrediction(combined)
	}
	return combined
}

// Act processes an observation and returns the combined decision
func (c *Coordinator) Act(image *mat.Dense) *mat.Dense {
	return c.MakeDecision(c.ProcessObservation(image))
}

// resolve combines the outputs of decisions by the conflict resolution
// mode. Decisions without output are ignored.
func (c *Coordinator) resolve(decisions map[string]agent.Decision) *mat.Dense {
	var names []string
	var outputs []*mat.Dense
	for _, a := range c.agents {
		if d, ok := decisions[a.Name()]; ok && d.Output != nil {
			names = append(names, a.Name())
			outputs = append(outputs, d.Output)
		}
	}

	switch c.config.Resolution {
	case WeightedAverage:
		return c.weightedAverage(names, outputs)

	case Priority:
		if len(outputs) == 0 {
			return nil
		}
		order := make([]int, len(names))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return c.weights[names[order[i]]] > c.weights[names[order[j]]]
		})
		return outputs[order[0]]

	case Voting:
		if len(outputs) == 0 {
			if image := c.state.CurrentImage(); image != nil {
				r, cols := image.Dims()
				return mat.NewDense(r, cols, nil)
			}
			return nil
		}
		weights := make([]float64, len(outputs))
		for i := range weights {
			weights[i] = 1.0
		}
		return matutils.Threshold(c.mean(outputs, weights), 0.5)

	default:
		if len(outputs) == 0 {
			return nil
		}
		return outputs[0]
	}
}

// weightedAverage returns the mean of outputs weighted by the weights
// of the named agents, or nil if there are no outputs
func (c *Coordinator) weightedAverage(names []string,
	outputs []*mat.Dense) *mat.Dense {
	if len(outputs) == 0 {
		return nil
	}
	weights := make([]float64, len(names))
	for i, name := range names {
		weights[i] = c.weights[name]
	}
	return c.mean(outputs, weights)
}

// mean returns the weighted mean of outputs. Outputs whose shape
// differs from the first are dropped.
func (c *Coordinator) mean(outputs []*mat.Dense, weights []float64) *mat.Dense {
	kept := outputs[:0:0]
	keptWeights := weights[:0:0]
	for i, out := range outputs {
		if !matutils.SameShape(out, outputs[0]) {
			logrus.Warn("dropping decision with a shape different from the " +
				"first decision")
			continue
		}
		kept = append(kept, out)
		keptWeights = append(keptWeights, weights[i])
	}
	return matutils.WeightedMean(kept, keptWeights)
}

// UpdateAgents gives every agent its reward, falling back to the
// TotalReward entry and then 0, records the reward in the agent's
// performance history and recomputes the agent weights. Agents whose
// update fails are logged and the remaining agents are still updated;
// the failures are returned joined.
func (c *Coordinator) UpdateAgents(rewards map[string]float64,
	done bool) (map[string]policy.Metrics, error) {
	c.stage = Updating
	defer func() { c.stage = Idle }()

	metrics := make(map[string]policy.Metrics, len(c.agents))
	var errs []error
	for _, a := range c.agents {
		reward, ok := rewards[a.Name()]
		if !ok {
			reward = rewards[TotalReward]
		}

		m, err := a.Update(reward, done)
		if err != nil {
			logrus.Warnf("could not update agent %v: %v", a.Name(), err)
			errs = append(errs, fmt.Errorf("%v: %w", a.Name(), err))
		}
		metrics[a.Name()] = m
		c.performance[a.Name()] = append(c.performance[a.Name()], reward)
	}

	c.updateWeights()
	if err := errors.Join(errs...); err != nil {
		return metrics, fmt.Errorf("updateagents: %w", err)
	}
	return metrics, nil
}

// updateWeights sets the weight of every agent with at least
// WeightWindow recorded rewards to the mean of its last WeightWindow
// rewards, floored at MinWeight, and then scales all weights to a mean
// of 1
func (c *Coordinator) updateWeights() {
	for _, a := range c.agents {
		rewards := c.performance[a.Name()]
		if len(rewards) < c.config.WeightWindow {
			continue
		}
		recent := floatutils.Last(rewards, c.config.WeightWindow)
		c.weights[a.Name()] = math.Max(c.config.MinWeight,
			floatutils.Mean(recent))
	}

	weights := make([]float64, len(c.agents))
	for i, a := range c.agents {
		weights[i] = c.weights[a.Name()]
	}
	if total := floats.Sum(weights); total > 0 {
		scale := float64(len(c.agents)) / total
		for _, a := range c.agents {
			c.weights[a.Name()] *= scale
		}
	}
	logrus.Debugf("updated agent weights: %v", c.weights)

	if c.recorder != nil {
		if err := c.recorder.RecordWeights(c.state.Step(),
			c.Weights()); err != nil {
			logrus.Warnf("could not record agent weights: %v", err)
		}
	}
}

// RefineSegmentation refines a prediction with every agent's
// continuous policy. Each agent acts on its state representation of
// the observation {current_segmentation: initial, ground_truth}, and
// the agents' refinements are combined by their weighted mean and
// binarized at 0.5. initial is recorded as the current segmentation
// of shared state before the agents act, and the result replaces it.
//
// Agents that produce no refinement are skipped. If no agent produces
// one, initial is returned unchanged.
func (c *Coordinator) RefineSegmentation(initial *mat.Dense) *mat.Dense {
	c.state.UpdateSegmentation(initial)

	obs := agent.Features{
		agent.CurrentSegmentation: initial,
		agent.GroundTruth:         c.state.GroundTruth(),
	}

	var refinements []*mat.Dense
	var weights []float64
	for _, a := range c.agents {
		s := floatutils.Fit(a.StateRepresentation(obs), a.StateDim())
		action := a.Policy().SelectAction(mat.NewVecDense(len(s), s))

		refined := a.ApplyAction(action.RawVector().Data, obs)
		if refined == nil {
			logrus.Warnf("agent %v produced no refinement", a.Name())
			continue
		}
		if !matutils.SameShape(refined, initial) {
			logrus.Warnf("agent %v produced a refinement of the wrong shape",
				a.Name())
			continue
		}
		refinements = append(refinements, refined)
		weights = append(weights, c.weights[a.Name()])
	}

	combined := matutils.WeightedMean(refinements, weights)
	if combined == nil {
		return initial
	}
	refined := matutils.Threshold(combined, 0.5)
	c.state.UpdateSegmentation(refined)
	return refined
}

// Reset resets every agent
func (c *Coordinator) Reset() error {
	var errs []error
	for _, a := range c.agents {
		if err := a.Reset(); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", a.Name(), err))
		}
	}
	logrus.Info("reset all agents")
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
