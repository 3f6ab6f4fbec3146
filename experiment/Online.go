package experiment

import (
	"errors"
	"fmt"
	"math"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/coordinator"
	env "github.com/hypera/hypera/environment"
	"github.com/hypera/hypera/experiment/checkpointer"
	"github.com/hypera/hypera/experiment/tracker"
	"github.com/hypera/hypera/state"
	ts "github.com/hypera/hypera/timestep"
	"github.com/hypera/hypera/utils/matutils"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Online is an Experiment that tunes a training run online. Between
// epochs, each hyperparameter agent is rewarded for its last change and
// may change its hyperparameter again. Within an epoch, the coordinator
// acts on every image and its agents are rewarded by how closely the
// foreground ratio of the combined prediction matches the ground truth.
type Online struct {
	trainer     env.Trainer
	state       *state.Manager
	hyper       []agent.Hyperparameter
	coordinator *coordinator.Coordinator
	refine      bool

	currentStep   int
	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
}

// NewOnline creates and returns a new online experiment. The coordinator
// may be nil to tune hyperparameters only. The t parameter is a slice
// of tracker.Tracker which determine what data is saved.
func NewOnline(e env.Trainer, m *state.Manager,
	hyper []agent.Hyperparameter, c *coordinator.Coordinator,
	refine bool, t ...tracker.Tracker) *Online {
	return &Online{
		trainer:     e,
		state:       m,
		hyper:       hyper,
		coordinator: c,
		refine:      refine,
		trackers:    t,
	}
}

// Register registers a tracker.Tracker with an Experiment so that data
// generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// RegisterCheckpointer registers a checkpointer.Checkpointer that is
// called on every step of the experiment
func (o *Online) RegisterCheckpointer(c checkpointer.Checkpointer) {
	o.checkpointers = append(o.checkpointers, c)
}

// RunEpoch runs a single epoch of the experiment
func (o *Online) RunEpoch(epoch int) error {
	if err := o.trainer.RunEpoch(epoch); err != nil {
		return fmt.Errorf("runepoch: %v", err)
	}
	last := epoch == o.trainer.Epochs()-1

	for _, h := range o.hyper {
		if _, err := h.Observe(h.Reward(), last); err != nil {
			return fmt.Errorf("runepoch: %v: %v", h.Name(), err)
		}
		h.Step(epoch)
	}

	if o.coordinator == nil {
		return nil
	}

	var epochReward float64
	steps := o.trainer.StepsPerEpoch()
	for i := 0; i < steps; i++ {
		stepType := ts.Mid
		switch {
		case o.currentStep == 0:
			stepType = ts.First
		case last && i == steps-1:
			stepType = ts.Last
		}
		step := ts.New(stepType, epoch, o.currentStep, 0.0)

		if err := o.trainer.Step(step); err != nil {
			return fmt.Errorf("runepoch: %v", err)
		}
		prediction := o.coordinator.Act(o.state.CurrentImage())

		step.Reward = o.reward(prediction)
		epochReward += step.Reward
		rewards := map[string]float64{coordinator.TotalReward: step.Reward}
		if _, err := o.coordinator.UpdateAgents(rewards,
			step.Last()); err != nil {
			logrus.Warnf("step %d: %v", step.Number, err)
		}

		if o.refine && prediction != nil {
			o.coordinator.RefineSegmentation(prediction)
		}

		o.track(step)
		if err := o.checkpoint(step); err != nil {
			return fmt.Errorf("runepoch: %v", err)
		}
		o.currentStep++
	}

	dice, _ := o.state.LatestMetric("dice_score")
	logrus.Infof("epoch %d: dice %.4f, segmentation reward %.4f", epoch,
		dice, epochReward/float64(steps))
	return nil
}

// reward returns 1 - |pred_fg_ratio - gt_fg_ratio| for a prediction of
// the current image, falling back to the current prediction of shared
// state. The reward is 0 without a prediction and mask of equal shape.
func (o *Online) reward(prediction *mat.Dense) float64 {
	if prediction == nil {
		prediction = o.state.CurrentPrediction()
	}
	mask := o.state.CurrentMask()
	if prediction == nil || mask == nil ||
		!matutils.SameShape(prediction, mask) {
		return 0.0
	}
	return 1.0 - math.Abs(matutils.Ratio(prediction, 0.5)-
		matutils.Ratio(mask, 0.5))
}

// Run runs the entire experiment for all epochs
func (o *Online) Run() error {
	for epoch := 0; epoch < o.trainer.Epochs(); epoch++ {
		if err := o.RunEpoch(epoch); err != nil {
			return fmt.Errorf("run: %v", err)
		}
	}
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	var errs []error
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// track tracks the current timestep by caching its data in each Tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tracker := range o.trackers {
		tracker.Track(t)
	}
}

// checkpoint calls each Checkpointer on the current timestep
func (o *Online) checkpoint(t ts.TimeStep) error {
	for _, c := range o.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			return err
		}
	}
	return nil
}
