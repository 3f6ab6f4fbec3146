package config

import (
	"errors"
	"fmt"

	"github.com/hypera/hypera/agent"
	"github.com/hypera/hypera/agent/hyperparam"
	"github.com/hypera/hypera/agent/segmentation"
	"github.com/hypera/hypera/coordinator"
	"github.com/hypera/hypera/environment"
	"github.com/hypera/hypera/experiment"
	"github.com/hypera/hypera/experiment/checkpointer"
	"github.com/hypera/hypera/experiment/trackers"
	"github.com/hypera/hypera/journal"
	"github.com/hypera/hypera/state"
	"github.com/sirupsen/logrus"
)

// Run is a training run built from a RunConfig
type Run struct {
	State        *state.Manager
	Trainer      *environment.Synthetic
	Hyper        []*hyperparam.Agent
	Segmentation []*segmentation.FGBalance
	Coordinator  *coordinator.Coordinator
	Experiment   *experiment.Online
	Journal      *journal.Journal
}

// Build builds the training run described by c. Agents are created in
// configuration order. Segmentation agents share one coordinator,
// which is omitted if there are none. The returned Run must be closed.
func Build(c RunConfig) (*Run, error) {
	run := &Run{State: state.NewManager(c.StateWindow)}

	envConfig := c.Environment
	if envConfig.Seed == 0 {
		envConfig.Seed = c.Seed
	}
	trainer, err := environment.NewSynthetic(envConfig, run.State)
	if err != nil {
		return nil, fmt.Errorf("build: %v", err)
	}
	run.Trainer = trainer

	if c.Journal != "" {
		j, err := journal.Open(c.Journal)
		if err != nil {
			return nil, fmt.Errorf("build: %v", err)
		}
		run.Journal = j
		logrus.Infof("recording run %v to %v", j.RunID(), c.Journal)
	}

	var hyper []agent.Hyperparameter
	var seg []agent.Segmentation
	for i, typed := range c.Agents {
		seed := c.Seed + uint64(i) + 1
		switch config := typed.Config.(type) {
		case hyperparam.LearningRateConfig:
			if config.Seed == 0 {
				config.Seed = seed
			}
			a, err := hyperparam.NewLearningRate(config, run.State)
			if err != nil {
				return nil, run.fail(err)
			}
			run.addHyper(a)
			hyper = append(hyper, a)

		case hyperparam.ClassWeightsConfig:
			if config.Seed == 0 {
				config.Seed = seed
			}
			a, err := hyperparam.NewClassWeights(config, run.State)
			if err != nil {
				return nil, run.fail(err)
			}
			run.addHyper(a)
			hyper = append(hyper, a)

		case segmentation.FGBalanceConfig:
			if config.Seed == 0 {
				config.Seed = seed
			}
			a, err := segmentation.NewFGBalance(config, run.State)
			if err != nil {
				return nil, run.fail(err)
			}
			run.Segmentation = append(run.Segmentation, a)
			seg = append(seg, a)

		default:
			return nil, run.fail(fmt.Errorf("no agent of type %v",
				typed.Type()))
		}
	}

	if len(seg) > 0 {
		coord, err := coordinator.New(c.Coordinator, run.State, seg...)
		if err != nil {
			return nil, run.fail(err)
		}
		if run.Journal != nil {
			coord.SetRecorder(run.Journal)
		}
		run.Coordinator = coord
	}

	run.Experiment = experiment.NewOnline(trainer, run.State, hyper,
		run.Coordinator, c.Experiment.Refine)
	if c.Experiment.ReturnFile != "" && run.Coordinator != nil {
		run.Experiment.Register(trackers.NewReturn(c.Experiment.ReturnFile))
	}
	if c.Experiment.CheckpointInterval > 0 && run.Coordinator != nil {
		ckpt, err := checkpointer.NewNStep(c.Experiment.CheckpointInterval,
			run.Coordinator, c.Experiment.CheckpointPaths("coordinator.yaml"))
		if err != nil {
			return nil, run.fail(err)
		}
		run.Experiment.RegisterCheckpointer(ckpt)
	}

	return run, nil
}

// addHyper adds a hyperparameter agent to the run
func (r *Run) addHyper(a *hyperparam.Agent) {
	if r.Journal != nil {
		a.SetRecorder(r.Journal)
	}
	r.Hyper = append(r.Hyper, a)
}

// fail closes the partially built run and returns err
func (r *Run) fail(err error) error {
	if closeErr := r.Close(); closeErr != nil {
		logrus.Warnf("could not close run: %v", closeErr)
	}
	return fmt.Errorf("build: %v", err)
}

// Close releases the resources held by the run
func (r *Run) Close() error {
	var errs []error
	for _, a := range r.Segmentation {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.Journal != nil {
		if err := r.Journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
