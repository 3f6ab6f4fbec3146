// Package experiment implements functionality for running an experiment
package experiment

import (
	"fmt"

	"github.com/hypera/hypera/experiment/checkpointer"
	"github.com/hypera/hypera/experiment/tracker"
)

// Interface Experiment outlines structs that can run experiments.
// An experiment drives a training run epoch by epoch, letting the
// hyperparameter agents adjust the run between epochs and the
// segmentation agents act on every image within an epoch. Each step
// is sent to the registered Trackers, which cache their data in RAM
// until Save is called, usually after the experiment has been run.
type Experiment interface {
	Run() error
	RunEpoch(epoch int) error

	// Save all tracked data to disk
	Save() error

	// Adds a new tracker.Tracker to the (possibly already running)
	// experiment. Useful if you want to track data only after a
	// specified event.
	Register(t tracker.Tracker)

	// Adds a new checkpointer.Checkpointer to the experiment
	RegisterCheckpointer(c checkpointer.Checkpointer)
}

type Type string

const (
	OnlineExp Type = "OnlineExperiment"
)

// Naming determines how checkpoint directories are named
type Naming string

const (
	// Enumerated checkpoints go to dir/step1, dir/step2, ...
	Enumerated Naming = "enumerated"

	// Timestamped checkpoints go to directories named by the UTC time
	// they were written
	Timestamped Naming = "timestamped"
)

// Config represents a configuration of an experiment.
type Config struct {
	Type Type `yaml:"type"`

	// Refine runs the coordinator's refinement pass on every combined
	// decision
	Refine bool `yaml:"refine"`

	// CheckpointInterval is the number of steps between checkpoints of
	// the agents. Checkpoints are disabled if it is 0.
	CheckpointInterval int    `yaml:"checkpoint_interval"`
	CheckpointDir      string `yaml:"checkpoint_dir"`
	CheckpointNaming   Naming `yaml:"checkpoint_naming"`

	// ReturnFile is the file the per-epoch segmentation return is
	// saved to, or empty to not track it
	ReturnFile string `yaml:"return_file"`
}

// DefaultConfig returns the default experiment configuration
func DefaultConfig() Config {
	return Config{
		Type:             OnlineExp,
		Refine:           true,
		CheckpointDir:    "checkpoints",
		CheckpointNaming: Enumerated,
	}
}

// Validate returns an error if the configuration is invalid
func (c Config) Validate() error {
	if c.Type != OnlineExp {
		return fmt.Errorf("validate: no such experiment type %v", c.Type)
	}
	if c.CheckpointInterval < 0 {
		return fmt.Errorf("validate: checkpoint interval must be "+
			"non-negative, got %d", c.CheckpointInterval)
	}
	if c.CheckpointInterval > 0 && c.CheckpointDir == "" {
		return fmt.Errorf("validate: checkpoints need a directory")
	}
	if c.CheckpointNaming != Enumerated && c.CheckpointNaming != Timestamped {
		return fmt.Errorf("validate: no such checkpoint naming %q",
			c.CheckpointNaming)
	}
	return nil
}

// CheckpointPaths returns a function returning the path of file in a
// new checkpoint directory under CheckpointDir on each call
func (c Config) CheckpointPaths(file string) func() string {
	if c.CheckpointNaming == Timestamped {
		return checkpointer.DirTimer(c.CheckpointDir, "step", file)
	}
	return checkpointer.DirEnumerator(0, c.CheckpointDir, "step", file)
}
