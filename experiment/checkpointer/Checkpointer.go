// Package checkpointer implements Checkpointers, which periodically
// save agents during an experiment
package checkpointer

import ts "github.com/hypera/hypera/timestep"

// Serializable is an object that can be saved to a file
type Serializable interface {
	Save(path string) error
}

// Checkpointer checkpoints/saves serializable objects based on
// timestep.TimeSteps
type Checkpointer interface {
	Checkpoint(ts.TimeStep) error
}
