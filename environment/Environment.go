// Package environment implements the training runs that agents tune.
//
// A Trainer stands in for a segmentation model's training loop. It
// reads the hyperparameters the agents have written to shared state,
// trains for an epoch and records the resulting metrics back into
// shared state. Within an epoch, each step presents one image with its
// ground truth mask and the model's soft prediction.
package environment

import "github.com/hypera/hypera/timestep"

// Trainer implements a training run that is tuned by agents
type Trainer interface {
	// Epochs returns the number of epochs in the training run
	Epochs() int

	// StepsPerEpoch returns the number of images presented per epoch
	StepsPerEpoch() int

	// RunEpoch trains for one epoch with the current hyperparameters
	// and records the epoch's metrics
	RunEpoch(epoch int) error

	// Step presents the next image of the current epoch, setting the
	// current image, mask and prediction of shared state
	Step(t timestep.TimeStep) error
}
