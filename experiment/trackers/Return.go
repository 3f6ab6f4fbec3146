// Package trackers implements Trackers of experiment data
package trackers

import (
	"fmt"

	"github.com/hypera/hypera/experiment/tracker"
	ts "github.com/hypera/hypera/timestep"
)

// Return tracks and saves the per-epoch return of the segmentation
// agents in an experiment. When a step of an epoch is tracked, this
// Tracker accumulates its reward into the return of the epoch, which is
// cached once the next epoch starts or the training run ends.
//
// Note: The return of an epoch still in progress is cached by Save.
type Return struct {
	lastTimeStep  int
	epoch         int
	started       bool
	currentReturn float64
	epochReturns  []float64
	filename      string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string) *Return {
	return &Return{lastTimeStep: -1, filename: filename}
}

// Track tracks the reward of a step.
//
// Track panics if it is called for non-sequential timesteps
func (r *Return) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		panic(fmt.Sprintf("track: last two timesteps tracked are not "+
			"sequential: timestep %v --> timestep %v were tracked",
			r.lastTimeStep, step.Number))
	}
	r.lastTimeStep = step.Number

	if r.started && step.Epoch != r.epoch {
		r.flush()
	}
	r.started = true
	r.epoch = step.Epoch
	r.currentReturn += step.Reward

	if step.Last() {
		r.flush()
	}
}

// flush caches the return of the current epoch
func (r *Return) flush() {
	if !r.started {
		return
	}
	r.epochReturns = append(r.epochReturns, r.currentReturn)
	r.currentReturn = 0.0
	r.started = false
}

// Returns returns the cached per-epoch returns
func (r *Return) Returns() []float64 {
	return append([]float64{}, r.epochReturns...)
}

// Save saves the data tracked by the Return Tracker to disk.
func (r *Return) Save() error {
	r.flush()
	if err := tracker.SaveData(r.filename, r.epochReturns); err != nil {
		return fmt.Errorf("save: %v", err)
	}
	return nil
}
