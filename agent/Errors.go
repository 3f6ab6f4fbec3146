package agent

import "errors"

// ErrCheckpointNotFound is returned when loading from a checkpoint
// file that does not exist
var ErrCheckpointNotFound = errors.New("checkpoint not found")
