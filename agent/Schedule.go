package agent

import "fmt"

// Phase is the scheduling phase of a hyperparameter agent at an epoch
type Phase int

const (
	// Idle agents are waiting for patience to run out
	Idle Phase = iota

	// Evaluating agents have run out of patience but are waiting for
	// an update epoch
	Evaluating

	// Acting agents will act at the epoch
	Acting

	// CoolingDown agents acted less than cooldown epochs ago
	CoolingDown
)

// String implements the fmt.Stringer interface
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Acting:
		return "acting"
	case CoolingDown:
		return "cooling down"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ScheduleConfig configures when a hyperparameter agent may act
type ScheduleConfig struct {
	UpdateFrequency int `yaml:"update_frequency"`
	Patience        int `yaml:"patience"`
	Cooldown        int `yaml:"cooldown"`
}

// Validate returns an error if the configuration is invalid
func (s ScheduleConfig) Validate() error {
	if s.UpdateFrequency < 1 {
		return fmt.Errorf("validate: update frequency must be >= 1, got %d",
			s.UpdateFrequency)
	}
	if s.Patience < 0 || s.Cooldown < 0 {
		return fmt.Errorf("validate: patience and cooldown must be "+
			"non-negative, got (%d, %d)", s.Patience, s.Cooldown)
	}
	return nil
}

// ScheduleState is the serializable state of a Schedule
type ScheduleState struct {
	LastActionEpoch int
	HasActed        bool
}

// Schedule tracks the patience and cooldown counters of an agent.
//
// An agent acts at epoch only if at least patience epochs have passed
// without an update, at least cooldown epochs have passed since its
// previous action and epoch is a multiple of the update frequency.
// Epochs since the last update are counted from the epoch of the last
// Commit, or from epoch 0 if the agent has not acted, so querying the
// schedule never changes it.
type Schedule struct {
	config ScheduleConfig
	state  ScheduleState
}

// NewSchedule returns a new Schedule
func NewSchedule(config ScheduleConfig) (*Schedule, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newschedule: %v", err)
	}
	return &Schedule{config: config}, nil
}

// Config returns the configuration of the schedule
func (s *Schedule) Config() ScheduleConfig {
	return s.config
}

// ShouldUpdate returns whether the agent should act at epoch
func (s *Schedule) ShouldUpdate(epoch int) bool {
	if s.EpochsSinceUpdate(epoch) < s.config.Patience {
		return false
	}
	if s.coolingDown(epoch) {
		return false
	}
	return epoch%s.config.UpdateFrequency == 0
}

func (s *Schedule) coolingDown(epoch int) bool {
	return s.state.HasActed &&
		epoch-s.state.LastActionEpoch < s.config.Cooldown
}

// Commit records an action taken at epoch
func (s *Schedule) Commit(epoch int) {
	s.state.LastActionEpoch = epoch
	s.state.HasActed = true
}

// EpochsSinceUpdate returns the number of epochs between the last
// action and epoch
func (s *Schedule) EpochsSinceUpdate(epoch int) int {
	since := epoch
	if s.state.HasActed {
		since = epoch - s.state.LastActionEpoch
	}
	return max(since, 0)
}

// Phase returns the phase of the agent at epoch
func (s *Schedule) Phase(epoch int) Phase {
	switch {
	case s.coolingDown(epoch):
		return CoolingDown
	case s.EpochsSinceUpdate(epoch) < s.config.Patience:
		return Idle
	case s.ShouldUpdate(epoch):
		return Acting
	default:
		return Evaluating
	}
}

// State returns the state of the schedule
func (s *Schedule) State() ScheduleState {
	return s.state
}

// SetState sets the state of the schedule
func (s *Schedule) SetState(state ScheduleState) {
	s.state = state
}

// Reset clears all counters
func (s *Schedule) Reset() {
	s.state = ScheduleState{}
}
