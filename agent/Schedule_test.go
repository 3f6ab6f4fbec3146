package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSchedule(t *testing.T, freq, patience, cooldown int) *Schedule {
	t.Helper()
	s, err := NewSchedule(ScheduleConfig{
		UpdateFrequency: freq,
		Patience:        patience,
		Cooldown:        cooldown,
	})
	require.NoError(t, err)
	return s
}

func TestScheduleValidate(t *testing.T) {
	_, err := NewSchedule(ScheduleConfig{UpdateFrequency: 0})
	assert.Error(t, err)

	_, err = NewSchedule(ScheduleConfig{UpdateFrequency: 1, Patience: -1})
	assert.Error(t, err)

	_, err = NewSchedule(ScheduleConfig{UpdateFrequency: 1})
	assert.NoError(t, err)
}

func TestSchedulePatience(t *testing.T) {
	s := newSchedule(t, 1, 3, 0)

	for epoch := 0; epoch < 3; epoch++ {
		assert.False(t, s.ShouldUpdate(epoch), "epoch %d", epoch)
		assert.Equal(t, Idle, s.Phase(epoch))
		assert.Equal(t, epoch, s.EpochsSinceUpdate(epoch))
	}
	assert.True(t, s.ShouldUpdate(3))
	assert.Equal(t, Acting, s.Phase(3))
}

func TestScheduleQueriesDoNotChangeState(t *testing.T) {
	s := newSchedule(t, 1, 2, 0)
	for i := 0; i < 5; i++ {
		assert.False(t, s.ShouldUpdate(1))
		s.Phase(1)
	}
	assert.Equal(t, ScheduleState{}, s.State())
	assert.True(t, s.ShouldUpdate(2))
}

func TestScheduleCooldown(t *testing.T) {
	s := newSchedule(t, 1, 0, 5)
	require.True(t, s.ShouldUpdate(10))
	s.Commit(10)
	assert.Equal(t, 0, s.EpochsSinceUpdate(10))

	for epoch := 11; epoch < 15; epoch++ {
		assert.False(t, s.ShouldUpdate(epoch), "epoch %d", epoch)
		assert.Equal(t, CoolingDown, s.Phase(epoch))
	}
	assert.True(t, s.ShouldUpdate(15))
}

func TestScheduleFrequency(t *testing.T) {
	s := newSchedule(t, 10, 2, 0)

	assert.False(t, s.ShouldUpdate(7))
	assert.Equal(t, Evaluating, s.Phase(7))
	assert.True(t, s.ShouldUpdate(10))
}

func TestSchedulePatienceAndCooldownBothClear(t *testing.T) {
	s := newSchedule(t, 1, 3, 1)
	s.Commit(0)

	// Cooldown has passed but patience has not
	assert.False(t, s.ShouldUpdate(1))
	assert.Equal(t, Idle, s.Phase(1))
	assert.False(t, s.ShouldUpdate(2))

	assert.True(t, s.ShouldUpdate(3))
}

func TestScheduleStateRoundTrip(t *testing.T) {
	s := newSchedule(t, 1, 0, 2)
	s.Commit(4)

	other := newSchedule(t, 1, 0, 2)
	other.SetState(s.State())
	assert.Equal(t, s.ShouldUpdate(5), other.ShouldUpdate(5))
	assert.Equal(t, 1, other.EpochsSinceUpdate(5))

	other.Reset()
	assert.Equal(t, ScheduleState{}, other.State())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "cooling down", CoolingDown.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}
