package journal

import (
	"path/filepath"
	"testing"

	"github.com/hypera/hypera/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ agent.Recorder = &Journal{}

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordUpdate(t *testing.T) {
	j := openJournal(t)

	u := agent.Update{
		Hyperparameter: "learning_rate",
		OldValue:       agent.Value{0.001},
		NewValue:       agent.Value{0.003},
		RelativeChange: []float64{3},
		Epoch:          4,
	}
	require.NoError(t, j.RecordUpdate(u))
	require.NoError(t, j.RecordUpdate(agent.Update{
		Hyperparameter: "class_weights",
		OldValue:       agent.Value{1, 1},
		NewValue:       agent.Value{0.5, 1.5},
		RelativeChange: []float64{0.5, 1.5},
		Epoch:          2,
	}))

	records, err := j.Updates("learning_rate")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, u, records[0].Update)
	assert.Equal(t, j.RunID(), records[0].RunID)
	assert.NotEmpty(t, records[0].ID)

	all, err := j.Updates("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "class_weights", all[0].Hyperparameter)
}

func TestRecordWeights(t *testing.T) {
	j := openJournal(t)

	require.NoError(t, j.RecordWeights(1, map[string]float64{"a": 1.2, "b": 0.8}))
	require.NoError(t, j.RecordWeights(2, map[string]float64{"a": 1.5, "b": 0.5}))

	records, err := j.Weights("a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Step)
	assert.Equal(t, 1.2, records[0].Weight)
	assert.Equal(t, 1.5, records[1].Weight)
}

func TestRunsShareDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.RecordUpdate(agent.Update{
		Hyperparameter: "learning_rate",
		OldValue:       agent.Value{1},
		NewValue:       agent.Value{2},
		RelativeChange: []float64{2},
	}))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.RunID(), second.RunID())

	records, err := second.Updates("learning_rate")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.RunID(), records[0].RunID)
}

func TestUpdatesEmpty(t *testing.T) {
	j := openJournal(t)
	records, err := j.Updates("learning_rate")
	require.NoError(t, err)
	assert.Empty(t, records)
}
