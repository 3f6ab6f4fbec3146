package trackers

import (
	"path/filepath"
	"testing"

	"github.com/hypera/hypera/experiment/tracker"
	ts "github.com/hypera/hypera/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ tracker.Tracker = &Return{}

func TestReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "return.bin")
	r := NewReturn(path)

	r.Track(ts.New(ts.First, 0, 0, 1))
	r.Track(ts.New(ts.Mid, 0, 1, 0.5))
	r.Track(ts.New(ts.Mid, 1, 2, 0.25))
	r.Track(ts.New(ts.Last, 1, 3, 0.25))
	assert.Equal(t, []float64{1.5, 0.5}, r.Returns())

	require.NoError(t, r.Save())
	data, err := tracker.LoadData(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0.5}, data)
}

func TestReturnSavesEpochInProgress(t *testing.T) {
	r := NewReturn(filepath.Join(t.TempDir(), "return.bin"))
	r.Track(ts.New(ts.First, 0, 0, 2))
	require.NoError(t, r.Save())
	assert.Equal(t, []float64{2}, r.Returns())
}

func TestReturnNonSequential(t *testing.T) {
	r := NewReturn("return.bin")
	r.Track(ts.New(ts.First, 0, 0, 1))
	assert.Panics(t, func() { r.Track(ts.New(ts.Mid, 0, 2, 1)) })
}

func TestLoadDataMissing(t *testing.T) {
	_, err := tracker.LoadData(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
