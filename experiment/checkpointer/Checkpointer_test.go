package checkpointer

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	ts "github.com/hypera/hypera/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type saveLog struct {
	paths []string
	err   error
}

func (s *saveLog) Save(path string) error {
	s.paths = append(s.paths, path)
	return s.err
}

func TestNStep(t *testing.T) {
	saved := &saveLog{}
	c, err := NewNStep(3, saved, FilenameEnumerator(0, "agent", ".bin"))
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, c.Checkpoint(ts.New(ts.Mid, 0, i, 0)))
	}
	assert.Equal(t, []string{"agent1.bin", "agent2.bin", "agent3.bin"},
		saved.paths)
}

func TestNStepError(t *testing.T) {
	saved := &saveLog{err: errors.New("disk full")}
	c, err := NewNStep(1, saved, FileTimer("agent", ".bin"))
	require.NoError(t, err)
	assert.ErrorContains(t, c.Checkpoint(ts.New(ts.Mid, 0, 1, 0)),
		"disk full")
	require.Len(t, saved.paths, 1)
	assert.True(t, strings.HasPrefix(saved.paths[0], "agent-"))
}

func TestNStepInterval(t *testing.T) {
	_, err := NewNStep(0, &saveLog{}, FileTimer("agent", ".bin"))
	assert.Error(t, err)
}

func TestDirTimer(t *testing.T) {
	next := DirTimer("out", "ckpt", "coordinator.yaml")
	first, second := next(), next()

	assert.Equal(t, "coordinator.yaml", filepath.Base(first))
	assert.True(t, strings.HasPrefix(first, filepath.Join("out", "ckpt-")))
	assert.LessOrEqual(t, filepath.Dir(first), filepath.Dir(second))
}

func TestDirEnumerator(t *testing.T) {
	next := DirEnumerator(0, "out", "ckpt", "coordinator.yaml")
	assert.Equal(t, filepath.Join("out", "ckpt1", "coordinator.yaml"), next())
	assert.Equal(t, filepath.Join("out", "ckpt2", "coordinator.yaml"), next())
}
