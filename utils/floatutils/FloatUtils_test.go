package floatutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestFitPadsAndTruncates(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		n      int
		want   []float64
	}{
		{"nil", nil, 3, []float64{0, 0, 0}},
		{"pad", []float64{1, 2}, 4, []float64{1, 2, 0, 0}},
		{"exact", []float64{1, 2, 3}, 3, []float64{1, 2, 3}},
		{"truncate", []float64{1, 2, 3, 4}, 2, []float64{1, 2}},
		{"zero", []float64{1}, 0, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(tt.values, tt.n)
			assert.Len(t, got, tt.n)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFitCopies(t *testing.T) {
	values := []float64{1, 2}
	got := Fit(values, 2)
	got[0] = 10
	assert.Equal(t, 1.0, values[0])
}

func TestClip(t *testing.T) {
	assert.Equal(t, 1.0, Clip(5, -1, 1))
	assert.Equal(t, -1.0, Clip(-5, -1, 1))
	assert.Equal(t, 0.5, Clip(0.5, -1, 1))
}

func TestArgMaxFirstIndex(t *testing.T) {
	assert.Equal(t, 1, ArgMax(0.1, 0.7, 0.2))
	assert.Equal(t, 0, ArgMax(0.5, 0.5, 0.1))
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1000, 1000, 1000})
	assert.InDelta(t, 1.0, floats.Sum(probs), 1e-12)
	for _, p := range probs {
		assert.InDelta(t, 1.0/3.0, p, 1e-12)
	}

	probs = Softmax([]float64{0, 1})
	assert.Greater(t, probs[1], probs[0])
}

func TestMeanAndLast(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
	assert.Equal(t, []float64{2, 3}, Last([]float64{1, 2, 3}, 2))
	assert.Equal(t, []float64{1}, Last([]float64{1}, 5))
}
