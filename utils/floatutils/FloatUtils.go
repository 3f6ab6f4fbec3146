// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// Fit returns a copy of values with exactly n elements. Shorter
// slices are zero-padded at the tail and longer slices are truncated
// at the tail. A nil or empty input yields n zeroes.
func Fit(values []float64, n int) []float64 {
	if n < 0 {
		n = 0
	}
	fitted := make([]float64, n)
	copy(fitted, values)
	return fitted
}

// MaxSlice gets the maximum value and indices of the maximum values in
// a slice of float64.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i, value := range values {
		if value > max {
			max = value
			indices = []int{i}
		} else if value == max && i != 0 {
			indices = append(indices, i)
		}
	}
	return
}

// ArgMax returns the first index of the maximum value in values
func ArgMax(values ...float64) int {
	_, indices := MaxSlice(values)
	return indices[0]
}

// Softmax returns the softmax of logits, computed stably by
// subtracting the maximum logit first
func Softmax(logits []float64) []float64 {
	max := floats.Max(logits)
	probs := make([]float64, len(logits))
	for i, logit := range logits {
		probs[i] = math.Exp(logit - max)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// Mean returns the arithmetic mean of values, or 0.0 if values is
// empty
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	return floats.Sum(values) / float64(len(values))
}

// Last returns the last n elements of values. If values has fewer
// than n elements, all elements are returned.
func Last(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// StdDev returns the population standard deviation of values, or 0.0
// if values has fewer than two elements
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	_, std := stat.PopMeanStdDev(values, nil)
	return std
}

// Slope returns the least squares slope of values against their
// index, or 0.0 if values has fewer than two elements
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0.0
	}
	index := make([]float64, len(values))
	for i := range index {
		index[i] = float64(i)
	}
	_, beta := stat.LinearRegression(index, values, nil, false)
	return beta
}
