// Package matutils implements utility function for working with mat.Matrix
// structs, in particular single-channel images and segmentation masks
package matutils

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Format formats a matrix for printing
func Format(X mat.Matrix) string {
	fa := mat.Formatted(X, mat.Prefix(""), mat.Squeeze())
	return fmt.Sprintf("%v", fa)
}

// Threshold returns a binary matrix with 1.0 wherever m is strictly
// greater than t and 0.0 elsewhere
func Threshold(m mat.Matrix, t float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if v > t {
			return 1.0
		}
		return 0.0
	}, m)
	return out
}

// Ratio returns the fraction of elements of m strictly greater than t
func Ratio(m mat.Matrix, t float64) float64 {
	r, c := m.Dims()
	if r*c == 0 {
		return 0.0
	}
	return mat.Sum(Threshold(m, t)) / float64(r*c)
}

// Confusion tallies the confusion matrix of a prediction thresholded
// at t against a ground truth binarized at 0.5.
func Confusion(prediction, truth mat.Matrix, t float64) (tp, fp, fn,
	tn float64) {
	pr, pc := prediction.Dims()
	tr, tc := truth.Dims()
	if pr != tr || pc != tc {
		panic(fmt.Sprintf("confusion: shape mismatch (%v, %v) != (%v, %v)",
			pr, pc, tr, tc))
	}

	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			pred := prediction.At(i, j) > t
			gt := truth.At(i, j) > 0.5
			switch {
			case pred && gt:
				tp++
			case pred && !gt:
				fp++
			case !pred && gt:
				fn++
			default:
				tn++
			}
		}
	}
	return
}

// AvgPool performs adaptive average pooling of m to a rows x cols
// grid, returned in row major order. Each output cell averages the
// input region [floor(i*R/rows), ceil((i+1)*R/rows)), matching the
// usual adaptive pooling bin edges. Input smaller than the grid is
// handled by letting bins overlap.
func AvgPool(m mat.Matrix, rows, cols int) []float64 {
	r, c := m.Dims()
	pooled := make([]float64, 0, rows*cols)
	if r == 0 || c == 0 {
		return make([]float64, rows*cols)
	}

	for i := 0; i < rows; i++ {
		r0, r1 := (i*r)/rows, ceilDiv((i+1)*r, rows)
		for j := 0; j < cols; j++ {
			c0, c1 := (j*c)/cols, ceilDiv((j+1)*c, cols)

			sum := 0.0
			for y := r0; y < r1; y++ {
				for x := c0; x < c1; x++ {
					sum += m.At(y, x)
				}
			}
			pooled = append(pooled, sum/float64((r1-r0)*(c1-c0)))
		}
	}
	return pooled
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// SameShape returns whether a and b have equal dimensions
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

// Scalar returns a 1x1 matrix holding v
func Scalar(v float64) *mat.Dense {
	return mat.NewDense(1, 1, []float64{v})
}

// WeightedMean returns the element-wise weighted mean of matrices.
// The matrices must all share a shape and len(weights) must equal
// len(matrices). If the total weight is not positive, nil is returned.
func WeightedMean(matrices []*mat.Dense, weights []float64) *mat.Dense {
	if len(matrices) == 0 || len(matrices) != len(weights) {
		return nil
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return nil
	}

	r, c := matrices[0].Dims()
	combined := mat.NewDense(r, c, nil)
	for i, m := range matrices {
		var scaled mat.Dense
		scaled.Scale(weights[i], m)
		combined.Add(combined, &scaled)
	}
	combined.Scale(1/total, combined)
	return combined
}
