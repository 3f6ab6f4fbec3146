// Package network implements feed forward neural networks on Gorgonia
// computational graphs
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet implements a neural network on a Gorgonia computational
// graph. The network owns an input node that is set with SetInput
// before running a VM over the Graph, after which the network's
// prediction can be read from Output.
type NeuralNet interface {
	Graph() *G.ExprGraph
	Clone() (NeuralNet, error)
	CloneWithBatch(int) (NeuralNet, error)
	BatchSize() int
	Features() int
	Outputs() int
	SetInput([]float64) error
	Set(NeuralNet) error
	Learnables() G.Nodes
	Model() []G.ValueGrad
	Output() G.Value
	Prediction() *G.Node

	// Weights returns a copy of the network weights, one slice per
	// learnable node in the order of Learnables()
	Weights() [][]float64

	// SetWeights sets the network weights in place
	SetWeights([][]float64) error
}
