// Package dataset reads training examples from tar shards.
package dataset

import "gonum.org/v1/gonum/mat"

// Label is one supervision target of an example.
type Label struct {
	Class  int
	Weight float64
}

// Example is a window of input frames with the supervision for its central
// frame.
type Example struct {
	Key string
	// Frames is T x F. The first LeftContext rows precede the labeled frame.
	Frames *mat.Dense
	// SpkInfo is appended to every frame; it may be empty.
	SpkInfo     []float64
	LeftContext int
	Labels      []Label
}

// TotalWeight sums the label weights of egs.
func TotalWeight(egs []Example) float64 {
	total := 0.0
	for _, eg := range egs {
		for _, l := range eg.Labels {
			total += l.Weight
		}
	}
	return total
}
