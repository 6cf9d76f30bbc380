package update

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

// Objective function names accepted by NewObjective.
const (
	CrossEntropy    = "CrossEntropy"
	CrossEntropySum = "CrossEntropySum"
	SquaredError    = "SquaredError"
)

// Label is one row of the label table: the example row of the output, the
// target class and its weight.
type Label struct {
	Row    int
	Class  int
	Weight float64
}

// BuildLabelTable flattens the supervision of egs; example m maps to output
// row m.
func BuildLabelTable(egs []dataset.Example) []Label {
	table := make([]Label, 0, len(egs))
	for m, eg := range egs {
		for _, l := range eg.Labels {
			table = append(table, Label{Row: m, Class: l.Class, Weight: l.Weight})
		}
	}
	return table
}

// Objective computes a loss over the model output and its gradient.
type Objective interface {
	Name() string
	// Compute returns the weight-summed (not normalized) loss, the total
	// weight, and the gradient of the loss with respect to output.
	Compute(output *mat.Dense, labels []Label) (objf, weight float64, deriv *mat.Dense, err error)
}

// NewObjective returns the objective registered under name. targetDim is
// used by CrossEntropySum and SquaredError; zero means the output width.
func NewObjective(name string, targetDim int) (Objective, error) {
	if targetDim < 0 {
		return nil, fmt.Errorf("objective: %w: target dim %d", nnet.ErrDimensionMismatch, targetDim)
	}
	switch name {
	case CrossEntropy:
		return crossEntropy{}, nil
	case CrossEntropySum:
		return crossEntropySum{targetDim: targetDim}, nil
	case SquaredError:
		return squaredError{targetDim: targetDim}, nil
	default:
		return nil, fmt.Errorf("objective: %w: %q", nnet.ErrUnsupportedObjective, name)
	}
}

type crossEntropy struct{}

func (crossEntropy) Name() string { return CrossEntropy }

// Compute treats output rows as logits:
// loss = -w log softmax(o)[c], gradient = w (softmax(o) - onehot(c)).
func (crossEntropy) Compute(output *mat.Dense, labels []Label) (float64, float64, *mat.Dense, error) {
	rows, cols := output.Dims()
	probs, lse := softmaxRows(output)
	deriv := mat.NewDense(rows, cols, nil)
	var objf, weight float64
	for _, l := range labels {
		if err := checkLabel(l, rows, cols); err != nil {
			return 0, 0, nil, err
		}
		objf -= l.Weight * (output.At(l.Row, l.Class) - lse[l.Row])
		weight += l.Weight
		d := deriv.RawRowView(l.Row)
		floats.AddScaled(d, l.Weight, probs.RawRowView(l.Row))
		d[l.Class] -= l.Weight
	}
	return objf, weight, deriv, nil
}

type crossEntropySum struct {
	targetDim int
}

func (crossEntropySum) Name() string { return CrossEntropySum }

// Compute splits the output columns into targetDim equal contiguous groups
// and scores class c by the summed softmax mass of group c.
func (x crossEntropySum) Compute(output *mat.Dense, labels []Label) (float64, float64, *mat.Dense, error) {
	rows, cols := output.Dims()
	targetDim := x.targetDim
	if targetDim == 0 {
		targetDim = cols
	}
	if cols%targetDim != 0 {
		return 0, 0, nil, fmt.Errorf("objective %s: %w: output width %d is not a multiple of target dim %d",
			CrossEntropySum, nnet.ErrDimensionMismatch, cols, targetDim)
	}
	group := cols / targetDim
	probs, lse := softmaxRows(output)
	deriv := mat.NewDense(rows, cols, nil)
	var objf, weight float64
	for _, l := range labels {
		if err := checkLabel(l, rows, targetDim); err != nil {
			return 0, 0, nil, err
		}
		lo, hi := l.Class*group, (l.Class+1)*group
		logits := output.RawRowView(l.Row)[lo:hi]
		objf -= l.Weight * (floats.LogSumExp(logits) - lse[l.Row])
		weight += l.Weight

		p := probs.RawRowView(l.Row)
		mass := floats.Sum(p[lo:hi])
		d := deriv.RawRowView(l.Row)
		floats.AddScaled(d, l.Weight, p)
		if mass > 0 {
			for j := lo; j < hi; j++ {
				d[j] -= l.Weight * p[j] / mass
			}
		}
	}
	return objf, weight, deriv, nil
}

type squaredError struct {
	targetDim int
}

func (squaredError) Name() string { return SquaredError }

// Compute builds a target row per example by placing each label weight at
// its class, then scores 0.5 * ||o - t||^2 per row. Every row counts with
// weight one.
func (s squaredError) Compute(output *mat.Dense, labels []Label) (float64, float64, *mat.Dense, error) {
	rows, cols := output.Dims()
	if s.targetDim != 0 && s.targetDim != cols {
		return 0, 0, nil, fmt.Errorf("objective %s: %w: output width %d, target dim %d",
			SquaredError, nnet.ErrDimensionMismatch, cols, s.targetDim)
	}
	target := mat.NewDense(rows, cols, nil)
	for _, l := range labels {
		if err := checkLabel(l, rows, cols); err != nil {
			return 0, 0, nil, err
		}
		target.Set(l.Row, l.Class, target.At(l.Row, l.Class)+l.Weight)
	}
	deriv := mat.NewDense(rows, cols, nil)
	deriv.Sub(output, target)
	var objf float64
	for i := 0; i < rows; i++ {
		d := deriv.RawRowView(i)
		objf += 0.5 * floats.Dot(d, d)
	}
	return objf, float64(rows), deriv, nil
}

// softmaxRows returns the row-wise softmax of m and each row's log-sum-exp.
func softmaxRows(m *mat.Dense) (*mat.Dense, []float64) {
	rows, cols := m.Dims()
	probs := mat.NewDense(rows, cols, nil)
	lse := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		lse[i] = floats.LogSumExp(row)
		p := probs.RawRowView(i)
		for j, v := range row {
			p[j] = math.Exp(v - lse[i])
		}
	}
	return probs, lse
}

func checkLabel(l Label, rows, classes int) error {
	if l.Row < 0 || l.Row >= rows {
		return fmt.Errorf("objective: %w: label row %d, output has %d rows", nnet.ErrDimensionMismatch, l.Row, rows)
	}
	if l.Class < 0 || l.Class >= classes {
		return fmt.Errorf("objective: %w: class %d out of range [0, %d)", nnet.ErrDimensionMismatch, l.Class, classes)
	}
	return nil
}
