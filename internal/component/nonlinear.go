package component

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/nnet"
)

// activationStats accumulates per-dimension output sums seen while training.
// valueSum is allocated once so concurrent updates only race on elements.
type activationStats struct {
	count    float64
	valueSum []float64
}

func newActivationStats(dim int) activationStats {
	return activationStats{valueSum: make([]float64, dim)}
}

func (s *activationStats) add(out *mat.Dense) {
	rows, _ := out.Dims()
	for i := 0; i < rows; i++ {
		floats.Add(s.valueSum, out.RawRowView(i))
	}
	s.count += float64(rows)
}

func (s *activationStats) reset() {
	s.count = 0
	for i := range s.valueSum {
		s.valueSum[i] = 0
	}
}

func (s *activationStats) clone() activationStats {
	return activationStats{count: s.count, valueSum: append([]float64(nil), s.valueSum...)}
}

func (s *activationStats) meanValue() float64 {
	if s.count == 0 || len(s.valueSum) == 0 {
		return 0
	}
	return floats.Sum(s.valueSum) / (s.count * float64(len(s.valueSum)))
}

// Tanh applies the hyperbolic tangent element-wise.
type Tanh struct {
	dim   int
	stats activationStats
}

func NewTanh(dim int) *Tanh { return &Tanh{dim: dim, stats: newActivationStats(dim)} }

func (t *Tanh) Type() string              { return "Tanh" }
func (t *Tanh) InputDim() int             { return t.dim }
func (t *Tanh) OutputDim() int            { return t.dim }
func (t *Tanh) BackpropNeedsInput() bool  { return false }
func (t *Tanh) BackpropNeedsOutput() bool { return true }
func (t *Tanh) ZeroStats()                { t.stats.reset() }

// Count returns the number of rows seen since the last ZeroStats.
func (t *Tanh) Count() float64 { return t.stats.count }

func (t *Tanh) Propagate(in *mat.Dense, _ int) (*mat.Dense, error) {
	if err := checkWidth("tanh", in, t.dim); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, in)
	return &out, nil
}

func (t *Tanh) Backprop(_, out, outDeriv *mat.Dense, _ int, toUpdate nnet.Stage) (*mat.Dense, error) {
	if err := checkSameDims("tanh", out, outDeriv); err != nil {
		return nil, err
	}
	var inDeriv mat.Dense
	inDeriv.Apply(func(i, j int, d float64) float64 {
		y := out.At(i, j)
		return d * (1 - y*y)
	}, outDeriv)
	if toUpdate != nil {
		target, ok := toUpdate.(*Tanh)
		if !ok {
			return nil, fmt.Errorf("tanh: cannot update stage of type %s", toUpdate.Type())
		}
		target.stats.add(out)
	}
	return &inDeriv, nil
}

func (t *Tanh) Clone() nnet.Stage { return &Tanh{dim: t.dim, stats: t.stats.clone()} }

func (t *Tanh) Info() string {
	return fmt.Sprintf("Tanh, dim=%d, count=%.0f, mean-value=%.4g", t.dim, t.stats.count, t.stats.meanValue())
}

// ReLU clamps negative values to zero.
type ReLU struct {
	dim   int
	stats activationStats
}

func NewReLU(dim int) *ReLU { return &ReLU{dim: dim, stats: newActivationStats(dim)} }

func (r *ReLU) Type() string              { return "ReLU" }
func (r *ReLU) InputDim() int             { return r.dim }
func (r *ReLU) OutputDim() int            { return r.dim }
func (r *ReLU) BackpropNeedsInput() bool  { return false }
func (r *ReLU) BackpropNeedsOutput() bool { return true }
func (r *ReLU) ZeroStats()                { r.stats.reset() }

// Count returns the number of rows seen since the last ZeroStats.
func (r *ReLU) Count() float64 { return r.stats.count }

func (r *ReLU) Propagate(in *mat.Dense, _ int) (*mat.Dense, error) {
	if err := checkWidth("relu", in, r.dim); err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, in)
	return &out, nil
}

func (r *ReLU) Backprop(_, out, outDeriv *mat.Dense, _ int, toUpdate nnet.Stage) (*mat.Dense, error) {
	if err := checkSameDims("relu", out, outDeriv); err != nil {
		return nil, err
	}
	var inDeriv mat.Dense
	inDeriv.Apply(func(i, j int, d float64) float64 {
		if out.At(i, j) > 0 {
			return d
		}
		return 0
	}, outDeriv)
	if toUpdate != nil {
		target, ok := toUpdate.(*ReLU)
		if !ok {
			return nil, fmt.Errorf("relu: cannot update stage of type %s", toUpdate.Type())
		}
		target.stats.add(out)
	}
	return &inDeriv, nil
}

func (r *ReLU) Clone() nnet.Stage { return &ReLU{dim: r.dim, stats: r.stats.clone()} }

func (r *ReLU) Info() string {
	return fmt.Sprintf("ReLU, dim=%d, count=%.0f, mean-value=%.4g", r.dim, r.stats.count, r.stats.meanValue())
}

func checkWidth(name string, m *mat.Dense, dim int) error {
	rows, cols := m.Dims()
	if rows == 0 {
		return fmt.Errorf("%s: %w", name, nnet.ErrEmptyInput)
	}
	if cols != dim {
		return fmt.Errorf("%s: %w: input has %d columns, want %d", name, nnet.ErrDimensionMismatch, cols, dim)
	}
	return nil
}

func checkSameDims(name string, out, deriv *mat.Dense) error {
	or, oc := out.Dims()
	dr, dc := deriv.Dims()
	if or != dr || oc != dc {
		return fmt.Errorf("%s: %w: output is %dx%d, gradient %dx%d", name, nnet.ErrDimensionMismatch, or, oc, dr, dc)
	}
	return nil
}
