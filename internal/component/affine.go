// Package component provides reference transformation stages: temporal
// splicing, affine transforms and pointwise nonlinearities.
package component

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"nnet-forge/internal/nnet"
)

// Affine computes out = in * W^T + b with W of shape OutputDim x InputDim.
type Affine struct {
	w          *mat.Dense
	b          []float64
	lr         float64
	isGradient bool
}

// NewAffine constructs the stage with uniform random weights scaled by the
// fan-in and zero bias.
func NewAffine(inputDim, outputDim int, lr float64, rng *rand.Rand) *Affine {
	if lr <= 0 {
		lr = 0.01
	}
	scale := 1 / math.Sqrt(float64(inputDim))
	data := make([]float64, outputDim*inputDim)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return &Affine{
		w:  mat.NewDense(outputDim, inputDim, data),
		b:  make([]float64, outputDim),
		lr: lr,
	}
}

// NewAffineFromParams builds the stage from copies of w and b, so w may be a
// strided view.
func NewAffineFromParams(w *mat.Dense, b []float64, lr float64) (*Affine, error) {
	rows, _ := w.Dims()
	if len(b) != rows {
		return nil, fmt.Errorf("component: %w: bias length %d for %d outputs", nnet.ErrDimensionMismatch, len(b), rows)
	}
	return &Affine{w: mat.DenseCopyOf(w), b: append([]float64(nil), b...), lr: lr}, nil
}

// Weights returns the weight matrix. The parameters are shared, not copied.
func (a *Affine) Weights() *mat.Dense { return a.w }

// Bias returns the bias vector. The parameters are shared, not copied.
func (a *Affine) Bias() []float64 { return a.b }

func (a *Affine) Type() string { return "Affine" }

func (a *Affine) InputDim() int {
	_, c := a.w.Dims()
	return c
}

func (a *Affine) OutputDim() int {
	r, _ := a.w.Dims()
	return r
}

func (a *Affine) BackpropNeedsInput() bool  { return true }
func (a *Affine) BackpropNeedsOutput() bool { return false }

func (a *Affine) ZeroStats() {}

func (a *Affine) LearningRate() float64      { return a.lr }
func (a *Affine) SetLearningRate(lr float64) { a.lr = lr }

// SetZero zeroes weights and bias.
func (a *Affine) SetZero(treatAsGradient bool) {
	a.w.Zero()
	for i := range a.b {
		a.b[i] = 0
	}
	a.isGradient = treatAsGradient
}

func (a *Affine) Propagate(in *mat.Dense, numChunks int) (*mat.Dense, error) {
	rows, cols := in.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("affine: %w", nnet.ErrEmptyInput)
	}
	if cols != a.InputDim() {
		return nil, fmt.Errorf("affine: %w: input has %d columns, want %d", nnet.ErrDimensionMismatch, cols, a.InputDim())
	}
	out := mat.NewDense(rows, a.OutputDim(), nil)
	out.Mul(in, a.w.T())
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), a.b)
	}
	if err := checkFinite(out); err != nil {
		return nil, fmt.Errorf("affine: %w", err)
	}
	return out, nil
}

func (a *Affine) Backprop(in, _, outDeriv *mat.Dense, _ int, toUpdate nnet.Stage) (*mat.Dense, error) {
	rows, cols := outDeriv.Dims()
	if cols != a.OutputDim() {
		return nil, fmt.Errorf("affine: %w: gradient has %d columns, want %d", nnet.ErrDimensionMismatch, cols, a.OutputDim())
	}
	inDeriv := mat.NewDense(rows, a.InputDim(), nil)
	inDeriv.Mul(outDeriv, a.w)
	if toUpdate == nil {
		return inDeriv, nil
	}
	target, ok := toUpdate.(*Affine)
	if !ok {
		return nil, fmt.Errorf("affine: cannot update stage of type %s", toUpdate.Type())
	}
	if err := target.update(in, outDeriv); err != nil {
		return nil, err
	}
	return inDeriv, nil
}

// update writes straight into the shared parameter storage. Concurrent
// callers race element-wise; the last writer wins.
func (a *Affine) update(in, outDeriv *mat.Dense) error {
	inRows, _ := in.Dims()
	rows, _ := outDeriv.Dims()
	if inRows != rows {
		return fmt.Errorf("affine: %w: input has %d rows, gradient %d", nnet.ErrDimensionMismatch, inRows, rows)
	}
	var grad mat.Dense
	grad.Mul(outDeriv.T(), in)
	if err := checkFinite(&grad); err != nil {
		return fmt.Errorf("affine update: %w", err)
	}
	scale := -a.lr
	if a.isGradient {
		scale = 1
	}
	outRows, _ := a.w.Dims()
	for i := 0; i < outRows; i++ {
		floats.AddScaled(a.w.RawRowView(i), scale, grad.RawRowView(i))
	}
	for i := 0; i < rows; i++ {
		floats.AddScaled(a.b, scale, outDeriv.RawRowView(i))
	}
	return nil
}

func (a *Affine) Clone() nnet.Stage {
	return &Affine{
		w:          mat.DenseCopyOf(a.w),
		b:          append([]float64(nil), a.b...),
		lr:         a.lr,
		isGradient: a.isGradient,
	}
}

func (a *Affine) Info() string {
	return fmt.Sprintf("Affine, input-dim=%d, output-dim=%d, learning-rate=%g, param-stddev=%.4g, bias-stddev=%.4g",
		a.InputDim(), a.OutputDim(), a.lr,
		stat.StdDev(a.w.RawMatrix().Data, nil),
		stat.StdDev(a.b, nil))
}

func checkFinite(m *mat.Dense) error {
	raw := m.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		if floats.HasNaN(row) {
			return fmt.Errorf("%w: NaN in row %d", nnet.ErrInternalCompute, i)
		}
		for _, v := range row {
			if math.IsInf(v, 0) {
				return fmt.Errorf("%w: Inf in row %d", nnet.ErrInternalCompute, i)
			}
		}
	}
	return nil
}
