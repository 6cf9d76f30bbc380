package component

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/nnet"
)

// Splice concatenates each frame with its left and right neighbours within a
// chunk. A chunk of T input rows yields T-left-right output rows.
type Splice struct {
	inputDim int
	left     int
	right    int
}

// NewSplice constructs a splice stage over frames of width inputDim.
func NewSplice(inputDim, left, right int) *Splice {
	return &Splice{inputDim: inputDim, left: left, right: right}
}

func (s *Splice) Type() string  { return "Splice" }
func (s *Splice) InputDim() int { return s.inputDim }
func (s *Splice) OutputDim() int {
	return s.inputDim * s.width()
}

func (s *Splice) Context() (left, right int) { return s.left, s.right }

func (s *Splice) BackpropNeedsInput() bool  { return false }
func (s *Splice) BackpropNeedsOutput() bool { return false }
func (s *Splice) ZeroStats()                {}

func (s *Splice) width() int { return s.left + 1 + s.right }

func (s *Splice) Propagate(in *mat.Dense, numChunks int) (*mat.Dense, error) {
	rows, cols := in.Dims()
	if cols != s.inputDim {
		return nil, fmt.Errorf("splice: %w: input has %d columns, want %d", nnet.ErrDimensionMismatch, cols, s.inputDim)
	}
	if numChunks <= 0 || rows == 0 || rows%numChunks != 0 {
		return nil, fmt.Errorf("splice: %w: %d rows cannot be split into %d chunks", nnet.ErrDimensionMismatch, rows, numChunks)
	}
	inPer := rows / numChunks
	outPer := inPer - s.left - s.right
	if outPer <= 0 {
		return nil, fmt.Errorf("splice: %w: chunk of %d rows is shorter than context %d", nnet.ErrDimensionMismatch, inPer, s.width())
	}
	out := mat.NewDense(numChunks*outPer, s.OutputDim(), nil)
	for chunk := 0; chunk < numChunks; chunk++ {
		for t := 0; t < outPer; t++ {
			dst := out.RawRowView(chunk*outPer + t)
			for o := 0; o < s.width(); o++ {
				copy(dst[o*s.inputDim:(o+1)*s.inputDim], in.RawRowView(chunk*inPer+t+o))
			}
		}
	}
	return out, nil
}

func (s *Splice) Backprop(_, _, outDeriv *mat.Dense, numChunks int, _ nnet.Stage) (*mat.Dense, error) {
	rows, cols := outDeriv.Dims()
	if cols != s.OutputDim() {
		return nil, fmt.Errorf("splice: %w: gradient has %d columns, want %d", nnet.ErrDimensionMismatch, cols, s.OutputDim())
	}
	if numChunks <= 0 || rows == 0 || rows%numChunks != 0 {
		return nil, fmt.Errorf("splice: %w: %d gradient rows cannot be split into %d chunks", nnet.ErrDimensionMismatch, rows, numChunks)
	}
	outPer := rows / numChunks
	inPer := outPer + s.left + s.right
	inDeriv := mat.NewDense(numChunks*inPer, s.inputDim, nil)
	for chunk := 0; chunk < numChunks; chunk++ {
		for t := 0; t < outPer; t++ {
			src := outDeriv.RawRowView(chunk*outPer + t)
			for o := 0; o < s.width(); o++ {
				floats.Add(inDeriv.RawRowView(chunk*inPer+t+o), src[o*s.inputDim:(o+1)*s.inputDim])
			}
		}
	}
	return inDeriv, nil
}

func (s *Splice) Clone() nnet.Stage {
	c := *s
	return &c
}

func (s *Splice) Info() string {
	return fmt.Sprintf("Splice, input-dim=%d, output-dim=%d, context=%d..%d", s.inputDim, s.OutputDim(), -s.left, s.right)
}
