package nnet

import (
	"fmt"
	"strings"
)

// Model is an ordered sequence of stages. It is mutated in place by training
// and, on the parallel path, by several goroutines at once without locking.
type Model struct {
	stages []Stage
}

// NewModel chains stages, checking that each output width matches the next
// stage's input width.
func NewModel(stages ...Stage) (*Model, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("nnet: %w: model has no stages", ErrEmptyInput)
	}
	for c := 1; c < len(stages); c++ {
		if stages[c-1].OutputDim() != stages[c].InputDim() {
			return nil, fmt.Errorf("nnet: %w: stage %d (%s) outputs %d, stage %d (%s) expects %d",
				ErrDimensionMismatch,
				c-1, stages[c-1].Type(), stages[c-1].OutputDim(),
				c, stages[c].Type(), stages[c].InputDim())
		}
	}
	return &Model{stages: stages}, nil
}

// NumStages returns the number of stages.
func (m *Model) NumStages() int { return len(m.stages) }

// Stage returns stage c.
func (m *Model) Stage(c int) Stage { return m.stages[c] }

// InputDim is the feature width the first stage expects.
func (m *Model) InputDim() int { return m.stages[0].InputDim() }

// OutputDim is the width of the last stage's output.
func (m *Model) OutputDim() int { return m.stages[len(m.stages)-1].OutputDim() }

// LeftContext is the number of frames before the central frame the model
// needs to produce one output row.
func (m *Model) LeftContext() int {
	left, _ := m.context()
	return left
}

// RightContext is the number of frames after the central frame the model
// needs to produce one output row.
func (m *Model) RightContext() int {
	_, right := m.context()
	return right
}

func (m *Model) context() (left, right int) {
	for _, s := range m.stages {
		if cx, ok := s.(Contexter); ok {
			l, r := cx.Context()
			left += l
			right += r
		}
	}
	return left, right
}

// ZeroStats clears accumulated statistics on every stage.
func (m *Model) ZeroStats() {
	for _, s := range m.stages {
		s.ZeroStats()
	}
}

// SetZero zeroes the parameters of every updatable stage. See
// Updatable.SetZero.
func (m *Model) SetZero(treatAsGradient bool) {
	for _, s := range m.stages {
		if u, ok := s.(Updatable); ok {
			u.SetZero(treatAsGradient)
		}
	}
}

// Copy returns a deep copy of the model.
func (m *Model) Copy() *Model {
	stages := make([]Stage, len(m.stages))
	for i, s := range m.stages {
		stages[i] = s.Clone()
	}
	return &Model{stages: stages}
}

// Info summarizes the model layout, one stage per line.
func (m *Model) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "num-stages %d\n", len(m.stages))
	fmt.Fprintf(&b, "left-context %d\n", m.LeftContext())
	fmt.Fprintf(&b, "right-context %d\n", m.RightContext())
	fmt.Fprintf(&b, "input-dim %d\n", m.InputDim())
	fmt.Fprintf(&b, "output-dim %d\n", m.OutputDim())
	for c, s := range m.stages {
		fmt.Fprintf(&b, "stage %d: %s\n", c, s.Info())
	}
	return b.String()
}
