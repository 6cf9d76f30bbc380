package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

type failingReader struct {
	egs  []dataset.Example
	next int
	err  error
}

func (r *failingReader) Next() (dataset.Example, error) {
	if r.next >= len(r.egs) {
		return dataset.Example{}, r.err
	}
	eg := r.egs[r.next]
	r.next++
	return eg, nil
}

func TestDoBackpropParallelProcessesEveryExample(t *testing.T) {
	egs := randomExamples(rand.New(rand.NewSource(13)), 37, 2, 3)
	want := dataset.TotalWeight(egs)
	for _, threads := range []int{1, 4} {
		t.Run(fmt.Sprintf("threads=%d", threads), func(t *testing.T) {
			model := tinyModel(t, 14)
			got, err := DoBackpropParallel(context.Background(), model, 5, dataset.NewSliceReader(egs), DefaultConfig(), threads)
			if err != nil {
				t.Fatalf("DoBackpropParallel error: %v", err)
			}
			if !scalar.EqualWithinAbs(got, want, 1e-9) {
				t.Fatalf("processed %g, want %g", got, want)
			}
		})
	}
}

func TestDoBackpropParallelStopsOnReadError(t *testing.T) {
	boom := errors.New("disk on fire")
	reader := &failingReader{egs: randomExamples(rand.New(rand.NewSource(15)), 3, 2, 3), err: boom}
	_, err := DoBackpropParallel(context.Background(), tinyModel(t, 1), 2, reader, DefaultConfig(), 3)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestDoBackpropParallelReportsComputeFailure(t *testing.T) {
	model, err := nnet.NewModel(&identityStage{dim: 3, backpropErr: nnet.ErrInternalCompute})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	egs := randomExamples(rand.New(rand.NewSource(16)), 10, 3, 3)
	for i := range egs {
		egs[i].LeftContext = 0
	}
	_, err = DoBackpropParallel(context.Background(), model, 2, dataset.NewSliceReader(egs), DefaultConfig(), 2)
	var ce *nnet.ComputeError
	if !errors.As(err, &ce) || !errors.Is(err, nnet.ErrInternalCompute) {
		t.Fatalf("expected ComputeError wrapping ErrInternalCompute, got %v", err)
	}
}

func TestDoBackpropParallelRejectsBadConfig(t *testing.T) {
	reader := &failingReader{err: io.EOF}
	if _, err := DoBackpropParallel(context.Background(), tinyModel(t, 1), 4, reader, Config{ObjFunc: "Hinge"}, 2); !errors.Is(err, nnet.ErrUnsupportedObjective) {
		t.Fatalf("expected ErrUnsupportedObjective, got %v", err)
	}
	if _, err := DoBackpropParallel(context.Background(), tinyModel(t, 1), 0, reader, DefaultConfig(), 2); err == nil {
		t.Fatal("expected error for zero minibatch size")
	}
}

func TestDoBackpropParallelHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	egs := randomExamples(rand.New(rand.NewSource(17)), 4, 2, 3)
	if _, err := DoBackpropParallel(ctx, tinyModel(t, 1), 2, dataset.NewSliceReader(egs), DefaultConfig(), 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
