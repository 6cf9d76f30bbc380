package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

// ExampleReader is a single pass over training examples. Next returns io.EOF
// when the stream is exhausted.
type ExampleReader interface {
	Next() (dataset.Example, error)
}

// DoBackpropParallel trains model in place on every example of reader using
// numThreads goroutines, each claiming minibatches of minibatchSize from the
// shared reader and updating model directly.
//
// Parameter updates are not synchronized: goroutines read and write the same
// parameter storage concurrently, so a gradient may be computed against
// parameters another goroutine is modifying, and the last writer wins per
// element. The result is not linearizable with any serial schedule and
// differs run to run; it converges statistically, the same way Hogwild SGD
// does. Only claiming the next minibatch is serialized.
//
// It returns the total label weight of the examples processed. The first
// failure stops all goroutines from claiming further minibatches and is
// returned.
func DoBackpropParallel(ctx context.Context, model *nnet.Model, minibatchSize int, reader ExampleReader, cfg Config, numThreads int) (float64, error) {
	if minibatchSize <= 0 {
		return 0, fmt.Errorf("update: minibatch size must be > 0 (got %d)", minibatchSize)
	}
	if numThreads <= 0 {
		numThreads = 1
	}
	if _, err := NewObjective(cfg.ObjFunc, cfg.TargetDim); err != nil {
		return 0, err
	}

	src := &minibatchSource{reader: reader, size: minibatchSize}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numThreads; i++ {
		g.Go(func() error {
			u, err := NewUpdater(model, cfg, model)
			if err != nil {
				return err
			}
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				batch, err := src.claim()
				if err != nil {
					return err
				}
				if len(batch) == 0 {
					return nil
				}
				if _, err := u.ComputeForMinibatch(batch); err != nil {
					return ReportFailure(model, err)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return src.processed(), nil
}

// minibatchSource hands out consecutive minibatches of the reader.
type minibatchSource struct {
	mu     sync.Mutex
	reader ExampleReader
	size   int
	done   bool
	weight float64
}

// claim returns the next minibatch, shorter than size at the end of the
// stream and empty once the stream is exhausted.
func (s *minibatchSource) claim() ([]dataset.Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, nil
	}
	batch := make([]dataset.Example, 0, s.size)
	for len(batch) < s.size {
		eg, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return nil, fmt.Errorf("read example: %w", err)
		}
		batch = append(batch, eg)
	}
	s.weight += dataset.TotalWeight(batch)
	return batch, nil
}

func (s *minibatchSource) processed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weight
}
