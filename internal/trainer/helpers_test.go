package trainer

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/component"
	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

var testSpec = component.ModelSpec{
	FeatDim:      2,
	LeftContext:  1,
	RightContext: 1,
	HiddenDims:   []int{5},
	NumClasses:   3,
	LearningRate: 0.02,
}

func testModel(t *testing.T, seed int64) *nnet.Model {
	t.Helper()
	m, err := component.BuildModel(testSpec, seed)
	if err != nil {
		t.Fatalf("BuildModel error: %v", err)
	}
	return m
}

// separableExamples returns examples whose class is recoverable from the
// sign pattern of the central frame.
func separableExamples(seed int64, n int) []dataset.Example {
	rng := rand.New(rand.NewSource(seed))
	egs := make([]dataset.Example, n)
	for i := range egs {
		class := rng.Intn(3)
		frames := mat.NewDense(3, 2, nil)
		for r := 0; r < 3; r++ {
			frames.Set(r, 0, float64(class)-1+0.1*rng.NormFloat64())
			frames.Set(r, 1, 0.1*rng.NormFloat64())
		}
		egs[i] = dataset.Example{
			Key:         fmt.Sprintf("utt%03d", i),
			Frames:      frames,
			LeftContext: 1,
			Labels:      []dataset.Label{{Class: class, Weight: 1}},
		}
	}
	return egs
}

func writeShard(t *testing.T, path string, egs []dataset.Example) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	buf := &bytes.Buffer{}
	w := dataset.NewShardWriter(buf)
	for _, eg := range egs {
		if err := w.Write(eg); err != nil {
			t.Fatalf("write %s: %v", eg.Key, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close shard: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
}
