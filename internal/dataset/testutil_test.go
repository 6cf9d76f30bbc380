package dataset

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// markedExample returns an example whose frame (i, j) holds base+i.
func markedExample(key string, rows, cols int, base float64, class int) Example {
	frames := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			frames.Set(i, j, base+float64(i))
		}
	}
	return Example{
		Key:         key,
		Frames:      frames,
		LeftContext: rows / 2,
		Labels:      []Label{{Class: class, Weight: 1}},
	}
}

func mustShard(t *testing.T, path string, egs ...Example) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	buf := &bytes.Buffer{}
	w := NewShardWriter(buf)
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

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
