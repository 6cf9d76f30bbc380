package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("dataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired examples from the shard at path. The error
// channel yields at most one error and is closed after the example channel.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Example, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Example)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(out)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar %s: %w", path, err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, filepath.Ext(name))

			switch ext {
			case featsExt:
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read feats %s: %w", name, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				eg := &Example{Key: key}
				if err := decodeFeats(data, eg); err != nil {
					errCh <- fmt.Errorf("%s in %s: %w", name, path, err)
					return
				}
				part.eg = eg
			case labelExt:
				data, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read labels %s: %w", name, err)
					return
				}
				labels, err := decodeLabels(data)
				if err != nil {
					errCh <- fmt.Errorf("%s in %s: %w", name, path, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.labels = labels
			default:
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}

			if part := pending[key]; part.ready() {
				eg := *part.eg
				eg.Labels = part.labels
				delete(pending, key)

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- eg:
				}
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%w: %d examples incomplete in %s", ErrMalformedExample, len(pending), path)
		}
	}()

	return out, errCh
}

type partial struct {
	eg     *Example
	labels []Label
}

func (p *partial) ready() bool {
	return p.eg != nil && len(p.labels) > 0
}
