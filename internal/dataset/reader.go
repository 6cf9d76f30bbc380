package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
)

// ReaderOptions configures Open.
type ReaderOptions struct {
	// Sources are shard directories or shard files.
	Sources []string
	// NumWorkers shards are decoded ahead of the consumer.
	NumWorkers int
	PendingCap int
	// Seed shuffles shard order within each source when nonzero.
	Seed int64
}

// Reader is a single pass over the examples of one or more sources. Next is
// not safe for concurrent use.
type Reader struct {
	examples <-chan Example
	errs     <-chan error
	cancel   context.CancelFunc
	err      error
}

// Open discovers the shards of every source and starts decoding them. Shards
// of different sources are interleaved round-robin; examples are delivered in
// shard order regardless of which worker decoded them.
func Open(parent context.Context, opts ReaderOptions) (*Reader, error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New("dataset: no sources provided")
	}
	roots, err := DiscoverByRoot(opts.Sources)
	if err != nil {
		return nil, err
	}
	var rng *rand.Rand
	if opts.Seed != 0 {
		rng = rand.New(rand.NewSource(opts.Seed))
	}
	order := buildRoundRobinOrder(opts.Sources, roots, rng)
	if len(order) == 0 {
		return nil, fmt.Errorf("dataset: no shards discovered under %v", opts.Sources)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.PendingCap <= 0 {
		opts.PendingCap = defaultPendingCap
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan shardJob, opts.NumWorkers)
	cursors := make(chan shardCursor, opts.NumWorkers)
	out := make(chan Example, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, order)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors, opts.PendingCap)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, cursors, out, errCh)
	}()

	return &Reader{examples: out, errs: errCh, cancel: cancel}, nil
}

// Next returns the next example, or io.EOF once every shard is exhausted.
func (r *Reader) Next() (Example, error) {
	if r.err != nil {
		return Example{}, r.err
	}
	eg, ok := <-r.examples
	if ok {
		return eg, nil
	}
	r.err = io.EOF
	if err, ok := <-r.errs; ok && err != nil {
		r.err = err
	}
	return Example{}, r.err
}

// Close stops any decoding still in flight.
func (r *Reader) Close() error {
	r.cancel()
	for range r.examples {
	}
	return nil
}

// SliceReader reads examples from memory.
type SliceReader struct {
	egs []Example
	pos int
}

func NewSliceReader(egs []Example) *SliceReader {
	return &SliceReader{egs: egs}
}

func (s *SliceReader) Next() (Example, error) {
	if s.pos >= len(s.egs) {
		return Example{}, io.EOF
	}
	eg := s.egs[s.pos]
	s.pos++
	return eg, nil
}

type shardJob struct {
	id   int64
	path string
}

type shardCursor struct {
	id       int64
	examples <-chan Example
	errCh    <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor, pendingCap int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			examples, errCh := StreamShard(ctx, job.path, pendingCap)
			cursor := shardCursor{id: job.id, examples: examples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

func runAggregator(ctx context.Context, cursors <-chan shardCursor, out chan<- Example, errCh chan<- error) {
	pending := make(map[int64]shardCursor)
	var nextID int64
	open := true
	for {
		cursor, ok := pending[nextID]
		if !ok {
			if !open {
				return
			}
			select {
			case <-ctx.Done():
				return
			case c, more := <-cursors:
				if !more {
					open = false
					continue
				}
				pending[c.id] = c
			}
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case eg, more := <-cursor.examples:
				if !more {
					break stream
				}
				select {
				case <-ctx.Done():
					return
				case out <- eg:
				}
			}
		}

		if err := <-cursor.errCh; err != nil {
			if !errors.Is(err, context.Canceled) {
				errCh <- err
			}
			return
		}
		delete(pending, nextID)
		nextID++
	}
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, order []orderEntry) {
	defer close(jobs)
	for id, entry := range order {
		select {
		case <-ctx.Done():
			return
		case jobs <- shardJob{id: int64(id), path: entry.path}:
		}
	}
}

type orderEntry struct {
	root string
	path string
}

func buildRoundRobinOrder(sources []string, roots map[string][]string, rng *rand.Rand) []orderEntry {
	copied := make(map[string][]string, len(roots))
	var names []string
	for _, root := range sources {
		if _, seen := copied[root]; seen {
			continue
		}
		shards := roots[root]
		if len(shards) == 0 {
			continue
		}
		names = append(names, root)
		copied[root] = append([]string(nil), shards...)
		if rng != nil {
			rng.Shuffle(len(copied[root]), func(i, j int) {
				copied[root][i], copied[root][j] = copied[root][j], copied[root][i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range names {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
