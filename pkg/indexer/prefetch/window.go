// Package prefetch fetches per-height work concurrently while handing results on in height order.
package prefetch

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize   = 500
	DefaultConcurrency = 10
	maxConcurrency     = 256
)

// Window is a bounded worker pool that fetches heights chunk by chunk.
type Window struct {
	pool      pond.Pool
	chunkSize int
	logger    *zap.Logger
}

// Options configures a Window. Zero values select the defaults.
type Options struct {
	ChunkSize   int
	Concurrency int
	Logger      *zap.Logger
}

// NewWindow starts the worker pool. Callers must Stop it.
func NewWindow(opts Options) *Window {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := Parallelism(opts.Concurrency)
	return &Window{
		pool:      pond.NewPool(workers, pond.WithQueueSize(QueueSize(workers, chunk))),
		chunkSize: chunk,
		logger:    logger,
	}
}

// ChunkSize returns the number of heights handed to the sink at once.
func (w *Window) ChunkSize() int {
	return w.chunkSize
}

// Stop waits for in-flight work and releases the workers.
func (w *Window) Stop() {
	w.pool.StopAndWait()
}

// Parallelism clamps a configured worker count; zero falls back to DefaultConcurrency,
// negative to one worker per CPU.
func Parallelism(n int) int {
	switch {
	case n == 0:
		return DefaultConcurrency
	case n < 0:
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	if n > maxConcurrency {
		n = maxConcurrency
	}
	return n
}

// QueueSize lets a whole chunk enqueue without blocking submission.
func QueueSize(workers, chunk int) int {
	q := workers * chunk
	if q < chunk {
		q = chunk
	}
	if q > 65536 {
		q = 65536
	}
	return q
}

// FetchFunc produces the result for one height. Returning an error aborts the run; per-height
// failures that should not stop the scan belong in T.
type FetchFunc[T any] func(ctx context.Context, height uint64) (T, error)

// SinkFunc receives one chunk of results ordered by height, from first to last inclusive.
type SinkFunc[T any] func(ctx context.Context, first, last uint64, results []T) error

// Run fetches [from, to] on the window and feeds each chunk to sink strictly in height order.
// The next chunk is fetched only after sink returns, so sink may depend on earlier chunks.
func Run[T any](ctx context.Context, w *Window, from, to uint64, fetch FetchFunc[T], sink SinkFunc[T]) error {
	if to < from {
		return nil
	}
	step := uint64(w.chunkSize)
	for first := from; ; first += step {
		last := to
		if to-first >= step {
			last = first + step - 1
		}

		results, err := fetchChunk(ctx, w, first, last, fetch)
		if err != nil {
			return err
		}
		if err := sink(ctx, first, last, results); err != nil {
			return err
		}
		if last == to {
			return nil
		}
	}
}

func fetchChunk[T any](ctx context.Context, w *Window, first, last uint64, fetch FetchFunc[T]) ([]T, error) {
	results := make([]T, last-first+1)

	var (
		errOnce  sync.Once
		fetchErr error
	)

	group := w.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for height := first; height <= last; height++ {
		h := height
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				return
			}
			res, err := fetch(groupCtx, h)
			if err != nil {
				errOnce.Do(func() { fetchErr = err })
				return
			}
			results[h-first] = res
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		w.logger.Warn("prefetch group encountered error",
			zap.Uint64("from", first),
			zap.Uint64("to", last),
			zap.Error(err),
		)
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
