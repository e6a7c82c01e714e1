package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDeliversChunksInOrder(t *testing.T) {
	w := NewWindow(Options{ChunkSize: 4, Concurrency: 8})
	defer w.Stop()

	type chunk struct{ first, last uint64 }
	var (
		chunks []chunk
		seen   []uint64
	)
	err := Run(context.Background(), w, 10, 20,
		func(_ context.Context, h uint64) (uint64, error) { return h * 2, nil },
		func(_ context.Context, first, last uint64, results []uint64) error {
			chunks = append(chunks, chunk{first, last})
			seen = append(seen, results...)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []chunk{{10, 13}, {14, 17}, {18, 20}}, chunks)
	require.Len(t, seen, 11)
	for i, v := range seen {
		assert.Equal(t, uint64(10+i)*2, v)
	}
}

func TestRunEmptyRange(t *testing.T) {
	w := NewWindow(Options{})
	defer w.Stop()

	called := false
	err := Run(context.Background(), w, 5, 4,
		func(context.Context, uint64) (int, error) { called = true; return 0, nil },
		func(context.Context, uint64, uint64, []int) error { called = true; return nil })
	require.NoError(t, err)
	assert.False(t, called)
}

func TestRunSingleHeight(t *testing.T) {
	w := NewWindow(Options{ChunkSize: 3})
	defer w.Stop()

	var got []int
	err := Run(context.Background(), w, 7, 7,
		func(_ context.Context, h uint64) (int, error) { return int(h), nil },
		func(_ context.Context, _, _ uint64, results []int) error { got = results; return nil })
	require.NoError(t, err)
	assert.Equal(t, []int{7}, got)
}

func TestRunFetchErrorStopsBeforeSink(t *testing.T) {
	w := NewWindow(Options{ChunkSize: 5, Concurrency: 2})
	defer w.Stop()

	boom := errors.New("boom")
	var sunk []uint64
	err := Run(context.Background(), w, 0, 14,
		func(_ context.Context, h uint64) (uint64, error) {
			if h == 7 {
				return 0, boom
			}
			return h, nil
		},
		func(_ context.Context, first, _ uint64, _ []uint64) error {
			sunk = append(sunk, first)
			return nil
		})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []uint64{0}, sunk)
}

func TestRunSinkErrorStops(t *testing.T) {
	w := NewWindow(Options{ChunkSize: 2})
	defer w.Stop()

	stop := errors.New("stop")
	calls := 0
	err := Run(context.Background(), w, 1, 10,
		func(_ context.Context, h uint64) (uint64, error) { return h, nil },
		func(context.Context, uint64, uint64, []uint64) error {
			calls++
			return stop
		})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRunCanceledContext(t *testing.T) {
	w := NewWindow(Options{ChunkSize: 2})
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, w, 1, 4,
		func(_ context.Context, h uint64) (uint64, error) { return h, nil },
		func(context.Context, uint64, uint64, []uint64) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestParallelism(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, Parallelism(0))
	assert.Equal(t, 3, Parallelism(3))
	assert.Equal(t, maxConcurrency, Parallelism(100000))
	assert.GreaterOrEqual(t, Parallelism(-1), 1)
	assert.Equal(t, 500, QueueSize(1, 500))
	assert.Equal(t, 65536, QueueSize(256, 500))
}

func TestTally(t *testing.T) {
	tally := NewTally()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				tally.Add("even", 1)
			} else {
				tally.Add("odd", 2)
			}
		}(i)
	}
	wg.Wait()
	tally.Add("zero", 0)

	assert.Equal(t, 25, tally.Get("even"))
	assert.Equal(t, 50, tally.Get("odd"))
	assert.Equal(t, 75, tally.Total())
	assert.Equal(t, map[string]int{"even": 25, "odd": 50}, tally.Snapshot())
}
