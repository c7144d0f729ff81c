// Package parallel provides the CPU execution grid for the Quill kernels:
// a worker pool that plays the role of a GPU dispatch grid, one task per
// row. Tasks run to completion once dispatched; there is no suspension or
// cancellation inside a launch.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls grid execution behavior.
type Config struct {
	Workers     int // Number of worker goroutines; <= 0 selects GOMAXPROCS.
	MinGridSize int // Below this many tasks the launch runs sequentially.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	return Config{
		Workers:     runtime.GOMAXPROCS(0),
		MinGridSize: 4,
	}
}

// For executes f(i) for every i in [0, n), distributing rows across the
// configured workers in contiguous chunks. All invocations have returned
// when For returns.
//
// Row-independent work needs no coordination here; tasks that share
// accumulators (the weight-gradient reduction) bring their own locks.
func For(n int, f func(i int), cfg Config) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers == 1 || n < cfg.MinGridSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}
