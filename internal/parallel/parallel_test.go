package parallel_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quill-ml/quill/internal/parallel"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, workers := range []int{0, 1, 2, 7, 64} {
		seen := make([]int32, 1000)
		parallel.For(len(seen), func(i int) {
			atomic.AddInt32(&seen[i], 1)
		}, parallel.Config{Workers: workers, MinGridSize: 1})

		for i, v := range seen {
			if v != 1 {
				t.Fatalf("workers=%d: index %d visited %d times", workers, i, v)
			}
		}
	}
}

func TestFor_SmallGridRunsSequentially(t *testing.T) {
	order := make([]int, 0, 3)
	parallel.For(3, func(i int) {
		order = append(order, i)
	}, parallel.Config{Workers: 8, MinGridSize: 16})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestFor_ZeroTasks(t *testing.T) {
	called := false
	parallel.For(0, func(int) { called = true }, parallel.DefaultConfig())
	assert.False(t, called)
}
