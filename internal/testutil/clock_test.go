package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtStart(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, DefaultStart, clock.Current())
	assert.Equal(t, DefaultStart+1000, clock.Next())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClockAt(10, 5)
	clock.Next()
	clock.Next()
	assert.Equal(t, int64(20), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(10), clock.Current())
	assert.Equal(t, int64(15), clock.Next())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClockAt(0, 1)
	const numGoroutines = 100
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	results := make([][]int64, numGoroutines)
	for i := range numGoroutines {
		results[i] = make([]int64, callsPerGoroutine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range callsPerGoroutine {
				results[i][j] = clock.Next()
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, row := range results {
		for _, v := range row {
			require.False(t, seen[v], "duplicate value %d", v)
			seen[v] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
