package timeline

import (
	"testing"
)

// Benchmark constants.
const (
	benchEventCount = 10000
	benchQueryTime  = 5000.5
)

// BenchmarkAdd benchmarks appending in time order.
func BenchmarkAdd(b *testing.B) {
	for range b.N {
		tl := New[*testEvent]()

		for i := range benchEventCount {
			tl.Add(&testEvent{time: float64(i)})
		}
	}
}

// BenchmarkGet benchmarks binary-search lookups.
func BenchmarkGet(b *testing.B) {
	tl := New[*testEvent]()

	for i := range benchEventCount {
		tl.Add(&testEvent{time: float64(i)})
	}

	b.ResetTimer()

	for range b.N {
		tl.Get(benchQueryTime)
	}
}
