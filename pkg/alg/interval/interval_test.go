package interval

import (
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test constants.
const (
	testSeed         = 7
	testFuzzCount    = 500
	testFuzzQueries  = 1000
	testFuzzSpan     = 100.0
	testFuzzMaxWidth = 10.0
	testSequential   = 256
)

// testFuzzSeeds seed the randomized tree tests.
var testFuzzSeeds = []uint64{testSeed, 11, 42, 1234, 98765}

// lows extracts the Low of each interval.
func lows[V comparable](ivs []Interval[V]) []float64 {
	out := make([]float64, 0, len(ivs))

	for _, iv := range ivs {
		out = append(out, iv.Low)
	}

	return out
}

// values extracts and sorts the Value of each interval.
func values(ivs []Interval[int]) []int {
	out := make([]int, 0, len(ivs))

	for _, iv := range ivs {
		out = append(out, iv.Value)
	}

	slices.Sort(out)

	return out
}

// TestNew verifies an empty tree.
func TestNew(t *testing.T) {
	t.Parallel()

	tree := New[string]()

	assert.Equal(t, 0, tree.Len())
	assert.Empty(t, tree.QueryPoint(0))
	require.NoError(t, tree.Validate())
}

// TestInsert_QueryPoint verifies half-open containment.
func TestInsert_QueryPoint(t *testing.T) {
	t.Parallel()

	tree := New[string]()
	tree.Insert(0, 2, "a")
	tree.Insert(1, 3, "b")
	tree.Insert(5, 6, "c")

	assert.Equal(t, []float64{0}, lows(tree.QueryPoint(0.5)))
	assert.Equal(t, []float64{0, 1}, lows(tree.QueryPoint(1)))
	assert.Equal(t, []float64{1}, lows(tree.QueryPoint(2)))
	assert.Empty(t, tree.QueryPoint(3))
	assert.Empty(t, tree.QueryPoint(6))
	assert.Equal(t, 3, tree.Len())
}

// TestInfiniteHigh verifies open-ended intervals.
func TestInfiniteHigh(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	tree.Insert(4, math.Inf(1), 1)

	assert.Empty(t, tree.QueryPoint(3))
	assert.Len(t, tree.QueryPoint(1e12), 1)
}

// TestQueryOverlap verifies range overlap with half-open bounds.
func TestQueryOverlap(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	tree.Insert(0, 1, 1)
	tree.Insert(1, 2, 2)
	tree.Insert(3, 4, 3)

	assert.Equal(t, []int{2}, values(tree.QueryOverlap(1, 3)))
	assert.Equal(t, []int{1, 2, 3}, values(tree.QueryOverlap(0, 10)))
	assert.Empty(t, tree.QueryOverlap(2, 3))
}

// TestLatest verifies the interval with the greatest Low wins.
func TestLatest(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	tree.Insert(0, 10, 1)
	tree.Insert(4, 8, 2)
	tree.Insert(2, 9, 3)

	got, ok := tree.Latest(5)
	require.True(t, ok)
	assert.Equal(t, 2, got.Value)

	got, ok = tree.Latest(8.5)
	require.True(t, ok)
	assert.Equal(t, 3, got.Value)

	_, ok = tree.Latest(11)
	assert.False(t, ok)
}

// TestDelete verifies removal by identity with duplicate lows.
func TestDelete(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range 10 {
		tree.Insert(1, float64(2+i), i)
	}

	assert.True(t, tree.Delete(1, 4))
	assert.False(t, tree.Delete(1, 4))
	assert.False(t, tree.Delete(2, 5))
	assert.Equal(t, 9, tree.Len())
	require.NoError(t, tree.Validate())
	assert.NotContains(t, values(tree.QueryPoint(1)), 4)
}

// TestFromAndCancel verifies Low-based range selection and removal.
func TestFromAndCancel(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range 8 {
		tree.Insert(float64(i), float64(i)+0.5, i)
	}

	assert.Equal(t, []float64{5, 6, 7}, lows(tree.From(5)))

	tree.Cancel(3)

	assert.Equal(t, 3, tree.Len())
	require.NoError(t, tree.Validate())

	var seen []float64

	tree.ForEach(func(iv Interval[int]) {
		seen = append(seen, iv.Low)
	})

	assert.Equal(t, []float64{0, 1, 2}, seen)
}

// TestForEach_MutationSafe verifies callbacks may delete while iterating.
func TestForEach_MutationSafe(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	tree.Insert(0, 5, 1)
	tree.Insert(1, 5, 2)

	count := 0

	tree.ForEachAt(2, func(iv Interval[int]) {
		count++

		tree.Delete(iv.Low, iv.Value)
	})

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, tree.Len())
}

// TestSequentialInsert_StaysBalanced verifies sorted inserts keep AVL balance.
func TestSequentialInsert_StaysBalanced(t *testing.T) {
	t.Parallel()

	tree := New[int]()

	for i := range testSequential {
		tree.Insert(float64(i), float64(i+1), i)
	}

	require.NoError(t, tree.Validate())
	// A perfectly balanced tree of 256 nodes has height 9; AVL allows up to ~1.44x.
	assert.LessOrEqual(t, tree.root.height, 12)

	for i := range testSequential / 2 {
		require.True(t, tree.Delete(float64(i*2), i*2))
	}

	require.NoError(t, tree.Validate())
	assert.Equal(t, testSequential/2, tree.Len())
}

// TestClear verifies Clear resets the tree.
func TestClear(t *testing.T) {
	t.Parallel()

	tree := New[int]()
	tree.Insert(0, 1, 0)
	tree.Clear()

	assert.Equal(t, 0, tree.Len())
	assert.Nil(t, tree.root)
}

// TestFuzz_AgainstBruteForce verifies queries match a linear scan after random
// inserts and deletes, checking the tree invariants after every mutation.
func TestFuzz_AgainstBruteForce(t *testing.T) {
	t.Parallel()

	for _, seed := range testFuzzSeeds {
		t.Run(strconv.FormatUint(seed, 10), func(t *testing.T) {
			t.Parallel()

			fuzzAgainstBruteForce(t, seed)
		})
	}
}

// fuzzAgainstBruteForce runs one seeded insert/delete sequence and compares
// point queries with a linear scan.
func fuzzAgainstBruteForce(t *testing.T, seed uint64) {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, seed))
	tree := New[int]()

	var reference []Interval[int]

	for i := range testFuzzCount {
		low := rng.Float64() * testFuzzSpan
		if len(reference) > 0 && rng.IntN(8) == 0 {
			// Equal lows exercise the ties-go-left path.
			low = reference[rng.IntN(len(reference))].Low
		}

		high := low + rng.Float64()*testFuzzMaxWidth

		tree.Insert(low, high, i)
		reference = append(reference, Interval[int]{Low: low, High: high, Value: i})
		require.NoError(t, tree.Validate(), "seed %d insert %d", seed, i)

		if rng.IntN(3) == 0 {
			idx := rng.IntN(len(reference))
			victim := reference[idx]

			require.True(t, tree.Delete(victim.Low, victim.Value))
			require.NoError(t, tree.Validate(), "seed %d delete %d", seed, victim.Value)

			reference = slices.Delete(reference, idx, idx+1)
		}
	}

	require.Equal(t, len(reference), tree.Len())

	for range testFuzzQueries {
		point := rng.Float64() * (testFuzzSpan + testFuzzMaxWidth)

		var want []int

		for _, iv := range reference {
			if iv.Contains(point) {
				want = append(want, iv.Value)
			}
		}

		slices.Sort(want)

		got := values(tree.QueryPoint(point))
		if len(want) == 0 {
			assert.Empty(t, got)

			continue
		}

		assert.Equal(t, want, got, "seed %d point %v", seed, point)
	}
}
