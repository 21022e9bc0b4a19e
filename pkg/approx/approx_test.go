package approx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test constants.
const (
	testBase      = 1.0
	testNoise     = Epsilon / 2
	testClearStep = Epsilon * 10
)

// TestEqual verifies values within tolerance compare equal.
func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal(testBase, testBase+testNoise))
	assert.True(t, Equal(testBase, testBase-testNoise))
	assert.False(t, Equal(testBase, testBase+testClearStep))
}

// TestEqual_Infinity verifies infinities only equal themselves.
func TestEqual_Infinity(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal(math.Inf(1), math.Inf(1)))
	assert.False(t, Equal(math.Inf(1), math.Inf(-1)))
	assert.False(t, Equal(math.Inf(1), testBase))
}

// TestOrdering verifies the strict and non-strict comparisons honor the tolerance.
func TestOrdering(t *testing.T) {
	t.Parallel()

	assert.False(t, Greater(testBase+testNoise, testBase))
	assert.True(t, Greater(testBase+testClearStep, testBase))
	assert.True(t, GreaterOrEqual(testBase-testNoise, testBase))
	assert.False(t, GreaterOrEqual(testBase-testClearStep, testBase))

	assert.False(t, Less(testBase-testNoise, testBase))
	assert.True(t, Less(testBase-testClearStep, testBase))
	assert.True(t, LessOrEqual(testBase+testNoise, testBase))
	assert.False(t, LessOrEqual(testBase+testClearStep, testBase))
}
