package delay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"firestige.xyz/impair/internal/random"
)

func TestFixedDelay(t *testing.T) {
	s := New(1000, 0, nil)
	assert.False(t, s.Jittered())
	assert.True(t, s.Enabled())
	assert.Equal(t, int64(1000), s.Effective())

	assert.False(t, s.Eligible(1999, 1000))
	assert.True(t, s.Eligible(2000, 1000))
	assert.True(t, s.Eligible(5000, 1000))

	assert.Equal(t, int64(1000), s.Resample())
}

func TestZeroDelayAlwaysEligible(t *testing.T) {
	s := New(0, 0, nil)
	assert.False(t, s.Enabled())
	assert.True(t, s.Eligible(42, 42))
}

func TestResampleMoments(t *testing.T) {
	s := New(10_000, 500, random.NewPCG(11, 0))
	require.True(t, s.Jittered())

	const n = 100_000
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(s.Resample())
		require.Equal(t, int64(xs[i]), s.Effective())
	}
	mean, std := stat.MeanStdDev(xs, nil)
	assert.InDelta(t, 10_000, mean, 10)
	assert.InDelta(t, 500, std, 10)
}

func TestResampleClampsAtZero(t *testing.T) {
	s := New(10, 1000, random.NewPCG(3, 0))
	zeros := 0
	for i := 0; i < 10_000; i++ {
		d := s.Resample()
		require.GreaterOrEqual(t, d, int64(0))
		if d == 0 {
			zeros++
		}
	}
	// Roughly half of N(10, 1000^2) is negative.
	assert.InDelta(t, 5000, zeros, 300)
}

func TestResampleDeterministic(t *testing.T) {
	a := New(500, 50, random.NewPCG(99, 1))
	b := New(500, 50, random.NewPCG(99, 1))
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Resample(), b.Resample())
	}
}
