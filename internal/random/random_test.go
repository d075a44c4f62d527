package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestScalePercent(t *testing.T) {
	assert.Equal(t, uint64(0), ScalePercent(0))
	assert.Equal(t, uint64(100_000_000), ScalePercent(10))
	assert.Equal(t, Scale, ScalePercent(100))
	assert.Equal(t, uint64(5_000_000), ScalePercent(0.5))
}

func TestDrawRange(t *testing.T) {
	src := NewPCG(1, 0)
	for i := 0; i < 10000; i++ {
		assert.LessOrEqual(t, Draw(src), Scale)
	}
}

func TestPCGDeterministic(t *testing.T) {
	a := NewPCG(42, 7)
	b := NewPCG(42, 7)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Uint64N(1000), b.Uint64N(1000))
	}
}

func TestFactoryStreamsIndependent(t *testing.T) {
	f, err := NewFactory(GeneratorPCG, 99)
	require.NoError(t, err)
	s1 := f.New("loss")
	s2 := f.New("dup")

	same := 0
	for i := 0; i < 100; i++ {
		if s1.Uint64N(1<<32) == s2.Uint64N(1<<32) {
			same++
		}
	}
	assert.Less(t, same, 5)
}

func TestFactoryUnknownGenerator(t *testing.T) {
	_, err := NewFactory("xorshift", 1)
	assert.Error(t, err)
}

func TestMRG32k3aSourceRange(t *testing.T) {
	f, err := NewFactory(GeneratorMRG32k3a, 0)
	require.NoError(t, err)
	src := f.New("mrg-range")
	for i := 0; i < 10000; i++ {
		v := src.Uint64N(10)
		assert.Less(t, v, uint64(10))
		x := src.Float64()
		assert.True(t, x >= 0 && x < 1)
	}
}

func TestNormalMoments(t *testing.T) {
	n := NewNormal(NewPCG(2024, 1))
	const count = 200_000
	samples := make([]float64, count)
	for i := range samples {
		samples[i] = n.Sample(1000, 50)
	}

	mean, std := stat.MeanStdDev(samples, nil)
	assert.InDelta(t, 1000, mean, 1)
	assert.InDelta(t, 50, std, 1)
}

func TestNormalUsesSpare(t *testing.T) {
	n := NewNormal(NewPCG(5, 5))
	n.Sample(0, 1)
	assert.True(t, n.hasSpare)
	n.Sample(0, 1)
	assert.False(t, n.hasSpare)
}

func TestNormalZeroStddev(t *testing.T) {
	n := NewNormal(NewPCG(3, 3))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 7.0, n.Sample(7, 0))
	}
}
