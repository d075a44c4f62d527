package shaper

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, rate int64) *TokenBucket {
	t.Helper()
	b, err := New(Config{Rate: rate, RefillHz: 1_000_000, MaxLineRate: 10_000_000_000, CeilingHz: 1000})
	require.NoError(t, err)
	return b
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Rate: 0, MaxLineRate: 1e9, CeilingHz: 1000})
	assert.Error(t, err)
	_, err = New(Config{Rate: 1e6, MaxLineRate: 1e9, CeilingHz: 0})
	assert.Error(t, err)
	_, err = New(Config{Rate: 2e9, MaxLineRate: 1e9, CeilingHz: 1000})
	assert.Error(t, err)
	_, err = New(Config{Rate: 10, MaxLineRate: 10, CeilingHz: 1000})
	assert.Error(t, err, "zero ceiling")
}

func TestRefillHighRate(t *testing.T) {
	b := newBucket(t, 5_000_000)
	for i := 0; i < 10; i++ {
		b.Refill()
	}
	assert.Equal(t, int64(50), b.Tokens())
}

func TestRefillLowRateUsesRemainder(t *testing.T) {
	b := newBucket(t, 250_000)
	// 250k bits/s at 1 MHz is a quarter token per tick.
	for i := 0; i < 3; i++ {
		b.Refill()
	}
	assert.Equal(t, int64(0), b.Tokens())
	b.Refill()
	assert.Equal(t, int64(1), b.Tokens())

	for i := 0; i < 1_000_000-4; i++ {
		b.Refill()
	}
	assert.Equal(t, int64(250_000), b.Tokens())
}

func TestRefillFractionalHighRate(t *testing.T) {
	b := newBucket(t, 1_500_000)
	for i := 0; i < 1000; i++ {
		b.Refill()
	}
	assert.Equal(t, int64(1500), b.Tokens())
}

func TestRefillNMatchesRepeatedRefill(t *testing.T) {
	for _, rate := range []int64{250_000, 1_000_000, 1_500_000, 5_000_000} {
		one, many := newBucket(t, rate), newBucket(t, rate)
		for i := 0; i < 7; i++ {
			for j := 0; j < 1337; j++ {
				one.Refill()
			}
			many.RefillN(1337)
			require.Equal(t, one.Tokens(), many.Tokens(), "rate %d round %d", rate, i)
		}
	}
}

func TestRefillNAfterLag(t *testing.T) {
	b := newBucket(t, 1_000_000)

	b.RefillN(10_000) // 10 ms at 1 MHz
	assert.Equal(t, int64(10_000), b.Tokens())
	for i := 0; i < 100; i++ {
		b.RefillN(10_000)
	}
	assert.Equal(t, int64(1_010_000), b.Tokens())
}

func TestRefillNLongStallClampsToCeiling(t *testing.T) {
	b := newBucket(t, 1_000_000)
	b.RefillN(1 << 50)
	assert.Equal(t, b.Ceiling(), b.Tokens())

	b.RefillN(0)
	b.RefillN(-5)
	assert.Equal(t, b.Ceiling(), b.Tokens())
}

func TestCeilingNeverExceeded(t *testing.T) {
	b := newBucket(t, 3_000_000_000)
	for i := 0; i < 100_000; i++ {
		b.Refill()
		require.LessOrEqual(t, b.Tokens(), b.Ceiling())
	}
	assert.Equal(t, b.Ceiling(), b.Tokens())
	assert.Equal(t, int64(10_000_000), b.Ceiling())
}

func TestTryConsume(t *testing.T) {
	b := newBucket(t, 8_000_000)
	for i := 0; i < 1000; i++ {
		b.Refill()
	}
	require.Equal(t, int64(8000), b.Tokens())

	assert.True(t, b.TryConsume(6000))
	assert.False(t, b.TryConsume(6000))
	assert.Equal(t, int64(2000), b.Tokens())
	assert.True(t, b.TryConsume(2000))
	assert.Equal(t, int64(0), b.Tokens())
}

func TestFits(t *testing.T) {
	b := newBucket(t, 1_000_000)
	assert.True(t, b.Fits(12_000))
	assert.False(t, b.Fits(b.Ceiling()+1))
}

// TestConcurrentRefillConsume checks that no refill or debit is lost when
// the timer and the worker race on the balance.
func TestConcurrentRefillConsume(t *testing.T) {
	b := newBucket(t, 100_000_000) // 100 tokens per tick
	const ticks = 50_000

	var consumed int64
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				if b.TryConsume(64) {
					consumed += 64
				}
			}
		}
	}()

	for i := 0; i < ticks; i++ {
		b.Refill()
	}
	close(done)
	wg.Wait()

	// Refills never hit the ceiling here, so every token is either spent or left.
	assert.Equal(t, int64(ticks*100), consumed+b.Tokens())
}
