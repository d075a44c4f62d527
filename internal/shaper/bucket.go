// Package shaper implements the token bucket used to throttle a direction to
// a configured bit rate.
package shaper

import (
	"fmt"
	"sync/atomic"
)

// DefaultRefillHz is the default replenishment frequency: one refill per
// microsecond.
const DefaultRefillHz = 1_000_000

// Config describes a token bucket. Rates are in bits per second.
type Config struct {
	Rate        int64 // target rate
	RefillHz    int64 // refills per second
	MaxLineRate int64 // physical line rate the ceiling is derived from
	CeilingHz   int64 // the ceiling holds MaxLineRate/CeilingHz bits
}

// TokenBucket holds a balance of transmit allowance in bits. Refill is
// called by the timer goroutine and TryConsume by the worker goroutine; the
// balance is only ever modified atomically.
type TokenBucket struct {
	rate     int64
	hz       int64
	perTick  int64
	perTickR int64
	ceiling  int64

	tokens atomic.Int64

	// remainder accumulates the sub-token part of each refill. Only the
	// timer goroutine touches it.
	remainder int64
}

// New creates an empty bucket.
func New(cfg Config) (*TokenBucket, error) {
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("token bucket rate must be positive, got %d", cfg.Rate)
	}
	if cfg.RefillHz <= 0 {
		cfg.RefillHz = DefaultRefillHz
	}
	if cfg.CeilingHz <= 0 {
		return nil, fmt.Errorf("token bucket ceiling_hz must be positive, got %d", cfg.CeilingHz)
	}
	if cfg.MaxLineRate < cfg.Rate {
		return nil, fmt.Errorf("token bucket rate %d exceeds max line rate %d", cfg.Rate, cfg.MaxLineRate)
	}

	ceiling := cfg.MaxLineRate / cfg.CeilingHz
	if ceiling <= 0 {
		return nil, fmt.Errorf("token bucket ceiling is zero (max_line_rate %d, ceiling_hz %d)",
			cfg.MaxLineRate, cfg.CeilingHz)
	}

	return &TokenBucket{
		rate:     cfg.Rate,
		hz:       cfg.RefillHz,
		perTick:  cfg.Rate / cfg.RefillHz,
		perTickR: cfg.Rate % cfg.RefillHz,
		ceiling:  ceiling,
	}, nil
}

// Refill adds one tick's worth of tokens. A full bucket discards the tick.
// At rates below RefillHz every tick adds less than one token, so the rate
// accumulates in the remainder until it amounts to whole tokens.
func (b *TokenBucket) Refill() { b.RefillN(1) }

// RefillN credits n ticks at once, exactly as n calls to Refill on a bucket
// that does not fill up in between. It lets a timer that polled late make up
// every period it missed.
func (b *TokenBucket) RefillN(n int64) {
	if n <= 0 || b.tokens.Load() >= b.ceiling {
		return
	}

	// n ticks are worth n*rate/hz tokens. Whole seconds are credited at the
	// full rate, capped once they alone would overfill the bucket.
	secs, ticks := n/b.hz, n%b.hz
	if limit := b.ceiling/b.rate + 1; secs > limit {
		secs = limit
	}
	add := secs*b.rate + ticks*b.perTick
	b.remainder += ticks * b.perTickR
	if b.remainder >= b.hz {
		add += b.remainder / b.hz
		b.remainder %= b.hz
	}
	if add == 0 {
		return
	}

	for {
		cur := b.tokens.Load()
		next := cur + add
		if next > b.ceiling {
			next = b.ceiling
		}
		if b.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

// TryConsume debits bits tokens if the balance covers them and reports
// whether it did. The balance never goes negative.
func (b *TokenBucket) TryConsume(bits int64) bool {
	for {
		cur := b.tokens.Load()
		if cur < bits {
			return false
		}
		if b.tokens.CompareAndSwap(cur, cur-bits) {
			return true
		}
	}
}

// Fits reports whether a packet of bits could ever be admitted.
func (b *TokenBucket) Fits(bits int64) bool { return bits <= b.ceiling }

// Tokens returns the current balance in bits.
func (b *TokenBucket) Tokens() int64 { return b.tokens.Load() }

// Ceiling returns the maximum balance in bits.
func (b *TokenBucket) Ceiling() int64 { return b.ceiling }

// Rate returns the configured rate in bits per second.
func (b *TokenBucket) Rate() int64 { return b.rate }

// RefillHz returns the number of Refill calls per second the rate assumes.
func (b *TokenBucket) RefillHz() int64 { return b.hz }
