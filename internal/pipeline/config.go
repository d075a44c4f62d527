package pipeline

import (
	"fmt"
	"time"

	"firestige.xyz/impair/internal/clock"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/loss"
	"firestige.xyz/impair/internal/pktbuf"
	"firestige.xyz/impair/internal/port"
	"firestige.xyz/impair/internal/random"
	"firestige.xyz/impair/internal/shaper"
)

// HOLPolicy decides what the worker does with packets queued behind one it
// has to hold back.
type HOLPolicy string

const (
	// HOLStrict holds everything behind the first held packet.
	HOLStrict HOLPolicy = "strict"
	// HOLSkip lets admissible packets overtake held ones. Held packets keep
	// their relative order.
	HOLSkip HOLPolicy = "skip"
)

// ParseHOLPolicy parses a policy name; the empty string means strict.
func ParseHOLPolicy(s string) (HOLPolicy, error) {
	switch HOLPolicy(s) {
	case "", HOLStrict:
		return HOLStrict, nil
	case HOLSkip:
		return HOLSkip, nil
	}
	return "", fmt.Errorf("%w: unknown hol policy %q", core.ErrConfigInvalid, s)
}

// Impairment is what an impaired direction does to its traffic.
type Impairment struct {
	Loss             loss.Params
	DuplicatePercent float64

	DelayUs  int64
	JitterUs int64
	// ResamplePeriod is how often a jittered delay is redrawn.
	ResamplePeriod time.Duration

	// RateBps limits throughput in bits per second; 0 disables the limit.
	RateBps     int64
	RefillHz    int64
	MaxLineRate int64
	CeilingHz   int64
}

// Config contains emulator configuration.
type Config struct {
	RunID  string
	Ports  [2]port.Port
	Pool   *pktbuf.Pool
	Clock  clock.Clock
	Random *random.Factory

	// Impaired lists the directions Impairment applies to. The other
	// direction forwards untouched.
	Impaired   []core.Direction
	Impairment Impairment

	RingSize  int // per inter-stage ring, power of two
	Burst     int // packets per RX/TX burst
	HOL       HOLPolicy
	IdleYield int // yield after this many idle polls; 0 = pure spin

	// Cores maps roles to CPUs. Missing roles are left unpinned.
	Cores map[core.Role]int

	LatencySamples int // per transmit stage; 0 disables sampling
}

func (c *Config) applyDefaults() {
	if c.RingSize == 0 {
		c.RingSize = 1024
	}
	if c.Burst == 0 {
		c.Burst = 32
	}
	if c.HOL == "" {
		c.HOL = HOLStrict
	}
	if c.Clock == nil {
		c.Clock = clock.NewMonotonic()
	}
	im := &c.Impairment
	if im.ResamplePeriod == 0 {
		im.ResamplePeriod = time.Second
	}
	if im.RefillHz == 0 {
		im.RefillHz = shaper.DefaultRefillHz
	}
	if im.MaxLineRate == 0 {
		im.MaxLineRate = 10_000_000_000
	}
	if im.CeilingHz == 0 {
		im.CeilingHz = 1000
	}
}

func (c *Config) validate() error {
	for i, p := range c.Ports {
		if p == nil {
			return fmt.Errorf("%w: port %s is not set", core.ErrConfigInvalid, core.PortLabel(i))
		}
	}
	if c.Pool == nil {
		return fmt.Errorf("%w: packet pool is not set", core.ErrConfigInvalid)
	}
	if c.Random == nil {
		return fmt.Errorf("%w: random factory is not set", core.ErrConfigInvalid)
	}
	if c.Burst < 1 {
		return fmt.Errorf("%w: burst must be positive", core.ErrConfigInvalid)
	}
	if c.HOL != HOLStrict && c.HOL != HOLSkip {
		return fmt.Errorf("%w: unknown hol policy %q", core.ErrConfigInvalid, c.HOL)
	}
	if c.IdleYield < 0 {
		return fmt.Errorf("%w: idle_yield must not be negative", core.ErrConfigInvalid)
	}
	if err := c.Impairment.Loss.Validate(); err != nil {
		return fmt.Errorf("%w: loss: %v", core.ErrConfigInvalid, err)
	}
	if p := c.Impairment.DuplicatePercent; p < 0 || p > 100 {
		return fmt.Errorf("%w: duplicate percentage %v out of range", core.ErrConfigInvalid, p)
	}
	if c.Impairment.DelayUs < 0 || c.Impairment.JitterUs < 0 {
		return fmt.Errorf("%w: delay and jitter must not be negative", core.ErrConfigInvalid)
	}
	if c.Impairment.RateBps < 0 {
		return fmt.Errorf("%w: %d", core.ErrInvalidRate, c.Impairment.RateBps)
	}
	return nil
}

func (c *Config) impaired(d core.Direction) bool {
	for _, x := range c.Impaired {
		if x == d {
			return true
		}
	}
	return false
}
