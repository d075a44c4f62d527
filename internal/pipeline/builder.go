package pipeline

import (
	"firestige.xyz/impair/internal/clock"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/pktbuf"
	"firestige.xyz/impair/internal/port"
	"firestige.xyz/impair/internal/random"
)

// Builder provides a fluent interface for building emulators.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a builder impairing A->B only.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			Impaired: []core.Direction{core.DirAToB},
		},
	}
}

// WithRunID sets the run identifier.
func (b *Builder) WithRunID(id string) *Builder {
	b.config.RunID = id
	return b
}

// WithPorts sets the two ports.
func (b *Builder) WithPorts(a, bp port.Port) *Builder {
	b.config.Ports = [2]port.Port{a, bp}
	return b
}

// WithPool sets the packet pool.
func (b *Builder) WithPool(p *pktbuf.Pool) *Builder {
	b.config.Pool = p
	return b
}

// WithClock sets the tick source.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.config.Clock = c
	return b
}

// WithRandom sets the random source factory.
func (b *Builder) WithRandom(f *random.Factory) *Builder {
	b.config.Random = f
	return b
}

// WithImpairment sets the impairment and the directions it applies to.
func (b *Builder) WithImpairment(im Impairment, dirs ...core.Direction) *Builder {
	b.config.Impairment = im
	if len(dirs) > 0 {
		b.config.Impaired = dirs
	}
	return b
}

// WithRingSize sets the inter-stage ring capacity.
func (b *Builder) WithRingSize(n int) *Builder {
	b.config.RingSize = n
	return b
}

// WithBurst sets the burst size.
func (b *Builder) WithBurst(n int) *Builder {
	b.config.Burst = n
	return b
}

// WithHOL sets the head-of-line policy.
func (b *Builder) WithHOL(p HOLPolicy) *Builder {
	b.config.HOL = p
	return b
}

// WithIdleYield sets the idle polls between yields.
func (b *Builder) WithIdleYield(n int) *Builder {
	b.config.IdleYield = n
	return b
}

// WithCores sets the role to CPU mapping.
func (b *Builder) WithCores(cores map[core.Role]int) *Builder {
	b.config.Cores = cores
	return b
}

// WithLatencySamples sets the sample capacity per transmit stage.
func (b *Builder) WithLatencySamples(n int) *Builder {
	b.config.LatencySamples = n
	return b
}

// Config returns the configuration built so far.
func (b *Builder) Config() Config {
	return b.config
}

// Build creates the emulator.
func (b *Builder) Build() (*Emulator, error) {
	return New(b.config)
}
