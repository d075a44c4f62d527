// Package random provides the seeded random sources and the scaled-integer
// probability convention shared by the impairment models.
package random

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/iti/rngstream"
)

// Scale is the integer that stands for probability 1. Probabilities are
// carried as integers in [0, Scale], roughly nine decimal digits.
const Scale uint64 = 1_000_000_000

// Source is a uniform random source. A Source is owned by one goroutine.
type Source interface {
	// Uint64N returns a uniform integer in [0, n).
	Uint64N(n uint64) uint64
	// Float64 returns a uniform float in [0, 1).
	Float64() float64
}

// ScalePercent converts a percentage (0-100) to the scaled integer form.
// It is applied once at configuration time.
func ScalePercent(percent float64) uint64 {
	return uint64(percent * float64(Scale/100))
}

// Draw returns a uniform integer in [0, Scale].
func Draw(src Source) uint64 {
	return src.Uint64N(Scale + 1)
}

// Generator names.
const (
	GeneratorPCG      = "pcg"
	GeneratorMRG32k3a = "mrg32k3a"
)

// Factory hands out independent sources, one per consumer, so no source is
// ever shared between goroutines.
type Factory struct {
	mu        sync.Mutex
	generator string
	seed      uint64
	next      uint64
}

// NewFactory creates a factory for the named generator. The seed is only
// used by the PCG generator; MRG32k3a streams are deterministic by creation
// order.
func NewFactory(generator string, seed uint64) (*Factory, error) {
	switch generator {
	case "", GeneratorPCG:
		generator = GeneratorPCG
	case GeneratorMRG32k3a:
	default:
		return nil, fmt.Errorf("unknown random generator %q (must be %s or %s)",
			generator, GeneratorPCG, GeneratorMRG32k3a)
	}
	return &Factory{generator: generator, seed: seed}, nil
}

// Generator returns the generator name.
func (f *Factory) Generator() string { return f.generator }

// New returns the next independent source. name labels the stream.
func (f *Factory) New(name string) Source {
	f.mu.Lock()
	defer f.mu.Unlock()

	stream := f.next
	f.next++

	if f.generator == GeneratorMRG32k3a {
		return &mrgSource{s: rngstream.New(name)}
	}
	return NewPCG(f.seed, stream)
}

// NewPCG returns a PCG source for the given seed and stream.
func NewPCG(seed, stream uint64) Source {
	return rand.New(rand.NewPCG(seed, stream))
}

// mrgSource adapts an MRG32k3a stream to Source.
type mrgSource struct {
	s *rngstream.RngStream
}

func (m *mrgSource) Float64() float64 { return m.s.RandU01() }

func (m *mrgSource) Uint64N(n uint64) uint64 {
	v := uint64(m.s.RandU01() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}
