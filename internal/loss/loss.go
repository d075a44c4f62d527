// Package loss implements the stochastic packet loss models and the
// duplication decision applied by the receive stage.
//
// Every model is a pure decision function over a random.Source: given the
// same seeded source, a model produces the same sequence of decisions.
package loss

import (
	"fmt"
	"strings"

	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/random"
)

// Kind selects a loss model.
type Kind int

const (
	KindNone Kind = iota
	KindRandom
	KindGilbertElliott
	KindFourState
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRandom:
		return "random"
	case KindGilbertElliott:
		return "ge"
	case KindFourState:
		return "4state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses a loss mode name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return KindNone, nil
	case "random", "bernoulli":
		return KindRandom, nil
	case "ge", "gilbert-elliott", "gilbert_elliott":
		return KindGilbertElliott, nil
	case "4state", "four-state", "markov4":
		return KindFourState, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", core.ErrUnknownLossMode, s)
	}
}

// Params holds the model parameters as percentages (0-100).
type Params struct {
	Kind Kind

	// Random
	Rate float64

	// Gilbert-Elliott
	GoodLoss  float64 // loss rate in the normal state
	BadLoss   float64 // loss rate in the abnormal state
	GoodToBad float64 // normal -> abnormal transition
	BadToGood float64 // abnormal -> normal transition

	// Four-state Markov
	P13 float64
	P14 float64
	P23 float64
	P31 float64
	P32 float64
}

// Validate checks that every percentage is within [0, 100].
func (p Params) Validate() error {
	check := func(name string, v float64) error {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be within [0, 100], got %g", name, v)
		}
		return nil
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"rate", p.Rate},
		{"good_loss", p.GoodLoss}, {"bad_loss", p.BadLoss},
		{"good_to_bad", p.GoodToBad}, {"bad_to_good", p.BadToGood},
		{"p13", p.P13}, {"p14", p.P14}, {"p23", p.P23}, {"p31", p.P31}, {"p32", p.P32},
	}
	for _, f := range fields {
		if err := check(f.name, f.v); err != nil {
			return err
		}
	}
	if p.Kind == KindFourState {
		if p.P13+p.P14 > 100 {
			return fmt.Errorf("p13 + p14 must not exceed 100, got %g", p.P13+p.P14)
		}
		if p.P31+p.P32 > 100 {
			return fmt.Errorf("p31 + p32 must not exceed 100, got %g", p.P31+p.P32)
		}
	}
	return nil
}

// Model decides, once per received packet, whether the packet is lost.
// A Model carries mutable state and must be used by one goroutine.
type Model interface {
	Kind() Kind
	ShouldDrop() bool
}

// New builds the model selected by p.Kind.
func New(p Params, src random.Source) (Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Kind {
	case KindNone:
		return None{}, nil
	case KindRandom:
		return NewRandom(random.ScalePercent(p.Rate), src), nil
	case KindGilbertElliott:
		return NewGilbertElliott(
			random.ScalePercent(p.GoodLoss), random.ScalePercent(p.BadLoss),
			random.ScalePercent(p.GoodToBad), random.ScalePercent(p.BadToGood),
			src), nil
	case KindFourState:
		return NewFourState(
			random.ScalePercent(p.P13), random.ScalePercent(p.P14), random.ScalePercent(p.P23),
			random.ScalePercent(p.P31), random.ScalePercent(p.P32),
			src), nil
	default:
		return nil, fmt.Errorf("%w: %v", core.ErrUnknownLossMode, p.Kind)
	}
}

// None never drops.
type None struct{}

func (None) Kind() Kind       { return KindNone }
func (None) ShouldDrop() bool { return false }

// Random drops each packet independently with a fixed probability.
type Random struct {
	threshold uint64
	src       random.Source
}

// NewRandom creates a Bernoulli model. threshold is a scaled probability.
func NewRandom(threshold uint64, src random.Source) *Random {
	return &Random{threshold: threshold, src: src}
}

func (r *Random) Kind() Kind { return KindRandom }

// ShouldDrop reports true iff a uniform draw in [0, Scale] is <= threshold.
func (r *Random) ShouldDrop() bool {
	return random.Draw(r.src) <= r.threshold
}
