package loss

import "firestige.xyz/impair/internal/random"

// FourStateState is a state of the four-state Markov model.
type FourStateState int

const (
	StateGapGood   FourStateState = 1 // received, gap period
	StateBurstGood FourStateState = 2 // received, burst period
	StateBurstLoss FourStateState = 3 // lost, burst period
	StateGapLoss   FourStateState = 4 // isolated loss, gap period
)

// FourState is the four-state Markov loss model. A packet is reported lost
// when the state after the transition is StateBurstGood or StateGapLoss.
// StateGapLoss always returns to StateGapGood, so gap losses are isolated.
type FourState struct {
	p13, p14, p23, p31, p32 uint64

	state FourStateState
	src   random.Source
}

// NewFourState creates the model in StateGapGood. Probabilities are scaled.
func NewFourState(p13, p14, p23, p31, p32 uint64, src random.Source) *FourState {
	return &FourState{
		p13: p13, p14: p14, p23: p23, p31: p31, p32: p32,
		state: StateGapGood,
		src:   src,
	}
}

func (f *FourState) Kind() Kind { return KindFourState }

// State returns the current state.
func (f *FourState) State() FourStateState { return f.state }

// ShouldDrop performs one transition from a single draw. Thresholds are
// compared cumulatively, first listed transition first.
func (f *FourState) ShouldDrop() bool {
	rnd := random.Draw(f.src)

	switch f.state {
	case StateGapGood:
		if rnd < f.p13 {
			f.state = StateBurstLoss
		} else if rnd < f.p13+f.p14 {
			f.state = StateGapLoss
		}
	case StateBurstGood:
		if rnd < f.p23 {
			f.state = StateBurstLoss
		}
	case StateBurstLoss:
		if rnd < f.p31 {
			f.state = StateGapGood
		} else if rnd < f.p31+f.p32 {
			f.state = StateBurstGood
		}
	case StateGapLoss:
		f.state = StateGapGood
	}

	return f.state == StateBurstGood || f.state == StateGapLoss
}
