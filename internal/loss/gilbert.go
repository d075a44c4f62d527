package loss

import "firestige.xyz/impair/internal/random"

// GEState is the Gilbert-Elliott channel state.
type GEState int

const (
	GENormal GEState = iota
	GEAbnormal
)

// GilbertElliott is the two-state loss model. The normal state loses
// packets at goodLoss, the abnormal state at badLoss, and each call may flip
// the state for the next call.
type GilbertElliott struct {
	goodLoss  uint64
	badLoss   uint64
	goodToBad uint64
	badToGood uint64

	state GEState
	src   random.Source
}

// NewGilbertElliott creates the model in the normal state. All arguments
// except src are scaled probabilities.
func NewGilbertElliott(goodLoss, badLoss, goodToBad, badToGood uint64, src random.Source) *GilbertElliott {
	return &GilbertElliott{
		goodLoss:  goodLoss,
		badLoss:   badLoss,
		goodToBad: goodToBad,
		badToGood: badToGood,
		state:     GENormal,
		src:       src,
	}
}

func (g *GilbertElliott) Kind() Kind { return KindGilbertElliott }

// State returns the state the next call will start in.
func (g *GilbertElliott) State() GEState { return g.state }

// ShouldDrop draws the loss decision against the current state's loss rate,
// then independently draws whether to change state.
func (g *GilbertElliott) ShouldDrop() bool {
	lossRate, changeRate := g.goodLoss, g.goodToBad
	if g.state == GEAbnormal {
		lossRate, changeRate = g.badLoss, g.badToGood
	}

	lost := random.Draw(g.src) < lossRate

	if random.Draw(g.src) < changeRate {
		if g.state == GENormal {
			g.state = GEAbnormal
		} else {
			g.state = GENormal
		}
	}
	return lost
}
