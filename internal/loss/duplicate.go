package loss

import "firestige.xyz/impair/internal/random"

// Duplicator is the Bernoulli duplication decision. It draws from its own
// source, independent of the loss model.
type Duplicator struct {
	threshold uint64
	src       random.Source
}

// NewDuplicator creates a duplicator firing with the given percentage.
func NewDuplicator(percent float64, src random.Source) *Duplicator {
	return &Duplicator{threshold: random.ScalePercent(percent), src: src}
}

// ShouldDuplicate reports whether the current packet gets a second copy.
// A zero rate never duplicates.
func (d *Duplicator) ShouldDuplicate() bool {
	if d.threshold == 0 {
		return false
	}
	return random.Draw(d.src) <= d.threshold
}
