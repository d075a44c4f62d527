package random

import "math"

// Normal samples a normal distribution with the polar Box-Muller method.
// Each accepted pair yields two samples; the second is cached and returned
// by the next call.
type Normal struct {
	src      Source
	hasSpare bool
	spare    float64
}

// NewNormal creates a sampler drawing from src.
func NewNormal(src Source) *Normal {
	return &Normal{src: src}
}

// Sample returns a value from N(mean, stddev^2).
func (n *Normal) Sample(mean, stddev float64) float64 {
	if n.hasSpare {
		n.hasSpare = false
		return mean + stddev*n.spare
	}

	var u, v, s float64
	for {
		u = n.src.Float64()*2 - 1
		v = n.src.Float64()*2 - 1
		s = u*u + v*v
		if s > 0 && s < 1 {
			break
		}
	}

	m := math.Sqrt(-2 * math.Log(s) / s)
	n.spare = v * m
	n.hasSpare = true
	return mean + stddev*u*m
}
