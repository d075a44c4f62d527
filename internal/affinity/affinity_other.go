//go:build !linux

package affinity

func setAffinity(int) error { return nil }

// Current is unsupported off linux and returns nil.
func Current() ([]int, error) { return nil, nil }
