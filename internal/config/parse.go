package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/impair/internal/core"
)

// ParsePortMask parses a hexadecimal port bitmask, with or without a 0x
// prefix. Empty, malformed and zero masks are rejected.
func ParsePortMask(s string) (uint64, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if t == "" {
		return 0, fmt.Errorf("%w: empty", core.ErrInvalidPortMask)
	}
	mask, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", core.ErrInvalidPortMask, s, err)
	}
	if mask == 0 {
		return 0, fmt.Errorf("%w: zero", core.ErrInvalidPortMask)
	}
	return mask, nil
}

// maxGiga is the largest numeric prefix accepted with a g/G suffix.
const maxGiga = 10

// ParseBandwidth parses a rate in bits per second with an optional k/K,
// m/M or g/G suffix (x1e3, x1e6, x1e9). A g/G prefix above 10 is rejected.
// The empty string means no limit and parses as 0.
func ParseBandwidth(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	num := s
	switch s[len(s)-1] {
	case 'k', 'K':
		mult, num = 1_000, s[:len(s)-1]
	case 'm', 'M':
		mult, num = 1_000_000, s[:len(s)-1]
	case 'g', 'G':
		mult, num = 1_000_000_000, s[:len(s)-1]
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bandwidth %q", core.ErrInvalidRate, s)
	}
	if mult == 1_000_000_000 && n > maxGiga {
		return 0, fmt.Errorf("%w: bandwidth %q exceeds %dG", core.ErrInvalidRate, s, maxGiga)
	}
	if n > (1<<63-1)/mult {
		return 0, fmt.Errorf("%w: bandwidth %q overflows", core.ErrInvalidRate, s)
	}
	return n * mult, nil
}

// ParseDirection maps a_to_b, b_to_a or both to the impaired directions.
func ParseDirection(s string) ([]core.Direction, error) {
	switch s {
	case "", core.DirAToB.String():
		return []core.Direction{core.DirAToB}, nil
	case core.DirBToA.String():
		return []core.Direction{core.DirBToA}, nil
	case "both":
		return []core.Direction{core.DirAToB, core.DirBToA}, nil
	}
	return nil, fmt.Errorf("%w: unknown direction %q (a_to_b|b_to_a|both)", core.ErrConfigInvalid, s)
}

// ParseCores validates a role to CPU map. Unknown roles, negative CPUs
// other than -1 and two roles sharing a CPU are rejected.
func ParseCores(in map[string]int) (map[core.Role]int, error) {
	known := make(map[core.Role]bool, len(core.Roles))
	for _, r := range core.Roles {
		known[r] = true
	}

	out := make(map[core.Role]int, len(in))
	owner := make(map[int]core.Role)
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cpu := in[name]
		role := core.Role(name)
		if !known[role] {
			return nil, fmt.Errorf("%w: unknown role %q in cores", core.ErrConfigInvalid, name)
		}
		if cpu < -1 {
			return nil, fmt.Errorf("%w: role %s has invalid cpu %d", core.ErrConfigInvalid, name, cpu)
		}
		if cpu >= 0 {
			if prev, ok := owner[cpu]; ok {
				return nil, fmt.Errorf("%w: roles %s and %s both pinned to cpu %d",
					core.ErrConfigInvalid, prev, role, cpu)
			}
			owner[cpu] = role
		}
		out[role] = cpu
	}
	return out, nil
}
