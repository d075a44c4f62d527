// Package port abstracts the two NIC ports the emulator forwards between.
// Backends register themselves by kind and are opened from configuration.
package port

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/pktbuf"
)

// Port is a single receive/transmit queue pair. RxBurst is only called by
// the port's receive stage and TxBurst only by its transmit stage.
type Port interface {
	ID() int
	Name() string

	// RxBurst fills pkts with buffers allocated from the port's pool and
	// returns how many it filled. It never blocks for long; zero means no
	// traffic right now.
	RxBurst(pkts []*pktbuf.Packet) int

	// TxBurst queues pkts for transmission and returns how many were
	// accepted. Accepted buffers belong to the port from then on; the rest
	// stay with the caller.
	TxBurst(pkts []*pktbuf.Packet) int

	Stats() Stats
	Close() error
}

// Stats are backend counters, independent of the pipeline's own.
type Stats struct {
	RxPackets uint64 `json:"rx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	RxNoBuf   uint64 `json:"rx_nobuf"`
	RxErrors  uint64 `json:"rx_errors"`
	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	TxErrors  uint64 `json:"tx_errors"`
}

// Config names a port and the backend that serves it.
type Config struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Kind    string         `mapstructure:"kind" yaml:"kind"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// Factory opens a port of one kind.
type Factory func(id int, name string, pool *pktbuf.Pool, opts map[string]any) (Port, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a backend available under kind. It panics on duplicates.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[kind]; ok {
		panic(fmt.Sprintf("port: backend %q registered twice", kind))
	}
	registry[kind] = f
}

// Kinds lists the registered backends.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open creates port id from cfg.
func Open(id int, cfg Config, pool *pktbuf.Pool) (Port, error) {
	mu.RLock()
	f, ok := registry[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kind %q (have %v)", core.ErrPortNotFound, cfg.Kind, Kinds())
	}
	p, err := f(id, cfg.Name, pool, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrPortInitFailed, cfg.Name, err)
	}
	return p, nil
}

// decodeOptions fills out from a backend option map, accepting weakly typed
// input such as "1024" for an int.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(opts)
}

// SelectPorts returns the indexes of the first two ports enabled in mask,
// which is matched against a list of available ports.
func SelectPorts(mask uint64, available int) ([2]int, error) {
	var sel [2]int
	if mask == 0 {
		return sel, fmt.Errorf("%w: mask is zero", core.ErrInvalidPortMask)
	}
	if available < 64 && mask>>uint(available) != 0 {
		return sel, fmt.Errorf("%w: mask %#x names ports beyond the %d configured",
			core.ErrInvalidPortMask, mask, available)
	}
	if bits.OnesCount64(mask) < 2 {
		return sel, fmt.Errorf("%w: mask %#x enables fewer than two ports", core.ErrInvalidPortMask, mask)
	}
	n := 0
	for i := 0; i < 64 && n < 2; i++ {
		if mask&(1<<uint(i)) != 0 {
			sel[n] = i
			n++
		}
	}
	return sel, nil
}
