package pipeline

import (
	"sync/atomic"

	"firestige.xyz/impair/internal/port"
)

// PortStats contains per-port forwarding counters. Counters about what
// happened to traffic entering the emulator are kept on the ingress port;
// transmit counters on the egress port.
type PortStats struct {
	Port string

	Rx             atomic.Uint64
	Tx             atomic.Uint64
	TxBytes        atomic.Uint64
	Discarded      atomic.Uint64 // dropped by the loss model
	Duplicated     atomic.Uint64
	DupAllocFailed atomic.Uint64
	Overflow       atomic.Uint64 // receive -> worker ring full
	DelayedHolds   atomic.Uint64
	RateHolds      atomic.Uint64
	RateOversize   atomic.Uint64
	TxRetries      atomic.Uint64
	TxAbandoned    atomic.Uint64
}

// NewPortStats creates counters for the named port.
func NewPortStats(port string) *PortStats {
	return &PortStats{Port: port}
}

// PortSnapshot is a point-in-time copy of PortStats.
type PortSnapshot struct {
	Port           string `json:"port"`
	Rx             uint64 `json:"rx"`
	Tx             uint64 `json:"tx"`
	TxBytes        uint64 `json:"tx_bytes"`
	Discarded      uint64 `json:"discarded"`
	Duplicated     uint64 `json:"duplicated"`
	DupAllocFailed uint64 `json:"dup_alloc_failed"`
	Overflow       uint64 `json:"overflow"`
	DelayedHolds   uint64 `json:"delayed_holds"`
	RateHolds      uint64 `json:"rate_holds"`
	RateOversize   uint64 `json:"rate_oversize"`
	TxRetries      uint64 `json:"tx_retries"`
	TxAbandoned    uint64 `json:"tx_abandoned"`
}

// Snapshot loads every counter.
func (s *PortStats) Snapshot() PortSnapshot {
	return PortSnapshot{
		Port:           s.Port,
		Rx:             s.Rx.Load(),
		Tx:             s.Tx.Load(),
		TxBytes:        s.TxBytes.Load(),
		Discarded:      s.Discarded.Load(),
		Duplicated:     s.Duplicated.Load(),
		DupAllocFailed: s.DupAllocFailed.Load(),
		Overflow:       s.Overflow.Load(),
		DelayedHolds:   s.DelayedHolds.Load(),
		RateHolds:      s.RateHolds.Load(),
		RateOversize:   s.RateOversize.Load(),
		TxRetries:      s.TxRetries.Load(),
		TxAbandoned:    s.TxAbandoned.Load(),
	}
}

// Counters returns the snapshot as name/value pairs in a stable order.
func (p PortSnapshot) Counters() []Counter {
	return []Counter{
		{"rx", p.Rx},
		{"tx", p.Tx},
		{"tx_bytes", p.TxBytes},
		{"discarded", p.Discarded},
		{"duplicated", p.Duplicated},
		{"dup_alloc_failed", p.DupAllocFailed},
		{"overflow", p.Overflow},
		{"delayed_holds", p.DelayedHolds},
		{"rate_holds", p.RateHolds},
		{"rate_oversize", p.RateOversize},
		{"tx_retries", p.TxRetries},
		{"tx_abandoned", p.TxAbandoned},
	}
}

// Counter is one named counter value.
type Counter struct {
	Name  string
	Value uint64
}

// Reset resets all counters to zero.
func (s *PortStats) Reset() {
	s.Rx.Store(0)
	s.Tx.Store(0)
	s.TxBytes.Store(0)
	s.Discarded.Store(0)
	s.Duplicated.Store(0)
	s.DupAllocFailed.Store(0)
	s.Overflow.Store(0)
	s.DelayedHolds.Store(0)
	s.RateHolds.Store(0)
	s.RateOversize.Store(0)
	s.TxRetries.Store(0)
	s.TxAbandoned.Store(0)
}

// DirectionSnapshot describes the live impairment state of one direction.
type DirectionSnapshot struct {
	Direction      string `json:"direction"`
	Impaired       bool   `json:"impaired"`
	Loss           string `json:"loss"`
	EffectiveDelay int64  `json:"effective_delay_ticks"`
	Tokens         int64  `json:"tokens_bits"`
	TokenCeiling   int64  `json:"token_ceiling_bits"`
	RxRing         int    `json:"rx_ring"`
	TxRing         int    `json:"tx_ring"`
}

// Snapshot is the whole emulator's state as exposed to the admin server.
type Snapshot struct {
	RunID      string               `json:"run_id"`
	Running    bool                 `json:"running"`
	Ports      [2]PortSnapshot      `json:"ports"`
	Directions [2]DirectionSnapshot `json:"directions"`
	Devices    [2]port.Stats        `json:"devices"`
	PoolInUse  int                  `json:"pool_in_use"`
	PoolFailed uint64               `json:"pool_alloc_failed"`
}
