// Package pktbuf implements the packet buffer handed between pipeline stages
// and the fixed-size pool it is allocated from.
package pktbuf

import (
	"errors"
	"sync/atomic"
)

// ErrTooLarge is returned when a payload does not fit a pool buffer.
var ErrTooLarge = errors.New("impair: payload exceeds buffer size")

// Packet is an opaque pooled buffer. Exactly one stage owns a Packet at a
// time; ownership moves with the handle across a ring.
type Packet struct {
	data []byte
	n    int

	// Tag is a free-form 64-bit field. The receive stage stores the arrival
	// tick in it.
	Tag int64

	pool *Pool
}

// Bytes returns the payload.
func (p *Packet) Bytes() []byte { return p.data[:p.n] }

// Len returns the payload length in bytes.
func (p *Packet) Len() int { return p.n }

// Bits returns the payload length in bits.
func (p *Packet) Bits() int64 { return int64(p.n) * 8 }

// SetBytes copies b into the buffer.
func (p *Packet) SetBytes(b []byte) error {
	if len(b) > len(p.data) {
		return ErrTooLarge
	}
	p.n = copy(p.data, b)
	return nil
}

// Free returns the packet to its pool.
func (p *Packet) Free() {
	p.pool.Free(p)
}

// Pool is a fixed-count packet pool. Alloc and Free may be called from any
// goroutine; allocation fails instead of growing when the pool is empty.
type Pool struct {
	free    chan *Packet
	bufSize int
	count   int

	allocFailed atomic.Uint64
}

// NewPool creates count buffers of bufSize bytes each.
func NewPool(count, bufSize int) *Pool {
	p := &Pool{
		free:    make(chan *Packet, count),
		bufSize: bufSize,
		count:   count,
	}
	for i := 0; i < count; i++ {
		p.free <- &Packet{data: make([]byte, bufSize), pool: p}
	}
	return p
}

// Alloc returns an empty packet, or nil when the pool is exhausted.
func (p *Pool) Alloc() *Packet {
	select {
	case pkt := <-p.free:
		pkt.n = 0
		pkt.Tag = 0
		return pkt
	default:
		p.allocFailed.Add(1)
		return nil
	}
}

// Free returns pkt to the pool. Freeing a packet twice corrupts the pool.
func (p *Pool) Free(pkt *Packet) {
	if pkt == nil {
		return
	}
	select {
	case p.free <- pkt:
	default:
		panic("pktbuf: free of packet not owned by pool")
	}
}

// FreeBulk frees every packet in pkts.
func (p *Pool) FreeBulk(pkts []*Packet) {
	for _, pkt := range pkts {
		p.Free(pkt)
	}
}

// Clone allocates an independent copy of src, payload and tag included.
// It returns nil when the pool is exhausted.
func (p *Pool) Clone(src *Packet) *Packet {
	dst := p.Alloc()
	if dst == nil {
		return nil
	}
	dst.n = copy(dst.data, src.data[:src.n])
	dst.Tag = src.Tag
	return dst
}

// BufSize returns the size of each buffer.
func (p *Pool) BufSize() int { return p.bufSize }

// Count returns the total number of buffers.
func (p *Pool) Count() int { return p.count }

// Available returns the number of free buffers.
func (p *Pool) Available() int { return len(p.free) }

// InUse returns the number of buffers currently owned by stages or ports.
func (p *Pool) InUse() int { return p.count - len(p.free) }

// AllocFailed returns how many allocations found the pool empty.
func (p *Pool) AllocFailed() uint64 { return p.allocFailed.Load() }
