package pipeline

import (
	"firestige.xyz/impair/internal/clock"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/delay"
	"firestige.xyz/impair/internal/loss"
	"firestige.xyz/impair/internal/pktbuf"
	"firestige.xyz/impair/internal/port"
	"firestige.xyz/impair/internal/ring"
	"firestige.xyz/impair/internal/shaper"
)

// direction is everything one traffic direction needs: its ports, its
// impairment state and the two rings between its stages.
type direction struct {
	dir      core.Direction
	impaired bool
	in, out  port.Port

	loss   loss.Model
	dup    *loss.Duplicator // nil when not duplicating
	delay  *delay.Scheduler
	bucket *shaper.TokenBucket // nil when not rate limited

	rxq *ring.Ring[*pktbuf.Packet] // receive -> worker
	txq *ring.Ring[*pktbuf.Packet] // worker -> transmit

	inStats, outStats *PortStats
}

// rxStage receives from the ingress port, applies loss and duplication and
// stamps the arrival tick.
type rxStage struct {
	d     *direction
	clk   clock.Clock
	pool  *pktbuf.Pool
	burst []*pktbuf.Packet
	out   []*pktbuf.Packet
}

func newRxStage(d *direction, clk clock.Clock, pool *pktbuf.Pool, burst int) *rxStage {
	return &rxStage{
		d:     d,
		clk:   clk,
		pool:  pool,
		burst: make([]*pktbuf.Packet, burst),
		out:   make([]*pktbuf.Packet, 0, 2*burst),
	}
}

// poll handles one receive burst and returns the number of packets received.
func (s *rxStage) poll() int {
	n := s.d.in.RxBurst(s.burst)
	if n == 0 {
		return 0
	}
	st := s.d.inStats
	st.Rx.Add(uint64(n))

	now := s.clk.Now()
	out := s.out[:0]
	for i, pkt := range s.burst[:n] {
		s.burst[i] = nil
		if s.d.loss.ShouldDrop() {
			st.Discarded.Add(1)
			pkt.Free()
			continue
		}
		pkt.Tag = now
		out = append(out, pkt)

		if s.d.dup != nil && s.d.dup.ShouldDuplicate() {
			c := s.pool.Clone(pkt)
			if c == nil {
				st.DupAllocFailed.Add(1)
				continue
			}
			out = append(out, c)
			st.Duplicated.Add(1)
		}
	}

	if len(out) > 0 {
		k := s.d.rxq.EnqueueBurst(out)
		if k < len(out) {
			st.Overflow.Add(uint64(len(out) - k))
			for _, pkt := range out[k:] {
				pkt.Free()
			}
		}
	}
	clear(out)
	s.out = out[:0]
	return n
}

type slot struct {
	admitted  bool // delay and rate checks passed, waiting for egress room
	delayHeld bool
	rateHeld  bool
}

type verdict int

const (
	pass verdict = iota
	hold
	drop
)

// workerStage gates packets on the delay scheduler and the token bucket and
// forwards admitted ones to the transmit ring.
type workerStage struct {
	d     *direction
	clk   clock.Clock
	skip  bool
	pend  []*pktbuf.Packet
	slots []slot
	n     int
}

func newWorkerStage(d *direction, clk clock.Clock, burst int, hol HOLPolicy) *workerStage {
	return &workerStage{
		d:     d,
		clk:   clk,
		skip:  hol == HOLSkip,
		pend:  make([]*pktbuf.Packet, burst),
		slots: make([]slot, burst),
	}
}

// poll tops up the pending burst and forwards what may leave now. It returns
// the number of packets that left the stage.
func (w *workerStage) poll() int {
	if w.n < len(w.pend) {
		w.n += w.d.rxq.DequeueBurst(w.pend[w.n:])
	}
	if w.n == 0 {
		return 0
	}

	now := w.clk.Now()
	keep, done := 0, 0
	blocked := false
	for i := 0; i < w.n; i++ {
		pkt := w.pend[i]
		if !blocked || w.skip {
			switch w.admit(pkt, &w.slots[i], now) {
			case drop:
				done++
				continue
			case pass:
				if w.d.txq.Enqueue(pkt) {
					done++
					continue
				}
			}
			blocked = true
		}
		w.pend[keep] = pkt
		w.slots[keep] = w.slots[i]
		keep++
	}
	clear(w.pend[keep:w.n])
	clear(w.slots[keep:w.n])
	w.n = keep
	return done
}

func (w *workerStage) admit(pkt *pktbuf.Packet, sl *slot, now int64) verdict {
	if sl.admitted {
		return pass
	}
	st := w.d.inStats
	if !w.d.delay.Eligible(now, pkt.Tag) {
		if !sl.delayHeld {
			sl.delayHeld = true
			st.DelayedHolds.Add(1)
		}
		return hold
	}
	if b := w.d.bucket; b != nil {
		bits := pkt.Bits()
		if !b.Fits(bits) {
			st.RateOversize.Add(1)
			pkt.Free()
			return drop
		}
		if !b.TryConsume(bits) {
			if !sl.rateHeld {
				sl.rateHeld = true
				st.RateHolds.Add(1)
			}
			return hold
		}
	}
	sl.admitted = true
	return pass
}

// drain frees the pending packets and returns how many there were.
func (w *workerStage) drain() int {
	n := w.n
	for i := 0; i < n; i++ {
		w.pend[i].Free()
		w.pend[i] = nil
		w.slots[i] = slot{}
	}
	w.n = 0
	return n
}

// txStage transmits the worker's output on the egress port.
type txStage struct {
	d       *direction
	clk     clock.Clock
	buf     []*pktbuf.Packet
	ages    []int64
	sizes   []int
	head, n int
	latency *latencySampler
}

func newTxStage(d *direction, clk clock.Clock, burst int, latency *latencySampler) *txStage {
	return &txStage{
		d:       d,
		clk:     clk,
		buf:     make([]*pktbuf.Packet, burst),
		ages:    make([]int64, burst),
		sizes:   make([]int, burst),
		latency: latency,
	}
}

// poll transmits from the current burst, dequeuing a new one once the
// previous burst is fully sent. It returns the number of packets accepted by
// the port.
func (t *txStage) poll() int {
	if t.head == t.n {
		t.head = 0
		t.n = t.d.txq.DequeueBurst(t.buf)
		if t.n == 0 {
			return 0
		}
	}

	pending := t.buf[t.head:t.n]
	now := t.clk.Now()
	for i, pkt := range pending {
		t.ages[i] = now - pkt.Tag
		t.sizes[i] = pkt.Len()
	}

	// Accepted packets belong to the port once TxBurst returns.
	sent := t.d.out.TxBurst(pending)
	if sent < len(pending) {
		t.d.outStats.TxRetries.Add(1)
	}
	var bytes uint64
	for i := 0; i < sent; i++ {
		t.latency.record(t.ages[i])
		bytes += uint64(t.sizes[i])
	}
	clear(pending[:sent])
	t.head += sent

	st := t.d.outStats
	st.Tx.Add(uint64(sent))
	st.TxBytes.Add(bytes)
	return sent
}

// drain frees the packets of an unfinished burst.
func (t *txStage) drain() int {
	n := t.n - t.head
	for i := t.head; i < t.n; i++ {
		t.buf[i].Free()
		t.buf[i] = nil
	}
	t.head, t.n = 0, 0
	return n
}
