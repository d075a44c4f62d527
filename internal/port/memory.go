package port

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/impair/internal/pktbuf"
)

// KindMemory is an in-process port. Frames are injected by the caller and
// transmitted frames are collected for inspection.
const KindMemory = "memory"

func init() {
	Register(KindMemory, func(id int, name string, pool *pktbuf.Pool, opts map[string]any) (Port, error) {
		return NewMemory(id, name, pool, opts)
	})
}

type memoryOptions struct {
	QueueSize int  `mapstructure:"queue_size"` // injected frames held at most; 0 = unbounded
	TxAccept  int  `mapstructure:"tx_accept"`  // frames accepted per TxBurst; 0 = all
	Keep      bool `mapstructure:"keep"`       // retain copies of transmitted frames
}

// Frame is a transmitted packet as the memory port saw it.
type Frame struct {
	Data []byte
	Tag  int64
}

// Memory is a loopback port for tests and dry runs.
type Memory struct {
	id   int
	name string
	pool *pktbuf.Pool
	opts memoryOptions

	mu   sync.Mutex
	rxq  [][]byte
	sent []Frame

	txAccept atomic.Int64
	closed   atomic.Bool

	rxPackets, rxBytes, rxNoBuf, rxErrors atomic.Uint64
	txPackets, txBytes                    atomic.Uint64
}

// NewMemory creates a memory port drawing receive buffers from pool.
func NewMemory(id int, name string, pool *pktbuf.Pool, opts map[string]any) (*Memory, error) {
	o := memoryOptions{Keep: true}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	m := &Memory{id: id, name: name, pool: pool, opts: o}
	m.txAccept.Store(int64(o.TxAccept))
	return m, nil
}

func (m *Memory) ID() int      { return m.id }
func (m *Memory) Name() string { return m.name }

// Inject queues a copy of data for the next RxBurst. It reports false when
// the queue is full or the port is closed.
func (m *Memory) Inject(data []byte) bool {
	if m.closed.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.QueueSize > 0 && len(m.rxq) >= m.opts.QueueSize {
		return false
	}
	m.rxq = append(m.rxq, append([]byte(nil), data...))
	return true
}

// Pending returns the number of injected frames not yet received.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rxq)
}

// SetTxAccept limits how many frames each TxBurst accepts. 0 removes the
// limit.
func (m *Memory) SetTxAccept(n int) { m.txAccept.Store(int64(n)) }

// Sent returns a copy of the transmitted frames retained so far.
func (m *Memory) Sent() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Frame(nil), m.sent...)
}

// TakeSent returns the retained frames and forgets them.
func (m *Memory) TakeSent() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sent
	m.sent = nil
	return out
}

func (m *Memory) RxBurst(pkts []*pktbuf.Packet) int {
	if m.closed.Load() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for n < len(pkts) && len(m.rxq) > 0 {
		data := m.rxq[0]
		m.rxq[0] = nil
		m.rxq = m.rxq[1:]

		pkt := m.pool.Alloc()
		if pkt == nil {
			m.rxNoBuf.Add(1)
			continue
		}
		if err := pkt.SetBytes(data); err != nil {
			m.rxErrors.Add(1)
			pkt.Free()
			continue
		}
		m.rxPackets.Add(1)
		m.rxBytes.Add(uint64(len(data)))
		pkts[n] = pkt
		n++
	}
	return n
}

func (m *Memory) TxBurst(pkts []*pktbuf.Packet) int {
	if m.closed.Load() {
		return 0
	}
	n := len(pkts)
	if limit := int(m.txAccept.Load()); limit > 0 && n > limit {
		n = limit
	}

	m.mu.Lock()
	for _, pkt := range pkts[:n] {
		if m.opts.Keep {
			m.sent = append(m.sent, Frame{
				Data: append([]byte(nil), pkt.Bytes()...),
				Tag:  pkt.Tag,
			})
		}
		m.txPackets.Add(1)
		m.txBytes.Add(uint64(pkt.Len()))
		pkt.Free()
	}
	m.mu.Unlock()
	return n
}

func (m *Memory) Stats() Stats {
	return Stats{
		RxPackets: m.rxPackets.Load(),
		RxBytes:   m.rxBytes.Load(),
		RxNoBuf:   m.rxNoBuf.Load(),
		RxErrors:  m.rxErrors.Load(),
		TxPackets: m.txPackets.Load(),
		TxBytes:   m.txBytes.Load(),
	}
}

func (m *Memory) Close() error {
	m.closed.Store(true)
	m.mu.Lock()
	m.rxq = nil
	m.mu.Unlock()
	return nil
}
