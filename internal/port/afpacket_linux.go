//go:build linux

package port

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/impair/internal/pktbuf"
)

// frameWriter is the transmit side of a TPacket handle.
type frameWriter interface {
	WritePacketData(data []byte) error
}

// KindAFPacket binds a port to a network interface through a TPACKET_V3
// socket.
const KindAFPacket = "afpacket"

const (
	defaultSnapLen     = 65535
	defaultBlockSize   = 4 * 1024 * 1024 // 4MB
	defaultNumBlocks   = 128
	defaultPollTimeout = time.Millisecond
)

func init() {
	Register(KindAFPacket, func(id int, name string, pool *pktbuf.Pool, opts map[string]any) (Port, error) {
		return NewAFPacket(id, name, pool, opts)
	})
}

type afpacketOptions struct {
	Interface   string        `mapstructure:"interface"`    // required
	BPFFilter   string        `mapstructure:"bpf_filter"`   // optional
	SnapLen     int           `mapstructure:"snap_len"`     // default 65535
	BlockSize   int           `mapstructure:"block_size"`   // default 4MB
	NumBlocks   int           `mapstructure:"num_blocks"`   // default 128
	PollTimeout time.Duration `mapstructure:"poll_timeout"` // default 1ms
	RxBurst     int           `mapstructure:"rx_burst"`     // frames per RxBurst, default 1
}

// AFPacket is a port on a live interface.
//
// Reading past the last frame of a TPACKET_V3 block polls the socket for up
// to PollTimeout, so RxBurst stops after rx_burst frames rather than
// draining the ring; with the default of one frame no received packet waits
// behind an empty poll.
type AFPacket struct {
	id     int
	name   string
	pool   *pktbuf.Pool
	opts   afpacketOptions
	handle *afpacket.TPacket
	tx     frameWriter

	rxPackets, rxBytes, rxNoBuf, rxErrors atomic.Uint64
	txPackets, txBytes, txErrors          atomic.Uint64
}

// NewAFPacket opens the socket and applies the optional BPF filter.
func NewAFPacket(id int, name string, pool *pktbuf.Pool, opts map[string]any) (*AFPacket, error) {
	o := afpacketOptions{
		SnapLen:     defaultSnapLen,
		BlockSize:   defaultBlockSize,
		NumBlocks:   defaultNumBlocks,
		PollTimeout: defaultPollTimeout,
		RxBurst:     1,
	}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Interface == "" {
		return nil, fmt.Errorf("afpacket: interface is required")
	}
	if o.RxBurst < 1 {
		o.RxBurst = 1
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(o.Interface),
		afpacket.OptFrameSize(o.SnapLen),
		afpacket.OptBlockSize(o.BlockSize),
		afpacket.OptNumBlocks(o.NumBlocks),
		afpacket.OptPollTimeout(o.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	p := &AFPacket{id: id, name: name, pool: pool, opts: o, handle: handle, tx: handle}
	if o.BPFFilter != "" {
		if err := p.applyBPFFilter(); err != nil {
			handle.Close()
			return nil, err
		}
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "port", name, "error", err)
	}

	slog.Info("afpacket port opened", "port", name, "interface", o.Interface, "bpf_filter", o.BPFFilter)
	return p, nil
}

// applyBPFFilter compiles the filter with libpcap and loads it on the socket.
func (p *AFPacket) applyBPFFilter() error {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, p.opts.SnapLen, p.opts.BPFFilter)
	if err != nil {
		return fmt.Errorf("failed to compile BPF filter %q: %w", p.opts.BPFFilter, err)
	}
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	if err := p.handle.SetBPF(raw); err != nil {
		return fmt.Errorf("failed to set BPF: %w", err)
	}
	return nil
}

func (p *AFPacket) ID() int      { return p.id }
func (p *AFPacket) Name() string { return p.name }

func (p *AFPacket) RxBurst(pkts []*pktbuf.Packet) int {
	limit := len(pkts)
	if limit > p.opts.RxBurst {
		limit = p.opts.RxBurst
	}
	n := 0
	for n < limit {
		data, _, err := p.handle.ZeroCopyReadPacketData()
		if err != nil {
			if !errors.Is(err, afpacket.ErrTimeout) && !errors.Is(err, afpacket.ErrPoll) {
				p.rxErrors.Add(1)
			}
			break
		}
		pkt := p.pool.Alloc()
		if pkt == nil {
			p.rxNoBuf.Add(1)
			continue
		}
		if err := pkt.SetBytes(data); err != nil {
			p.rxErrors.Add(1)
			pkt.Free()
			continue
		}
		p.rxPackets.Add(1)
		p.rxBytes.Add(uint64(len(data)))
		pkts[n] = pkt
		n++
	}
	return n
}

// TxBurst stops at the first transient write error so the stage retries
// the rest. A frame the kernel can never send is counted as a tx error and
// consumed, so it cannot wedge the queue behind it.
func (p *AFPacket) TxBurst(pkts []*pktbuf.Packet) int {
	for i, pkt := range pkts {
		if err := p.tx.WritePacketData(pkt.Bytes()); err != nil {
			p.txErrors.Add(1)
			if !permanentTxError(err) {
				return i
			}
			slog.Debug("dropping unsendable frame", "port", p.name, "len", pkt.Len(), "error", err)
			pkt.Free()
			continue
		}
		p.txPackets.Add(1)
		p.txBytes.Add(uint64(pkt.Len()))
		pkt.Free()
	}
	return len(pkts)
}

// permanentTxError reports whether retrying the same frame cannot succeed.
func permanentTxError(err error) bool {
	return errors.Is(err, unix.EMSGSIZE) || errors.Is(err, unix.EINVAL)
}

func (p *AFPacket) Stats() Stats {
	s := Stats{
		RxPackets: p.rxPackets.Load(),
		RxBytes:   p.rxBytes.Load(),
		RxNoBuf:   p.rxNoBuf.Load(),
		RxErrors:  p.rxErrors.Load(),
		TxPackets: p.txPackets.Load(),
		TxBytes:   p.txBytes.Load(),
		TxErrors:  p.txErrors.Load(),
	}
	if p.handle == nil {
		return s
	}
	if _, v3, err := p.handle.SocketStats(); err == nil {
		s.RxNoBuf += uint64(v3.Drops())
	}
	return s
}

// Close must only be called once the stages using the port have stopped;
// the mmap ring is unmapped immediately.
func (p *AFPacket) Close() error {
	p.handle.Close()
	return nil
}
