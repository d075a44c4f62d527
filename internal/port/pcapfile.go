package port

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/impair/internal/pktbuf"
)

// KindPcap replays a capture file as received traffic and writes
// transmitted traffic to another capture file.
const KindPcap = "pcap"

func init() {
	Register(KindPcap, func(id int, name string, pool *pktbuf.Pool, opts map[string]any) (Port, error) {
		return NewPcapFile(id, name, pool, opts)
	})
}

type pcapOptions struct {
	Read    string `mapstructure:"read"`    // capture to replay; empty = no RX
	Write   string `mapstructure:"write"`   // capture to write; empty = discard TX
	Loop    bool   `mapstructure:"loop"`    // rewind the replay at end of file
	SnapLen uint32 `mapstructure:"snaplen"` // snap length of the written file
}

// PcapFile is a file-backed port.
type PcapFile struct {
	id   int
	name string
	pool *pktbuf.Pool
	opts pcapOptions

	rf   *os.File
	r    *pcapgo.Reader
	eof  atomic.Bool
	pass int // packets read since the file was last opened

	wf *os.File
	bw *bufio.Writer
	w  *pcapgo.Writer

	rxPackets, rxBytes, rxNoBuf, rxErrors atomic.Uint64
	txPackets, txBytes, txErrors          atomic.Uint64
}

// NewPcapFile opens the configured files.
func NewPcapFile(id int, name string, pool *pktbuf.Pool, opts map[string]any) (*PcapFile, error) {
	o := pcapOptions{SnapLen: 65535}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	p := &PcapFile{id: id, name: name, pool: pool, opts: o}

	if o.Read != "" {
		if err := p.openReader(); err != nil {
			return nil, err
		}
	} else {
		p.eof.Store(true)
	}

	if o.Write != "" {
		f, err := os.Create(o.Write)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("create %s: %w", o.Write, err)
		}
		p.wf = f
		p.bw = bufio.NewWriter(f)
		p.w = pcapgo.NewWriter(p.bw)
		if err := p.w.WriteFileHeader(o.SnapLen, layers.LinkTypeEthernet); err != nil {
			p.Close()
			return nil, fmt.Errorf("write header %s: %w", o.Write, err)
		}
	}

	slog.Debug("pcap port opened", "port", name, "read", o.Read, "write", o.Write, "loop", o.Loop)
	return p, nil
}

func (p *PcapFile) openReader() error {
	if p.rf != nil {
		p.rf.Close()
	}
	f, err := os.Open(p.opts.Read)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.opts.Read, err)
	}
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return fmt.Errorf("read header %s: %w", p.opts.Read, err)
	}
	p.rf, p.r = f, r
	p.pass = 0
	return nil
}

func (p *PcapFile) ID() int      { return p.id }
func (p *PcapFile) Name() string { return p.name }

// Exhausted reports whether the replay file has been read to the end.
func (p *PcapFile) Exhausted() bool { return p.eof.Load() }

func (p *PcapFile) RxBurst(pkts []*pktbuf.Packet) int {
	if p.eof.Load() {
		return 0
	}
	n := 0
	for n < len(pkts) {
		// A replay waits for buffers instead of dropping frames.
		if p.pool.Available() == 0 {
			p.rxNoBuf.Add(1)
			break
		}
		data, _, err := p.r.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if p.opts.Loop && p.pass > 0 {
				if err := p.openReader(); err == nil {
					continue
				}
			}
			p.eof.Store(true)
			break
		}
		if err != nil {
			p.rxErrors.Add(1)
			p.eof.Store(true)
			slog.Warn("pcap replay stopped", "port", p.name, "error", err)
			break
		}

		p.pass++

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

func (p *PcapFile) TxBurst(pkts []*pktbuf.Packet) int {
	now := time.Now()
	for _, pkt := range pkts {
		if p.w != nil {
			ci := gopacket.CaptureInfo{
				Timestamp:     now,
				CaptureLength: pkt.Len(),
				Length:        pkt.Len(),
			}
			if err := p.w.WritePacket(ci, pkt.Bytes()); err != nil {
				p.txErrors.Add(1)
			}
		}
		p.txPackets.Add(1)
		p.txBytes.Add(uint64(pkt.Len()))
		pkt.Free()
	}
	return len(pkts)
}

func (p *PcapFile) Stats() Stats {
	return Stats{
		RxPackets: p.rxPackets.Load(),
		RxBytes:   p.rxBytes.Load(),
		RxNoBuf:   p.rxNoBuf.Load(),
		RxErrors:  p.rxErrors.Load(),
		TxPackets: p.txPackets.Load(),
		TxBytes:   p.txBytes.Load(),
		TxErrors:  p.txErrors.Load(),
	}
}

func (p *PcapFile) Close() error {
	var errs []error
	if p.rf != nil {
		errs = append(errs, p.rf.Close())
		p.rf = nil
	}
	if p.bw != nil {
		errs = append(errs, p.bw.Flush())
		p.bw = nil
	}
	if p.wf != nil {
		errs = append(errs, p.wf.Close())
		p.wf = nil
	}
	return errors.Join(errs...)
}
