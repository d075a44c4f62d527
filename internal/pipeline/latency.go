package pipeline

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/montanaflynn/stats"

	"firestige.xyz/impair/internal/clock"
)

// latencySampler keeps the first cap residence times seen by a transmit
// stage, in clock ticks. Only the transmit goroutine records; the samples
// are read after it stops.
type latencySampler struct {
	samples []int64
	n       int
	seen    uint64
}

func newLatencySampler(capacity int) *latencySampler {
	if capacity <= 0 {
		return nil
	}
	return &latencySampler{samples: make([]int64, capacity)}
}

func (l *latencySampler) record(ticks int64) {
	if l == nil {
		return
	}
	l.seen++
	if l.n < len(l.samples) {
		l.samples[l.n] = ticks
		l.n++
	}
}

func (l *latencySampler) values() []int64 {
	if l == nil {
		return nil
	}
	return l.samples[:l.n]
}

// LatencySummary describes the residence time of forwarded packets, from
// receive stamp to transmit, in microseconds.
type LatencySummary struct {
	Port    string  `json:"port"`
	Samples int     `json:"samples"`
	Seen    uint64  `json:"seen"`
	Min     float64 `json:"min_us"`
	Mean    float64 `json:"mean_us"`
	P50     float64 `json:"p50_us"`
	P90     float64 `json:"p90_us"`
	P99     float64 `json:"p99_us"`
	Max     float64 `json:"max_us"`
}

func summarize(portName string, l *latencySampler, clk clock.Clock) (*LatencySummary, error) {
	vals := l.values()
	if len(vals) == 0 {
		return nil, nil
	}
	data := make(stats.Float64Data, len(vals))
	for i, v := range vals {
		data[i] = float64(clock.TicksToDuration(clk, v)) / float64(time.Microsecond)
	}

	s := &LatencySummary{Port: portName, Samples: len(vals), Seen: l.seen}
	var err error
	if s.Min, err = data.Min(); err != nil {
		return nil, err
	}
	if s.Max, err = data.Max(); err != nil {
		return nil, err
	}
	if s.Mean, err = data.Mean(); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		dst *float64
		pct float64
	}{{&s.P50, 50}, {&s.P90, 90}, {&s.P99, 99}} {
		if *p.dst, err = data.PercentileNearestRank(p.pct); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// dumpLatency writes one sample per line, in ticks, to
// <dir>/latency-<port>-<timestamp>.txt and returns the file name.
func dumpLatency(dir, portName string, l *latencySampler, at time.Time) (string, error) {
	vals := l.values()
	if len(vals) == 0 {
		return "", nil
	}
	name := filepath.Join(dir, fmt.Sprintf("latency-%s-%s.txt", portName, at.Format("20060102T150405")))
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	w := bufio.NewWriter(f)
	for _, v := range vals {
		w.WriteString(strconv.FormatInt(v, 10))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", err
	}
	return name, f.Close()
}
