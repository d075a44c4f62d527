package pipeline

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

// Report is the end-of-run summary.
type Report struct {
	RunID    string            `json:"run_id"`
	Duration time.Duration     `json:"duration"`
	Ports    [2]PortSnapshot   `json:"ports"`
	Latency  []*LatencySummary `json:"latency,omitempty"`
}

// Report builds the summary. Latency figures are only meaningful once the
// emulator has stopped.
func (e *Emulator) Report() (Report, error) {
	r := Report{RunID: e.cfg.RunID, Duration: e.elapsed}
	for p := 0; p < 2; p++ {
		r.Ports[p] = e.stats[p].Snapshot()
		s, err := summarize(e.cfg.Ports[p].Name(), e.latency[p], e.clk)
		if err != nil {
			return r, fmt.Errorf("latency %s: %w", e.cfg.Ports[p].Name(), err)
		}
		if s != nil {
			r.Latency = append(r.Latency, s)
		}
	}
	return r, nil
}

// DumpLatency writes the raw latency samples of each port to dir and
// returns the files written.
func (e *Emulator) DumpLatency(dir string) ([]string, error) {
	now := time.Now()
	var files []string
	for p := 0; p < 2; p++ {
		name, err := dumpLatency(dir, e.cfg.Ports[p].Name(), e.latency[p], now)
		if err != nil {
			return files, err
		}
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

// Print writes the per-port statistics table and latency percentiles.
func (r Report) Print(w io.Writer) {
	title := color.New(color.FgCyan, color.Bold)
	bad := color.New(color.FgRed)

	title.Fprintf(w, "\nPort statistics (run %s, %s)\n", r.RunID, r.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "counter\t%s\t%s\t\n", r.Ports[0].Port, r.Ports[1].Port)
	a, b := r.Ports[0].Counters(), r.Ports[1].Counters()
	for i := range a {
		va, vb := fmt.Sprint(a[i].Value), fmt.Sprint(b[i].Value)
		if isFailureCounter(a[i].Name) {
			if a[i].Value > 0 {
				va = bad.Sprint(va)
			}
			if b[i].Value > 0 {
				vb = bad.Sprint(vb)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t\n", a[i].Name, va, vb)
	}
	tw.Flush()

	if len(r.Latency) == 0 {
		return
	}
	title.Fprintln(w, "\nLatency (us)")
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "tx port\tsamples\tmin\tmean\tp50\tp90\tp99\tmax\t")
	for _, l := range r.Latency {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t\n",
			l.Port, l.Samples, l.Min, l.Mean, l.P50, l.P90, l.P99, l.Max)
	}
	tw.Flush()
}

func isFailureCounter(name string) bool {
	switch name {
	case "dup_alloc_failed", "overflow", "rate_oversize", "tx_abandoned":
		return true
	}
	return false
}
