// Package metrics exports emulator counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/impair/internal/pipeline"
)

const namespace = "impair"

// Source yields a consistent view of the emulator counters.
type Source interface {
	Snapshot() pipeline.Snapshot
}

var (
	portPacketsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "port", "packets_total"),
		"Per-port forwarding counters",
		[]string{"port", "counter"}, nil,
	)
	deviceDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "counter_total"),
		"Counters reported by the underlying port device",
		[]string{"port", "counter"}, nil,
	)
	tokensDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "direction", "tokens_bits"),
		"Current token bucket fill",
		[]string{"direction"}, nil,
	)
	ceilingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "direction", "token_ceiling_bits"),
		"Token bucket capacity",
		[]string{"direction"}, nil,
	)
	delayDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "direction", "effective_delay_ticks"),
		"Delay applied to newly admitted packets",
		[]string{"direction"}, nil,
	)
	ringDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "direction", "ring_depth"),
		"Packets queued between stages",
		[]string{"direction", "ring"}, nil,
	)
	poolDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "in_use"),
		"Packet buffers currently allocated",
		nil, nil,
	)
	poolFailedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "alloc_failed_total"),
		"Buffer allocations that found the pool empty",
		nil, nil,
	)
	runningDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "running"),
		"1 while the forwarding stages are running",
		[]string{"run_id"}, nil,
	)
)

// Collector is a prometheus.Collector that reads a Source on every scrape.
type Collector struct {
	src Source
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- portPacketsDesc
	ch <- deviceDesc
	ch <- tokensDesc
	ch <- ceilingDesc
	ch <- delayDesc
	ch <- ringDesc
	ch <- poolDesc
	ch <- poolFailedDesc
	ch <- runningDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	for _, p := range s.Ports {
		for _, ctr := range p.Counters() {
			ch <- prometheus.MustNewConstMetric(portPacketsDesc, prometheus.CounterValue, float64(ctr.Value), p.Port, ctr.Name)
		}
	}
	for i, d := range s.Devices {
		name := s.Ports[i].Port
		for _, ctr := range []pipeline.Counter{
			{Name: "rx_packets", Value: d.RxPackets},
			{Name: "rx_bytes", Value: d.RxBytes},
			{Name: "rx_nobuf", Value: d.RxNoBuf},
			{Name: "rx_errors", Value: d.RxErrors},
			{Name: "tx_packets", Value: d.TxPackets},
			{Name: "tx_bytes", Value: d.TxBytes},
			{Name: "tx_errors", Value: d.TxErrors},
		} {
			ch <- prometheus.MustNewConstMetric(deviceDesc, prometheus.CounterValue, float64(ctr.Value), name, ctr.Name)
		}
	}
	for _, d := range s.Directions {
		ch <- prometheus.MustNewConstMetric(delayDesc, prometheus.GaugeValue, float64(d.EffectiveDelay), d.Direction)
		ch <- prometheus.MustNewConstMetric(ringDesc, prometheus.GaugeValue, float64(d.RxRing), d.Direction, "rx")
		ch <- prometheus.MustNewConstMetric(ringDesc, prometheus.GaugeValue, float64(d.TxRing), d.Direction, "tx")
		if d.TokenCeiling > 0 {
			ch <- prometheus.MustNewConstMetric(tokensDesc, prometheus.GaugeValue, float64(d.Tokens), d.Direction)
			ch <- prometheus.MustNewConstMetric(ceilingDesc, prometheus.GaugeValue, float64(d.TokenCeiling), d.Direction)
		}
	}
	ch <- prometheus.MustNewConstMetric(poolDesc, prometheus.GaugeValue, float64(s.PoolInUse))
	ch <- prometheus.MustNewConstMetric(poolFailedDesc, prometheus.CounterValue, float64(s.PoolFailed))

	running := 0.0
	if s.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(runningDesc, prometheus.GaugeValue, running, s.RunID)
}
