package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/impair/internal/pipeline"
	"firestige.xyz/impair/internal/port"
)

type staticSource struct {
	snap pipeline.Snapshot
}

func (s *staticSource) Snapshot() pipeline.Snapshot { return s.snap }

func sample() *staticSource {
	return &staticSource{snap: pipeline.Snapshot{
		RunID:   "run-1",
		Running: true,
		Ports: [2]pipeline.PortSnapshot{
			{Port: "a", Rx: 10, Discarded: 2},
			{Port: "b", Tx: 8, TxBytes: 800},
		},
		Directions: [2]pipeline.DirectionSnapshot{
			{Direction: "a->b", Impaired: true, Loss: "random", EffectiveDelay: 1000, Tokens: 500, TokenCeiling: 10_000_000, RxRing: 3},
			{Direction: "b->a"},
		},
		Devices:   [2]port.Stats{{RxPackets: 10}, {TxPackets: 8}},
		PoolInUse: 3,
	}}
}

func TestCollector(t *testing.T) {
	c := NewCollector(sample())

	// 24 port counters, 14 device counters, 3 per direction plus 2 bucket
	// gauges on the shaped one, pool pair and the running gauge.
	assert.Equal(t, 24+14+6+2+2+1, testutil.CollectAndCount(c))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	_, err := reg.Gather()
	require.NoError(t, err)
}

func TestServerHandler(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", sample())
	h := s.Handler()

	get := func(path string) (int, string) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		body, _ := io.ReadAll(rec.Body)
		return rec.Code, string(body)
	}

	code, body := get("/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `impair_port_packets_total{counter="rx",port="a"} 10`)
	assert.Contains(t, body, `impair_port_packets_total{counter="discarded",port="a"} 2`)
	assert.Contains(t, body, `impair_direction_tokens_bits{direction="a->b"} 500`)
	assert.Contains(t, body, `impair_running{run_id="run-1"} 1`)

	code, body = get("/stats")
	require.Equal(t, http.StatusOK, code)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, uint64(8), snap.Ports[1].Tx)
	assert.Equal(t, "random", snap.Directions[0].Loss)

	code, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthWhenStopped(t *testing.T) {
	src := sample()
	src.snap.Running = false
	rec := httptest.NewRecorder()
	NewServer("", "", src).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/m", sample())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	resp, err := http.Get("http://" + s.Addr() + "/m")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
}

func TestServerStartBadAddr(t *testing.T) {
	s := NewServer("256.0.0.1:bad", "", sample())
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}
