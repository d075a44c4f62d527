package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/impair/internal/config"
	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/pipeline"
)

type MockEmulator struct {
	mock.Mock
}

func (m *MockEmulator) Start() error   { return m.Called().Error(0) }
func (m *MockEmulator) Stopping() bool { return m.Called().Bool(0) }
func (m *MockEmulator) Stop() error    { return m.Called().Error(0) }
func (m *MockEmulator) Close() error   { return m.Called().Error(0) }

func (m *MockEmulator) Report() (pipeline.Report, error) {
	args := m.Called()
	return args.Get(0).(pipeline.Report), args.Error(1)
}

func (m *MockEmulator) DumpLatency(dir string) ([]string, error) {
	args := m.Called(dir)
	return args.Get(0).([]string), args.Error(1)
}

func report() pipeline.Report {
	return pipeline.Report{
		RunID: "run-42",
		Ports: [2]pipeline.PortSnapshot{
			{Port: "a", Rx: 100},
			{Port: "b", Tx: 99, TxAbandoned: 1},
		},
	}
}

func TestServe_DurationElapses(t *testing.T) {
	em := new(MockEmulator)
	em.On("Start").Return(nil)
	em.On("Stopping").Return(false).Maybe()
	em.On("Stop").Return(nil)
	em.On("Close").Return(nil)
	em.On("Report").Return(report(), nil)

	var buf bytes.Buffer
	err := serve(context.Background(), em, serveOptions{
		out:      &buf,
		duration: 30 * time.Millisecond,
		poll:     5 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "run-42")
	assert.Contains(t, buf.String(), "tx_abandoned")
	em.AssertExpectations(t)
	em.AssertNotCalled(t, "DumpLatency", mock.Anything)
}

func TestServe_StageFailure(t *testing.T) {
	failure := fmt.Errorf("%w: %w", core.ErrStageFailed, errors.New("rx-a: nic gone"))

	em := new(MockEmulator)
	em.On("Start").Return(nil)
	em.On("Stopping").Return(true)
	em.On("Stop").Return(failure)
	em.On("Close").Return(nil)
	em.On("Report").Return(report(), nil)

	var buf bytes.Buffer
	err := serve(context.Background(), em, serveOptions{out: &buf, poll: time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStageFailed)
	assert.Contains(t, buf.String(), "run-42")
	em.AssertExpectations(t)
}

func TestServe_StartFails(t *testing.T) {
	em := new(MockEmulator)
	em.On("Start").Return(core.ErrPipelineRunning)
	em.On("Close").Return(nil)

	err := serve(context.Background(), em, serveOptions{out: &bytes.Buffer{}})

	assert.ErrorIs(t, err, core.ErrPipelineRunning)
	em.AssertExpectations(t)
	em.AssertNotCalled(t, "Report")
}

func TestServe_CancelledAndDump(t *testing.T) {
	dir := t.TempDir()

	em := new(MockEmulator)
	em.On("Start").Return(nil)
	em.On("Stopping").Return(false).Maybe()
	em.On("Stop").Return(nil)
	em.On("Close").Return(nil)
	em.On("Report").Return(report(), nil)
	em.On("DumpLatency", dir).Return([]string{dir + "/latency-b.txt"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := serve(ctx, em, serveOptions{out: &buf, dumpDir: dir})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "latency samples: "+dir+"/latency-b.txt")
	em.AssertExpectations(t)
}

func TestPrintConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printConfig(&buf, cfg))

	out := buf.String()
	assert.Contains(t, out, "# VALID: port A = a, port B = b, loss = none")
	assert.Contains(t, out, "impair:")
	assert.Contains(t, out, "ring_size: 1024")
	assert.Contains(t, out, "resample_period: 1s")
}
