package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/loss"
	"firestige.xyz/impair/internal/pipeline"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
impair:
  ports:
    - name: eth1
      kind: memory
    - name: eth2
      kind: memory
      options:
        tx_accept: 4
  portmask: "0x3"
  pipeline:
    hol: skip
    direction: both
  impairment:
    loss:
      model: ge
      good_to_bad: 2
      bad_to_good: 30
    delay_us: 1500
    jitter_us: 100
    resample_period: 500ms
    bandwidth: 100M
  random:
    seed: 42
  cores:
    timer: 1
    rx-a: 2
  log:
    level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eth1", cfg.Ports[0].Name)
	assert.Equal(t, 4, cfg.Ports[1].Options["tx_accept"])
	assert.Equal(t, [2]int{0, 1}, cfg.PortIndexes())
	assert.Equal(t, pipeline.HOLSkip, cfg.HOL())
	assert.Equal(t, []core.Direction{core.DirAToB, core.DirBToA}, cfg.Impaired())
	assert.Equal(t, int64(100_000_000), cfg.RateBps())
	assert.Equal(t, map[core.Role]int{core.RoleTimer: 1, core.RoleRxA: 2}, cfg.RoleCores())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	im := cfg.PipelineImpairment()
	assert.Equal(t, loss.KindGilbertElliott, im.Loss.Kind)
	assert.Equal(t, 0.0, im.Loss.GoodLoss)
	assert.Equal(t, 100.0, im.Loss.BadLoss)
	assert.Equal(t, 2.0, im.Loss.GoodToBad)
	assert.Equal(t, 30.0, im.Loss.BadToGood)
	assert.Equal(t, int64(1500), im.DelayUs)
	assert.Equal(t, 500*time.Millisecond, im.ResamplePeriod)
	assert.Equal(t, int64(10_000_000_000), im.MaxLineRate)
	assert.Equal(t, int64(1000), im.CeilingHz)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Len(t, cfg.Ports, 2)
	assert.Equal(t, "memory", cfg.Ports[0].Kind)
	assert.Equal(t, 8192, cfg.Pool.Count)
	assert.Equal(t, 1024, cfg.Pipeline.RingSize)
	assert.Equal(t, pipeline.HOLStrict, cfg.HOL())
	assert.Equal(t, loss.KindNone, cfg.LossParams().Kind)
	assert.Equal(t, int64(0), cfg.RateBps())
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/impair.yml")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("IMPAIR_LOG_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"log level", "log:\n    level: loud", core.ErrConfigInvalid},
		{"zero portmask", "portmask: \"0\"", core.ErrInvalidPortMask},
		{"portmask beyond ports", "portmask: \"6\"", core.ErrInvalidPortMask},
		{"ring size", "pipeline:\n    ring_size: 1000", core.ErrConfigInvalid},
		{"loss model", "impairment:\n    loss:\n      model: bursty", core.ErrUnknownLossMode},
		{"loss rate", "impairment:\n    loss:\n      model: random\n      rate: 120", core.ErrConfigInvalid},
		{"bandwidth unit", "impairment:\n    bandwidth: 20G", core.ErrInvalidRate},
		{"bandwidth above line", "impairment:\n    bandwidth: 2G\n    max_line_rate: 1G", core.ErrInvalidRate},
		{"hol", "pipeline:\n    hol: fifo", core.ErrConfigInvalid},
		{"direction", "pipeline:\n    direction: sideways", core.ErrConfigInvalid},
		{"generator", "random:\n    generator: xorshift", core.ErrConfigInvalid},
		{"cores role", "cores:\n    gpu: 1", core.ErrConfigInvalid},
		{"cores shared", "cores:\n    rx-a: 1\n    tx-a: 1", core.ErrConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "impair:\n  "+tt.body+"\n"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParsePortMask(t *testing.T) {
	for in, want := range map[string]uint64{"3": 3, "0x3": 3, "ff": 255, "0XA": 10} {
		got, err := ParsePortMask(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "0", "0x", "xyz", "1ffffffffffffffff"} {
		_, err := ParsePortMask(in)
		assert.ErrorIs(t, err, core.ErrInvalidPortMask, in)
	}
}

func TestParseBandwidth(t *testing.T) {
	good := map[string]int64{
		"":      0,
		"1000":  1000,
		"500k":  500_000,
		"500K":  500_000,
		"100m":  100_000_000,
		"100M":  100_000_000,
		"1g":    1_000_000_000,
		"10G":   10_000_000_000,
		"2000M": 2_000_000_000,
	}
	for in, want := range good {
		got, err := ParseBandwidth(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"11G", "fast", "10T", "-5M", "M", "1.5G"} {
		_, err := ParseBandwidth(in)
		assert.ErrorIs(t, err, core.ErrInvalidRate, in)
	}
}

func TestParseCoresUnpinnedMayRepeat(t *testing.T) {
	got, err := ParseCores(map[string]int{"rx-a": -1, "rx-b": -1})
	require.NoError(t, err)
	assert.Equal(t, -1, got[core.RoleRxA])
	_, err = ParseCores(map[string]int{"rx-a": -2})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func parseFlags(t *testing.T, args ...string) (*GlobalConfig, error) {
	t.Helper()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := NewViper("")
	require.NoError(t, err)
	if err := ApplyFlags(v, fs); err != nil {
		return nil, err
	}
	return FromViper(v)
}

func TestFlagsRandomLoss(t *testing.T) {
	cfg, err := parseFlags(t, "-p", "3", "-r", "10", "-d", "1000", "-j", "50", "-D", "1", "-s", "1M", "--seed", "9")
	require.NoError(t, err)
	p := cfg.LossParams()
	assert.Equal(t, loss.KindRandom, p.Kind)
	assert.Equal(t, 10.0, p.Rate)
	assert.Equal(t, int64(1000), cfg.Impairment.DelayUs)
	assert.Equal(t, int64(50), cfg.Impairment.JitterUs)
	assert.Equal(t, 1.0, cfg.Impairment.Duplicate)
	assert.Equal(t, int64(1_000_000), cfg.RateBps())
	assert.Equal(t, uint64(9), cfg.Random.Seed)
}

func TestFlagsGilbertElliott(t *testing.T) {
	cfg, err := parseFlags(t, "-r", "5", "-g", "40")
	require.NoError(t, err)
	p := cfg.LossParams()
	assert.Equal(t, loss.KindGilbertElliott, p.Kind)
	assert.Equal(t, 5.0, p.GoodToBad)
	assert.Equal(t, 40.0, p.BadToGood)
	assert.Equal(t, 0.0, p.GoodLoss)
	assert.Equal(t, 100.0, p.BadLoss)
}

func TestFlagsFourState(t *testing.T) {
	cfg, err := parseFlags(t, "--p13", "1", "--p31", "50", "--p32", "10", "--p23", "20")
	require.NoError(t, err)
	p := cfg.LossParams()
	assert.Equal(t, loss.KindFourState, p.Kind)
	assert.Equal(t, 1.0, p.P13)
	assert.Equal(t, 10.0, p.P32)
}

func TestFourStateBuiltInDefaults(t *testing.T) {
	cfg, err := parseFlags(t, "--loss-model", "4state")
	require.NoError(t, err)
	p := cfg.LossParams()
	assert.Equal(t, loss.KindFourState, p.Kind)
	assert.Equal(t, []float64{100, 0, 100, 0, 1}, []float64{p.P13, p.P14, p.P23, p.P31, p.P32})

	// Any explicit transition disables the built-in set.
	cfg, err = parseFlags(t, "--p14", "2")
	require.NoError(t, err)
	p = cfg.LossParams()
	assert.Equal(t, []float64{0, 2, 0, 0, 0}, []float64{p.P13, p.P14, p.P23, p.P31, p.P32})
}

func TestFlagsRejected(t *testing.T) {
	_, err := parseFlags(t, "-p", "0")
	assert.ErrorIs(t, err, core.ErrInvalidPortMask)
	_, err = parseFlags(t, "-r", "0")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	_, err = parseFlags(t, "-s", "12g")
	assert.ErrorIs(t, err, core.ErrInvalidRate)
	_, err = parseFlags(t, "--loss-model", "chaos")
	assert.ErrorIs(t, err, core.ErrUnknownLossMode)
}
