// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/impair/internal/core"
	"firestige.xyz/impair/internal/loss"
	"firestige.xyz/impair/internal/pipeline"
	"firestige.xyz/impair/internal/port"
	"firestige.xyz/impair/internal/random"
)

// GlobalConfig represents the whole emulator configuration.
// Maps to the `impair:` root key in YAML.
type GlobalConfig struct {
	Ports      []port.Config    `mapstructure:"ports" yaml:"ports"`
	PortMask   string           `mapstructure:"portmask" yaml:"portmask"` // hexadecimal
	Pool       PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Impairment ImpairmentConfig `mapstructure:"impairment" yaml:"impairment"`
	Random     RandomConfig     `mapstructure:"random" yaml:"random"`
	Cores      map[string]int   `mapstructure:"cores" yaml:"cores"` // role -> cpu, -1 = unpinned
	Latency    LatencyConfig    `mapstructure:"latency" yaml:"latency"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`

	// Resolved by ValidateAndApplyDefaults.
	portMask uint64
	rateBps  int64
	lineRate int64
	lossKind loss.Kind
	hol      pipeline.HOLPolicy
	impaired []core.Direction
	cores    map[core.Role]int
}

// ─── Packet Pool ───

// PoolConfig sizes the packet buffer pool shared by both directions.
type PoolConfig struct {
	Count   int `mapstructure:"count" yaml:"count"`
	BufSize int `mapstructure:"buf_size" yaml:"buf_size"`
}

// ─── Pipeline ───

// PipelineConfig tunes the stages and rings.
type PipelineConfig struct {
	RingSize  int    `mapstructure:"ring_size" yaml:"ring_size"`   // power of two
	Burst     int    `mapstructure:"burst" yaml:"burst"`           // packets per burst
	HOL       string `mapstructure:"hol" yaml:"hol"`               // strict | skip
	IdleYield int    `mapstructure:"idle_yield" yaml:"idle_yield"` // 0 = pure spin
	Direction string `mapstructure:"direction" yaml:"direction"`   // a_to_b | b_to_a | both
}

// ─── Impairment ───

// ImpairmentConfig describes what happens to impaired traffic.
type ImpairmentConfig struct {
	Loss           LossConfig    `mapstructure:"loss" yaml:"loss"`
	Duplicate      float64       `mapstructure:"duplicate" yaml:"duplicate"` // percent
	DelayUs        int64         `mapstructure:"delay_us" yaml:"delay_us"`
	JitterUs       int64         `mapstructure:"jitter_us" yaml:"jitter_us"`
	ResamplePeriod time.Duration `mapstructure:"resample_period" yaml:"resample_period"`
	Bandwidth      string        `mapstructure:"bandwidth" yaml:"bandwidth"` // e.g. 100M; empty = unlimited
	RefillHz       int64         `mapstructure:"refill_hz" yaml:"refill_hz"`
	MaxLineRate    string        `mapstructure:"max_line_rate" yaml:"max_line_rate"`
	CeilingHz      int64         `mapstructure:"ceiling_hz" yaml:"ceiling_hz"`
}

// LossConfig selects and parameterises the loss model. All values are
// percentages.
type LossConfig struct {
	Model     string  `mapstructure:"model" yaml:"model"` // none | random | ge | 4state
	Rate      float64 `mapstructure:"rate" yaml:"rate"`
	GoodLoss  float64 `mapstructure:"good_loss" yaml:"good_loss"`
	BadLoss   float64 `mapstructure:"bad_loss" yaml:"bad_loss"`
	GoodToBad float64 `mapstructure:"good_to_bad" yaml:"good_to_bad"`
	BadToGood float64 `mapstructure:"bad_to_good" yaml:"bad_to_good"`
	P13       float64 `mapstructure:"p13" yaml:"p13"`
	P14       float64 `mapstructure:"p14" yaml:"p14"`
	P23       float64 `mapstructure:"p23" yaml:"p23"`
	P31       float64 `mapstructure:"p31" yaml:"p31"`
	P32       float64 `mapstructure:"p32" yaml:"p32"`
}

// ─── Random ───

// RandomConfig selects the generator behind every stochastic decision.
type RandomConfig struct {
	Generator string `mapstructure:"generator" yaml:"generator"` // pcg | mrg32k3a
	Seed      uint64 `mapstructure:"seed" yaml:"seed"`           // 0 = time based
}

// ─── Latency sampling ───

// LatencyConfig controls residence-time sampling at the transmit stages.
type LatencyConfig struct {
	Samples int    `mapstructure:"samples" yaml:"samples"`   // per transmit stage, 0 = off
	DumpDir string `mapstructure:"dump_dir" yaml:"dump_dir"` // empty = do not write sample files
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics and admin endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `impair: ...`.
type configRoot struct {
	Impair GlobalConfig `mapstructure:"impair"`
}

// NewViper returns a viper instance with defaults and environment
// overrides set up. path may be empty to run on defaults alone.
// Env vars use the IMPAIR_ prefix (e.g. IMPAIR_LOG_LEVEL).
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `impair.` key prefix maps to `IMPAIR_` through the key replacer
	// (key "impair.log.level" -> env "IMPAIR_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v, nil
}

// Load loads configuration from file.
func Load(path string) (*GlobalConfig, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*GlobalConfig, error) {
	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Impair

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "impair." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("impair.ports", []map[string]any{
		{"name": "a", "kind": port.KindMemory},
		{"name": "b", "kind": port.KindMemory},
	})
	v.SetDefault("impair.portmask", "3")

	v.SetDefault("impair.pool.count", 8192)
	v.SetDefault("impair.pool.buf_size", 2048)

	v.SetDefault("impair.pipeline.ring_size", 1024)
	v.SetDefault("impair.pipeline.burst", 32)
	v.SetDefault("impair.pipeline.hol", string(pipeline.HOLStrict))
	v.SetDefault("impair.pipeline.idle_yield", 0)
	v.SetDefault("impair.pipeline.direction", "a_to_b")

	v.SetDefault("impair.impairment.loss.model", "none")
	v.SetDefault("impair.impairment.loss.bad_loss", 100)
	v.SetDefault("impair.impairment.resample_period", "1s")
	v.SetDefault("impair.impairment.refill_hz", 1_000_000)
	v.SetDefault("impair.impairment.max_line_rate", "10G")
	v.SetDefault("impair.impairment.ceiling_hz", 1000)

	v.SetDefault("impair.random.generator", random.GeneratorPCG)
	v.SetDefault("impair.random.seed", 0)

	v.SetDefault("impair.latency.samples", 0)

	v.SetDefault("impair.metrics.enabled", false)
	v.SetDefault("impair.metrics.listen", ":9095")
	v.SetDefault("impair.metrics.path", "/metrics")

	v.SetDefault("impair.log.level", "info")
	v.SetDefault("impair.log.format", "text")
	v.SetDefault("impair.log.outputs.file.enabled", false)
	v.SetDefault("impair.log.outputs.file.path", "/var/log/impair/impair.log")
	v.SetDefault("impair.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("impair.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("impair.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("impair.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and resolves the values
// that need parsing. Every error wraps core.ErrConfigInvalid or a more
// specific sentinel.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Ports ──
	mask, err := ParsePortMask(cfg.PortMask)
	if err != nil {
		return err
	}
	if _, err := port.SelectPorts(mask, len(cfg.Ports)); err != nil {
		return err
	}
	cfg.portMask = mask
	for i, p := range cfg.Ports {
		if p.Kind == "" {
			return fmt.Errorf("%w: ports[%d].kind is required", core.ErrConfigInvalid, i)
		}
		if p.Name == "" {
			cfg.Ports[i].Name = strconv.Itoa(i)
		}
	}

	// ── Pool and pipeline ──
	if cfg.Pool.Count <= 0 || cfg.Pool.BufSize <= 0 {
		return fmt.Errorf("%w: pool.count and pool.buf_size must be positive", core.ErrConfigInvalid)
	}
	if n := cfg.Pipeline.RingSize; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("%w: pipeline.ring_size %d is not a power of two", core.ErrConfigInvalid, n)
	}
	if cfg.Pipeline.Burst <= 0 {
		return fmt.Errorf("%w: pipeline.burst must be positive", core.ErrConfigInvalid)
	}
	if cfg.Pipeline.IdleYield < 0 {
		return fmt.Errorf("%w: pipeline.idle_yield must not be negative", core.ErrConfigInvalid)
	}
	if cfg.hol, err = pipeline.ParseHOLPolicy(cfg.Pipeline.HOL); err != nil {
		return err
	}
	if cfg.impaired, err = ParseDirection(cfg.Pipeline.Direction); err != nil {
		return err
	}

	// ── Impairment ──
	im := &cfg.Impairment
	if cfg.lossKind, err = loss.ParseKind(im.Loss.Model); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	if cfg.lossKind == loss.KindFourState {
		applyFourStateDefaults(&im.Loss)
	}
	if err := cfg.LossParams().Validate(); err != nil {
		return fmt.Errorf("%w: impairment.loss: %v", core.ErrConfigInvalid, err)
	}
	if im.Duplicate < 0 || im.Duplicate > 100 {
		return fmt.Errorf("%w: impairment.duplicate %v out of range", core.ErrConfigInvalid, im.Duplicate)
	}
	if im.DelayUs < 0 || im.JitterUs < 0 {
		return fmt.Errorf("%w: impairment delay and jitter must not be negative", core.ErrConfigInvalid)
	}
	if im.ResamplePeriod <= 0 {
		return fmt.Errorf("%w: impairment.resample_period must be positive", core.ErrConfigInvalid)
	}
	if cfg.rateBps, err = ParseBandwidth(im.Bandwidth); err != nil {
		return err
	}
	if cfg.lineRate, err = ParseBandwidth(im.MaxLineRate); err != nil {
		return err
	}
	if cfg.lineRate == 0 {
		return fmt.Errorf("%w: impairment.max_line_rate is required", core.ErrInvalidRate)
	}
	if cfg.rateBps > cfg.lineRate {
		return fmt.Errorf("%w: bandwidth %d exceeds max_line_rate %d", core.ErrInvalidRate, cfg.rateBps, cfg.lineRate)
	}
	if im.RefillHz <= 0 || im.CeilingHz <= 0 {
		return fmt.Errorf("%w: refill_hz and ceiling_hz must be positive", core.ErrInvalidRate)
	}

	// ── Random ──
	if g := cfg.Random.Generator; g != random.GeneratorPCG && g != random.GeneratorMRG32k3a {
		return fmt.Errorf("%w: unknown random.generator %q", core.ErrConfigInvalid, g)
	}

	// ── Cores ──
	if cfg.cores, err = ParseCores(cfg.Cores); err != nil {
		return err
	}

	// ── Latency / metrics ──
	if cfg.Latency.Samples < 0 {
		return fmt.Errorf("%w: latency.samples must not be negative", core.ErrConfigInvalid)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}
	return nil
}

// PortIndexes returns the configured port indexes bound as A and B.
func (cfg *GlobalConfig) PortIndexes() [2]int {
	sel, _ := port.SelectPorts(cfg.portMask, len(cfg.Ports))
	return sel
}

// RateBps returns the parsed bandwidth limit; 0 means unlimited.
func (cfg *GlobalConfig) RateBps() int64 { return cfg.rateBps }

// LossParams returns the loss model parameters.
func (cfg *GlobalConfig) LossParams() loss.Params {
	l := cfg.Impairment.Loss
	return loss.Params{
		Kind:      cfg.lossKind,
		Rate:      l.Rate,
		GoodLoss:  l.GoodLoss,
		BadLoss:   l.BadLoss,
		GoodToBad: l.GoodToBad,
		BadToGood: l.BadToGood,
		P13:       l.P13,
		P14:       l.P14,
		P23:       l.P23,
		P31:       l.P31,
		P32:       l.P32,
	}
}

// PipelineImpairment converts the impairment section for the pipeline.
func (cfg *GlobalConfig) PipelineImpairment() pipeline.Impairment {
	im := cfg.Impairment
	return pipeline.Impairment{
		Loss:             cfg.LossParams(),
		DuplicatePercent: im.Duplicate,
		DelayUs:          im.DelayUs,
		JitterUs:         im.JitterUs,
		ResamplePeriod:   im.ResamplePeriod,
		RateBps:          cfg.rateBps,
		RefillHz:         im.RefillHz,
		MaxLineRate:      cfg.lineRate,
		CeilingHz:        im.CeilingHz,
	}
}

// HOL returns the parsed head-of-line policy.
func (cfg *GlobalConfig) HOL() pipeline.HOLPolicy { return cfg.hol }

// Impaired returns the directions the impairment applies to.
func (cfg *GlobalConfig) Impaired() []core.Direction { return cfg.impaired }

// RoleCores returns the parsed role to CPU map.
func (cfg *GlobalConfig) RoleCores() map[core.Role]int { return cfg.cores }

// applyFourStateDefaults fills in the built-in 4-state transitions when
// the model is selected without any transition set: every good packet moves
// to the good-burst state, which falls into an isolated loss 1 % of the time.
func applyFourStateDefaults(lc *LossConfig) {
	if lc.P13 != 0 || lc.P14 != 0 || lc.P23 != 0 || lc.P31 != 0 || lc.P32 != 0 {
		return
	}
	lc.P13, lc.P14, lc.P23, lc.P31, lc.P32 = 100, 0, 100, 0, 1
}
