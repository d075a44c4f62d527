package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/impair/internal/core"
)

// Flag names of the run command.
const (
	FlagPortMask  = "portmask"
	FlagDelay     = "delay"
	FlagJitter    = "jitter"
	FlagRandom    = "random-loss"
	FlagGE        = "ge-loss"
	FlagLossModel = "loss-model"
	FlagGEGood    = "ge-good"
	FlagGEBad     = "ge-bad"
	FlagDuplicate = "duplicate"
	FlagBandwidth = "bandwidth"
	FlagSeed      = "seed"
	FlagHOL       = "hol"
	FlagDirection = "direction"
	FlagGenerator = "generator"
	FlagSamples   = "latency-samples"
)

// fourStateFlags maps the 4-state transition flags to their keys.
var fourStateFlags = []string{"p13", "p14", "p23", "p31", "p32"}

// AddFlags declares the impairment flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringP(FlagPortMask, "p", "", "hexadecimal bitmask of ports to bind")
	fs.Int64P(FlagDelay, "d", 0, "delay in microseconds")
	fs.Int64P(FlagJitter, "j", 0, "delay jitter (standard deviation) in microseconds")
	fs.Float64P(FlagRandom, "r", 0, "random loss %; with -g, the normal->abnormal transition %")
	fs.Float64P(FlagGE, "g", 0, "Gilbert-Elliott abnormal->normal transition %")
	fs.String(FlagLossModel, "", "loss model: none|random|ge|4state")
	fs.Float64(FlagGEGood, 0, "Gilbert-Elliott loss % in the normal state")
	fs.Float64(FlagGEBad, 100, "Gilbert-Elliott loss % in the abnormal state")
	for _, name := range fourStateFlags {
		fs.Float64(name, 0, "4-state transition % "+name)
	}
	fs.Float64P(FlagDuplicate, "D", 0, "duplicate %")
	fs.StringP(FlagBandwidth, "s", "", "bandwidth limit, e.g. 500k, 100M, 1G")
	fs.Uint64(FlagSeed, 0, "random seed (0 = time based)")
	fs.String(FlagHOL, "", "head-of-line policy: strict|skip")
	fs.String(FlagDirection, "", "impaired direction: a_to_b|b_to_a|both")
	fs.String(FlagGenerator, "", "random generator: pcg|mrg32k3a")
	fs.Int(FlagSamples, 0, "latency samples kept per transmit port")
}

// ApplyFlags copies the flags the user set on fs into v, so they override
// file and environment values.
//
// -r alone selects random loss. -g selects Gilbert-Elliott: -r then gives
// the normal->abnormal transition and -g the abnormal->normal one. Setting
// any p13..p32 flag selects the 4-state model. --loss-model overrides the
// inferred model.
func ApplyFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	changed := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}
	getFloat := func(name string) float64 {
		x, _ := fs.GetFloat64(name)
		return x
	}

	if changed(FlagPortMask) {
		s, _ := fs.GetString(FlagPortMask)
		if _, err := ParsePortMask(s); err != nil {
			return err
		}
		v.Set("impair.portmask", s)
	}
	if changed(FlagDelay) {
		d, _ := fs.GetInt64(FlagDelay)
		v.Set("impair.impairment.delay_us", d)
	}
	if changed(FlagJitter) {
		j, _ := fs.GetInt64(FlagJitter)
		v.Set("impair.impairment.jitter_us", j)
	}

	r, g := changed(FlagRandom), changed(FlagGE)
	for _, name := range []string{FlagRandom, FlagGE} {
		if changed(name) {
			if x := getFloat(name); x <= 0 || x > 100 {
				return fmt.Errorf("%w: invalid loss rate %v for --%s", core.ErrConfigInvalid, x, name)
			}
		}
	}
	switch {
	case g:
		v.Set("impair.impairment.loss.model", "ge")
		v.Set("impair.impairment.loss.good_to_bad", getFloat(FlagRandom))
		v.Set("impair.impairment.loss.bad_to_good", getFloat(FlagGE))
	case r:
		v.Set("impair.impairment.loss.model", "random")
		v.Set("impair.impairment.loss.rate", getFloat(FlagRandom))
	}
	if changed(FlagGEGood) {
		v.Set("impair.impairment.loss.good_loss", getFloat(FlagGEGood))
	}
	if changed(FlagGEBad) {
		v.Set("impair.impairment.loss.bad_loss", getFloat(FlagGEBad))
	}
	fourState := false
	for _, name := range fourStateFlags {
		if changed(name) {
			v.Set("impair.impairment.loss."+name, getFloat(name))
			fourState = true
		}
	}
	if fourState && !r && !g {
		v.Set("impair.impairment.loss.model", "4state")
	}
	if changed(FlagLossModel) {
		m, _ := fs.GetString(FlagLossModel)
		v.Set("impair.impairment.loss.model", m)
	}

	if changed(FlagDuplicate) {
		v.Set("impair.impairment.duplicate", getFloat(FlagDuplicate))
	}
	if changed(FlagBandwidth) {
		s, _ := fs.GetString(FlagBandwidth)
		if _, err := ParseBandwidth(s); err != nil {
			return err
		}
		v.Set("impair.impairment.bandwidth", s)
	}
	if changed(FlagSeed) {
		seed, _ := fs.GetUint64(FlagSeed)
		v.Set("impair.random.seed", seed)
	}
	for flag, key := range map[string]string{
		FlagHOL:       "impair.pipeline.hol",
		FlagDirection: "impair.pipeline.direction",
		FlagGenerator: "impair.random.generator",
	} {
		if changed(flag) {
			s, _ := fs.GetString(flag)
			v.Set(key, s)
		}
	}
	if changed(FlagSamples) {
		n, _ := fs.GetInt(FlagSamples)
		v.Set("impair.latency.samples", n)
	}
	return nil
}
