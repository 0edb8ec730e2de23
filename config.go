package goavif

import (
	"github.com/jdeng/goavif/resource"
	"github.com/jdeng/goavif/stop"
)

const (
	defaultPeakMemoryLimit      = 1 << 30 // 1 GB
	defaultTotalMegapixelsLimit = 512
	defaultMaxAnimationFrames   = 10_000
	defaultMaxGridTiles         = 1_000
)

// DecodeConfig controls the resource limits and leniency of a parse. The
// zero value is the same config Unlimited returns (no quotas, strict
// parsing); use DefaultConfig or Unlimited and adjust with the With*
// builders.
type DecodeConfig struct {
	PeakMemoryLimit      *uint64
	TotalMegapixelsLimit *uint64
	MaxAnimationFrames   *uint64
	MaxGridTiles         *uint64

	// Lenient relaxes a handful of strictness checks: nonzero flags on
	// fullboxes that spec zero are accepted, and trailing bytes in pixi
	// are ignored instead of rejected.
	Lenient bool

	// Stop is polled between top-level boxes and between frame
	// extractions. A nil Stop behaves like stop.Never.
	Stop stop.Stop
}

func u64p(v uint64) *uint64 { return &v }

// DefaultConfig returns the table of defaults from the external-interface
// specification: 1 GB peak memory, 512 megapixels, 10,000 animation
// frames, 1,000 grid tiles, strict (non-lenient) parsing.
func DefaultConfig() DecodeConfig {
	return DecodeConfig{
		PeakMemoryLimit:      u64p(defaultPeakMemoryLimit),
		TotalMegapixelsLimit: u64p(defaultTotalMegapixelsLimit),
		MaxAnimationFrames:   u64p(defaultMaxAnimationFrames),
		MaxGridTiles:         u64p(defaultMaxGridTiles),
	}
}

// Unlimited returns a DecodeConfig with every quota disabled, preserved
// for callers that relied on the legacy eager API's backwards-compatible
// behaviour.
func Unlimited() DecodeConfig {
	return DecodeConfig{}
}

// WithPeakMemoryLimit returns a copy of c with PeakMemoryLimit set.
func (c DecodeConfig) WithPeakMemoryLimit(bytes uint64) DecodeConfig {
	c.PeakMemoryLimit = u64p(bytes)
	return c
}

// WithTotalMegapixelsLimit returns a copy of c with TotalMegapixelsLimit set.
func (c DecodeConfig) WithTotalMegapixelsLimit(mp uint64) DecodeConfig {
	c.TotalMegapixelsLimit = u64p(mp)
	return c
}

// WithMaxAnimationFrames returns a copy of c with MaxAnimationFrames set.
func (c DecodeConfig) WithMaxAnimationFrames(n uint64) DecodeConfig {
	c.MaxAnimationFrames = u64p(n)
	return c
}

// WithMaxGridTiles returns a copy of c with MaxGridTiles set.
func (c DecodeConfig) WithMaxGridTiles(n uint64) DecodeConfig {
	c.MaxGridTiles = u64p(n)
	return c
}

// WithLenient returns a copy of c with Lenient set.
func (c DecodeConfig) WithLenient(lenient bool) DecodeConfig {
	c.Lenient = lenient
	return c
}

// WithStop returns a copy of c with Stop set.
func (c DecodeConfig) WithStop(s stop.Stop) DecodeConfig {
	c.Stop = s
	return c
}

func (c DecodeConfig) stopToken() stop.Stop {
	if c.Stop == nil {
		return stop.Never
	}
	return c.Stop
}

func (c DecodeConfig) limits() resource.Limits {
	return resource.Limits{
		MaxPeakMemory:      c.PeakMemoryLimit,
		MaxMegapixels:      c.TotalMegapixelsLimit,
		MaxAnimationFrames: c.MaxAnimationFrames,
		MaxGridTiles:       c.MaxGridTiles,
	}
}
