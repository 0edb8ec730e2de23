// Package legacy is the eager convenience wrapper over the core
// zero-copy parser: it walks every item, tile, and frame and copies each
// into an owned buffer, so callers that don't want to think about
// borrowed-slice lifetimes can use a plain []byte-based API instead.
package legacy

import (
	"io"
	"log"

	"github.com/jdeng/goavif"
)

// ParseOptions is the narrower, older options struct kept alongside the
// newer goavif.DecodeConfig for callers that predate it.
type ParseOptions struct {
	Lenient bool
}

// AnimationFrame is one eagerly-copied animation frame.
type AnimationFrame struct {
	Data       []byte
	AlphaData  []byte
	DurationMs uint64
}

// AnimationConfig is the eagerly-copied animation summary.
type AnimationConfig struct {
	LoopCount      uint32
	MediaTimescale uint32
	Frames         []AnimationFrame
}

// AvifData is the fully-materialized result of an eager parse: every
// item the core would otherwise lazily resolve is copied up front.
type AvifData struct {
	Primary       []byte
	Alpha         []byte
	Premultiplied bool

	GridConfig *goavif.GridConfig
	Tiles      [][]byte

	Animation *AnimationConfig
}

// ReadAVIF reads and eagerly materializes every item of an AVIF file from r.
func ReadAVIF(r io.Reader) (*AvifData, error) {
	return ReadAVIFWithOptions(r, ParseOptions{})
}

// ReadAVIFWithOptions is ReadAVIF with the legacy ParseOptions.
func ReadAVIFWithOptions(r io.Reader, opts ParseOptions) (*AvifData, error) {
	cfg := goavif.DefaultConfig().WithLenient(opts.Lenient)
	return ReadAVIFWithConfig(r, cfg)
}

// ReadAVIFWithConfig is ReadAVIF with a full goavif.DecodeConfig, for
// callers that need resource limits tighter or looser than the defaults.
func ReadAVIFWithConfig(r io.Reader, cfg goavif.DecodeConfig) (*AvifData, error) {
	p, err := goavif.FromReaderWithConfig(r, cfg)
	if err != nil {
		return nil, err
	}
	return materialize(p)
}

func materialize(p *goavif.Parser) (*AvifData, error) {
	out := &AvifData{}

	primary, err := p.PrimaryData()
	if err != nil {
		log.Printf("goavif/legacy: failed to read primary item: %v", err)
		return nil, err
	}
	out.Primary = copyBytes(primary.Bytes())

	alpha, hasAlpha, err := p.AlphaData()
	if err != nil {
		log.Printf("goavif/legacy: failed to read alpha item: %v", err)
		return nil, err
	}
	if hasAlpha {
		out.Alpha = copyBytes(alpha.Bytes())
		out.Premultiplied = p.PremultipliedAlpha()
	}

	if gc, ok := p.GridConfig(); ok {
		out.GridConfig = &gc
		n := p.TileCount()
		out.Tiles = make([][]byte, n)
		for i := 0; i < n; i++ {
			tile, err := p.TileData(i)
			if err != nil {
				log.Printf("goavif/legacy: failed to read tile %d: %v", i, err)
				return nil, err
			}
			out.Tiles[i] = copyBytes(tile.Bytes())
		}
	}

	if info, ok := p.AnimationInfo(); ok {
		anim := &AnimationConfig{LoopCount: info.LoopCount, MediaTimescale: info.MediaTimescale}
		frames := p.Frames()
		for {
			fd, ok := frames.Next()
			if !ok {
				break
			}
			af := AnimationFrame{Data: copyBytes(fd.Data.Bytes()), DurationMs: fd.DurationMs}
			if fd.AlphaData != nil {
				af.AlphaData = copyBytes(fd.AlphaData.Bytes())
			}
			anim.Frames = append(anim.Frames, af)
		}
		if err := frames.Err(); err != nil {
			log.Printf("goavif/legacy: failed to read animation frames: %v", err)
			return nil, err
		}
		out.Animation = anim
	}

	return out, nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
