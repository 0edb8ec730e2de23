// Package goavif parses AVIF files — still images, tiled grids, and
// animation sequences — built on the ISO Base Media File Format box
// structure, returning borrowed slices of the input buffer wherever an
// item occupies a single contiguous file extent.
package goavif

import (
	"io"

	"github.com/jdeng/goavif/bmff"
)

// Parser holds the parsed structure of one AVIF file: the meta box tree,
// the recorded mdat byte ranges, and (for an avis animation) the selected
// video and alpha tracks. All of it is built during a single top-level
// pass; item and frame resolution is lazy.
type Parser struct {
	raw []byte
	cfg DecodeConfig

	meta  *bmff.Meta
	mdats []mdatRange

	videoTrack *bmff.TrackInfo
	alphaTrack *bmff.TrackInfo

	primaryID   uint32
	primaryType bmff.FourCC

	grid  *gridInfo
	alpha *alphaInfo

	tracker *resourceTracker
}

// FromBytes parses data without copying it: returned Data views may
// borrow directly from data, which must outlive the Parser.
func FromBytes(data []byte) (*Parser, error) {
	return FromBytesWithConfig(data, DefaultConfig())
}

// FromBytesWithConfig is FromBytes with an explicit DecodeConfig.
func FromBytesWithConfig(data []byte, cfg DecodeConfig) (*Parser, error) {
	return parseAVIF(data, cfg)
}

// FromOwned parses data, which the caller is transferring ownership of
// (the Parser may retain it indefinitely). In Go this behaves identically
// to FromBytes; it exists for API parity with the borrowed/owned supply
// modes named in spec.md §6.
func FromOwned(data []byte) (*Parser, error) {
	return FromOwnedWithConfig(data, DefaultConfig())
}

// FromOwnedWithConfig is FromOwned with an explicit DecodeConfig.
func FromOwnedWithConfig(data []byte, cfg DecodeConfig) (*Parser, error) {
	return parseAVIF(data, cfg)
}

// FromReader reads r to completion into an owned buffer, then parses it.
func FromReader(r io.Reader) (*Parser, error) {
	return FromReaderWithConfig(r, DefaultConfig())
}

// FromReaderWithConfig is FromReader with an explicit DecodeConfig.
func FromReaderWithConfig(r io.Reader, cfg DecodeConfig) (*Parser, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioErrorf(err)
	}
	return parseAVIF(data, cfg)
}

func isAcceptedBrand(b bmff.FourCC) bool {
	return b.EqualString("avif") || b.EqualString("avis")
}

// parseAVIF is the single top-level pass described in spec.md §4.2: ftyp
// first, exactly one meta, at most one moov (first valid video track
// wins), zero or more mdat ranges recorded.
func parseAVIF(data []byte, cfg DecodeConfig) (*Parser, error) {
	tracker := newResourceTracker(cfg.limits())
	if err := tracker.reserve(uint64(len(data))); err != nil {
		return nil, err
	}
	st := cfg.stopToken()

	r := bmff.NewReader(data)
	var sawFtyp, sawMeta, sawMoov bool
	var meta *bmff.Meta
	var mdats []mdatRange
	var tracks []bmff.TrackInfo

	first := true
	for {
		if err := st.Check(); err != nil {
			return nil, wrapStopErr(err)
		}
		box, err := r.NextBox()
		if err == bmff.ErrEndOfBoxes {
			break
		}
		if err != nil {
			return nil, wrapBmffErr(err)
		}
		bodyEnd := box.BodyEnd
		if box.ToEnd() {
			bodyEnd = int64(len(data))
		}

		if first {
			first = false
			if box.Header.Type != bmff.TypeFtyp {
				return nil, invalidDataf("ftyp must be the first box")
			}
		}

		switch box.Header.Type {
		case bmff.TypeFtyp:
			if sawFtyp {
				return nil, invalidDataf("duplicate ftyp box")
			}
			sawFtyp = true
			body, err := r.Bytes(box.BodyStart, bodyEnd)
			if err != nil {
				return nil, wrapBmffErr(err)
			}
			ft, err := bmff.ParseFileTypeBox(body)
			if err != nil {
				return nil, wrapBmffErr(err)
			}
			if !isAcceptedBrand(ft.MajorBrand) {
				return nil, invalidDataf("unsupported major brand %q", ft.MajorBrand.String())
			}
		case bmff.TypeMeta:
			if sawMeta {
				return nil, invalidDataf("duplicate meta box")
			}
			sawMeta = true
			meta, err = bmff.ParseMeta(data, box, cfg.Lenient)
			if err != nil {
				return nil, wrapBmffErr(err)
			}
		case bmff.TypeMoov:
			if !sawMoov {
				sawMoov = true
				tracks, err = bmff.ParseMoov(data, box)
				if err != nil {
					return nil, wrapBmffErr(err)
				}
			}
			// A second top-level moov box is skipped unparsed: only the
			// first moov's tracks are considered.
		case bmff.TypeMdat:
			length := bodyEnd - box.BodyStart
			if length > 0 {
				mdats = append(mdats, mdatRange{offset: box.BodyStart, length: length})
			}
		}

		if err := r.SeekTo(bodyEnd); err != nil {
			return nil, wrapBmffErr(err)
		}
	}

	if !sawFtyp {
		return nil, invalidDataf("missing ftyp box")
	}
	if !sawMeta {
		return nil, invalidDataf("missing meta box")
	}
	if !meta.HasPrimaryItem {
		return nil, invalidDataf("meta missing pitm")
	}
	info := meta.ItemInfoByID(meta.PrimaryItemID)
	if info == nil {
		return nil, invalidDataf("primary item %d has no iinf entry", meta.PrimaryItemID)
	}
	if !info.ItemType.EqualString("av01") && !info.ItemType.EqualString("grid") {
		return nil, invalidDataf("primary item type %q is neither av01 nor grid", info.ItemType.String())
	}

	p := &Parser{
		raw:         data,
		cfg:         cfg,
		meta:        meta,
		mdats:       mdats,
		primaryID:   meta.PrimaryItemID,
		primaryType: info.ItemType,
		tracker:     tracker,
	}
	p.videoTrack, p.alphaTrack = selectTracks(tracks)
	if p.videoTrack != nil {
		n := uint64(len(p.videoTrack.SampleTable.SampleSizes))
		if err := tracker.inner.ValidateAnimationFrames(n); err != nil {
			return nil, wrapResourceErr(err)
		}
	}
	p.alpha = findAlphaItem(meta, p.primaryID)

	if info.ItemType.EqualString("grid") {
		grid, gerr := buildGridInfo(meta, p.primaryID, tracker.inner)
		if gerr != nil {
			return nil, gerr
		}
		p.grid = grid
	}

	return p, nil
}

func selectTracks(tracks []bmff.TrackInfo) (video, alpha *bmff.TrackInfo) {
	for i := range tracks {
		t := &tracks[i]
		if bmff.IsVideoHandler(t.HandlerType) && len(t.SampleTable.SampleSizes) > 0 {
			video = t
			break
		}
	}
	if video == nil {
		return nil, nil
	}
	for i := range tracks {
		t := &tracks[i]
		if t.AuxlOf == video.TrackID && len(t.SampleTable.SampleSizes) > 0 {
			alpha = t
			break
		}
	}
	return video, alpha
}

// PrimaryItemID returns the item id designated by "pitm".
func (p *Parser) PrimaryItemID() uint32 { return p.primaryID }

// PrimaryType returns the primary item's FourCC type ("av01" or "grid").
func (p *Parser) PrimaryType() string { return p.primaryType.String() }

// PrimaryData returns the primary item's resolved bytes. A grid item
// carries no pixel data of its own, so this returns an empty Data; use
// TileData for its tiles.
func (p *Parser) PrimaryData() (Data, error) {
	if p.grid != nil {
		return Data{}, nil
	}
	return p.resolveItem(p.primaryID)
}
