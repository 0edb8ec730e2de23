package goavif

import "github.com/jdeng/goavif/bmff"

// mdatRange is the recorded byte range of one top-level "mdat" box, used to
// resolve a "runs to end" extent to a concrete length.
type mdatRange struct {
	offset int64
	length int64
}

func sliceChecked(buf []byte, start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > int64(len(buf)) {
		return nil, invalidDataf("extent [%d,%d) out of bounds (len=%d)", start, end, len(buf))
	}
	return buf[start:end], nil
}

// resolveItem resolves an item's extents per §4.5: borrowed for a single
// File extent, owned for multi-extent concatenation, idat-relative for
// Idat construction, Unsupported for Item construction.
func (p *Parser) resolveItem(id uint32) (Data, error) {
	loc := p.meta.LocationByID(id)
	if loc == nil {
		return Data{}, invalidDataf("no iloc entry for item %d", id)
	}
	return p.resolveExtents(*loc)
}

func (p *Parser) resolveExtents(loc bmff.ItemLocationEntry) (Data, error) {
	if len(loc.Extents) == 0 {
		return Data{}, invalidDataf("item %d has no extents", loc.ItemID)
	}
	switch loc.Construction {
	case bmff.ConstructionItem:
		return Data{}, unsupportedf("construction method item not supported")
	case bmff.ConstructionIdat:
		return p.resolveAgainst(p.meta.IdatData, loc, false)
	default:
		return p.resolveAgainst(p.raw, loc, true)
	}
}

// resolveAgainst resolves loc's extents against buf (the raw file buffer
// for File construction, the meta idat payload for Idat construction).
// useMdat enables the mdat-bounds lookup for a "runs to end" extent; idat
// extents run to the end of the idat buffer itself instead.
func (p *Parser) resolveAgainst(buf []byte, loc bmff.ItemLocationEntry, useMdat bool) (Data, error) {
	if len(loc.Extents) == 1 {
		start, end, err := p.resolveOneExtent(buf, loc.Extents[0], useMdat)
		if err != nil {
			return Data{}, err
		}
		b, err := sliceChecked(buf, start, end)
		if err != nil {
			return Data{}, err
		}
		return borrowedData(b), nil
	}

	parts := make([][]byte, 0, len(loc.Extents))
	var total uint64
	for _, ext := range loc.Extents {
		start, end, err := p.resolveOneExtent(buf, ext, useMdat)
		if err != nil {
			return Data{}, err
		}
		b, err := sliceChecked(buf, start, end)
		if err != nil {
			return Data{}, err
		}
		parts = append(parts, b)
		total += uint64(len(b))
	}
	if err := p.tracker.reserve(total); err != nil {
		return Data{}, err
	}
	out := make([]byte, 0, total)
	for _, b := range parts {
		out = append(out, b...)
	}
	return ownedData(out), nil
}

// resolveOneExtent turns one ExtentRange into an absolute [start, end)
// range in buf. ext.Offset is already base_offset+extent_offset (the
// overflow-checked sum computed when iloc was parsed).
func (p *Parser) resolveOneExtent(buf []byte, ext bmff.ExtentRange, useMdat bool) (int64, int64, error) {
	start := int64(ext.Offset)
	if start < 0 || start > int64(len(buf)) {
		return 0, 0, invalidDataf("extent start %d out of bounds (len=%d)", ext.Offset, len(buf))
	}
	if !ext.ToEnd {
		end := int64(ext.Offset + ext.Length)
		if end < start {
			return 0, 0, invalidDataf("extent end overflow")
		}
		if useMdat {
			if err := p.checkWithinMdat(start, end); err != nil {
				return 0, 0, err
			}
		}
		return start, end, nil
	}

	if !useMdat {
		return start, int64(len(buf)), nil
	}
	for _, m := range p.mdats {
		if start >= m.offset && start < m.offset+m.length {
			return start, m.offset + m.length, nil
		}
	}
	return start, int64(len(buf)), nil
}

// checkWithinMdat enforces "extents never cross mdat boundaries": a
// bounded extent that starts inside a recorded mdat range must also end
// inside it.
func (p *Parser) checkWithinMdat(start, end int64) error {
	if len(p.mdats) == 0 {
		return nil
	}
	for _, m := range p.mdats {
		mdatEnd := m.offset + m.length
		if start >= m.offset && start < mdatEnd {
			if end > mdatEnd {
				return invalidDataf("extent [%d,%d) crosses mdat boundary at %d", start, end, mdatEnd)
			}
			return nil
		}
	}
	return nil
}
