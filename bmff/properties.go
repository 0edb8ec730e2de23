/*
Copyright 2018 The go4 Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bmff

import "fmt"

// PropertyKind discriminates the Property union the "ipco" box can hold.
type PropertyKind int

const (
	PropertyUnsupported PropertyKind = iota
	PropertyChannels
	PropertyAuxiliaryType
	PropertyImageSpatialExtents
	PropertyImageGrid
)

// Property is one "ipco" entry, tagged by Kind. Only the field matching
// Kind is meaningful.
type Property struct {
	Kind PropertyKind
	Type FourCC

	// PropertyChannels: bit depth per channel (pixi), up to 16 entries.
	Channels []uint8

	// PropertyAuxiliaryType: the raw auxC box payload, "urn\0subtype...".
	AuxURN     string
	AuxSubtype []byte

	// PropertyImageSpatialExtents.
	Width, Height uint32

	// PropertyImageGrid.
	Rows, Columns             uint8
	OutputWidth, OutputHeight uint32
}

// PropertyAssociationEntry pairs an item with one of its properties, in
// ipma declaration order. Index-0 ("no property") entries are discarded
// before this list is built.
type PropertyAssociationEntry struct {
	ItemID       uint32
	Essential    bool
	PropertyIdx  int // 1-based index into the ipco property list
}

// parseItemPropertiesBox parses "iprp" -> ipco (properties) + one or more
// ipma (associations) boxes.
func parseItemPropertiesBox(raw []byte, box Box, lenient bool) ([]Property, []PropertyAssociationEntry, error) {
	r, err := NewBoundedReader(raw, box.BodyStart, box.BodyEnd)
	if err != nil {
		return nil, nil, err
	}
	var props []Property
	var assoc []PropertyAssociationEntry
	sawIpco := false
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		end := child.BodyEnd
		if child.ToEnd() {
			end = box.BodyEnd
		}
		switch child.Header.Type {
		case TypeIpco:
			if sawIpco {
				return nil, nil, fmt.Errorf("bmff: %w: duplicate ipco", errInvalidData)
			}
			sawIpco = true
			props, err = parseItemPropertyContainerBox(raw, child.BodyStart, end, lenient)
			if err != nil {
				return nil, nil, err
			}
		case TypeIpma:
			a, err := parseItemPropertyAssociationBox(raw, child.BodyStart, end)
			if err != nil {
				return nil, nil, err
			}
			assoc = append(assoc, a...)
		}
		if err := r.SeekTo(end); err != nil {
			return nil, nil, err
		}
	}
	if !sawIpco {
		return nil, nil, fmt.Errorf("bmff: %w: iprp missing ipco", errInvalidData)
	}
	return props, assoc, nil
}

func parseItemPropertyContainerBox(raw []byte, start, end int64, lenient bool) ([]Property, error) {
	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return nil, err
	}
	var props []Property
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return nil, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		body, err := sliceRange(raw, child.BodyStart, childEnd)
		if err != nil {
			return nil, err
		}
		prop, err := parseProperty(child.Header.Type, body, lenient)
		if err != nil {
			return nil, err
		}
		props = append(props, prop)
		if err := r.SeekTo(childEnd); err != nil {
			return nil, err
		}
	}
	return props, nil
}

func parseProperty(typ FourCC, body []byte, lenient bool) (Property, error) {
	switch typ {
	case TypePixi:
		return parsePixiProperty(body, lenient)
	case TypeAuxC:
		return parseAuxCProperty(body)
	case TypeIspe:
		return parseIspeProperty(body)
	case TypeGrid:
		return parseGridProperty(body)
	default:
		return Property{Kind: PropertyUnsupported, Type: typ}, nil
	}
}

func parsePixiProperty(body []byte, lenient bool) (Property, error) {
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return Property{}, err
	}
	_ = fb
	count, err := c.u8()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated pixi", errInvalidData)
	}
	if count > 16 {
		if lenient {
			count = 16
		} else {
			return Property{}, fmt.Errorf("bmff: %w: pixi channel count %d exceeds 16", errInvalidData, count)
		}
	}
	channels := make([]uint8, 0, count)
	for i := uint8(0); i < count; i++ {
		v, err := c.u8()
		if err != nil {
			if lenient {
				break
			}
			return Property{}, fmt.Errorf("bmff: %w: truncated pixi", errInvalidData)
		}
		channels = append(channels, v)
	}
	// Trailing bytes after the channel list are ignored in lenient mode
	// and rejected otherwise.
	if !lenient && c.remaining() != 0 {
		return Property{}, fmt.Errorf("bmff: %w: trailing bytes in pixi", errInvalidData)
	}
	return Property{Kind: PropertyChannels, Type: TypePixi, Channels: channels}, nil
}

const alphaAuxURN = "urn:mpeg:mpegB:cicp:systems:auxiliary:alpha"

func parseAuxCProperty(body []byte) (Property, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return Property{}, err
	}
	urn, err := c.cstring()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated auxC urn", errInvalidData)
	}
	return Property{Kind: PropertyAuxiliaryType, Type: TypeAuxC, AuxURN: string(urn), AuxSubtype: c.rest()}, nil
}

func parseIspeProperty(body []byte) (Property, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return Property{}, err
	}
	w, err := c.u32()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated ispe", errInvalidData)
	}
	h, err := c.u32()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated ispe", errInvalidData)
	}
	if w == 0 || h == 0 {
		return Property{}, fmt.Errorf("bmff: %w: ispe has zero dimension", errInvalidData)
	}
	return Property{Kind: PropertyImageSpatialExtents, Type: TypeIspe, Width: w, Height: h}, nil
}

// parseGridProperty parses the "grid" (ImageGrid) item-content box: a
// non-full box with its own 1-byte flags/field-size byte, per ISO
// 23008-12 §6.6.2.3.2. Bit 0 of that byte selects 16-bit vs 32-bit output
// dimensions; bits 1-7 are reserved.
func parseGridProperty(body []byte) (Property, error) {
	c := newCursor(body)
	flags, err := c.u8()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
	}
	largeField := flags&0x01 != 0
	rows, err := c.u8()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
	}
	cols, err := c.u8()
	if err != nil {
		return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
	}
	var outW, outH uint32
	if largeField {
		outW, err = c.u32()
		if err != nil {
			return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
		}
		outH, err = c.u32()
		if err != nil {
			return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
		}
	} else {
		w16, err := c.u16()
		if err != nil {
			return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
		}
		h16, err := c.u16()
		if err != nil {
			return Property{}, fmt.Errorf("bmff: %w: truncated grid", errInvalidData)
		}
		outW, outH = uint32(w16), uint32(h16)
	}
	return Property{
		Kind:         PropertyImageGrid,
		Type:         TypeGrid,
		Rows:         rows + 1,
		Columns:      cols + 1,
		OutputWidth:  outW,
		OutputHeight: outH,
	}, nil
}

// parseItemPropertyAssociationBox parses one "ipma" box, discarding
// index-0 ("no property") associations.
func parseItemPropertyAssociationBox(raw []byte, start, end int64) ([]PropertyAssociationEntry, error) {
	body, err := sliceRange(raw, start, end)
	if err != nil {
		return nil, err
	}
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return nil, err
	}
	count, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated ipma", errInvalidData)
	}
	largeIndex := fb.Flags&0x01 != 0

	var out []PropertyAssociationEntry
	for i := uint32(0); i < count; i++ {
		var itemID uint32
		if fb.Version < 1 {
			id, err := c.u16()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated ipma entry", errInvalidData)
			}
			itemID = uint32(id)
		} else {
			id, err := c.u32()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated ipma entry", errInvalidData)
			}
			itemID = id
		}
		assocCount, err := c.u8()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated ipma entry", errInvalidData)
		}
		for j := uint8(0); j < assocCount; j++ {
			first, err := c.u8()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated ipma association", errInvalidData)
			}
			essential := first&0x80 != 0
			first &^= 0x80
			var idx int
			if largeIndex {
				second, err := c.u8()
				if err != nil {
					return nil, fmt.Errorf("bmff: %w: truncated ipma association", errInvalidData)
				}
				idx = int(first)<<8 | int(second)
			} else {
				idx = int(first)
			}
			if idx == 0 {
				continue // "no property": discarded before the ipco join
			}
			out = append(out, PropertyAssociationEntry{
				ItemID:      itemID,
				Essential:   essential,
				PropertyIdx: idx,
			})
		}
	}
	return out, nil
}
