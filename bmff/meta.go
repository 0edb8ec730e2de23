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

import (
	"fmt"
)

// FullBoxHeader is the version+flags preamble shared by "full boxes".
type FullBoxHeader struct {
	Version uint8
	Flags   uint32 // low 24 bits
}

func readFullBoxHeader(c *cursor) (FullBoxHeader, error) {
	b, err := c.take(4)
	if err != nil {
		return FullBoxHeader{}, fmt.Errorf("bmff: %w: truncated full box header", errInvalidData)
	}
	flags := uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return FullBoxHeader{Version: b[0], Flags: flags}, nil
}

// FileTypeBox is the "ftyp" box: ISO 14496-12 §4.3.
type FileTypeBox struct {
	MajorBrand       FourCC
	MinorVersion     uint32
	CompatibleBrands []FourCC
}

// ParseFileTypeBox parses an "ftyp" box body.
func ParseFileTypeBox(body []byte) (*FileTypeBox, error) {
	c := newCursor(body)
	major, err := c.fourCC()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated ftyp", errInvalidData)
	}
	minor, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated ftyp", errInvalidData)
	}
	ft := &FileTypeBox{MajorBrand: major, MinorVersion: minor}
	for c.remaining() >= 4 {
		cc, _ := c.fourCC()
		ft.CompatibleBrands = append(ft.CompatibleBrands, cc)
	}
	return ft, nil
}

// ItemInfoEntry is one "infe" entry inside "iinf".
type ItemInfoEntry struct {
	ItemID             uint32
	ItemProtectionIdx  uint16
	ItemType           FourCC
	Name               string
}

func parseItemInfoEntry(body []byte) (*ItemInfoEntry, error) {
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return nil, err
	}
	if fb.Version != 2 && fb.Version != 3 {
		return nil, fmt.Errorf("bmff: %w: infe version %d not supported", errUnsupported, fb.Version)
	}
	ie := &ItemInfoEntry{}
	if fb.Version == 2 {
		id, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated infe", errInvalidData)
		}
		ie.ItemID = uint32(id)
	} else {
		id, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated infe", errInvalidData)
		}
		ie.ItemID = id
	}
	prot, err := c.u16()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated infe", errInvalidData)
	}
	ie.ItemProtectionIdx = prot
	if prot != 0 {
		return nil, fmt.Errorf("bmff: %w: protected item (item_protection_index %d)", errUnsupported, prot)
	}
	itemType, err := c.fourCC()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated infe", errInvalidData)
	}
	ie.ItemType = itemType
	if name, err := c.cstring(); err == nil {
		ie.Name = string(name)
	}
	// Remaining mime/uri-specific fields are not consumed by this parser;
	// the caller only ever slurps whole boxes so trailing bytes are safe
	// to ignore.
	return ie, nil
}

// PrimaryItemBox is the "pitm" box.
type PrimaryItemBox struct {
	ItemID uint32
}

func parsePrimaryItemBox(body []byte) (*PrimaryItemBox, error) {
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return nil, err
	}
	pb := &PrimaryItemBox{}
	if fb.Version == 0 {
		id, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated pitm", errInvalidData)
		}
		pb.ItemID = uint32(id)
	} else {
		id, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated pitm", errInvalidData)
		}
		pb.ItemID = id
	}
	return pb, nil
}

// ConstructionMethod selects how an item's extents are interpreted.
type ConstructionMethod uint8

const (
	ConstructionFile ConstructionMethod = 0
	ConstructionIdat ConstructionMethod = 1
	ConstructionItem ConstructionMethod = 2
)

// ExtentRange is a single iloc extent: [Offset, Offset+Length), or
// [Offset, inf) when ToEnd is true (Length==0). Offset already includes the
// item's base offset (base_offset + extent_offset).
type ExtentRange struct {
	Offset uint64
	Length uint64
	ToEnd  bool
}

// ItemLocationEntry is one "iloc" item entry.
type ItemLocationEntry struct {
	ItemID             uint32
	Construction       ConstructionMethod
	DataReferenceIndex uint16
	BaseOffset         uint64
	Extents            []ExtentRange
}

// ItemLocationBox is the "iloc" box.
type ItemLocationBox struct {
	Items []ItemLocationEntry
}

func parseItemLocationBox(body []byte) (*ItemLocationBox, error) {
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return nil, err
	}
	if fb.Version > 2 {
		return nil, fmt.Errorf("bmff: %w: iloc version %d not supported", errUnsupported, fb.Version)
	}
	b, err := c.take(2)
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated iloc", errInvalidData)
	}
	offsetSize := int(b[0] >> 4)
	lengthSize := int(b[0] & 0x0f)
	baseOffsetSize := int(b[1] >> 4)
	indexSize := 0
	if fb.Version == 1 || fb.Version == 2 {
		indexSize = int(b[1] & 0x0f)
	}
	for _, sz := range []int{offsetSize, lengthSize, baseOffsetSize, indexSize} {
		if sz != 0 && sz != 4 && sz != 8 {
			return nil, fmt.Errorf("bmff: %w: invalid iloc field size %d", errInvalidData, sz)
		}
	}

	var itemCount uint64
	if fb.Version < 2 {
		v, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iloc", errInvalidData)
		}
		itemCount = uint64(v)
	} else {
		v, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iloc", errInvalidData)
		}
		itemCount = uint64(v)
	}

	ilb := &ItemLocationBox{}
	for i := uint64(0); i < itemCount; i++ {
		var ent ItemLocationEntry
		if fb.Version < 2 {
			id, err := c.u16()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iloc item", errInvalidData)
			}
			ent.ItemID = uint32(id)
		} else {
			id, err := c.u32()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iloc item", errInvalidData)
			}
			ent.ItemID = id
		}
		if fb.Version == 1 || fb.Version == 2 {
			cm, err := c.u16()
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iloc item", errInvalidData)
			}
			ent.Construction = ConstructionMethod(cm & 0x0f)
		}
		if ent.Construction == ConstructionItem {
			return nil, fmt.Errorf("bmff: %w: construction method item not supported", errUnsupported)
		}
		dri, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iloc item", errInvalidData)
		}
		ent.DataReferenceIndex = dri
		if dri != 0 {
			return nil, fmt.Errorf("bmff: %w: external data reference not supported", errUnsupported)
		}
		base, err := c.uintN(baseOffsetSize)
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iloc base offset", errInvalidData)
		}
		ent.BaseOffset = base

		extentCount, err := c.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iloc extent count", errInvalidData)
		}
		if extentCount < 1 {
			return nil, fmt.Errorf("bmff: %w: iloc item has zero extents", errInvalidData)
		}
		for j := uint16(0); j < extentCount; j++ {
			if indexSize != 0 {
				if _, err := c.uintN(indexSize); err != nil {
					return nil, fmt.Errorf("bmff: %w: truncated iloc extent index", errInvalidData)
				}
			}
			off, err := c.uintN(offsetSize)
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iloc extent offset", errInvalidData)
			}
			length, err := c.uintN(lengthSize)
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iloc extent length", errInvalidData)
			}
			absOff, ok := addOverflow(ent.BaseOffset, off)
			if !ok {
				return nil, fmt.Errorf("bmff: %w: iloc extent offset overflow", errInvalidData)
			}
			ext := ExtentRange{Offset: absOff}
			if length == 0 {
				ext.ToEnd = true
			} else {
				end, ok := addOverflow(absOff, length)
				if !ok {
					return nil, fmt.Errorf("bmff: %w: iloc extent length overflow", errInvalidData)
				}
				_ = end
				ext.Length = length
			}
			ent.Extents = append(ent.Extents, ext)
		}
		ilb.Items = append(ilb.Items, ent)
	}
	if c.remaining() != 0 {
		return nil, fmt.Errorf("bmff: %w: invalid iloc size", errInvalidData)
	}
	return ilb, nil
}

func addOverflow(a, b uint64) (uint64, bool) {
	s := a + b
	if s < a {
		return 0, false
	}
	return s, true
}

// ItemReferenceEntry is a single "from -> to" reference, with its position
// in the declaration order recorded as ReferenceIndex (the dimg tile
// ordering key, per ISO 23008-12).
type ItemReferenceEntry struct {
	Type           FourCC
	FromItemID     uint32
	ToItemID       uint32
	ReferenceIndex uint16
}

// ItemReferenceBox is the "iref" box.
type ItemReferenceBox struct {
	Refs []ItemReferenceEntry
}

func parseItemReferenceBox(raw []byte, box Box, lenient bool) (*ItemReferenceBox, error) {
	body, err := sliceRange(raw, box.BodyStart, box.BodyEnd)
	if err != nil {
		return nil, err
	}
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return nil, err
	}
	if fb.Version > 1 {
		return nil, fmt.Errorf("bmff: %w: iref version %d not supported", errUnsupported, fb.Version)
	}
	idWidth := 2
	if fb.Version == 1 {
		idWidth = 4
	}

	irb := &ItemReferenceBox{}
	r, err := NewBoundedReader(raw, box.BodyStart+4, box.BodyEnd)
	if err != nil {
		return nil, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return nil, err
		}
		end := child.BodyEnd
		if child.ToEnd() {
			end = box.BodyEnd
		}
		cb, err := sliceRange(raw, child.BodyStart, end)
		if err != nil {
			return nil, err
		}
		cc := newCursor(cb)
		fromID, err := cc.uintN(idWidth)
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iref entry", errInvalidData)
		}
		if fromID > 0xffffffff {
			return nil, fmt.Errorf("bmff: %w: iref from-id overflow", errInvalidData)
		}
		count, err := cc.u16()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated iref entry", errInvalidData)
		}
		for i := uint16(0); i < count; i++ {
			toID, err := cc.uintN(idWidth)
			if err != nil {
				return nil, fmt.Errorf("bmff: %w: truncated iref to-id", errInvalidData)
			}
			if uint32(fromID) == uint32(toID) {
				return nil, fmt.Errorf("bmff: %w: iref from==to", errInvalidData)
			}
			irb.Refs = append(irb.Refs, ItemReferenceEntry{
				Type:           child.Header.Type,
				FromItemID:     uint32(fromID),
				ToItemID:       uint32(toID),
				ReferenceIndex: i,
			})
		}
		if err := r.SeekTo(end); err != nil {
			return nil, err
		}
	}
	return irb, nil
}

// Meta is the fully-parsed "meta" box tree: pitm/iinf/iloc/iref/iprp/idat.
type Meta struct {
	Version uint8
	Flags   uint32

	HasPrimaryItem bool
	PrimaryItemID  uint32

	Items []*ItemInfoEntry

	Locations []ItemLocationEntry

	References []ItemReferenceEntry

	Properties   []Property
	Associations []PropertyAssociationEntry

	// IdatData is a subslice of the original file buffer spanning the
	// "idat" box's payload, or nil if absent.
	IdatData []byte
}

// ItemInfoByID returns the ItemInfoEntry for id, or nil.
func (m *Meta) ItemInfoByID(id uint32) *ItemInfoEntry {
	for _, it := range m.Items {
		if it.ItemID == id {
			return it
		}
	}
	return nil
}

// LocationByID returns the ItemLocationEntry for id, or nil.
func (m *Meta) LocationByID(id uint32) *ItemLocationEntry {
	for i := range m.Locations {
		if m.Locations[i].ItemID == id {
			return &m.Locations[i]
		}
	}
	return nil
}

// ParseMeta parses a "meta" box's full body given the box's absolute
// offset range in raw.
func ParseMeta(raw []byte, box Box, lenient bool) (*Meta, error) {
	bodyStart, bodyEnd := box.BodyStart, box.BodyEnd
	if box.ToEnd() {
		bodyEnd = int64(len(raw))
	}
	hdrBytes, err := sliceRange(raw, bodyStart, bodyStart+4)
	if err != nil || len(hdrBytes) < 4 {
		return nil, fmt.Errorf("bmff: %w: truncated meta", errInvalidData)
	}
	fb, err := readFullBoxHeader(newCursor(hdrBytes))
	if err != nil {
		return nil, err
	}
	if fb.Version != 0 {
		return nil, fmt.Errorf("bmff: %w: meta version %d not supported", errUnsupported, fb.Version)
	}
	if fb.Flags != 0 && !lenient {
		return nil, fmt.Errorf("bmff: %w: meta has nonzero flags", errInvalidData)
	}

	m := &Meta{Version: fb.Version, Flags: fb.Flags}

	r, err := NewBoundedReader(raw, bodyStart+4, bodyEnd)
	if err != nil {
		return nil, err
	}
	var seenPitm, seenIinf, seenIloc, seenIref, seenIprp, seenIdat bool
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
			childEnd = bodyEnd
		}
		switch child.Header.Type {
		case TypePitm:
			if seenPitm {
				return nil, fmt.Errorf("bmff: %w: duplicate pitm", errInvalidData)
			}
			seenPitm = true
			body, err := sliceRange(raw, child.BodyStart, childEnd)
			if err != nil {
				return nil, err
			}
			pb, err := parsePrimaryItemBox(body)
			if err != nil {
				return nil, err
			}
			m.HasPrimaryItem = true
			m.PrimaryItemID = pb.ItemID
		case TypeIinf:
			if seenIinf {
				return nil, fmt.Errorf("bmff: %w: duplicate iinf", errInvalidData)
			}
			seenIinf = true
			items, err := parseItemInfoBox(raw, child, childEnd)
			if err != nil {
				return nil, err
			}
			m.Items = items
		case TypeIloc:
			if seenIloc {
				return nil, fmt.Errorf("bmff: %w: duplicate iloc", errInvalidData)
			}
			seenIloc = true
			body, err := sliceRange(raw, child.BodyStart, childEnd)
			if err != nil {
				return nil, err
			}
			ilb, err := parseItemLocationBox(body)
			if err != nil {
				return nil, err
			}
			m.Locations = ilb.Items
		case TypeIref:
			if seenIref {
				return nil, fmt.Errorf("bmff: %w: duplicate iref", errInvalidData)
			}
			seenIref = true
			irb, err := parseItemReferenceBox(raw, Box{Header: child.Header, Start: child.Start, BodyStart: child.BodyStart, BodyEnd: childEnd}, lenient)
			if err != nil {
				return nil, err
			}
			m.References = irb.Refs
		case TypeIprp:
			if seenIprp {
				return nil, fmt.Errorf("bmff: %w: duplicate iprp", errInvalidData)
			}
			seenIprp = true
			props, assoc, err := parseItemPropertiesBox(raw, Box{Header: child.Header, Start: child.Start, BodyStart: child.BodyStart, BodyEnd: childEnd}, lenient)
			if err != nil {
				return nil, err
			}
			m.Properties = props
			m.Associations = assoc
		case TypeIdat:
			if seenIdat {
				return nil, fmt.Errorf("bmff: %w: duplicate idat", errInvalidData)
			}
			seenIdat = true
			data, err := sliceRange(raw, child.BodyStart, childEnd)
			if err != nil {
				return nil, err
			}
			m.IdatData = data
		}
		if err := r.SeekTo(childEnd); err != nil {
			return nil, err
		}
	}

	if !seenPitm {
		return nil, fmt.Errorf("bmff: %w: meta missing pitm", errInvalidData)
	}
	if !seenIinf {
		return nil, fmt.Errorf("bmff: %w: meta missing iinf", errInvalidData)
	}
	if !seenIloc {
		return nil, fmt.Errorf("bmff: %w: meta missing iloc", errInvalidData)
	}
	return m, nil
}

func parseItemInfoBox(raw []byte, box Box, bodyEnd int64) ([]*ItemInfoEntry, error) {
	hdr, err := sliceRange(raw, box.BodyStart, bodyEnd)
	if err != nil || len(hdr) < 4 {
		return nil, fmt.Errorf("bmff: %w: truncated iinf", errInvalidData)
	}
	fb, err := readFullBoxHeader(newCursor(hdr))
	if err != nil {
		return nil, err
	}
	childStart := box.BodyStart + 4
	if fb.Version >= 1 {
		childStart += 4
	} else {
		childStart += 2
	}

	r, err := NewBoundedReader(raw, childStart, bodyEnd)
	if err != nil {
		return nil, err
	}
	var entries []*ItemInfoEntry
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return nil, err
		}
		end := child.BodyEnd
		if child.ToEnd() {
			end = bodyEnd
		}
		if child.Header.Type == TypeInfe {
			body, err := sliceRange(raw, child.BodyStart, end)
			if err != nil {
				return nil, err
			}
			ie, err := parseItemInfoEntry(body)
			if err != nil {
				return nil, err
			}
			entries = append(entries, ie)
		}
		if err := r.SeekTo(end); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
