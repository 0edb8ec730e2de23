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

// TimeToSampleEntry is one "stts" run-length entry.
type TimeToSampleEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// SampleToChunkEntry is one "stsc" run-length entry.
type SampleToChunkEntry struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
}

// SampleTable is the "stbl" sub-tree: everything needed to locate and
// size every sample (frame) of a track.
type SampleTable struct {
	TimeToSample  []TimeToSampleEntry
	SampleToChunk []SampleToChunkEntry
	SampleSizes   []uint32
	ChunkOffsets  []uint64
}

// TrackInfo is one "trak" box, fully parsed.
type TrackInfo struct {
	TrackID        uint32
	HandlerType    FourCC
	MediaTimescale uint32
	SampleTable    SampleTable

	// AuxlOf is the TrackID this track is an "auxl" (auxiliary, i.e.
	// alpha) track for, or 0 if this track carries no auxl tref.
	AuxlOf uint32

	// LoopCount is derived from this track's edts/elst flags (bit0 of
	// flags: set -> infinite (0), clear -> play once (1)). 1 if no edts
	// is present.
	LoopCount uint32
}

var videoHandlerTypes = map[FourCC]bool{
	FourCCFrom("vide"): true,
	FourCCFrom("pict"): true,
}

// IsVideoHandler reports whether a handler type names a video or picture
// track, as opposed to audio/metadata/hint tracks which are silently
// skipped.
func IsVideoHandler(h FourCC) bool { return videoHandlerTypes[h] }

// ParseMoov parses a "moov" box's children, returning every "trak" found.
// Every other child, mvhd included, is skipped without being read.
func ParseMoov(raw []byte, box Box) ([]TrackInfo, error) {
	end := box.BodyEnd
	if box.ToEnd() {
		end = int64(len(raw))
	}
	r, err := NewBoundedReader(raw, box.BodyStart, end)
	if err != nil {
		return nil, err
	}
	var tracks []TrackInfo
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
		if child.Header.Type == TypeTrak {
			tr, err := parseTrak(raw, child.BodyStart, childEnd)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, tr)
		}
		if err := r.SeekTo(childEnd); err != nil {
			return nil, err
		}
	}
	return tracks, nil
}

func parseTrak(raw []byte, start, end int64) (TrackInfo, error) {
	var tr TrackInfo
	tr.LoopCount = 1

	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return tr, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return tr, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		switch child.Header.Type {
		case FourCCFrom("tkhd"):
			id, err := parseTkhdTrackID(raw, child.BodyStart, childEnd)
			if err != nil {
				return tr, err
			}
			tr.TrackID = id
		case TypeMdia:
			handler, timescale, stbl, err := parseMdia(raw, child.BodyStart, childEnd)
			if err != nil {
				return tr, err
			}
			tr.HandlerType = handler
			tr.MediaTimescale = timescale
			tr.SampleTable = stbl
		case TypeTref:
			auxlOf, err := parseTrefAuxl(raw, child.BodyStart, childEnd)
			if err != nil {
				return tr, err
			}
			tr.AuxlOf = auxlOf
		case TypeEdts:
			loop, err := parseEdtsLoopCount(raw, child.BodyStart, childEnd)
			if err != nil {
				return tr, err
			}
			tr.LoopCount = loop
		}
		if err := r.SeekTo(childEnd); err != nil {
			return tr, err
		}
	}
	return tr, nil
}

func parseTkhdTrackID(raw []byte, start, end int64) (uint32, error) {
	body, err := sliceRange(raw, start, end)
	if err != nil {
		return 0, err
	}
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return 0, err
	}
	// version 0: creation/modification (u32+u32), track_ID (u32)
	// version 1: creation/modification (u64+u64), track_ID (u32)
	skip := 8
	if fb.Version == 1 {
		skip = 16
	}
	if _, err := c.take(skip); err != nil {
		return 0, fmt.Errorf("bmff: %w: truncated tkhd", errInvalidData)
	}
	id, err := c.u32()
	if err != nil {
		return 0, fmt.Errorf("bmff: %w: truncated tkhd", errInvalidData)
	}
	return id, nil
}

func parseMdia(raw []byte, start, end int64) (handler FourCC, timescale uint32, stbl SampleTable, err error) {
	r, rerr := NewBoundedReader(raw, start, end)
	if rerr != nil {
		err = rerr
		return
	}
	for {
		child, nerr := r.NextBox()
		if nerr == ErrEndOfBoxes {
			break
		}
		if nerr != nil {
			err = nerr
			return
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		switch child.Header.Type {
		case TypeMdhd:
			timescale, err = parseMdhdTimescale(raw, child.BodyStart, childEnd)
			if err != nil {
				return
			}
		case TypeHdlr:
			handler, err = parseHdlrType(raw, child.BodyStart, childEnd)
			if err != nil {
				return
			}
		case TypeMinf:
			stbl, err = parseMinfStbl(raw, child.BodyStart, childEnd)
			if err != nil {
				return
			}
		}
		if err = r.SeekTo(childEnd); err != nil {
			return
		}
	}
	return
}

func parseMdhdTimescale(raw []byte, start, end int64) (uint32, error) {
	body, err := sliceRange(raw, start, end)
	if err != nil {
		return 0, err
	}
	c := newCursor(body)
	fb, err := readFullBoxHeader(c)
	if err != nil {
		return 0, err
	}
	skip := 8 // creation_time, modification_time (u32 each) for version 0
	if fb.Version == 1 {
		skip = 16 // u64 each
	}
	if _, err := c.take(skip); err != nil {
		return 0, fmt.Errorf("bmff: %w: truncated mdhd", errInvalidData)
	}
	ts, err := c.u32()
	if err != nil {
		return 0, fmt.Errorf("bmff: %w: truncated mdhd", errInvalidData)
	}
	return ts, nil
}

func parseHdlrType(raw []byte, start, end int64) (FourCC, error) {
	body, err := sliceRange(raw, start, end)
	if err != nil {
		return FourCC{}, err
	}
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return FourCC{}, err
	}
	if _, err := c.take(4); err != nil { // pre_defined
		return FourCC{}, fmt.Errorf("bmff: %w: truncated hdlr", errInvalidData)
	}
	handler, err := c.fourCC()
	if err != nil {
		return FourCC{}, fmt.Errorf("bmff: %w: truncated hdlr", errInvalidData)
	}
	return handler, nil
}

func parseMinfStbl(raw []byte, start, end int64) (SampleTable, error) {
	var stbl SampleTable
	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return stbl, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return stbl, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		if child.Header.Type == TypeStbl {
			stbl, err = parseStbl(raw, child.BodyStart, childEnd)
			if err != nil {
				return stbl, err
			}
		}
		if err := r.SeekTo(childEnd); err != nil {
			return stbl, err
		}
	}
	return stbl, nil
}

func parseStbl(raw []byte, start, end int64) (SampleTable, error) {
	var stbl SampleTable
	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return stbl, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return stbl, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		body, err := sliceRange(raw, child.BodyStart, childEnd)
		if err != nil {
			return stbl, err
		}
		switch child.Header.Type {
		case TypeStts:
			stbl.TimeToSample, err = parseStts(body)
		case TypeStsc:
			stbl.SampleToChunk, err = parseStsc(body)
		case TypeStsz:
			stbl.SampleSizes, err = parseStsz(body)
		case TypeStco:
			stbl.ChunkOffsets, err = parseChunkOffsets(body, 4)
		case TypeCo64:
			stbl.ChunkOffsets, err = parseChunkOffsets(body, 8)
		}
		if err != nil {
			return stbl, err
		}
		if err := r.SeekTo(childEnd); err != nil {
			return stbl, err
		}
	}
	return stbl, nil
}

func parseStts(body []byte) ([]TimeToSampleEntry, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return nil, err
	}
	count, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated stts", errInvalidData)
	}
	entries := make([]TimeToSampleEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		sc, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated stts", errInvalidData)
		}
		sd, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated stts", errInvalidData)
		}
		entries = append(entries, TimeToSampleEntry{SampleCount: sc, SampleDelta: sd})
	}
	return entries, nil
}

func parseStsc(body []byte) ([]SampleToChunkEntry, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return nil, err
	}
	count, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated stsc", errInvalidData)
	}
	entries := make([]SampleToChunkEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		fc, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated stsc", errInvalidData)
		}
		spc, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated stsc", errInvalidData)
		}
		if _, err := c.u32(); err != nil { // sample_description_index, unused
			return nil, fmt.Errorf("bmff: %w: truncated stsc", errInvalidData)
		}
		entries = append(entries, SampleToChunkEntry{FirstChunk: fc, SamplesPerChunk: spc})
	}
	return entries, nil
}

func parseStsz(body []byte) ([]uint32, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return nil, err
	}
	defaultSize, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated stsz", errInvalidData)
	}
	count, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated stsz", errInvalidData)
	}
	sizes := make([]uint32, count)
	if defaultSize != 0 {
		for i := range sizes {
			sizes[i] = defaultSize
		}
		return sizes, nil
	}
	for i := uint32(0); i < count; i++ {
		sz, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated stsz", errInvalidData)
		}
		sizes[i] = sz
	}
	return sizes, nil
}

func parseChunkOffsets(body []byte, width int) ([]uint64, error) {
	c := newCursor(body)
	if _, err := readFullBoxHeader(c); err != nil {
		return nil, err
	}
	count, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("bmff: %w: truncated chunk offset box", errInvalidData)
	}
	offsets := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := c.uintN(width)
		if err != nil {
			return nil, fmt.Errorf("bmff: %w: truncated chunk offset box", errInvalidData)
		}
		offsets = append(offsets, v)
	}
	return offsets, nil
}

// parseTrefAuxl looks for an "auxl" reference-type box inside "tref" and
// returns the (single) track ID it points to, or 0 if absent.
func parseTrefAuxl(raw []byte, start, end int64) (uint32, error) {
	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return 0, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return 0, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		if child.Header.Type == TypeAuxl {
			body, err := sliceRange(raw, child.BodyStart, childEnd)
			if err != nil {
				return 0, err
			}
			if len(body) >= 4 {
				c := newCursor(body)
				id, _ := c.u32()
				return id, nil
			}
		}
		if err := r.SeekTo(childEnd); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// parseEdtsLoopCount reads "edts" -> "elst" and maps flags bit0 to a loop
// count: set -> 0 (infinite), clear -> 1 (play once). Per spec.md §4.4
// this mapping is a convention of this parser, not a standards guarantee.
func parseEdtsLoopCount(raw []byte, start, end int64) (uint32, error) {
	r, err := NewBoundedReader(raw, start, end)
	if err != nil {
		return 1, err
	}
	for {
		child, err := r.NextBox()
		if err == ErrEndOfBoxes {
			break
		}
		if err != nil {
			return 1, err
		}
		childEnd := child.BodyEnd
		if child.ToEnd() {
			childEnd = end
		}
		if child.Header.Type == TypeElst {
			body, err := sliceRange(raw, child.BodyStart, childEnd)
			if err != nil {
				return 1, err
			}
			c := newCursor(body)
			fb, err := readFullBoxHeader(c)
			if err != nil {
				return 1, err
			}
			if fb.Flags&0x1 != 0 {
				return 0, nil
			}
			return 1, nil
		}
		if err := r.SeekTo(childEnd); err != nil {
			return 1, err
		}
	}
	return 1, nil
}
