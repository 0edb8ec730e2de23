package legacy

import (
	"bytes"
	"encoding/binary"
)

// Hand-built ISOBMFF/AVIF byte fixtures for this package's tests, mirroring
// the root package's own fixture helpers (duplicated rather than imported
// since they are unexported test helpers private to each package).

func beU16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func beU32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

func fullBox(version uint8, flags uint32) []byte {
	return []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
}

func mkbox(typ string, body []byte) []byte {
	out := make([]byte, 0, 8+len(body))
	out = append(out, beU32(uint32(8+len(body)))...)
	out = append(out, []byte(typ)...)
	out = append(out, body...)
	return out
}

func infeEntry(id uint16, itemType string) []byte {
	body := append(fullBox(2, 0), beU16(id)...)
	body = append(body, beU16(0)...) // item_protection_index
	body = append(body, []byte(itemType)...)
	body = append(body, 0) // empty name
	return mkbox("infe", body)
}

func iinfBox(entries ...[]byte) []byte {
	out := append(fullBox(0, 0), beU16(uint16(len(entries)))...)
	for _, e := range entries {
		out = append(out, e...)
	}
	return mkbox("iinf", out)
}

type ilocSlot struct {
	itemID   uint16
	length   uint32
	sentinel []byte
}

func ilocBox(slots []ilocSlot) []byte {
	body := append(fullBox(0, 0), 0x44, 0x00)
	body = append(body, beU16(uint16(len(slots)))...)
	for _, s := range slots {
		body = append(body, beU16(s.itemID)...)
		body = append(body, beU16(0)...) // data_reference_index
		body = append(body, beU16(1)...) // extent_count
		body = append(body, s.sentinel...)
		body = append(body, beU32(s.length)...)
	}
	return mkbox("iloc", body)
}

func pitmBox(id uint16) []byte {
	return mkbox("pitm", append(fullBox(0, 0), beU16(id)...))
}

func ispeProp(w, h uint32) []byte {
	body := append(fullBox(0, 0), beU32(w)...)
	body = append(body, beU32(h)...)
	return mkbox("ispe", body)
}

func auxCProp(urn string) []byte {
	body := append(fullBox(0, 0), []byte(urn)...)
	body = append(body, 0)
	return mkbox("auxC", body)
}

func gridProp(rows, cols uint8, outW, outH uint32) []byte {
	body := []byte{0} // flags: large field off
	body = append(body, rows-1, cols-1)
	body = append(body, beU16(uint16(outW))...)
	body = append(body, beU16(uint16(outH))...)
	return mkbox("grid", body)
}

func ipcoBox(props ...[]byte) []byte {
	var body []byte
	for _, p := range props {
		body = append(body, p...)
	}
	return mkbox("ipco", body)
}

type ipmaAssoc struct {
	itemID      uint16
	propertyIdx uint8
}

func ipmaBox(assocs ...ipmaAssoc) []byte {
	body := append(fullBox(0, 0), beU32(uint32(len(assocs)))...)
	for _, a := range assocs {
		body = append(body, beU16(a.itemID)...)
		body = append(body, 1) // association_count
		body = append(body, a.propertyIdx)
	}
	return mkbox("ipma", body)
}

func irefEntry(typ string, from uint16, to ...uint16) []byte {
	body := beU16(from)
	body = append(body, beU16(uint16(len(to)))...)
	for _, t := range to {
		body = append(body, beU16(t)...)
	}
	return mkbox(typ, body)
}

func irefBox(entries ...[]byte) []byte {
	body := fullBox(0, 0)
	for _, e := range entries {
		body = append(body, e...)
	}
	return mkbox("iref", body)
}

type metaFileSpec struct {
	majorBrand string
	primaryID  uint16
	infeBoxes  [][]byte
	ilocSlots  []ilocSlot
	ipcoProps  [][]byte
	ipmaAssocs []ipmaAssoc
	irefs      [][]byte
}

func buildMeta(spec metaFileSpec) []byte {
	metaBody := fullBox(0, 0)
	metaBody = append(metaBody, pitmBox(spec.primaryID)...)
	metaBody = append(metaBody, iinfBox(spec.infeBoxes...)...)
	metaBody = append(metaBody, ilocBox(spec.ilocSlots)...)
	if len(spec.ipcoProps) > 0 || len(spec.ipmaAssocs) > 0 {
		iprpBody := ipcoBox(spec.ipcoProps...)
		iprpBody = append(iprpBody, ipmaBox(spec.ipmaAssocs...)...)
		metaBody = append(metaBody, mkbox("iprp", iprpBody)...)
	}
	if len(spec.irefs) > 0 {
		metaBody = append(metaBody, irefBox(spec.irefs...)...)
	}
	return mkbox("meta", metaBody)
}

type trakSpec struct {
	trackID      uint32
	handler      string
	timescale    uint32
	sampleSizes  []uint32
	sampleDeltas uint32
	auxlOf       uint32
	loopInfinite bool
	hasEdts      bool
	sentinel     []byte
}

func buildTrak(spec trakSpec) []byte {
	tkhdBody := append(fullBox(0, 0), make([]byte, 8)...)
	tkhdBody = append(tkhdBody, beU32(spec.trackID)...)
	tkhd := mkbox("tkhd", tkhdBody)

	mdhdBody := append(fullBox(0, 0), make([]byte, 8)...)
	mdhdBody = append(mdhdBody, beU32(spec.timescale)...)
	mdhd := mkbox("mdhd", mdhdBody)

	hdlrBody := append(fullBox(0, 0), make([]byte, 4)...)
	hdlrBody = append(hdlrBody, []byte(spec.handler)...)
	hdlr := mkbox("hdlr", hdlrBody)

	sttsBody := append(fullBox(0, 0), beU32(1)...)
	sttsBody = append(sttsBody, beU32(uint32(len(spec.sampleSizes)))...)
	sttsBody = append(sttsBody, beU32(spec.sampleDeltas)...)
	stts := mkbox("stts", sttsBody)

	stscBody := append(fullBox(0, 0), beU32(1)...)
	stscBody = append(stscBody, beU32(1)...)
	stscBody = append(stscBody, beU32(uint32(len(spec.sampleSizes)))...)
	stscBody = append(stscBody, beU32(1)...)
	stsc := mkbox("stsc", stscBody)

	stszBody := append(fullBox(0, 0), beU32(0)...)
	stszBody = append(stszBody, beU32(uint32(len(spec.sampleSizes)))...)
	for _, s := range spec.sampleSizes {
		stszBody = append(stszBody, beU32(s)...)
	}
	stsz := mkbox("stsz", stszBody)

	stcoBody := append(fullBox(0, 0), beU32(1)...)
	stcoBody = append(stcoBody, spec.sentinel...)
	stco := mkbox("stco", stcoBody)

	stbl := mkbox("stbl", concatBoxes(stts, stsc, stsz, stco))
	minf := mkbox("minf", stbl)
	mdia := mkbox("mdia", concatBoxes(mdhd, hdlr, minf))

	trakBody := concatBoxes(tkhd, mdia)
	if spec.auxlOf != 0 {
		tref := mkbox("tref", mkbox("auxl", beU32(spec.auxlOf)))
		trakBody = append(trakBody, tref...)
	}
	if spec.hasEdts {
		flags := uint32(0)
		if spec.loopInfinite {
			flags = 1
		}
		elst := mkbox("elst", append(fullBox(0, flags), beU32(1)...))
		trakBody = append(trakBody, mkbox("edts", elst)...)
	}
	return mkbox("trak", trakBody)
}

func concatBoxes(boxes ...[]byte) []byte {
	var out []byte
	for _, b := range boxes {
		out = append(out, b...)
	}
	return out
}

type fileSpec struct {
	meta                metaFileSpec
	traks               [][]byte
	itemPayloads        [][]byte
	samplePayloads      [][]byte
	sampleSentinel      []byte
	alphaSamplePayloads [][]byte
	alphaSampleSentinel []byte
}

func buildFile(spec fileSpec) []byte {
	ftypBody := append([]byte(spec.meta.majorBrand), beU32(0)...)
	ftypBox := mkbox("ftyp", ftypBody)
	metaBox := buildMeta(spec.meta)

	var moov []byte
	if len(spec.traks) > 0 {
		moov = mkbox("moov", concatBoxes(spec.traks...))
	}

	var buf bytes.Buffer
	buf.Write(ftypBox)
	buf.Write(metaBox)
	if moov != nil {
		buf.Write(moov)
	}

	mdatPayloadStart := uint32(buf.Len() + 8)

	var mdatBody bytes.Buffer
	itemOffsets := make([]uint32, len(spec.itemPayloads))
	for i, p := range spec.itemPayloads {
		itemOffsets[i] = mdatPayloadStart + uint32(mdatBody.Len())
		mdatBody.Write(p)
	}
	var sampleOffset0 uint32
	if len(spec.samplePayloads) > 0 {
		sampleOffset0 = mdatPayloadStart + uint32(mdatBody.Len())
		for _, s := range spec.samplePayloads {
			mdatBody.Write(s)
		}
	}
	var alphaSampleOffset0 uint32
	if len(spec.alphaSamplePayloads) > 0 {
		alphaSampleOffset0 = mdatPayloadStart + uint32(mdatBody.Len())
		for _, s := range spec.alphaSamplePayloads {
			mdatBody.Write(s)
		}
	}

	buf.Write(beU32(uint32(8 + mdatBody.Len())))
	buf.Write([]byte("mdat"))
	buf.Write(mdatBody.Bytes())

	out := buf.Bytes()
	for i, slot := range spec.meta.ilocSlots {
		idx := bytes.Index(out, slot.sentinel)
		if idx < 0 {
			panic("fixture: iloc sentinel not found")
		}
		copy(out[idx:idx+4], beU32(itemOffsets[i]))
	}
	if spec.sampleSentinel != nil {
		idx := bytes.Index(out, spec.sampleSentinel)
		if idx < 0 {
			panic("fixture: sample sentinel not found")
		}
		copy(out[idx:idx+4], beU32(sampleOffset0))
	}
	if spec.alphaSampleSentinel != nil {
		idx := bytes.Index(out, spec.alphaSampleSentinel)
		if idx < 0 {
			panic("fixture: alpha sample sentinel not found")
		}
		copy(out[idx:idx+4], beU32(alphaSampleOffset0))
	}
	return out
}

func sentinelFor(n byte) []byte {
	return []byte{0xf0, 0xf0, 0xf0, n}
}

// --- AV1 sequence_header_obu payload construction ---

type bitWriter struct {
	bytes  []byte
	bitPos int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		byteIdx := w.bitPos / 8
		for byteIdx >= len(w.bytes) {
			w.bytes = append(w.bytes, 0)
		}
		if bit != 0 {
			w.bytes[byteIdx] |= 1 << (7 - uint(w.bitPos%8))
		}
		w.bitPos++
	}
}

func seqHeaderPayload(width, height uint32) []byte {
	w := &bitWriter{}
	w.write(0, 3) // seq_profile
	w.write(1, 1) // still_picture
	w.write(1, 1) // reduced_still_picture_header
	w.write(0, 5) // seq_level_idx[0]
	w.write(uint64(bitWidth(width-1)-1), 4)
	w.write(uint64(bitWidth(height-1)-1), 4)
	w.write(uint64(width-1), bitWidth(width-1))
	w.write(uint64(height-1), bitWidth(height-1))
	w.write(0, 1) // use_128x128_superblock
	w.write(0, 1) // enable_filter_intra
	w.write(0, 1) // enable_intra_edge_filter
	w.write(0, 1) // enable_superres
	w.write(0, 1) // enable_cdef
	w.write(0, 1) // enable_restoration
	w.write(0, 1) // high_bitdepth
	w.write(0, 1) // mono_chrome
	w.write(0, 1) // color_description_present_flag
	w.write(0, 1) // color_range
	w.write(0, 2) // chroma_sample_position
	w.write(0, 1) // separate_uv_delta_q
	return w.bytes
}

func bitWidth(maxVal uint32) int {
	n := 1
	for (uint32(1) << uint(n)) <= maxVal {
		n++
	}
	return n
}

func wrapOBU(obuType uint8, payload []byte) []byte {
	hdr := byte(obuType<<3) | 0x02
	out := []byte{hdr, byte(len(payload))}
	return append(out, payload...)
}

func av01Payload(width, height uint32) []byte {
	return wrapOBU(1, seqHeaderPayload(width, height))
}
