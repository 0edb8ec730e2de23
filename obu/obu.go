// Package obu parses the AV1 sequence header OBU — the subset of the AV1
// bitstream needed to report basic properties (profile, bit depth,
// monochrome, max frame dimensions) without decoding any pixels.
package obu

import "fmt"

// Metadata is the set of AV1 sequence-header fields this parser exposes.
type Metadata struct {
	// StillPicture is true for a single still image rather than a coded
	// video sequence.
	StillPicture bool
	// SeqProfile is 0, 1, or 2 (increasing chroma/bit-depth complexity).
	SeqProfile uint8
	// MaxFrameWidth and MaxFrameHeight are the maximum coded dimensions
	// any frame referencing this sequence header may use.
	MaxFrameWidth, MaxFrameHeight uint32
	// BitDepth is 8, 10, or 12.
	BitDepth uint8
	Monochrome bool
	// ChromaSubsamplingX/Y are true when chroma is subsampled on that
	// axis (false means full resolution on that axis).
	ChromaSubsamplingX, ChromaSubsamplingY bool
}

const obuTypeSequenceHeader = 1

// ParseSequenceHeader scans data for an OBU sequence header and parses it.
// data is typically the start of an AV1 "Low overhead bitstream format"
// payload — a sequence of OBUs each led by a 1-2 byte header.
func ParseSequenceHeader(data []byte) (Metadata, error) {
	pos := 0
	for pos < len(data) {
		hdr, headerLen, err := parseOBUHeader(data[pos:])
		if err != nil {
			return Metadata{}, err
		}
		payloadStart := pos + headerLen
		payloadLen := hdr.size
		haveSize := hdr.hasSizeField
		if !haveSize {
			// Without an explicit size field we assume the remainder of
			// the buffer is this OBU's payload; sequence headers in AVIF
			// item payloads always carry obu_has_size_field=1, but this
			// keeps the scan total rather than erroring on an
			// unexpected encoder.
			payloadLen = uint64(len(data) - payloadStart)
		}
		end := payloadStart + int(payloadLen)
		if end > len(data) || payloadStart > len(data) {
			return Metadata{}, fmt.Errorf("obu: truncated obu payload")
		}
		if hdr.obuType == obuTypeSequenceHeader {
			return parseSequenceHeaderPayload(data[payloadStart:end])
		}
		pos = end
	}
	return Metadata{}, fmt.Errorf("obu: no sequence header obu found")
}

type obuHeader struct {
	obuType      uint8
	hasSizeField bool
	size         uint64
}

func parseOBUHeader(data []byte) (obuHeader, int, error) {
	if len(data) < 1 {
		return obuHeader{}, 0, fmt.Errorf("obu: truncated obu header")
	}
	b0 := data[0]
	forbidden := b0 >> 7
	if forbidden != 0 {
		return obuHeader{}, 0, fmt.Errorf("obu: forbidden bit set")
	}
	obuType := (b0 >> 3) & 0x0f
	extFlag := (b0 >> 2) & 1
	hasSize := (b0 >> 1) & 1
	n := 1
	if extFlag != 0 {
		n = 2
		if len(data) < 2 {
			return obuHeader{}, 0, fmt.Errorf("obu: truncated obu extension header")
		}
	}
	hdr := obuHeader{obuType: obuType, hasSizeField: hasSize != 0}
	if hdr.hasSizeField {
		size, leb, err := readLEB128(data[n:])
		if err != nil {
			return obuHeader{}, 0, err
		}
		hdr.size = size
		n += leb
	}
	return hdr, n, nil
}

func readLEB128(data []byte) (uint64, int, error) {
	var value uint64
	for i := 0; i < 8; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("obu: truncated leb128")
		}
		b := data[i]
		value |= uint64(b&0x7f) << (i * 7)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("obu: leb128 too long")
}

// bitReader reads MSB-first bits out of a byte slice, per AV1's f(n)
// bit-reading convention.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func (r *bitReader) f(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		byteIdx := r.pos / 8
		if byteIdx >= len(r.data) {
			return 0, fmt.Errorf("obu: truncated bitstream")
		}
		bitIdx := 7 - (r.pos % 8)
		bit := (r.data[byteIdx] >> bitIdx) & 1
		v = v<<1 | uint64(bit)
		r.pos++
	}
	return v, nil
}

const (
	selectScreenContentTools = 2
	selectIntegerMV          = 2
	cpBT709                  = 1
	tcSRGB                   = 13
	mcIdentity               = 0
)

// parseSequenceHeaderPayload implements the subset of AV1 section 5.5
// (sequence_header_obu) needed to reach color_config(), following the
// field order in the AV1 bitstream specification exactly (every field
// read here affects the bit position of the next, so none can be
// skipped even though most aren't reported in Metadata).
func parseSequenceHeaderPayload(data []byte) (Metadata, error) {
	r := &bitReader{data: data}
	var m Metadata

	seqProfile, err := r.f(3)
	if err != nil {
		return Metadata{}, err
	}
	m.SeqProfile = uint8(seqProfile)

	stillPicture, err := r.f(1)
	if err != nil {
		return Metadata{}, err
	}
	m.StillPicture = stillPicture != 0

	reducedStillPictureHeader, err := r.f(1)
	if err != nil {
		return Metadata{}, err
	}

	if reducedStillPictureHeader != 0 {
		if _, err := r.f(5); err != nil { // seq_level_idx[0]
			return Metadata{}, err
		}
	} else {
		timingInfoPresent, err := r.f(1)
		if err != nil {
			return Metadata{}, err
		}
		decoderModelInfoPresent := uint64(0)
		if timingInfoPresent != 0 {
			if _, err := r.f(32); err != nil { // num_units_in_display_tick
				return Metadata{}, err
			}
			if _, err := r.f(32); err != nil { // time_scale
				return Metadata{}, err
			}
			equalPictureInterval, err := r.f(1)
			if err != nil {
				return Metadata{}, err
			}
			if equalPictureInterval != 0 {
				if err := skipUVLC(r); err != nil {
					return Metadata{}, err
				}
			}
			decoderModelInfoPresent, err = r.f(1)
			if err != nil {
				return Metadata{}, err
			}
			if decoderModelInfoPresent != 0 {
				if _, err := r.f(5); err != nil { // buffer_delay_length_minus_1
					return Metadata{}, err
				}
				if _, err := r.f(32); err != nil { // num_units_in_decoding_tick
					return Metadata{}, err
				}
				if _, err := r.f(5); err != nil { // buffer_removal_time_length_minus_1
					return Metadata{}, err
				}
				if _, err := r.f(5); err != nil { // frame_presentation_time_length_minus_1
					return Metadata{}, err
				}
			}
		}
		initialDisplayDelayPresent, err := r.f(1)
		if err != nil {
			return Metadata{}, err
		}
		opCountMinus1, err := r.f(5)
		if err != nil {
			return Metadata{}, err
		}
		for i := uint64(0); i <= opCountMinus1; i++ {
			if _, err := r.f(12); err != nil { // operating_point_idc[i]
				return Metadata{}, err
			}
			seqLevelIdx, err := r.f(5)
			if err != nil {
				return Metadata{}, err
			}
			if seqLevelIdx > 7 {
				if _, err := r.f(1); err != nil { // seq_tier[i]
					return Metadata{}, err
				}
			}
			if decoderModelInfoPresent != 0 {
				present, err := r.f(1)
				if err != nil {
					return Metadata{}, err
				}
				if present != 0 {
					// Widths depend on buffer_delay_length_minus_1, which
					// this reduced parser does not retain; sequence
					// headers with decoder_model_info_present are
					// exceedingly rare in still-image AVIF items, and
					// this path is only reached when one appears, so we
					// fail closed rather than mis-parse silently.
					return Metadata{}, fmt.Errorf("obu: decoder_model_info_present_flag not supported")
				}
			}
			if initialDisplayDelayPresent != 0 {
				present, err := r.f(1)
				if err != nil {
					return Metadata{}, err
				}
				if present != 0 {
					if _, err := r.f(4); err != nil {
						return Metadata{}, err
					}
				}
			}
		}
	}

	frameWidthBitsMinus1, err := r.f(4)
	if err != nil {
		return Metadata{}, err
	}
	frameHeightBitsMinus1, err := r.f(4)
	if err != nil {
		return Metadata{}, err
	}
	maxFrameWidthMinus1, err := r.f(int(frameWidthBitsMinus1) + 1)
	if err != nil {
		return Metadata{}, err
	}
	maxFrameHeightMinus1, err := r.f(int(frameHeightBitsMinus1) + 1)
	if err != nil {
		return Metadata{}, err
	}
	m.MaxFrameWidth = uint32(maxFrameWidthMinus1) + 1
	m.MaxFrameHeight = uint32(maxFrameHeightMinus1) + 1
	if m.MaxFrameWidth == 0 || m.MaxFrameHeight == 0 {
		return Metadata{}, fmt.Errorf("obu: zero max frame dimension")
	}

	frameIDNumbersPresent := uint64(0)
	if reducedStillPictureHeader == 0 {
		frameIDNumbersPresent, err = r.f(1)
		if err != nil {
			return Metadata{}, err
		}
	}
	if frameIDNumbersPresent != 0 {
		if _, err := r.f(4); err != nil { // delta_frame_id_length_minus_2
			return Metadata{}, err
		}
		if _, err := r.f(3); err != nil { // additional_frame_id_length_minus_1
			return Metadata{}, err
		}
	}

	if _, err := r.f(1); err != nil { // use_128x128_superblock
		return Metadata{}, err
	}
	if _, err := r.f(1); err != nil { // enable_filter_intra
		return Metadata{}, err
	}
	if _, err := r.f(1); err != nil { // enable_intra_edge_filter
		return Metadata{}, err
	}

	enableOrderHint := uint64(0)
	if reducedStillPictureHeader == 0 {
		if _, err := r.f(1); err != nil { // enable_interintra_compound
			return Metadata{}, err
		}
		if _, err := r.f(1); err != nil { // enable_masked_compound
			return Metadata{}, err
		}
		if _, err := r.f(1); err != nil { // enable_warped_motion
			return Metadata{}, err
		}
		if _, err := r.f(1); err != nil { // enable_dual_filter
			return Metadata{}, err
		}
		enableOrderHint, err = r.f(1)
		if err != nil {
			return Metadata{}, err
		}
		if enableOrderHint != 0 {
			if _, err := r.f(1); err != nil { // enable_jnt_comp
				return Metadata{}, err
			}
			if _, err := r.f(1); err != nil { // enable_ref_frame_mvs
				return Metadata{}, err
			}
		}
		seqChooseScreenContentTools, err := r.f(1)
		if err != nil {
			return Metadata{}, err
		}
		seqForceScreenContentTools := uint64(selectScreenContentTools)
		if seqChooseScreenContentTools == 0 {
			seqForceScreenContentTools, err = r.f(1)
			if err != nil {
				return Metadata{}, err
			}
		}
		if seqForceScreenContentTools > 0 {
			seqChooseIntegerMV, err := r.f(1)
			if err != nil {
				return Metadata{}, err
			}
			if seqChooseIntegerMV == 0 {
				if _, err := r.f(1); err != nil { // seq_force_integer_mv
					return Metadata{}, err
				}
			}
		}
		if enableOrderHint != 0 {
			if _, err := r.f(3); err != nil { // order_hint_bits_minus_1
				return Metadata{}, err
			}
		}
	}

	if _, err := r.f(1); err != nil { // enable_superres
		return Metadata{}, err
	}
	if _, err := r.f(1); err != nil { // enable_cdef
		return Metadata{}, err
	}
	if _, err := r.f(1); err != nil { // enable_restoration
		return Metadata{}, err
	}

	if err := parseColorConfig(r, &m); err != nil {
		return Metadata{}, err
	}

	return m, nil
}

func parseColorConfig(r *bitReader, m *Metadata) error {
	highBitdepth, err := r.f(1)
	if err != nil {
		return err
	}
	switch {
	case m.SeqProfile == 2 && highBitdepth != 0:
		twelveBit, err := r.f(1)
		if err != nil {
			return err
		}
		if twelveBit != 0 {
			m.BitDepth = 12
		} else {
			m.BitDepth = 10
		}
	default:
		if highBitdepth != 0 {
			m.BitDepth = 10
		} else {
			m.BitDepth = 8
		}
	}

	monoChrome := uint64(0)
	if m.SeqProfile != 1 {
		monoChrome, err = r.f(1)
		if err != nil {
			return err
		}
	}
	m.Monochrome = monoChrome != 0

	colorDescPresent, err := r.f(1)
	if err != nil {
		return err
	}
	colorPrimaries := uint64(2)
	transferCharacteristics := uint64(2)
	matrixCoefficients := uint64(2)
	if colorDescPresent != 0 {
		colorPrimaries, err = r.f(8)
		if err != nil {
			return err
		}
		transferCharacteristics, err = r.f(8)
		if err != nil {
			return err
		}
		matrixCoefficients, err = r.f(8)
		if err != nil {
			return err
		}
	}

	if m.Monochrome {
		if _, err := r.f(1); err != nil { // color_range
			return err
		}
		m.ChromaSubsamplingX = true
		m.ChromaSubsamplingY = true
		return nil
	}

	if colorPrimaries == cpBT709 && transferCharacteristics == tcSRGB && matrixCoefficients == mcIdentity {
		m.ChromaSubsamplingX = false
		m.ChromaSubsamplingY = false
		return nil
	}

	if _, err := r.f(1); err != nil { // color_range
		return err
	}
	switch m.SeqProfile {
	case 0:
		m.ChromaSubsamplingX = true
		m.ChromaSubsamplingY = true
	case 1:
		m.ChromaSubsamplingX = false
		m.ChromaSubsamplingY = false
	default:
		if m.BitDepth == 12 {
			x, err := r.f(1)
			if err != nil {
				return err
			}
			m.ChromaSubsamplingX = x != 0
			if m.ChromaSubsamplingX {
				y, err := r.f(1)
				if err != nil {
					return err
				}
				m.ChromaSubsamplingY = y != 0
			}
		} else {
			m.ChromaSubsamplingX = true
			m.ChromaSubsamplingY = false
		}
	}
	if m.ChromaSubsamplingX && m.ChromaSubsamplingY {
		if _, err := r.f(2); err != nil { // chroma_sample_position
			return err
		}
	}
	if _, err := r.f(1); err != nil { // separate_uv_delta_q
		return err
	}
	return nil
}

// skipUVLC consumes one uvlc()-coded value without returning it.
func skipUVLC(r *bitReader) error {
	leadingZeros := 0
	for {
		b, err := r.f(1)
		if err != nil {
			return err
		}
		if b != 0 {
			break
		}
		leadingZeros++
		if leadingZeros >= 32 {
			return fmt.Errorf("obu: uvlc value too large")
		}
	}
	if leadingZeros >= 32 {
		return nil
	}
	if _, err := r.f(leadingZeros); err != nil {
		return err
	}
	return nil
}
