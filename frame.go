package goavif

import "github.com/jdeng/goavif/bmff"

// FrameData is one animation frame's resolved payload, per §4.8.
type FrameData struct {
	Data       Data
	AlphaData  *Data
	DurationMs uint64
}

// AnimationInfo summarizes an animation sequence's sample table.
type AnimationInfo struct {
	FrameCount     int
	LoopCount      uint32
	MediaTimescale uint32
	HasAlpha       bool
}

// AnimationInfo returns the parsed moov track's summary, or false if the
// file carries no animation (no moov, or no video track within it).
func (p *Parser) AnimationInfo() (AnimationInfo, bool) {
	if p.videoTrack == nil {
		return AnimationInfo{}, false
	}
	return AnimationInfo{
		FrameCount:     len(p.videoTrack.SampleTable.SampleSizes),
		LoopCount:      p.videoTrack.LoopCount,
		MediaTimescale: p.videoTrack.MediaTimescale,
		HasAlpha:       p.alphaTrack != nil,
	}, true
}

// FrameCount returns the number of animation frames, or 0 if the file
// carries no animation.
func (p *Parser) FrameCount() int {
	if p.videoTrack == nil {
		return 0
	}
	return len(p.videoTrack.SampleTable.SampleSizes)
}

// Frame resolves animation frame k per §4.8: sample size from stsz,
// duration from stts, and file offset from stsc/stco|co64. If an alpha
// track is present, the identical computation is repeated against its own
// sample table and attached as a second borrowed slice.
func (p *Parser) Frame(k int) (FrameData, error) {
	if p.videoTrack == nil {
		return FrameData{}, invalidDataf("no animation track")
	}
	data, duration, err := p.resolveFrame(p.videoTrack, k)
	if err != nil {
		return FrameData{}, err
	}
	fd := FrameData{Data: data, DurationMs: duration}
	if p.alphaTrack != nil {
		alphaData, _, err := p.resolveFrame(p.alphaTrack, k)
		if err != nil {
			return FrameData{}, err
		}
		fd.AlphaData = &alphaData
	}
	return fd, nil
}

func (p *Parser) resolveFrame(track *bmff.TrackInfo, k int) (Data, uint64, error) {
	st := track.SampleTable
	if k < 0 || k >= len(st.SampleSizes) {
		return Data{}, 0, invalidDataf("frame index %d out of range [0,%d)", k, len(st.SampleSizes))
	}
	size := st.SampleSizes[k]

	duration := sampleDuration(st.TimeToSample, k, track.MediaTimescale)

	offset, err := sampleOffset(st, k)
	if err != nil {
		return Data{}, 0, err
	}

	b, err := sliceChecked(p.raw, offset, offset+int64(size))
	if err != nil {
		return Data{}, 0, err
	}
	return borrowedData(b), duration, nil
}

// sampleDuration walks time_to_sample run-length entries to find the
// duration (in milliseconds) covering sample k.
func sampleDuration(tts []bmff.TimeToSampleEntry, k int, timescale uint32) uint64 {
	if timescale == 0 {
		return 0
	}
	remaining := k
	for _, e := range tts {
		if remaining < int(e.SampleCount) {
			return uint64(e.SampleDelta) * 1000 / uint64(timescale)
		}
		remaining -= int(e.SampleCount)
	}
	return 0
}

// sampleOffset locates sample k's absolute file offset by walking
// sample_to_chunk to find its chunk, then chunk_offsets for that chunk's
// base, then the prefix sum of sample sizes preceding k within the chunk.
func sampleOffset(st bmff.SampleTable, k int) (int64, error) {
	if len(st.SampleToChunk) == 0 {
		return 0, invalidDataf("empty sample-to-chunk table")
	}

	// Determine which chunk (1-based) holds sample k, and the index of
	// the first sample in that chunk.
	chunk := 1
	firstSampleInChunk := 0
	sample := 0
	for i, entry := range st.SampleToChunk {
		var chunkCountInRun int
		if i+1 < len(st.SampleToChunk) {
			chunkCountInRun = int(st.SampleToChunk[i+1].FirstChunk) - int(entry.FirstChunk)
		} else {
			if int(entry.SamplesPerChunk) == 0 {
				return 0, invalidDataf("zero samples per chunk")
			}
			remainingSamples := len(st.SampleSizes) - sample
			chunkCountInRun = (remainingSamples + int(entry.SamplesPerChunk) - 1) / int(entry.SamplesPerChunk)
			if chunkCountInRun < 1 {
				chunkCountInRun = 1
			}
		}
		samplesInRun := chunkCountInRun * int(entry.SamplesPerChunk)
		if k < sample+samplesInRun {
			offsetInRun := k - sample
			chunk = int(entry.FirstChunk) + offsetInRun/int(entry.SamplesPerChunk)
			firstSampleInChunk = sample + (offsetInRun/int(entry.SamplesPerChunk))*int(entry.SamplesPerChunk)
			sample = -1 // sentinel: found
			break
		}
		sample += samplesInRun
	}
	if sample != -1 {
		return 0, invalidDataf("sample %d not covered by sample-to-chunk table", k)
	}

	if chunk < 1 || chunk > len(st.ChunkOffsets) {
		return 0, invalidDataf("chunk index %d out of range [1,%d]", chunk, len(st.ChunkOffsets))
	}
	base := int64(st.ChunkOffsets[chunk-1])

	var prefix int64
	for s := firstSampleInChunk; s < k; s++ {
		if s < 0 || s >= len(st.SampleSizes) {
			return 0, invalidDataf("sample index %d out of range", s)
		}
		prefix += int64(st.SampleSizes[s])
	}
	return base + prefix, nil
}
