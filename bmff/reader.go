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
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrEndOfBoxes is returned by Reader.NextBox when no bytes remain at the
// current nesting level. It is not a parse error.
var ErrEndOfBoxes = errors.New("bmff: end of boxes")

// BoxHeader is the fixed-size preamble common to every ISOBMFF box.
type BoxHeader struct {
	Type FourCC
	// TotalSize is the box's declared size, including the header. A value
	// of 0 at the top level means "runs to end of input".
	TotalSize  uint64
	HeaderSize uint64
	UUID       *[16]byte
}

// Box is a box header plus the absolute byte range of its body within the
// Reader's backing buffer.
type Box struct {
	Header BoxHeader
	// Start is the absolute offset of the box header's first byte.
	Start int64
	// BodyStart is the absolute offset where the box body begins.
	BodyStart int64
	// BodyEnd is the absolute offset one past the box body's last byte, or
	// -1 if the box runs to the end of the input (the size==0 sentinel).
	BodyEnd int64
}

// ToEnd reports whether the box runs to the end of the input rather than
// having a declared end offset.
func (b Box) ToEnd() bool { return b.BodyEnd < 0 }

// Reader walks a sequence of sibling boxes over a byte slice, tracking the
// current absolute offset. Unlike a streaming io.Reader, it never consumes
// input it cannot give back: all extents are absolute offsets into the same
// backing slice that the parser keeps around for zero-copy access.
type Reader struct {
	data []byte
	pos  int64
}

// NewReader returns a Reader over the full extent of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// NewBoundedReader returns a Reader scoped to data[start:end].
// end < 0 means "to the end of data".
func NewBoundedReader(data []byte, start, end int64) (*Reader, error) {
	if start < 0 || start > int64(len(data)) {
		return nil, fmt.Errorf("bmff: bounded reader start %d out of range", start)
	}
	if end >= 0 {
		if end < start || end > int64(len(data)) {
			return nil, fmt.Errorf("bmff: bounded reader end %d out of range", end)
		}
		return &Reader{data: data[:end], pos: start}, nil
	}
	return &Reader{data: data, pos: start}, nil
}

// Offset returns the reader's current absolute offset.
func (r *Reader) Offset() int64 { return r.pos }

// Len returns the number of bytes remaining in the reader's scope.
func (r *Reader) Len() int64 { return int64(len(r.data)) - r.pos }

// AtEnd reports whether no bytes remain.
func (r *Reader) AtEnd() bool { return r.pos >= int64(len(r.data)) }

// SeekTo moves the reader to an absolute offset. It is used to skip over a
// box's body after only part of it (or none of it) has been consumed.
func (r *Reader) SeekTo(offset int64) error {
	if offset < r.pos || offset > int64(len(r.data)) {
		return fmt.Errorf("bmff: seek to %d out of range [%d,%d]", offset, r.pos, len(r.data))
	}
	r.pos = offset
	return nil
}

// Bytes returns the backing slice for the absolute range [start, end),
// bounds-checked against the reader's full backing buffer.
func (r *Reader) Bytes(start, end int64) ([]byte, error) {
	return sliceRange(r.data, start, end)
}

// sliceRange returns data[start:end] after a bounds check, so every box
// parser rejects a malformed or truncated box with InvalidData instead of
// panicking.
func sliceRange(data []byte, start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > int64(len(data)) {
		return nil, fmt.Errorf("bmff: %w: byte range [%d,%d) out of bounds (len=%d)", errInvalidData, start, end, len(data))
	}
	return data[start:end], nil
}

// NextBox reads the next sibling box header at the reader's current
// position. It returns ErrEndOfBoxes, not an error, when the reader is
// exhausted before any header byte is read.
func (r *Reader) NextBox() (Box, error) {
	if r.AtEnd() {
		return Box{}, ErrEndOfBoxes
	}
	start := r.pos
	minSize := int64(8)
	if r.Len() < minSize {
		return Box{}, fmt.Errorf("bmff: truncated box header at offset %d", start)
	}
	size32 := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	var typ FourCC
	copy(typ[:], r.data[r.pos+4:r.pos+8])
	r.pos += 8

	var totalSize uint64
	headerSize := int64(8)
	switch size32 {
	case 0:
		totalSize = 0
	case 1:
		if r.Len() < 8 {
			return Box{}, fmt.Errorf("bmff: truncated largesize for box %q", typ)
		}
		totalSize = binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
		r.pos += 8
		headerSize = 16
		if totalSize < 16 {
			return Box{}, fmt.Errorf("bmff: %w: box %q largesize %d below minimum 16", errInvalidData, typ, totalSize)
		}
	default:
		totalSize = uint64(size32)
		if totalSize < 8 {
			return Box{}, fmt.Errorf("bmff: %w: malformed size", errInvalidData)
		}
	}

	var uuid *[16]byte
	if typ == TypeUuid {
		if r.Len() < 16 {
			return Box{}, fmt.Errorf("bmff: truncated uuid for box at offset %d", start)
		}
		var u [16]byte
		copy(u[:], r.data[r.pos:r.pos+16])
		uuid = &u
		r.pos += 16
		headerSize += 16
	}

	hdr := BoxHeader{Type: typ, TotalSize: totalSize, HeaderSize: uint64(headerSize), UUID: uuid}
	if hdr.HeaderSize > hdr.TotalSize && totalSize != 0 {
		return Box{}, fmt.Errorf("bmff: %w: box %q header size %d exceeds total size %d", errInvalidData, typ, hdr.HeaderSize, hdr.TotalSize)
	}

	box := Box{Header: hdr, Start: start, BodyStart: r.pos}
	if totalSize == 0 {
		box.BodyEnd = -1
	} else {
		end := start + int64(totalSize)
		if end > int64(len(r.data)) {
			return Box{}, fmt.Errorf("bmff: %w: box %q declared size %d exceeds remaining input", errInvalidData, typ, totalSize)
		}
		box.BodyEnd = end
	}
	return box, nil
}

// errInvalidData and errUnsupported are local sentinels so box-reader
// errors can be matched with errors.Is by callers that only have the bmff
// package, without a circular import on the top-level error type. The
// goavif package wraps these into its own Error.Kind via IsInvalidData/
// IsUnsupported.
var (
	errInvalidData = errors.New("invalid data")
	errUnsupported = errors.New("unsupported")
)

// IsInvalidData reports whether err was produced by a malformed-size or
// bounds violation inside the box reader.
func IsInvalidData(err error) bool { return errors.Is(err, errInvalidData) }

// IsUnsupported reports whether err was produced by a well-formed but
// intentionally unhandled feature inside the box reader.
func IsUnsupported(err error) bool { return errors.Is(err, errUnsupported) }

// readUintN reads an n-byte (0, 1, 2, 4, or 8) big-endian unsigned integer.
// A width of 0 decodes as the value 0, per the iloc/ipma "unspecified
// field" convention.
func readUintN(b []byte, n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 1:
		if len(b) < 1 {
			return 0, fmt.Errorf("bmff: short read for 1-byte field")
		}
		return uint64(b[0]), nil
	case 2:
		if len(b) < 2 {
			return 0, fmt.Errorf("bmff: short read for 2-byte field")
		}
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		if len(b) < 4 {
			return 0, fmt.Errorf("bmff: short read for 4-byte field")
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		if len(b) < 8 {
			return 0, fmt.Errorf("bmff: short read for 8-byte field")
		}
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("bmff: invalid field width %d", n)
	}
}

// cursor is a small bounds-checked byte-slice walker used by the box body
// parsers in meta.go, properties.go and moov.go. It plays the role the
// teacher's bufReader plays over a bufio.Reader, but over a resident slice
// so offsets stay meaningful for extent resolution.
type cursor struct {
	data []byte
	pos  int
}

func newCursor(data []byte) *cursor { return &cursor{data: data} }

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, fmt.Errorf("bmff: short read: need %d bytes, have %d", n, c.remaining())
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *cursor) uintN(n int) (uint64, error) {
	b, err := c.take(n)
	if err != nil {
		if n == 0 {
			return 0, nil
		}
		return 0, err
	}
	return readUintN(b, n)
}

func (c *cursor) fourCC() (FourCC, error) {
	b, err := c.take(4)
	if err != nil {
		return FourCC{}, err
	}
	var f FourCC
	copy(f[:], b)
	return f, nil
}

// cstring reads a NUL-terminated string, returning the bytes before the
// NUL. It fails if no NUL is found before the cursor runs out.
func (c *cursor) cstring() ([]byte, error) {
	idx := -1
	for i := c.pos; i < len(c.data); i++ {
		if c.data[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("bmff: unterminated string")
	}
	s := c.data[c.pos:idx]
	c.pos = idx + 1
	return s, nil
}

// rest returns all remaining bytes without consuming them.
func (c *cursor) rest() []byte { return c.data[c.pos:] }
