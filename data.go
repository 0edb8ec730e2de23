package goavif

// Data is a view of item or frame bytes. Borrowed views share the parser's
// backing buffer (same underlying array as the caller's input, or the
// buffer FromReader read into); Owned views are freshly allocated because
// an item's extents had to be concatenated. A single-extent idat item is
// borrowed too, as a subslice of the idat payload.
//
// A Data value's Bytes slice must not outlive the Parser it came from:
// the parser is the sole owner of the backing buffer, and this type is a
// weak (offset, length) view into it, not an independent copy-on-write
// buffer.
type Data struct {
	bytes []byte
	owned bool
}

// Bytes returns the view's bytes. Do not retain this slice past the
// lifetime of the Parser it was obtained from.
func (d Data) Bytes() []byte { return d.bytes }

// Owned reports whether this view was freshly allocated (multi-extent
// concatenation) rather than borrowed from the parser's backing buffer.
func (d Data) Owned() bool { return d.owned }

// Len returns len(d.Bytes()).
func (d Data) Len() int { return len(d.bytes) }

func borrowedData(b []byte) Data { return Data{bytes: b} }
func ownedData(b []byte) Data    { return Data{bytes: b, owned: true} }
