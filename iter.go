package goavif

import "iter"

// FrameIter walks an animation's frames in order. It is a pure function
// of the Parser's state (restartable via Parser.Frames), with a finite,
// known-in-advance length reported by Len.
type FrameIter struct {
	p   *Parser
	idx int
	n   int
	err error
}

// Frames returns a fresh FrameIter over this parser's animation frames
// (length 0 if the file carries no animation).
func (p *Parser) Frames() *FrameIter {
	return &FrameIter{p: p, n: p.FrameCount()}
}

// Len reports how many frames remain to be yielded by Next.
func (it *FrameIter) Len() int { return it.n - it.idx }

// Next returns the next frame, or ok=false once the sequence is
// exhausted. Every 16 frames it polls the parser's configured stop token
// (per spec.md §4.10's "at least every 16 frames" checkpoint), returning
// ok=false if cancellation was requested; callers that need to
// distinguish "done" from "cancelled" should check Err afterward.
func (it *FrameIter) Next() (FrameData, bool) {
	if it.idx >= it.n {
		return FrameData{}, false
	}
	if it.idx%16 == 0 {
		if err := it.p.cfg.stopToken().Check(); err != nil {
			it.err = wrapStopErr(err)
			it.idx = it.n
			return FrameData{}, false
		}
	}
	fd, err := it.p.Frame(it.idx)
	it.idx++
	if err != nil {
		it.err = err
		return FrameData{}, false
	}
	return fd, true
}

// Err returns the error (if any) that caused Next to stop early, either a
// resolution failure or a Stopped error from the cancellation checkpoint.
func (it *FrameIter) Err() error { return it.err }

// All returns a range-over-func iterator (iter.Seq[FrameData]) over the
// remaining frames, for `for fd := range it.All() { ... }`.
func (it *FrameIter) All() iter.Seq[FrameData] {
	return func(yield func(FrameData) bool) {
		for {
			fd, ok := it.Next()
			if !ok {
				return
			}
			if !yield(fd) {
				return
			}
		}
	}
}
