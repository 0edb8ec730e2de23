package goavif

import (
	"errors"
	"fmt"

	"github.com/jdeng/goavif/bmff"
	"github.com/jdeng/goavif/resource"
	"github.com/jdeng/goavif/stop"
)

// Kind discriminates the category of a parse or data-access failure.
type Kind int

const (
	// KindInvalidData is a well-defined malformation: missing required
	// box, size/offset overflow, bounds violation, structural
	// contradiction. Non-retriable.
	KindInvalidData Kind = iota
	// KindUnsupported is a well-formed but intentionally unhandled
	// feature: construction_method=Item, protected items, unknown
	// iloc/infe/iref versions.
	KindUnsupported
	// KindUnexpectedEOF is a short read during a box header or
	// declared-length content.
	KindUnexpectedEOF
	// KindIo is an underlying reader error during FromReader.
	KindIo
	// KindOutOfMemory is a fallible allocation failure.
	KindOutOfMemory
	// KindResourceLimitExceeded means a configured quota was tripped.
	KindResourceLimitExceeded
	// KindStopped means a stop.Stop reported cancellation or a deadline.
	KindStopped
	// KindNoMoov is retained for legacy compatibility; the core never
	// raises it (AVIF doesn't require moov).
	KindNoMoov
)

func (k Kind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid data"
	case KindUnsupported:
		return "unsupported"
	case KindUnexpectedEOF:
		return "unexpected eof"
	case KindIo:
		return "io"
	case KindOutOfMemory:
		return "out of memory"
	case KindResourceLimitExceeded:
		return "resource limit exceeded"
	case KindStopped:
		return "stopped"
	case KindNoMoov:
		return "no moov"
	default:
		return "unknown"
	}
}

// Error is the single error type this package returns. Callers match on
// Kind (directly, or via errors.Is against the Err* sentinels below)
// rather than parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("goavif: %s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("goavif: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is a sentinel for this error's Kind, so
// errors.Is(err, goavif.ErrInvalidData) works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Kind == e.Kind && t.Msg == ""
}

// Sentinels for errors.Is against a Kind without caring about the message.
var (
	ErrInvalidData          = &Error{Kind: KindInvalidData}
	ErrUnsupported          = &Error{Kind: KindUnsupported}
	ErrUnexpectedEOF        = &Error{Kind: KindUnexpectedEOF}
	ErrIo                   = &Error{Kind: KindIo}
	ErrOutOfMemory          = &Error{Kind: KindOutOfMemory}
	ErrResourceLimitExceeded = &Error{Kind: KindResourceLimitExceeded}
	ErrStopped              = &Error{Kind: KindStopped}
	ErrNoMoov               = &Error{Kind: KindNoMoov}
)

func invalidDataf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidData, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupported, Msg: fmt.Sprintf(format, args...)}
}

func resourceLimitExceeded(msg string, err error) *Error {
	return &Error{Kind: KindResourceLimitExceeded, Msg: msg, err: err}
}

func ioErrorf(err error) *Error {
	return &Error{Kind: KindIo, Msg: "read failed", err: err}
}

// wrapBmffErr translates an error from the bmff package (which only knows
// errInvalidData/errUnsupported, to avoid an import cycle on this
// package's Error type) into the matching goavif.Error Kind.
func wrapBmffErr(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case bmff.IsInvalidData(err):
		return &Error{Kind: KindInvalidData, Msg: err.Error()}
	case bmff.IsUnsupported(err):
		return &Error{Kind: KindUnsupported, Msg: err.Error()}
	default:
		return &Error{Kind: KindUnexpectedEOF, Msg: err.Error()}
	}
}

// wrapResourceErr translates a resource.LimitExceededError into a
// goavif.Error.
func wrapResourceErr(err error) error {
	if err == nil {
		return nil
	}
	var lim *resource.LimitExceededError
	if errors.As(err, &lim) {
		return resourceLimitExceeded(lim.Error(), err)
	}
	return err
}

// wrapStopErr translates a stop.StoppedError into a goavif.Error.
func wrapStopErr(err error) error {
	if err == nil {
		return nil
	}
	var se *stop.StoppedError
	if errors.As(err, &se) {
		return &Error{Kind: KindStopped, Msg: se.Reason.String()}
	}
	return err
}
