package goavif

import "github.com/jdeng/goavif/resource"

// resourceTracker wraps resource.Tracker so every call site gets a
// goavif.Error instead of a bare resource.LimitExceededError.
type resourceTracker struct {
	inner *resource.Tracker
}

func newResourceTracker(limits resource.Limits) *resourceTracker {
	return &resourceTracker{inner: resource.NewTracker(limits)}
}

func (t *resourceTracker) reserve(n uint64) error {
	if err := t.inner.Reserve(n); err != nil {
		return wrapResourceErr(err)
	}
	return nil
}

func (t *resourceTracker) release(n uint64) {
	t.inner.Release(n)
}
