// Package storage defines the abstract byte-addressable container that the
// LI codec and UBAE dictionary are built on. A Backend is intentionally
// small: it only needs to grow, shrink, and hand out copies or bounded
// views of itself. Concurrency control lives above this layer — see
// rbae.Server and arbae.Server, which guard their shared ubae.Dict (and so
// its Backend) with a single mutex.
package storage

import (
	"errors"
	"fmt"
	"io"
)

// ErrOutOfBounds is returned when a range argument violates
// 0 <= start <= end <= Size().
var ErrOutOfBounds = errors.New("storage: range out of bounds")

// Backend is the capability set required of any byte container usable by
// the LI codec: size, whole-content replace/read, append (direct or
// streamed), a physical delete of a byte range, and byte-copy/zero-copy
// views of a range.
type Backend interface {
	// Size returns the current content length in bytes.
	Size() (int64, error)
	// SetContent replaces the entire backend content with b.
	SetContent(b []byte) error
	// GetContent returns a copy of the entire backend content.
	GetContent() ([]byte, error)
	// Append grows the backend by appending b to the end.
	Append(b []byte) error
	// AppendStream reads exactly n bytes from src and appends them. If src
	// yields fewer than n bytes before returning an error, the backend may
	// be left with a short, unindexed tail — see li.Codec.EncodeStream.
	AppendStream(src io.Reader, n int64) error
	// Delete physically removes the half-open byte range [start, end),
	// shifting any following bytes left and truncating. Requires
	// 0 <= start <= end <= Size().
	Delete(start, end int64) error
	// Subarray returns a copy of the half-open byte range [start, end).
	Subarray(start, end int64) ([]byte, error)
	// Substream returns a lazy, read-only view of [start, end) that does
	// not hold an exclusive handle on the backend; concurrent writes to
	// the backend may disturb reads from the returned stream (documented
	// hazard, required for zero-copy streaming — see spec §9).
	Substream(start, end int64) (*Substream, error)
}

func boundsError(start, end, size int64) error {
	return fmt.Errorf("%w: start=%d end=%d size=%d", ErrOutOfBounds, start, end, size)
}

func checkBounds(start, end, size int64) error {
	if start < 0 || end < start || end > size {
		return boundsError(start, end, size)
	}
	return nil
}
