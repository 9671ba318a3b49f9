package storage

import "io"

// substreamSource is the minimal random-access read capability a Backend
// implementation must expose to back a Substream (ReadAt avoids requiring
// a dedicated file handle/seek position per view).
type substreamSource interface {
	ReadAt(p []byte, off int64) (int, error)
}

// Substream is a bounded, read-only view over [start, end) of a
// substreamSource. It carries its own read cursor and does not extend the
// lifetime of (or lock) the underlying backend — concurrent writes to the
// backend may disturb what a Substream reads, which is a documented hazard
// required for zero-copy streaming (spec §9).
type Substream struct {
	src   substreamSource
	start int64
	end   int64
	pos   int64
}

// NewSubstream constructs a Substream over [start, end) of src.
func NewSubstream(src substreamSource, start, end int64) *Substream {
	return &Substream{src: src, start: start, end: end, pos: start}
}

// Len returns the number of unread bytes remaining in the view.
func (s *Substream) Len() int64 {
	return s.end - s.pos
}

// Read implements io.Reader, bounded to the view's [start, end) range.
func (s *Substream) Read(p []byte) (int, error) {
	remaining := s.end - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.src.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}
