package storage

import (
	"fmt"
	"io"
	"os"
)

// File is a Backend over a random-access file on disk. Like Memory, it is
// not safe for concurrent use on its own; the UBAE mutex above it provides
// exclusion (spec §5).
type File struct {
	f *os.File
}

// OpenFile opens (creating if necessary) path as a File backend.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: file: open %s: %w", path, err)
	}
	return &File{f: f}, nil
}

// Close releases the underlying file handle.
func (s *File) Close() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("storage: file: close: %w", err)
	}
	return nil
}

func (s *File) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("storage: file: stat: %w", err)
	}
	return fi.Size(), nil
}

func (s *File) SetContent(b []byte) error {
	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("storage: file: truncate: %w", err)
	}
	if _, err := s.f.WriteAt(b, 0); err != nil {
		return fmt.Errorf("storage: file: write_at: %w", err)
	}
	return nil
}

func (s *File) GetContent() ([]byte, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := s.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: file: read_at: %w", err)
	}
	return buf, nil
}

func (s *File) Append(b []byte) error {
	size, err := s.Size()
	if err != nil {
		return err
	}
	if _, err := s.f.WriteAt(b, size); err != nil {
		return fmt.Errorf("storage: file: append: %w", err)
	}
	return nil
}

func (s *File) AppendStream(src io.Reader, n int64) error {
	if n < 0 {
		return fmt.Errorf("storage: file: append_stream: negative length %d", n)
	}
	size, err := s.Size()
	if err != nil {
		return err
	}
	written, err := io.CopyN(&offsetWriter{f: s.f, off: size}, src, n)
	if err != nil {
		// The tail that was actually written (possibly short) sits past
		// size but is not indexed by any LI record — it is unreachable
		// until overwritten or explicitly truncated, matching spec §7's
		// "half-written stream" error-recovery rule.
		return fmt.Errorf("storage: file: append_stream: wrote %d of %d: %w", written, n, err)
	}
	return nil
}

func (s *File) Delete(start, end int64) error {
	size, err := s.Size()
	if err != nil {
		return err
	}
	if err := checkBounds(start, end, size); err != nil {
		return err
	}
	tail := make([]byte, size-end)
	if len(tail) > 0 {
		if _, err := s.f.ReadAt(tail, end); err != nil && err != io.EOF {
			return fmt.Errorf("storage: file: delete: read tail: %w", err)
		}
		if _, err := s.f.WriteAt(tail, start); err != nil {
			return fmt.Errorf("storage: file: delete: write tail: %w", err)
		}
	}
	if err := s.f.Truncate(start + int64(len(tail))); err != nil {
		return fmt.Errorf("storage: file: delete: truncate: %w", err)
	}
	return nil
}

func (s *File) Subarray(start, end int64) ([]byte, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if err := checkBounds(start, end, size); err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	if _, err := s.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("storage: file: subarray: %w", err)
	}
	return buf, nil
}

func (s *File) Substream(start, end int64) (*Substream, error) {
	size, err := s.Size()
	if err != nil {
		return nil, err
	}
	if err := checkBounds(start, end, size); err != nil {
		return nil, err
	}
	return NewSubstream(s.f, start, end), nil
}

// offsetWriter adapts a fixed starting offset into an io.Writer over a
// ReaderAt-less random-access file, advancing past each write.
type offsetWriter struct {
	f   *os.File
	off int64
}

func (w *offsetWriter) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}
