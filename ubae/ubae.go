// Package ubae implements the tag-addressable dictionary built from pairs
// of LI records: (tag, payload). See spec.md §3/§4.2.
package ubae

import (
	"fmt"
	"io"

	"github.com/mickamy/tagvault/li"
	"github.com/mickamy/tagvault/storage"
)

// Dict is a UBAE tag dictionary over a storage backend. All operations
// begin by resetting the read cursor and performing a linear probe, as
// spec.md §4.2 requires; there is no secondary index.
type Dict struct {
	codec *li.Codec
}

// New wraps backend as a UBAE dictionary.
func New(backend storage.Backend) *Dict {
	return &Dict{codec: li.New(backend)}
}

// SetContent replaces the dictionary's entire backing content.
func (d *Dict) SetContent(b []byte) error {
	return d.codec.SetContent(b)
}

// GetContent returns a copy of the dictionary's entire backing content.
func (d *Dict) GetContent() ([]byte, error) {
	return d.codec.GetContent()
}

// Exists reports whether tag has an entry.
func (d *Dict) Exists(tag string) (bool, error) {
	d.codec.Reset()
	tagBytes := []byte(tag)
	for {
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return false, nil
			}
			return false, fmt.Errorf("ubae: exists: %w", err)
		}
		if _, err := d.codec.SkipNext(); err != nil {
			return false, fmt.Errorf("ubae: exists: %w", err)
		}
		if string(decodedTag) == string(tagBytes) {
			return true, nil
		}
	}
}

// Length returns the payload length for tag, or -1 if absent.
func (d *Dict) Length(tag string) (int64, error) {
	d.codec.Reset()
	for {
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return -1, nil
			}
			return -1, fmt.Errorf("ubae: length: %w", err)
		}
		length, err := d.codec.SkipNext()
		if err != nil {
			return -1, fmt.Errorf("ubae: length: %w", err)
		}
		if string(decodedTag) == tag {
			return length, nil
		}
	}
}

// Get returns the payload for tag, or (nil, false) if absent.
func (d *Dict) Get(tag string) ([]byte, bool, error) {
	d.codec.Reset()
	for {
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("ubae: get: %w", err)
		}
		if string(decodedTag) == tag {
			payload, err := d.codec.DecodeNext()
			if err != nil {
				return nil, false, fmt.Errorf("ubae: get: %w", err)
			}
			return payload, true, nil
		}
		if _, err := d.codec.SkipNext(); err != nil {
			return nil, false, fmt.Errorf("ubae: get: %w", err)
		}
	}
}

// GetStream returns a zero-copy view of tag's payload and its length, or
// (nil, 0, false) if absent.
func (d *Dict) GetStream(tag string) (*storage.Substream, int64, bool, error) {
	d.codec.Reset()
	for {
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return nil, 0, false, nil
			}
			return nil, 0, false, fmt.Errorf("ubae: get_stream: %w", err)
		}
		if string(decodedTag) == tag {
			sub, length, err := d.codec.DecodeNextStream()
			if err != nil {
				return nil, 0, false, fmt.Errorf("ubae: get_stream: %w", err)
			}
			return sub, length, true, nil
		}
		if _, err := d.codec.SkipNext(); err != nil {
			return nil, 0, false, fmt.Errorf("ubae: get_stream: %w", err)
		}
	}
}

// Delete removes tag's entry and returns its payload, or (nil, false) if
// absent. Physically compacts the backend.
func (d *Dict) Delete(tag string) ([]byte, bool, error) {
	d.codec.Reset()
	for {
		tagStart := d.codec.ReadPointer()
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("ubae: delete: %w", err)
		}
		if string(decodedTag) == tag {
			payload, err := d.codec.DecodeNext()
			if err != nil {
				return nil, false, fmt.Errorf("ubae: delete: %w", err)
			}
			recordEnd := d.codec.ReadPointer()
			if err := d.codec.Backend().Delete(tagStart, recordEnd); err != nil {
				return nil, false, fmt.Errorf("ubae: delete: %w", err)
			}
			return payload, true, nil
		}
		if _, err := d.codec.SkipNext(); err != nil {
			return nil, false, fmt.Errorf("ubae: delete: %w", err)
		}
	}
}

// DeleteNoReturn removes tag's entry without returning its payload, and
// reports whether anything was removed.
func (d *Dict) DeleteNoReturn(tag string) (bool, error) {
	_, found, err := d.Delete(tag)
	return found, err
}

// Add writes (tag, content), first deleting any existing entry for tag so
// every tag remains unique, as spec.md §4.2 requires of the add path.
func (d *Dict) Add(tag string, content []byte) error {
	if _, err := d.DeleteNoReturn(tag); err != nil {
		return fmt.Errorf("ubae: add: %w", err)
	}
	if err := d.codec.Encode([]byte(tag)); err != nil {
		return fmt.Errorf("ubae: add: tag: %w", err)
	}
	if err := d.codec.Encode(content); err != nil {
		return fmt.Errorf("ubae: add: content: %w", err)
	}
	return nil
}

// AddNoCheck writes (tag, content) without the preceding delete. The
// caller warrants tag does not already exist; violating that warrant does
// not corrupt the store, but the second occurrence becomes unreachable by
// Get/Delete (it still surfaces via GetTags/Iterate) — see spec.md §4.2.
func (d *Dict) AddNoCheck(tag string, content []byte) error {
	if err := d.codec.Encode([]byte(tag)); err != nil {
		return fmt.Errorf("ubae: add_nocheck: tag: %w", err)
	}
	if err := d.codec.Encode(content); err != nil {
		return fmt.Errorf("ubae: add_nocheck: content: %w", err)
	}
	return nil
}

// AddFromStream is the streaming counterpart of Add.
func (d *Dict) AddFromStream(tag string, src io.Reader, n int64) error {
	if _, err := d.DeleteNoReturn(tag); err != nil {
		return fmt.Errorf("ubae: add_from_stream: %w", err)
	}
	if err := d.codec.Encode([]byte(tag)); err != nil {
		return fmt.Errorf("ubae: add_from_stream: tag: %w", err)
	}
	if err := d.codec.EncodeStream(src, n); err != nil {
		return fmt.Errorf("ubae: add_from_stream: content: %w", err)
	}
	return nil
}

// AddFromStreamNoCheck is the streaming counterpart of AddNoCheck.
func (d *Dict) AddFromStreamNoCheck(tag string, src io.Reader, n int64) error {
	if err := d.codec.Encode([]byte(tag)); err != nil {
		return fmt.Errorf("ubae: add_from_stream_nocheck: tag: %w", err)
	}
	if err := d.codec.EncodeStream(src, n); err != nil {
		return fmt.Errorf("ubae: add_from_stream_nocheck: content: %w", err)
	}
	return nil
}

// GetTags returns every tag in the dictionary, in on-disk (insertion)
// order, collecting the first record (the tag) of each record pair; a tag
// duplicated via AddNoCheck appears once per pair.
func (d *Dict) GetTags() ([]string, error) {
	d.codec.Reset()
	var tags []string
	for {
		decodedTag, err := d.codec.DecodeNext()
		if err != nil {
			if err == li.ErrNoRecord {
				return tags, nil
			}
			return tags, fmt.Errorf("ubae: get_tags: %w", err)
		}
		if _, err := d.codec.SkipNext(); err != nil {
			return tags, fmt.Errorf("ubae: get_tags: %w", err)
		}
		tags = append(tags, string(decodedTag))
	}
}

// Pair is one (tag, payload-stream, length) triple yielded by Iterate.
type Pair struct {
	Tag    string
	Stream *storage.Substream
	Length int64
}

// Iterate returns a restartable lazy sequence of (tag, substream, length)
// triples over d's current backend. The returned iterator owns a private
// cursor; per spec.md §9, no writer should run concurrently with an open
// iterator over the same backend.
func (d *Dict) Iterate() *Iterator {
	return &Iterator{codec: li.New(d.codec.Backend())}
}

// Iterator is a lazy, restartable sequence of Pairs over a UBAE backend.
type Iterator struct {
	codec *li.Codec
}

// Next returns the next (tag, stream, length) triple, or ok=false when
// exhausted.
func (it *Iterator) Next() (Pair, bool, error) {
	tagBytes, err := it.codec.DecodeNext()
	if err != nil {
		if err == li.ErrNoRecord {
			return Pair{}, false, nil
		}
		return Pair{}, false, fmt.Errorf("ubae: iterate: %w", err)
	}
	sub, length, err := it.codec.DecodeNextStream()
	if err != nil {
		return Pair{}, false, fmt.Errorf("ubae: iterate: %w", err)
	}
	return Pair{Tag: string(tagBytes), Stream: sub, Length: length}, true, nil
}

// Reset restarts the iterator from the beginning of the backend.
func (it *Iterator) Reset() {
	it.codec.Reset()
}
