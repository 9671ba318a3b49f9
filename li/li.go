// Package li implements the length-indicated (LI) record framing used
// throughout tagvault: one header byte H in [0,8], H big-endian bytes
// encoding an unsigned length L, then L payload bytes. See spec.md §3/§4.1.
package li

import (
	"errors"
	"fmt"
	"io"

	"github.com/mickamy/tagvault/storage"
)

// ErrNoRecord indicates decode/skip found no record at the current cursor
// position (the cursor is at or past the end of content, the header byte
// exceeds maxHeaderLen, or the declared length overruns the backend).
var ErrNoRecord = errors.New("li: no record at cursor")

// maxHeaderLen is the largest header byte count the codec will ever write
// or accept; 8 bytes covers all of int64's positive range with headroom,
// matching spec §4.1's "H must satisfy 0 <= H <= 8".
const maxHeaderLen = 8

// Codec frames LI records over a storage.Backend. It owns a monotone read
// cursor (read_pointer in spec terms); the backend itself carries no state.
type Codec struct {
	backend     storage.Backend
	readPointer int64
}

// New wraps backend in an LI codec with the cursor at 0.
func New(backend storage.Backend) *Codec {
	return &Codec{backend: backend}
}

// Backend returns the underlying storage backend.
func (c *Codec) Backend() storage.Backend {
	return c.backend
}

// Reset moves the read cursor back to 0.
func (c *Codec) Reset() {
	c.readPointer = 0
}

// ReadPointer returns the current cursor position.
func (c *Codec) ReadPointer() int64 {
	return c.readPointer
}

// SetReadPointer repositions the cursor to an arbitrary byte offset.
func (c *Codec) SetReadPointer(pos int64) {
	c.readPointer = pos
}

// SetContent replaces the backend's entire content and resets the cursor.
func (c *Codec) SetContent(b []byte) error {
	if err := c.backend.SetContent(b); err != nil {
		return fmt.Errorf("li: set_content: %w", err)
	}
	c.readPointer = 0
	return nil
}

// GetContent returns a copy of the backend's entire content.
func (c *Codec) GetContent() ([]byte, error) {
	b, err := c.backend.GetContent()
	if err != nil {
		return nil, fmt.Errorf("li: get_content: %w", err)
	}
	return b, nil
}

// headerLen returns the minimal big-endian byte count needed to represent
// the non-negative length n: 0 for n==0, else ceil((floor(log2 n)+1)/8).
func headerLen(n int64) byte {
	if n == 0 {
		return 0
	}
	count := byte(0)
	for n > 0 {
		count++
		n >>= 8
	}
	return count
}

// encodeHeader returns the header byte followed by the minimal big-endian
// length encoding of n.
func encodeHeader(n int64) []byte {
	hl := headerLen(n)
	out := make([]byte, 1+int(hl))
	out[0] = hl
	for i := int(hl); i >= 1; i-- {
		out[i] = byte(n & 0xff)
		n >>= 8
	}
	return out
}

// Encode appends one LI record containing payload.
func (c *Codec) Encode(payload []byte) error {
	header := encodeHeader(int64(len(payload)))
	if err := c.backend.Append(header); err != nil {
		return fmt.Errorf("li: encode: header: %w", err)
	}
	if err := c.backend.Append(payload); err != nil {
		return fmt.Errorf("li: encode: payload: %w", err)
	}
	return nil
}

// EncodeStream appends an LI record whose header advertises length n, then
// streams exactly n bytes from src. If src yields fewer than n bytes this
// leaves an unindexed short tail (see storage.Backend.AppendStream) rather
// than corrupting any previously written record boundary.
func (c *Codec) EncodeStream(src io.Reader, n int64) error {
	if n < 0 {
		return fmt.Errorf("li: encode_stream: negative length %d", n)
	}
	header := encodeHeader(n)
	if err := c.backend.Append(header); err != nil {
		return fmt.Errorf("li: encode_stream: header: %w", err)
	}
	if err := c.backend.AppendStream(src, n); err != nil {
		return fmt.Errorf("li: encode_stream: payload: %w", err)
	}
	return nil
}

// readHeader reads H and L at the current cursor without advancing it on
// failure. Returns ErrNoRecord if H is out of range or bounds fail.
func (c *Codec) readHeader() (length int64, headerBytes int64, err error) {
	size, err := c.backend.Size()
	if err != nil {
		return 0, 0, fmt.Errorf("li: size: %w", err)
	}
	if c.readPointer >= size {
		return 0, 0, ErrNoRecord
	}
	hBuf, err := c.backend.Subarray(c.readPointer, c.readPointer+1)
	if err != nil {
		return 0, 0, fmt.Errorf("li: read header byte: %w", err)
	}
	h := hBuf[0]
	if h > maxHeaderLen {
		return 0, 0, fmt.Errorf("%w: header byte %d exceeds max %d", ErrNoRecord, h, maxHeaderLen)
	}
	if h == 0 {
		return 0, 1, nil
	}
	lenStart := c.readPointer + 1
	lenEnd := lenStart + int64(h)
	if lenEnd > size {
		return 0, 0, ErrNoRecord
	}
	lenBuf, err := c.backend.Subarray(lenStart, lenEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("li: read length bytes: %w", err)
	}
	var l int64
	for _, b := range lenBuf {
		l = (l << 8) | int64(b)
	}
	if c.readPointer+1+int64(h)+l > size {
		return 0, 0, ErrNoRecord
	}
	return l, 1 + int64(h), nil
}

// DecodeNext reads the record at the cursor, returns its payload, and
// advances the cursor past it. Returns ErrNoRecord (cursor unchanged) if
// there is nothing to decode.
func (c *Codec) DecodeNext() ([]byte, error) {
	length, headerBytes, err := c.readHeader()
	if err != nil {
		return nil, err
	}
	payloadStart := c.readPointer + headerBytes
	payload, err := c.backend.Subarray(payloadStart, payloadStart+length)
	if err != nil {
		return nil, fmt.Errorf("li: decode_next: %w", err)
	}
	c.readPointer = payloadStart + length
	return payload, nil
}

// DecodeNextStream parses the framing at the cursor like DecodeNext, but
// returns a zero-copy substream view over the payload instead of copying
// it, along with its length. Advances the cursor past the record.
func (c *Codec) DecodeNextStream() (*storage.Substream, int64, error) {
	length, headerBytes, err := c.readHeader()
	if err != nil {
		return nil, 0, err
	}
	payloadStart := c.readPointer + headerBytes
	sub, err := c.backend.Substream(payloadStart, payloadStart+length)
	if err != nil {
		return nil, 0, fmt.Errorf("li: decode_next_stream: %w", err)
	}
	c.readPointer = payloadStart + length
	return sub, length, nil
}

// SkipNext parses the framing at the cursor without copying the payload,
// advances the cursor past it, and returns the payload length. Returns -1
// if there is no record to skip (cursor unchanged).
func (c *Codec) SkipNext() (int64, error) {
	length, headerBytes, err := c.readHeader()
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return -1, nil
		}
		return -1, err
	}
	c.readPointer += headerBytes + length
	return length, nil
}

// DeleteNext decodes the payload at the cursor, then physically deletes
// the whole record (header+payload) from the backend. After the call the
// cursor sits where the deleted record's header used to start.
func (c *Codec) DeleteNext() ([]byte, error) {
	headerStart := c.readPointer
	payload, err := c.DecodeNext()
	if err != nil {
		return nil, err
	}
	recordEnd := c.readPointer
	if err := c.backend.Delete(headerStart, recordEnd); err != nil {
		return nil, fmt.Errorf("li: delete_next: %w", err)
	}
	c.readPointer = headerStart
	return payload, nil
}

// DecodeAll repeatedly decodes from the current cursor until exhausted and
// returns the ordered list of payloads. Does not reset the cursor first.
func (c *Codec) DecodeAll() ([][]byte, error) {
	var out [][]byte
	for {
		payload, err := c.DecodeNext()
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return out, nil
			}
			return out, err
		}
		out = append(out, payload)
	}
}
