// Package wire implements the fixed- and variable-size chunk framing used
// by the RBAE/ARBAE protocols over a reliable byte stream (spec.md §4.3/§6).
// Grounded on proxy/postgres/conn.go's readMessageRaw/encodeAndWrite and
// proxy/mysql/conn.go's readPacket/writePacket (io.ReadFull + binary.BigEndian
// + fmt.Errorf %w wrapping).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

// MaxVariableChunkLen is the largest length a non-streamed variable chunk
// may declare; larger payloads must use the streaming variants.
const MaxVariableChunkLen = 100_000_000

// AbsentLength is the sentinel variable-chunk length denoting "none".
const AbsentLength int64 = -1

// ErrOversizedChunk is returned when a variable chunk declares a length
// above MaxVariableChunkLen.
var ErrOversizedChunk = errors.New("wire: variable chunk exceeds maximum length")

// ErrNegativeLength is returned when a variable chunk declares a length
// below AbsentLength.
var ErrNegativeLength = errors.New("wire: variable chunk length is negative and not absent")

// Conn wraps a net.Conn with the fixed/variable chunk vocabulary the
// RBAE/ARBAE protocols speak. It holds no framing state of its own beyond
// the underlying socket — callers are responsible for request/response
// ordering (spec.md §5: per-connection FIFO).
type Conn struct {
	net.Conn
}

// New wraps c in a Conn.
func New(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

// ---- fixed chunks ----

func (c *Conn) ReadFixedU8() (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		return 0, fmt.Errorf("wire: read u8: %w", err)
	}
	return b[0], nil
}

func (c *Conn) WriteFixedU8(v uint8) error {
	if _, err := c.Write([]byte{v}); err != nil {
		return fmt.Errorf("wire: write u8: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedI8() (int8, error) {
	v, err := c.ReadFixedU8()
	return int8(v), err
}

func (c *Conn) WriteFixedI8(v int8) error {
	return c.WriteFixedU8(uint8(v))
}

func (c *Conn) ReadFixedI16() (int16, error) {
	var b [2]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		return 0, fmt.Errorf("wire: read i16: %w", err)
	}
	return int16(binary.BigEndian.Uint16(b[:])), nil
}

func (c *Conn) WriteFixedI16(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	if _, err := c.Write(b[:]); err != nil {
		return fmt.Errorf("wire: write i16: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedI32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		return 0, fmt.Errorf("wire: read i32: %w", err)
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (c *Conn) WriteFixedI32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	if _, err := c.Write(b[:]); err != nil {
		return fmt.Errorf("wire: write i32: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedI64() (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(c, b[:]); err != nil {
		return 0, fmt.Errorf("wire: read i64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func (c *Conn) WriteFixedI64(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	if _, err := c.Write(b[:]); err != nil {
		return fmt.Errorf("wire: write i64: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedF32() (float32, error) {
	bits, err := c.ReadFixedI32()
	if err != nil {
		return 0, fmt.Errorf("wire: read f32: %w", err)
	}
	return math.Float32frombits(uint32(bits)), nil
}

func (c *Conn) WriteFixedF32(v float32) error {
	if err := c.WriteFixedI32(int32(math.Float32bits(v))); err != nil {
		return fmt.Errorf("wire: write f32: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedF64() (float64, error) {
	bits, err := c.ReadFixedI64()
	if err != nil {
		return 0, fmt.Errorf("wire: read f64: %w", err)
	}
	return math.Float64frombits(uint64(bits)), nil
}

func (c *Conn) WriteFixedF64(v float64) error {
	if err := c.WriteFixedI64(int64(math.Float64bits(v))); err != nil {
		return fmt.Errorf("wire: write f64: %w", err)
	}
	return nil
}

func (c *Conn) ReadFixedBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c, b); err != nil {
		return nil, fmt.Errorf("wire: read raw[%d]: %w", n, err)
	}
	return b, nil
}

func (c *Conn) WriteFixedBytes(b []byte) error {
	if _, err := c.Write(b); err != nil {
		return fmt.Errorf("wire: write raw[%d]: %w", len(b), err)
	}
	return nil
}

// ---- variable chunks ----

// ReadVariable reads a length-prefixed chunk. A length of AbsentLength is
// returned as (nil, true, nil); an oversized declared length is rejected.
func (c *Conn) ReadVariable() ([]byte, bool, error) {
	n, err := c.ReadFixedI64()
	if err != nil {
		return nil, false, fmt.Errorf("wire: read_variable: length: %w", err)
	}
	if n == AbsentLength {
		return nil, true, nil
	}
	if n < 0 {
		return nil, false, ErrNegativeLength
	}
	if n > MaxVariableChunkLen {
		return nil, false, fmt.Errorf("%w: %d > %d", ErrOversizedChunk, n, MaxVariableChunkLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		return nil, false, fmt.Errorf("wire: read_variable: payload: %w", err)
	}
	return buf, false, nil
}

// WriteVariable writes b as a length-prefixed chunk. A nil b writes the
// absent sentinel.
func (c *Conn) WriteVariable(b []byte) error {
	if b == nil {
		return c.WriteFixedI64(AbsentLength)
	}
	if err := c.WriteFixedI64(int64(len(b))); err != nil {
		return fmt.Errorf("wire: write_variable: length: %w", err)
	}
	if _, err := c.Write(b); err != nil {
		return fmt.Errorf("wire: write_variable: payload: %w", err)
	}
	return nil
}

// ReadVariableStream reads the length prefix and hands back a reader
// bounded to exactly that many bytes; the caller MUST fully consume it
// before issuing the next request on c (spec.md §4.3). A peer that
// declares N but sends fewer than N bytes without closing the connection
// stalls the reader indefinitely — this is the documented, intentionally
// unresolved DoS from spec.md §9 Open Question 1.
func (c *Conn) ReadVariableStream() (io.Reader, int64, bool, error) {
	n, err := c.ReadFixedI64()
	if err != nil {
		return nil, 0, false, fmt.Errorf("wire: read_variable_stream: length: %w", err)
	}
	if n == AbsentLength {
		return nil, 0, true, nil
	}
	if n < 0 {
		return nil, 0, false, ErrNegativeLength
	}
	return io.LimitReader(c, n), n, false, nil
}

// WriteVariableStream writes the length prefix n, then copies exactly n
// bytes from src to the socket.
func (c *Conn) WriteVariableStream(src io.Reader, n int64) error {
	if err := c.WriteFixedI64(n); err != nil {
		return fmt.Errorf("wire: write_variable_stream: length: %w", err)
	}
	written, err := io.CopyN(c, src, n)
	if err != nil {
		return fmt.Errorf("wire: write_variable_stream: wrote %d of %d: %w", written, n, err)
	}
	return nil
}
