package li_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mickamy/tagvault/li"
	"github.com/mickamy/tagvault/storage"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	c := li.New(storage.NewMemory())

	records := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte(strings.Repeat("x", 255)),
		[]byte(strings.Repeat("y", 256)),
		[]byte(strings.Repeat("z", 70000)),
	}
	for _, r := range records {
		if err := c.Encode(r); err != nil {
			t.Fatalf("Encode(%d bytes): %v", len(r), err)
		}
	}

	c.Reset()
	for i, want := range records {
		got, err := c.DecodeNext()
		if err != nil {
			t.Fatalf("DecodeNext #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("record #%d: got %d bytes, want %d bytes", i, len(got), len(want))
		}
	}
	if _, err := c.DecodeNext(); err != li.ErrNoRecord {
		t.Fatalf("got %v, want ErrNoRecord", err)
	}
}

func TestEmptyRecordUsesZeroHeader(t *testing.T) {
	t.Parallel()
	backend := storage.NewMemory()
	c := li.New(backend)
	if err := c.Encode(nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw, err := backend.GetContent()
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if len(raw) != 1 || raw[0] != 0 {
		t.Fatalf("got %v, want a single zero header byte", raw)
	}
}

func TestSkipNextAdvancesWithoutCopying(t *testing.T) {
	t.Parallel()
	c := li.New(storage.NewMemory())
	_ = c.Encode([]byte("first"))
	_ = c.Encode([]byte("second"))

	c.Reset()
	n, err := c.SkipNext()
	if err != nil || n != 5 {
		t.Fatalf("SkipNext = %d, %v, want 5, nil", n, err)
	}
	got, err := c.DecodeNext()
	if err != nil || string(got) != "second" {
		t.Fatalf("DecodeNext after skip = %q, %v", got, err)
	}
}

func TestDeleteNextCompactsBackend(t *testing.T) {
	t.Parallel()
	backend := storage.NewMemory()
	c := li.New(backend)
	_ = c.Encode([]byte("first"))
	_ = c.Encode([]byte("second"))

	c.Reset()
	deleted, err := c.DeleteNext()
	if err != nil || string(deleted) != "first" {
		t.Fatalf("DeleteNext = %q, %v", deleted, err)
	}

	c.Reset()
	remaining, err := c.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(remaining) != 1 || string(remaining[0]) != "second" {
		t.Fatalf("got %v, want [\"second\"]", remaining)
	}
}

func TestDecodeNextTruncatedRecordIsNoRecord(t *testing.T) {
	t.Parallel()
	backend := storage.NewMemory()
	// header declares a 1-byte length field announcing 10 bytes of payload,
	// but only 2 bytes are actually present.
	_ = backend.Append([]byte{1, 10, 'a', 'b'})
	c := li.New(backend)

	if _, err := c.DecodeNext(); err != li.ErrNoRecord {
		t.Fatalf("got %v, want ErrNoRecord for a record whose declared length overruns the backend", err)
	}
}
