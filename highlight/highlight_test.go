package highlight_test

import (
	"strings"
	"testing"

	"github.com/mickamy/tagvault/highlight"
)

func TestPayloadEmptyStringPassthrough(t *testing.T) {
	t.Parallel()
	if got := highlight.Payload(""); got != "" {
		t.Fatalf("got %q, want empty string unchanged", got)
	}
}

func TestPayloadHighlightsJSON(t *testing.T) {
	t.Parallel()
	got := highlight.Payload(`{"tag":"a","length":3}`)
	if !strings.Contains(got, "tag") {
		t.Fatalf("got %q, want it to still contain the literal field name", got)
	}
}

func TestPayloadHighlightsPlaintext(t *testing.T) {
	t.Parallel()
	got := highlight.Payload("not json at all")
	if !strings.Contains(got, "not json at all") {
		t.Fatalf("got %q, want the original text preserved", got)
	}
}
