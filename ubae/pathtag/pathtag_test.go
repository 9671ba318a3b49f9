package pathtag_test

import (
	"testing"

	"github.com/mickamy/tagvault/ubae/pathtag"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want string
	}{
		{"a/b/c", "a/b/c"},
		{`a\b\c`, "a/b/c"},
		{"/a/b", "a/b"},
		{"a//b///c", "a/b/c"},
		{`\a\\b`, "a/b"},
		{"", ""},
	}
	for _, c := range cases {
		if got := pathtag.Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
