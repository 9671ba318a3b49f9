// Package pathtag normalizes filesystem paths into the forward-slash tag
// form UBAE directory archives use (spec.md §6: "Directory archives use
// UBAE with tag = relative path using forward slashes"). Retargeted from
// the teacher's SQL-literal regexp-rewrite idiom (query/normalize.go) to
// path-separator collapsing.
package pathtag

import (
	"regexp"
	"strings"
)

var repeatedSlashRe = regexp.MustCompile(`/{2,}`)

// Normalize rewrites p to use forward slashes only, collapses repeated
// separators, and trims any leading slash so the result is relative.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = repeatedSlashRe.ReplaceAllString(p, "/")
	return strings.TrimPrefix(p, "/")
}
