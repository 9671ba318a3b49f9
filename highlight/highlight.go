// Package highlight applies ANSI terminal syntax highlighting to stored
// payload previews shown in the TUI inspector, retargeted from the
// teacher's SQL/EXPLAIN highlighting to JSON/plaintext payload preview.
package highlight

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	jsonLexer  chroma.Lexer
	plainLexer chroma.Lexer
	formatter  chroma.Formatter
	style      *chroma.Style
)

func init() {
	jsonLexer = lexers.Get("json")
	plainLexer = lexers.Get("plaintext")
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// Payload returns s with ANSI terminal syntax highlighting applied,
// treating it as JSON if it parses as such and as plaintext otherwise. On
// error or empty input, the original string is returned unchanged.
func Payload(s string) string {
	if s == "" {
		return s
	}

	lexer := plainLexer
	if json.Valid([]byte(s)) {
		lexer = jsonLexer
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}
