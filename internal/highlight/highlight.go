// Package highlight produces syntax token spans for diff lines.
package highlight

import (
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Span is a run of bytes in one line with a token class. Class is the
// chroma short class name ("k" for keywords, "s" for strings, ...), empty
// for plain text. Color is the foreground of the span in the active style.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Class string `json:"class,omitempty"`
	Color string `json:"color,omitempty"`
}

// Highlighter tokenises lines for one file. The zero value is not usable;
// use For.
type Highlighter struct {
	lexer chroma.Lexer
	style *chroma.Style
}

var (
	lexerMu    sync.Mutex
	lexerCache = map[string]chroma.Lexer{}
)

// For returns a highlighter for path, or nil when no lexer matches.
func For(path, styleName string) *Highlighter {
	lexer := lexerForPath(path)
	if lexer == nil {
		return nil
	}
	return &Highlighter{lexer: lexer, style: Style(styleName)}
}

// Language returns the lexer name for path, or "" when none matches.
func Language(path string) string {
	lexer := lexerForPath(path)
	if lexer == nil {
		return ""
	}
	return lexer.Config().Name
}

// Style resolves a chroma style name, falling back to the default style.
func Style(name string) *chroma.Style {
	if name != "" {
		if st := styles.Get(name); st != nil {
			return st
		}
	}
	return styles.Fallback
}

func lexerForPath(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	ext := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		ext = path[i+1:]
	}
	lexerMu.Lock()
	defer lexerMu.Unlock()
	if lexer, ok := lexerCache[ext]; ok {
		return lexer
	}
	var lexer chroma.Lexer
	if m := lexers.Match(path); m != nil {
		lexer = chroma.Coalesce(m)
	}
	lexerCache[ext] = lexer
	return lexer
}

// Line tokenises one line of code. Lines are highlighted in isolation, so
// multi-line constructs may be classified as plain text.
func (h *Highlighter) Line(code string) []Span {
	if h == nil || code == "" {
		return nil
	}
	it, err := h.lexer.Tokenise(nil, code)
	if err != nil {
		return nil
	}
	var spans []Span
	pos := 0
	for _, token := range it.Tokens() {
		if token.Value == "" {
			continue
		}
		end := pos + len(token.Value)
		if end > len(code) {
			end = len(code)
		}
		class := chroma.StandardTypes[token.Type]
		color := ""
		if entry := h.style.Get(token.Type); entry.Colour.IsSet() {
			color = strings.ToLower(entry.Colour.String())
		}
		if class != "" || color != "" {
			spans = append(spans, Span{Start: pos, End: end, Class: class, Color: color})
		}
		pos = end
		if pos >= len(code) {
			break
		}
	}
	return spans
}
