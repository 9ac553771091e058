// Package parser tokenizes the contents of a scalar parameter value into a
// flat list of literal / reference / query items, per the specification's
// §4.1 grammar. It is deliberately hand-written in the teacher's
// state-machine-scanner style (see pkg/yang/lex.go in the teacher repo)
// rather than built on a parser-combinator library, since the grammar is
// small: two nestable/non-nestable bracket pairs plus a single escape
// character.
package parser

import (
	"strings"
	"unicode/utf8"

	rerrors "github.com/reclass-go/reclass/internal/errors"
	"github.com/reclass-go/reclass/internal/settings"
)

// Kind distinguishes the three token shapes the grammar produces.
type Kind int

const (
	// KindStr is a literal run of text.
	KindStr Kind = iota
	// KindRef is a "${...}" reference; Sub holds its nested tokens (which
	// may themselves contain further KindRef tokens, but never KindQuery).
	KindRef
	// KindQuery is a "$[...]" query; Text holds its raw, escape-resolved
	// expression body. Queries never nest.
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindStr:
		return "STR"
	case KindRef:
		return "REF"
	case KindQuery:
		return "QUERY"
	default:
		return "?"
	}
}

// Token is one element of a parsed value.
type Token struct {
	Kind Kind
	Text string  // KindStr: literal text. KindQuery: raw expression body.
	Sub  []Token // KindRef: nested tokens.
}

// Parse tokenizes s according to st's sentinels and escape character.
//
// As a fast path, if s contains none of the sentinel-opening bytes at all,
// Parse returns a single KindStr token without invoking the full scanner —
// this matters because most parameter values never reference anything.
func Parse(st settings.Settings, s string) ([]Token, error) {
	if !hasAnyTrigger(st, s) {
		return []Token{{Kind: KindStr, Text: s}}, nil
	}
	p := &parser{st: st, s: s, line: 1, col: 1}
	toks, err := p.parseTop()
	if err != nil {
		return nil, err
	}
	return toks, nil
}

func hasAnyTrigger(st settings.Settings, s string) bool {
	return strings.Contains(s, st.ReferenceOpen[:1]) || strings.Contains(s, st.QueryOpen[:1])
}

type parser struct {
	st        settings.Settings
	s         string
	pos       int
	line, col int
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.s[p.pos:], s)
}

func (p *parser) advance(n int) {
	for i := 0; i < n && p.pos < len(p.s); i++ {
		if p.s[p.pos] == '\n' {
			p.line++
			p.col = 1
		} else {
			p.col++
		}
		p.pos++
	}
}

// escCtx configures which sentinels tryEscape recognizes in the current
// scanning context: open sentinels are always checked (so a reference or
// query can be suppressed from opening at all), close is only checked
// inside that construct's own body (so its terminator can be escaped into
// a literal character without ending the construct).
type escCtx struct {
	opens []string
	close string
}

var topCtx = escCtx{}
var refCtx = escCtx{}
var queryCtx = escCtx{}

func (p *parser) initCtx() {
	topCtx = escCtx{opens: []string{p.st.ReferenceOpen, p.st.QueryOpen}}
	refCtx = escCtx{opens: []string{p.st.ReferenceOpen}, close: p.st.ReferenceClose}
	queryCtx = escCtx{opens: []string{p.st.QueryOpen}, close: p.st.QueryClose}
}

// tryEscape reports whether the parser is positioned at an escape sequence
// relevant to ctx, and if so returns its literal replacement text and how
// many source bytes it consumed.
//
//   - "\\" + sentinel (single escape): emits the sentinel's literal text,
//     consumes the backslash and the sentinel, and does NOT open the
//     construct.
//   - "\\\\" + sentinel (double escape): emits a single literal backslash,
//     consumes only the two backslashes, and leaves the sentinel for
//     normal (non-escaped) processing.
//   - any other "\\": passed through unchanged, one byte at a time, per
//     the grammar's backwards-compatibility requirement.
func (p *parser) tryEscape(ctx escCtx) (string, int, bool) {
	if p.pos >= len(p.s) || p.s[p.pos] != p.st.EscapeChar {
		return "", 0, false
	}
	rest := p.s[p.pos:]

	var sentinels []string
	sentinels = append(sentinels, ctx.opens...)
	if ctx.close != "" {
		sentinels = append(sentinels, ctx.close)
	}

	if len(rest) >= 2 && rest[1] == p.st.EscapeChar {
		after := rest[2:]
		for _, sen := range sentinels {
			if strings.HasPrefix(after, sen) {
				return string(p.st.EscapeChar), 2, true
			}
		}
	}
	for _, sen := range sentinels {
		if strings.HasPrefix(rest[1:], sen) {
			return sen, 1 + len(sen), true
		}
	}
	return string(p.st.EscapeChar), 1, true
}

func (p *parser) parseTop() ([]Token, error) {
	p.initCtx()
	var toks []Token
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, Token{Kind: KindStr, Text: buf.String()})
			buf.Reset()
		}
	}
	for p.pos < len(p.s) {
		if lit, n, ok := p.tryEscape(topCtx); ok {
			buf.WriteString(lit)
			p.advance(n)
			continue
		}
		if p.hasPrefix(p.st.ReferenceOpen) {
			flush()
			line, col := p.line, p.col
			p.advance(len(p.st.ReferenceOpen))
			sub, err := p.parseRefBody(line, col)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: KindRef, Sub: sub})
			continue
		}
		if p.hasPrefix(p.st.QueryOpen) {
			flush()
			line, col := p.line, p.col
			p.advance(len(p.st.QueryOpen))
			body, err := p.parseQueryBody(line, col)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: KindQuery, Text: body})
			continue
		}
		r, size := utf8.DecodeRuneInString(p.s[p.pos:])
		buf.WriteRune(r)
		p.advance(size)
	}
	flush()
	return toks, nil
}

func (p *parser) parseRefBody(openLine, openCol int) ([]Token, error) {
	var toks []Token
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			toks = append(toks, Token{Kind: KindStr, Text: buf.String()})
			buf.Reset()
		}
	}
	for p.pos < len(p.s) {
		if lit, n, ok := p.tryEscape(refCtx); ok {
			buf.WriteString(lit)
			p.advance(n)
			continue
		}
		if p.hasPrefix(p.st.ReferenceClose) {
			flush()
			p.advance(len(p.st.ReferenceClose))
			return toks, nil
		}
		if p.hasPrefix(p.st.ReferenceOpen) {
			flush()
			line, col := p.line, p.col
			p.advance(len(p.st.ReferenceOpen))
			sub, err := p.parseRefBody(line, col)
			if err != nil {
				return nil, err
			}
			toks = append(toks, Token{Kind: KindRef, Sub: sub})
			continue
		}
		r, size := utf8.DecodeRuneInString(p.s[p.pos:])
		buf.WriteRune(r)
		p.advance(size)
	}
	return nil, rerrors.NewParseError(p.s, "unbalanced reference sentinel", openLine, openCol)
}

func (p *parser) parseQueryBody(openLine, openCol int) (string, error) {
	var buf strings.Builder
	for p.pos < len(p.s) {
		if lit, n, ok := p.tryEscape(queryCtx); ok {
			buf.WriteString(lit)
			p.advance(n)
			continue
		}
		if p.hasPrefix(p.st.QueryClose) {
			p.advance(len(p.st.QueryClose))
			return buf.String(), nil
		}
		r, size := utf8.DecodeRuneInString(p.s[p.pos:])
		buf.WriteRune(r)
		p.advance(size)
	}
	return "", rerrors.NewParseError(p.s, "unterminated query body", openLine, openCol)
}
