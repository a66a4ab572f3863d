// Package token defines the lexical token kinds produced by the SQL lexer.
//
// Unlike a parser-oriented token set, every byte of the input belongs to
// exactly one token: whitespace, comments and statement terminators are
// tokens too, so callers can canonicalize or rewrite SQL text losslessly.
package token

import (
	"fmt"
	"strings"
)

// TokenType represents the kind of a lexical token.
//
//nolint:revive // token.TokenType reads clearly at call sites
type TokenType int32

//nolint:revive // ALL_CAPS names follow SQL token conventions
const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Trivia
	WHITESPACE // spaces, tabs, newlines
	COMMENT    // -- line or /* block */
	TERMINATOR // ;

	// Literals and names
	IDENT        // unquoted identifier
	QUOTED_IDENT // "quoted identifier"
	KEYWORD      // reserved or well-known SQL keyword
	NUMBER       // 123, 45.67, 1e10
	STRING       // 'hello', E'...', $$...$$
	PARAM        // ?, $1, :name

	// Symbols
	OPERATOR // + - * / % || = <> != < > <= >= :: -> ->>
	PUNCT    // . , ( ) [ ] { }
)

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	EOF:          "EOF",
	ILLEGAL:      "ILLEGAL",
	WHITESPACE:   "WHITESPACE",
	COMMENT:      "COMMENT",
	TERMINATOR:   "TERMINATOR",
	IDENT:        "IDENT",
	QUOTED_IDENT: "QUOTED_IDENT",
	KEYWORD:      "KEYWORD",
	NUMBER:       "NUMBER",
	STRING:       "STRING",
	PARAM:        "PARAM",
	OPERATOR:     "OPERATOR",
	PUNCT:        "PUNCT",
}

// keywords is the set of words the lexer reports as KEYWORD.
// Lookup is case-insensitive; entries are stored lower-case.
var keywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`
		all alter and any as asc attach between by call case cast checkpoint copy create
		cross cube current delete desc describe detach distinct drop else end except
		exists explain export false filter first following for from full group grouping
		groups having ilike import in inner insert install intersect into is join last
		lateral left like limit load not null nulls offset on or order outer over partition
		pivot pragma preceding qualify range recursive replace returning right rollup row
		rows select set sets show summarize table then to true truncate unbounded union
		unpivot update use using vacuum values view when where window with within`) {
		keywords[kw] = struct{}{}
	}
}

// LookupIdent returns KEYWORD if ident (any case) is a known keyword and
// IDENT otherwise.
func LookupIdent(ident string) TokenType {
	if _, ok := keywords[strings.ToLower(ident)]; ok {
		return KEYWORD
	}
	return IDENT
}

// IsTrivia reports whether tokens of type t carry no meaning for the query:
// whitespace, comments and statement terminators.
func IsTrivia(t TokenType) bool {
	return t == WHITESPACE || t == COMMENT || t == TERMINATOR
}

// Token represents a lexical token with position information.
// Literal holds the exact source text of the token, delimiters included.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Is reports whether the token is the given keyword (case-insensitive).
func (t Token) Is(keyword string) bool {
	return t.Type == KEYWORD && strings.EqualFold(t.Literal, keyword)
}

// Span returns the source range covered by the token.
func (t Token) Span() Span {
	end := t.Pos
	end.Offset += len(t.Literal)
	for _, r := range t.Literal {
		if r == '\n' {
			end.Line++
			end.Column = 0
		} else {
			end.Column++
		}
	}
	return Span{Start: t.Pos, End: end}
}
