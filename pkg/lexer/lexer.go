// Package lexer tokenizes SQL text into a lossless token stream.
//
// Concatenating the Literal of every token returned by Tokenize reproduces
// the input exactly; this is what lets callers canonicalize queries for
// fingerprinting and strip trailing terminators without reparsing.
package lexer

import (
	"strings"

	"github.com/leapstack-labs/gridsource/pkg/token"
)

// operators lists multi-byte operators, longest first.
var operators = []string{
	"!~~*", "->>", "!~~", "~~*", "::", "->", "<=", ">=", "<>", "!=", "==", "||",
	"**", "//", "<<", ">>", "~~", "^@", "@>", "<@", "&&",
}

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// New creates a new Lexer for the given input.
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// currentPos returns the current position.
func (l *Lexer) currentPos() token.Position {
	return token.Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

// NextToken returns the next token, trivia included.
func (l *Lexer) NextToken() token.Token {
	pos := l.currentPos()
	start := l.pos

	if l.atEOF() {
		return token.Token{Type: token.EOF, Pos: pos}
	}

	emit := func(t token.TokenType) token.Token {
		return token.Token{Type: t, Literal: l.input[start:l.pos], Pos: pos}
	}

	switch {
	case isSpace(l.ch):
		for isSpace(l.ch) && !l.atEOF() {
			l.readChar()
		}
		return emit(token.WHITESPACE)

	case l.ch == '-' && l.peekChar() == '-':
		for l.ch != '\n' && !l.atEOF() {
			l.readChar()
		}
		return emit(token.COMMENT)

	case l.ch == '/' && l.peekChar() == '*':
		l.skipBlockComment()
		return emit(token.COMMENT)

	case l.ch == ';':
		l.readChar()
		return emit(token.TERMINATOR)

	case l.ch == '\'':
		l.skipQuoted('\'', false)
		return emit(token.STRING)

	case (l.ch == 'e' || l.ch == 'E') && l.peekChar() == '\'':
		l.readChar() // skip prefix
		l.skipQuoted('\'', true)
		return emit(token.STRING)

	case l.ch == '"':
		l.skipQuoted('"', false)
		return emit(token.QUOTED_IDENT)

	case l.ch == '$' && isDigit(l.peekChar()):
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
		return emit(token.PARAM)

	case l.ch == '$':
		if l.skipDollarQuoted() {
			return emit(token.STRING)
		}
		l.readChar()
		return emit(token.ILLEGAL)

	case l.ch == '?':
		l.readChar()
		return emit(token.PARAM)

	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		l.readNumber()
		return emit(token.NUMBER)

	case isIdentStart(l.ch):
		for isIdentPart(l.ch) && !l.atEOF() {
			l.readChar()
		}
		tok := emit(token.IDENT)
		tok.Type = token.LookupIdent(tok.Literal)
		return tok
	}

	switch l.ch {
	case '.', ',', '(', ')', '[', ']', '{', '}':
		l.readChar()
		return emit(token.PUNCT)
	}

	remaining := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(remaining, op) {
			for range op {
				l.readChar()
			}
			return emit(token.OPERATOR)
		}
	}

	switch l.ch {
	case '+', '-', '*', '/', '%', '=', '<', '>', '!', '~', '^', '&', '|', '@', ':', '#':
		l.readChar()
		return emit(token.OPERATOR)
	}

	l.readChar()
	return emit(token.ILLEGAL)
}

// skipBlockComment consumes a /* ... */ comment. Unterminated comments run
// to the end of input.
func (l *Lexer) skipBlockComment() {
	l.readChar() // skip '/'
	l.readChar() // skip '*'

	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar() // skip '*'
			l.readChar() // skip '/'
			return
		}
		l.readChar()
	}
}

// skipQuoted consumes a quoted run delimited by quote. A doubled quote is an
// escaped quote; with backslash set, \x escapes are honored too.
func (l *Lexer) skipQuoted(quote byte, backslash bool) {
	l.readChar() // skip opening quote

	for !l.atEOF() {
		switch {
		case backslash && l.ch == '\\' && l.peekChar() != 0:
			l.readChar()
			l.readChar()
		case l.ch == quote && l.peekChar() == quote:
			l.readChar()
			l.readChar()
		case l.ch == quote:
			l.readChar() // skip closing quote
			return
		default:
			l.readChar()
		}
	}
}

// skipDollarQuoted consumes a $tag$ ... $tag$ string. It reports false and
// consumes nothing when the current '$' does not open a dollar quote.
func (l *Lexer) skipDollarQuoted() bool {
	rest := l.input[l.pos:]
	end := strings.IndexByte(rest[1:], '$')
	if end < 0 {
		return false
	}
	tag := rest[:end+2]
	for i := 1; i < len(tag)-1; i++ {
		if !isIdentPart(tag[i]) {
			return false
		}
	}

	body := strings.Index(rest[len(tag):], tag)
	n := len(rest)
	if body >= 0 {
		n = len(tag) + body + len(tag)
	}
	for i := 0; i < n; i++ {
		l.readChar()
	}
	return true
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() {
	// Read integer part
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	// Read decimal part
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // skip '.'
		for isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
	}

	// Read exponent part (e.g., 1e10, 1E-5)
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar() // skip 'e' or 'E'
			if l.ch == '+' || l.ch == '-' {
				l.readChar() // skip sign
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

// isIdentStart accepts ASCII letters, underscore and any non-ASCII byte,
// so UTF-8 identifiers stay in one token.
func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, trivia included, followed by
// a final EOF token.
func Tokenize(input string) []token.Token {
	l := New(input)
	var tokens []token.Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return tokens
}

// Significant returns the tokens of input that are not trivia, without the
// trailing EOF.
func Significant(input string) []token.Token {
	var out []token.Token
	for _, tok := range Tokenize(input) {
		if tok.Type == token.EOF || token.IsTrivia(tok.Type) {
			continue
		}
		out = append(out, tok)
	}
	return out
}
