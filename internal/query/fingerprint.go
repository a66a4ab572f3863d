package query

import (
	"encoding/hex"
	"strings"

	"github.com/leapstack-labs/gridsource/pkg/lexer"
	"github.com/leapstack-labs/gridsource/pkg/token"
	"github.com/zeebo/blake3"
)

// ContextID is the stable fingerprint of a query.
type ContextID string

// Short returns a prefix of the id suitable for naming generated objects.
func (c ContextID) Short() string {
	if len(c) > 16 {
		return string(c[:16])
	}
	return string(c)
}

// Canonical returns the canonical token stream of sql: trivia and AS
// keywords dropped, every token except string literals lower-cased, tokens
// joined by single spaces.
func Canonical(sql string) string {
	var parts []string
	for _, tok := range lexer.Significant(sql) {
		if tok.Is("as") {
			continue
		}
		if tok.Type == token.STRING {
			parts = append(parts, tok.Literal)
			continue
		}
		parts = append(parts, strings.ToLower(tok.Literal))
	}
	return strings.Join(parts, " ")
}

// Fingerprint hashes the canonical form of sql with salt. Queries that
// differ only in whitespace, comments or keyword case share a fingerprint.
func Fingerprint(sql, salt string) ContextID {
	h := blake3.New()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(Canonical(sql)))
	return ContextID(hex.EncodeToString(h.Sum(nil)))
}

// Sanitize removes trailing statement terminators, comments and whitespace
// so the query can be wrapped in parentheses.
func Sanitize(sql string) string {
	end := 0
	for _, tok := range lexer.Tokenize(sql) {
		if tok.Type == token.EOF || token.IsTrivia(tok.Type) {
			continue
		}
		end = tok.Pos.Offset + len(tok.Literal)
	}
	return strings.TrimSpace(sql[:end])
}
