package token

import "strconv"

// Position is a location in a query. Line and Column count from 1, Offset
// is the byte offset from 0.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return strconv.Itoa(p.Line) + ":" + strconv.Itoa(p.Column)
}

// Span is the half-open byte range [Start, End) of a token.
type Span struct {
	Start Position
	End   Position
}

// Contains reports whether the byte offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start.Offset && offset < s.End.Offset
}

// Len is the length of the span in bytes.
func (s Span) Len() int {
	return s.End.Offset - s.Start.Offset
}
