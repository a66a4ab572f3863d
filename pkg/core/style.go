package core

import "fmt"

// =============================================================================
// Cell metadata
// =============================================================================

// Border is one edge of a cell border.
type Border struct {
	Style string `json:"style"`
	Color string `json:"color"`
}

// Borders holds the four edges of a cell. Nil edges are unset.
type Borders struct {
	Top    *Border `json:"top"`
	Bottom *Border `json:"bottom"`
	Left   *Border `json:"left"`
	Right  *Border `json:"right"`
}

// IsEmpty reports whether no edge is set.
func (b *Borders) IsEmpty() bool {
	return b == nil || (b.Top == nil && b.Bottom == nil && b.Left == nil && b.Right == nil)
}

// Style is a cell style override. Nil fields are unset and fall back to the
// column default; every field is serialized, so unset fields encode as null.
type Style struct {
	IsBold          *bool    `json:"isBold"`
	IsItalic        *bool    `json:"isItalic"`
	IsUnderline     *bool    `json:"isUnderline"`
	IsStrikethrough *bool    `json:"isStrikethrough"`
	TextColor       *string  `json:"textColor"`
	BackgroundColor *string  `json:"backgroundColor"`
	HAlign          *string  `json:"hAlign"`
	VAlign          *string  `json:"vAlign"`
	Format          *string  `json:"format"`
	Borders         *Borders `json:"borders"`
}

// StyleKey names one Style field.
type StyleKey string

// Style keys.
const (
	KeyBold            StyleKey = "isBold"
	KeyItalic          StyleKey = "isItalic"
	KeyUnderline       StyleKey = "isUnderline"
	KeyStrikethrough   StyleKey = "isStrikethrough"
	KeyTextColor       StyleKey = "textColor"
	KeyBackgroundColor StyleKey = "backgroundColor"
	KeyHAlign          StyleKey = "hAlign"
	KeyVAlign          StyleKey = "vAlign"
	KeyFormat          StyleKey = "format"
	KeyBorders         StyleKey = "borders"
)

// AllStyleKeys lists every style key.
var AllStyleKeys = []StyleKey{
	KeyBold, KeyItalic, KeyUnderline, KeyStrikethrough,
	KeyTextColor, KeyBackgroundColor, KeyHAlign, KeyVAlign, KeyFormat, KeyBorders,
}

// ParseStyleKey validates a style key name.
func ParseStyleKey(s string) (StyleKey, error) {
	for _, k := range AllStyleKeys {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown style key %q", s)
}

// IsEmpty reports whether no field is set.
func (s *Style) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.IsBold == nil && s.IsItalic == nil && s.IsUnderline == nil && s.IsStrikethrough == nil &&
		s.TextColor == nil && s.BackgroundColor == nil && s.HAlign == nil && s.VAlign == nil &&
		s.Format == nil && s.Borders.IsEmpty()
}

// Merge returns a new style with every set field of patch applied over s.
// Borders are replaced as a whole.
func (s *Style) Merge(patch *Style) *Style {
	out := s.Clone()
	if out == nil {
		out = &Style{}
	}
	if patch == nil {
		return out
	}
	if patch.IsBold != nil {
		out.IsBold = Ptr(*patch.IsBold)
	}
	if patch.IsItalic != nil {
		out.IsItalic = Ptr(*patch.IsItalic)
	}
	if patch.IsUnderline != nil {
		out.IsUnderline = Ptr(*patch.IsUnderline)
	}
	if patch.IsStrikethrough != nil {
		out.IsStrikethrough = Ptr(*patch.IsStrikethrough)
	}
	if patch.TextColor != nil {
		out.TextColor = Ptr(*patch.TextColor)
	}
	if patch.BackgroundColor != nil {
		out.BackgroundColor = Ptr(*patch.BackgroundColor)
	}
	if patch.HAlign != nil {
		out.HAlign = Ptr(*patch.HAlign)
	}
	if patch.VAlign != nil {
		out.VAlign = Ptr(*patch.VAlign)
	}
	if patch.Format != nil {
		out.Format = Ptr(*patch.Format)
	}
	if patch.Borders != nil {
		out.Borders = patch.Borders.Clone()
	}
	return out
}

// Without returns a copy of s with the given keys unset.
func (s *Style) Without(keys ...StyleKey) *Style {
	out := s.Clone()
	if out == nil {
		return nil
	}
	for _, k := range keys {
		switch k {
		case KeyBold:
			out.IsBold = nil
		case KeyItalic:
			out.IsItalic = nil
		case KeyUnderline:
			out.IsUnderline = nil
		case KeyStrikethrough:
			out.IsStrikethrough = nil
		case KeyTextColor:
			out.TextColor = nil
		case KeyBackgroundColor:
			out.BackgroundColor = nil
		case KeyHAlign:
			out.HAlign = nil
		case KeyVAlign:
			out.VAlign = nil
		case KeyFormat:
			out.Format = nil
		case KeyBorders:
			out.Borders = nil
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s *Style) Clone() *Style {
	if s == nil {
		return nil
	}
	out := *s
	out.IsBold = clonePtr(s.IsBold)
	out.IsItalic = clonePtr(s.IsItalic)
	out.IsUnderline = clonePtr(s.IsUnderline)
	out.IsStrikethrough = clonePtr(s.IsStrikethrough)
	out.TextColor = clonePtr(s.TextColor)
	out.BackgroundColor = clonePtr(s.BackgroundColor)
	out.HAlign = clonePtr(s.HAlign)
	out.VAlign = clonePtr(s.VAlign)
	out.Format = clonePtr(s.Format)
	out.Borders = s.Borders.Clone()
	return &out
}

// Clone returns a deep copy of b.
func (b *Borders) Clone() *Borders {
	if b == nil {
		return nil
	}
	return &Borders{
		Top:    clonePtr(b.Top),
		Bottom: clonePtr(b.Bottom),
		Left:   clonePtr(b.Left),
		Right:  clonePtr(b.Right),
	}
}

// Link is a hyperlink attached to a cell.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Blob is the metadata stored for one cell (or one row under the reserved
// row key). It is the unit of deduplication in the metadata store.
type Blob struct {
	Style *Style `json:"style"`
	Link  *Link  `json:"link"`
}

// IsEmpty reports whether the blob carries nothing.
func (b *Blob) IsEmpty() bool {
	return b == nil || (b.Style.IsEmpty() && b.Link == nil)
}

// Clone returns a deep copy of b.
func (b *Blob) Clone() *Blob {
	if b == nil {
		return nil
	}
	return &Blob{Style: b.Style.Clone(), Link: clonePtr(b.Link)}
}

// Normalize drops an empty style so structurally equal blobs compare equal.
func (b *Blob) Normalize() *Blob {
	out := b.Clone()
	if out == nil {
		return &Blob{}
	}
	if out.Style.IsEmpty() {
		out.Style = nil
	}
	if out.Style != nil && out.Style.Borders.IsEmpty() {
		out.Style.Borders = nil
	}
	return out
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// BorderPosition selects which borders a border edit or clear touches
// across a rectangular cell range.
type BorderPosition string

// Border positions. Horizontal is the set of borders between rows.
const (
	BorderTop        BorderPosition = "top"
	BorderBottom     BorderPosition = "bottom"
	BorderLeft       BorderPosition = "left"
	BorderRight      BorderPosition = "right"
	BorderHorizontal BorderPosition = "horizontal"
)
