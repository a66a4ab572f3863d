package dbtype

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/gridsource/pkg/clause"
)

// Step is one element of a path into a nested value: a struct field name
// or a 0-based list index.
type Step struct {
	Field string
	Index int
	IsIdx bool
}

// FieldStep returns a struct field step.
func FieldStep(name string) Step { return Step{Field: name} }

// IndexStep returns a list index step.
func IndexStep(i int) Step { return Step{Index: i, IsIdx: true} }

func (s Step) String() string {
	if s.IsIdx {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return "." + s.Field
}

// ParsePath parses "a.b[2].c" into steps. An empty string is the empty path.
func ParsePath(path string) ([]Step, error) {
	var steps []Step
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			n, err := strconv.Atoi(path[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index in path %q", path)
			}
			steps = append(steps, IndexStep(n))
			i += end + 1
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' {
				j++
			}
			steps = append(steps, FieldStep(path[i:j]))
			i = j
		}
	}
	return steps, nil
}

// Resolve returns the type reached by following steps from typeName.
// It fails when a step does not apply to the type at that point.
func Resolve(typeName string, steps []Step) (string, error) {
	t := strings.TrimSpace(typeName)
	for _, st := range steps {
		if st.IsIdx {
			elem, ok := listElem(t)
			if !ok {
				return "", fmt.Errorf("type %s is not a list", t)
			}
			t = elem
			continue
		}
		fields, ok := structFields(t)
		if !ok {
			return "", fmt.Errorf("type %s is not a struct", t)
		}
		ft, found := "", false
		for _, f := range fields {
			if strings.EqualFold(f.Name, st.Field) {
				ft, found = f.Type, true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("struct %s has no field %q", t, st.Field)
		}
		t = ft
	}
	return t, nil
}

// StructField is one member of a STRUCT type.
type StructField struct {
	Name string
	Type string
}

func listElem(t string) (string, bool) {
	if strings.HasSuffix(t, "[]") {
		return strings.TrimSpace(t[:len(t)-2]), true
	}
	// fixed-size arrays: INTEGER[3]
	if strings.HasSuffix(t, "]") {
		if i := strings.LastIndexByte(t, '['); i > 0 {
			if _, err := strconv.Atoi(t[i+1 : len(t)-1]); err == nil {
				return strings.TrimSpace(t[:i]), true
			}
		}
	}
	upper := strings.ToUpper(t)
	if strings.HasPrefix(upper, "LIST(") && strings.HasSuffix(t, ")") {
		return strings.TrimSpace(t[5 : len(t)-1]), true
	}
	return "", false
}

func structFields(t string) ([]StructField, bool) {
	upper := strings.ToUpper(t)
	if !strings.HasPrefix(upper, "STRUCT(") || !strings.HasSuffix(t, ")") {
		return nil, false
	}
	body := t[len("STRUCT(") : len(t)-1]
	var fields []StructField
	for _, part := range splitTopLevel(body) {
		name, typ := splitFieldDecl(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		fields = append(fields, StructField{Name: name, Type: typ})
	}
	return fields, true
}

// splitTopLevel splits on commas that are not nested in parentheses or
// quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

func splitFieldDecl(decl string) (string, string) {
	if strings.HasPrefix(decl, `"`) {
		for i := 1; i < len(decl); i++ {
			if decl[i] != '"' {
				continue
			}
			if i+1 < len(decl) && decl[i+1] == '"' {
				i++
				continue
			}
			name := strings.ReplaceAll(decl[1:i], `""`, `"`)
			return name, strings.TrimSpace(decl[i+1:])
		}
		return "", ""
	}
	sp := strings.IndexByte(decl, ' ')
	if sp < 0 {
		return decl, ""
	}
	return decl[:sp], strings.TrimSpace(decl[sp+1:])
}

// PathExpr applies steps to x as struct_extract / list_extract calls.
func PathExpr(x clause.Expr, steps []Step) clause.Expr {
	for _, st := range steps {
		if st.IsIdx {
			x = clause.Index(x, st.Index)
		} else {
			x = clause.Field(x, st.Field)
		}
	}
	return x
}

// FoldCase returns the case-insensitive form of a textual value. Only
// VARCHAR has lower(); UUID and ENUM values are cast first.
func FoldCase(x clause.Expr, typeName string) clause.Expr {
	if IsVarchar(typeName) {
		return clause.Lower(x)
	}
	return clause.Lower(clause.Text(x))
}

// IsVarchar reports whether the type is a VARCHAR or one of its aliases.
func IsVarchar(typeName string) bool {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "VARCHAR", "TEXT", "STRING", "CHAR", "BPCHAR":
		return true
	}
	return false
}
