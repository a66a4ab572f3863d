// Package dbtype classifies DuckDB column type names and resolves
// struct/list paths inside nested types.
package dbtype

import (
	"strings"
)

// Kind is the coarse category of a column type.
type Kind int

// Type kinds.
const (
	Unknown Kind = iota
	String
	Numeric
	Boolean
	Temporal
	Nested
	Variant
	Geometry
	Blob
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Numeric:
		return "numeric"
	case Boolean:
		return "boolean"
	case Temporal:
		return "temporal"
	case Nested:
		return "nested"
	case Variant:
		return "variant"
	case Geometry:
		return "geometry"
	case Blob:
		return "blob"
	default:
		return "unknown"
	}
}

var scalarKinds = map[string]Kind{
	"VARCHAR": String, "TEXT": String, "STRING": String, "CHAR": String, "BPCHAR": String, "UUID": String, "ENUM": String,
	"TINYINT": Numeric, "SMALLINT": Numeric, "INTEGER": Numeric, "INT": Numeric, "BIGINT": Numeric, "HUGEINT": Numeric,
	"UTINYINT": Numeric, "USMALLINT": Numeric, "UINTEGER": Numeric, "UBIGINT": Numeric, "UHUGEINT": Numeric,
	"FLOAT": Numeric, "REAL": Numeric, "DOUBLE": Numeric, "DECIMAL": Numeric, "NUMERIC": Numeric,
	"BOOLEAN": Boolean, "BOOL": Boolean,
	"DATE": Temporal, "TIME": Temporal, "TIMESTAMP": Temporal, "DATETIME": Temporal,
	"TIMESTAMP WITH TIME ZONE": Temporal, "TIMESTAMPTZ": Temporal, "TIMESTAMP_S": Temporal,
	"TIMESTAMP_MS": Temporal, "TIMESTAMP_NS": Temporal, "TIME WITH TIME ZONE": Temporal, "TIMETZ": Temporal,
	"INTERVAL": Temporal,
	"BLOB":     Blob, "BYTEA": Blob, "BIT": Blob,
	"JSON": Variant, "VARIANT": Variant,
	"GEOMETRY": Geometry,
}

// Classify returns the kind of a DuckDB type name such as
// "DECIMAL(18,3)", "INTEGER[]" or "STRUCT(a INTEGER, b VARCHAR)".
func Classify(typeName string) Kind {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	if t == "" {
		return Unknown
	}
	if strings.HasSuffix(t, "]") {
		return Nested
	}
	head := t
	if i := strings.IndexByte(head, '('); i >= 0 {
		head = strings.TrimSpace(head[:i])
	}
	switch head {
	case "STRUCT", "MAP", "LIST":
		return Nested
	case "UNION":
		return Variant
	}
	if k, ok := scalarKinds[head]; ok {
		return k
	}
	return Unknown
}

// IsString reports whether the type is textual.
func IsString(typeName string) bool { return Classify(typeName) == String }

// IsTemporal reports whether the type is a date, time or timestamp.
func IsTemporal(typeName string) bool { return Classify(typeName) == Temporal }

// NeedsHashOrdering reports whether values of the type cannot be ordered
// directly and must be ordered by content hash.
func NeedsHashOrdering(typeName string) bool {
	switch Classify(typeName) {
	case Nested, Variant, Geometry:
		return true
	}
	return false
}

// IsDateLike reports whether date_trunc('day', ...) applies to the type.
func IsDateLike(typeName string) bool {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	return t == "DATE" || t == "DATETIME" || strings.HasPrefix(t, "TIMESTAMP")
}

// SummaryFuncs returns the aggregation functions that make sense for the
// type, in display order. Types that admit no summary return nil.
func SummaryFuncs(typeName string) []string {
	switch Classify(typeName) {
	case Numeric:
		return []string{"sum", "avg", "min", "max", "count", "countDistinct"}
	case Temporal:
		return []string{"min", "max", "count", "countDistinct"}
	case String, Boolean:
		return []string{"count", "countDistinct"}
	case Unknown, Nested, Variant, Geometry, Blob:
		return []string{"count"}
	}
	return nil
}

// AdmitsSummary reports whether fn is a valid summary function for the type.
func AdmitsSummary(typeName, fn string) bool {
	for _, f := range SummaryFuncs(typeName) {
		if f == fn {
			return true
		}
	}
	return false
}
