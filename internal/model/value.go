// Package model defines the data types shared by the import subsystem.
package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
)

// Value is a single spreadsheet cell: a string, a number, or null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
}

// StringValue returns a string cell.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue returns a numeric cell.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// NullValue returns an empty cell.
func NullValue() Value { return Value{} }

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// Number returns the numeric payload and whether v is a number.
func (v Value) Number() (float64, bool) { return v.num, v.kind == KindNumber }

// String renders the cell as text. Integral numbers have no decimal point.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// IsEmpty reports whether the cell is null or whitespace only.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindNumber:
		return false
	default:
		return true
	}
}

// MarshalJSON encodes strings as JSON strings, numbers as numbers, null as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON string, number, or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = NullValue()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	return eris.Errorf("model: unsupported cell value %s", trimmed)
}

// RawRow holds one data row keyed by the original file column name.
type RawRow map[string]Value

// Sheet is the output of a spreadsheet parser: ordered headers and rows.
type Sheet struct {
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}
