package model

// IgnoreField marks a column that is not imported.
const IgnoreField = "ignore"

// MatchConfidence describes how a suggested column mapping was derived.
type MatchConfidence string

const (
	ConfidenceExact   MatchConfidence = "exact"
	ConfidencePartial MatchConfidence = "partial"
	ConfidenceNone    MatchConfidence = "none"
)

// Rank orders confidences so that a stronger match has a higher rank.
func (c MatchConfidence) Rank() int {
	switch c {
	case ConfidenceExact:
		return 2
	case ConfidencePartial:
		return 1
	default:
		return 0
	}
}

// ColumnSuggestion is the matcher's proposal for a single column.
type ColumnSuggestion struct {
	Header     string          `json:"header"`
	Field      string          `json:"field"`
	Confidence MatchConfidence `json:"confidence"`
}

// ColumnMapping maps an original column name to a canonical field id or IgnoreField.
type ColumnMapping map[string]string

// Clone returns an independent copy of m.
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MappedCount returns the number of columns mapped to a real field.
func (m ColumnMapping) MappedCount() int {
	n := 0
	for _, f := range m {
		if f != "" && f != IgnoreField {
			n++
		}
	}
	return n
}

// HeaderFor returns the first header, in the given order, mapped to field.
func (m ColumnMapping) HeaderFor(field string, headers []string) (string, bool) {
	for _, h := range headers {
		if m[h] == field {
			return h, true
		}
	}
	return "", false
}

// DuplicateWarning reports a key value seen more than once in a row set.
type DuplicateWarning struct {
	KeyValue string `json:"key_value"`
	Count    int    `json:"occurrence_count"`
}

// Progress reports commit progress after each chunk.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}
