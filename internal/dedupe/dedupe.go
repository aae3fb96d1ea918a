// Package dedupe flags key values that repeat within an imported row set.
package dedupe

import (
	"sort"
	"strings"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// Detect counts the trimmed, case-folded values of column header and returns
// a warning for every value seen at least twice. Empty values are skipped.
// Results are sorted by count descending, then by value.
func Detect(rows []model.RawRow, header string) []model.DuplicateWarning {
	warnings := []model.DuplicateWarning{}
	if header == "" || len(rows) == 0 {
		return warnings
	}

	counts := make(map[string]int)
	for _, row := range rows {
		v, ok := row[header]
		if !ok || v.IsEmpty() {
			continue
		}
		counts[Key(v.String())]++
	}

	for k, n := range counts {
		if n >= 2 {
			warnings = append(warnings, model.DuplicateWarning{KeyValue: k, Count: n})
		}
	}

	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Count != warnings[j].Count {
			return warnings[i].Count > warnings[j].Count
		}
		return warnings[i].KeyValue < warnings[j].KeyValue
	})
	return warnings
}

// DetectByField runs Detect on the first column, in header order, currently
// mapped to field. No such column yields no warnings.
func DetectByField(rows []model.RawRow, headers []string, mapping model.ColumnMapping, field string) []model.DuplicateWarning {
	header, ok := mapping.HeaderFor(field, headers)
	if !ok {
		return []model.DuplicateWarning{}
	}
	return Detect(rows, header)
}

// Key is the comparison form of a key value.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Preview returns at most n warnings for display.
func Preview(warnings []model.DuplicateWarning, n int) []model.DuplicateWarning {
	if n <= 0 || len(warnings) <= n {
		return warnings
	}
	return warnings[:n]
}
