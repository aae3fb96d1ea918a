package matcher

import (
	"strings"

	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/registry"
)

// minPartialLen is the shortest normalized string allowed to take part in
// a substring match. Single characters would match almost anything.
const minPartialLen = 2

// Match returns the best canonical field for header and how it was found.
// Exact matches against a field id or synonym beat substring matches; within
// a tier the first declared field wins. No match yields IgnoreField.
func Match(header string, fields []registry.FieldDef) (string, model.MatchConfidence) {
	h := Normalize(header)
	if h == "" {
		return model.IgnoreField, model.ConfidenceNone
	}

	for _, f := range fields {
		for _, c := range candidates(f) {
			if h == c {
				return f.ID, model.ConfidenceExact
			}
		}
	}

	for _, f := range fields {
		for _, c := range candidates(f) {
			if partial(h, c) {
				return f.ID, model.ConfidencePartial
			}
		}
	}

	return model.IgnoreField, model.ConfidenceNone
}

func candidates(f registry.FieldDef) []string {
	out := make([]string, 0, len(f.Synonyms)+1)
	if id := Normalize(f.ID); id != "" {
		out = append(out, id)
	}
	for _, s := range f.Synonyms {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func partial(h, c string) bool {
	if len(h) < minPartialLen || len(c) < minPartialLen {
		return false
	}
	return strings.Contains(h, c) || strings.Contains(c, h)
}

// Propose matches every header and resolves fields claimed by more than one
// column: the strongest confidence keeps the field, ties go to the earliest
// header, and the other columns fall back to IgnoreField.
func Propose(headers []string, fields []registry.FieldDef) ([]model.ColumnSuggestion, model.ColumnMapping) {
	suggestions := make([]model.ColumnSuggestion, len(headers))
	owner := make(map[string]int)

	for i, h := range headers {
		field, conf := Match(h, fields)
		suggestions[i] = model.ColumnSuggestion{Header: h, Field: field, Confidence: conf}
		if field == model.IgnoreField {
			continue
		}
		prev, claimed := owner[field]
		if !claimed {
			owner[field] = i
			continue
		}
		if conf.Rank() > suggestions[prev].Confidence.Rank() {
			suggestions[prev].Field = model.IgnoreField
			suggestions[prev].Confidence = model.ConfidenceNone
			owner[field] = i
			continue
		}
		suggestions[i].Field = model.IgnoreField
		suggestions[i].Confidence = model.ConfidenceNone
	}

	mapping := make(model.ColumnMapping, len(headers))
	for _, s := range suggestions {
		mapping[s.Header] = s.Field
	}
	return suggestions, mapping
}
