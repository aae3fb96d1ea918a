package registry

import (
	"strings"
	"unicode"
)

// Coerce narrows a raw cell string according to the field's declared type.
// Every type trims surrounding whitespace.
func Coerce(def FieldDef, raw string) string {
	s := strings.TrimSpace(raw)
	switch def.Type {
	case TypeEmail:
		return strings.ToLower(s)
	case TypeSIRET, TypePostalCode:
		return stripSpace(s)
	case TypePhone:
		return strings.Join(strings.Fields(s), " ")
	default:
		return s
	}
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
