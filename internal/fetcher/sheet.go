package fetcher

import (
	"fmt"
	"strings"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// BuildSheet turns raw records into headers and rows. The first non-blank
// record is the header row. Blank headers become column_N and repeated
// headers get the first free _2, _3 suffix, so every header is unique.
// Blank data rows are dropped.
func BuildSheet(records [][]model.Value) *model.Sheet {
	sheet := &model.Sheet{Headers: []string{}, Rows: []model.RawRow{}}

	start := -1
	for i, rec := range records {
		if !blank(rec) {
			start = i
			break
		}
	}
	if start < 0 {
		return sheet
	}

	sheet.Headers = headerNames(records[start])

	for _, rec := range records[start+1:] {
		if blank(rec) {
			continue
		}
		row := make(model.RawRow, len(sheet.Headers))
		for i, h := range sheet.Headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = model.NullValue()
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

func headerNames(rec []model.Value) []string {
	// Trailing blank header cells with no name carry no data column.
	end := len(rec)
	for end > 0 && rec[end-1].IsEmpty() {
		end--
	}

	// Names present in the file keep priority over generated ones.
	reserved := make(map[string]bool, end)
	for i := 0; i < end; i++ {
		if name := strings.TrimSpace(rec[i].String()); name != "" {
			reserved[name] = true
		}
	}

	names := make([]string, end)
	used := make(map[string]bool, end)
	for i := 0; i < end; i++ {
		name := strings.TrimSpace(rec[i].String())
		generated := name == ""
		if generated {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if used[name] || (generated && reserved[name]) {
			base := name
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
				if !used[name] && !reserved[name] {
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func blank(rec []model.Value) bool {
	for _, v := range rec {
		if !v.IsEmpty() {
			return false
		}
	}
	return true
}
