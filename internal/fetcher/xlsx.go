package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of leading rows to skip
}

// ReadXLSX reads an XLSX workbook and returns the rows of one sheet.
// Numeric cells with a plain number format become number values, empty
// cells become null, everything else is the cell's formatted text.
func ReadXLSX(data []byte, opts XLSXOptions) ([][]model.Value, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]model.Value
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rowToValues(row))
	}

	return rows, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToValues(row *xlsx.Row) []model.Value {
	if row == nil {
		return nil
	}
	values := make([]model.Value, len(row.Cells))
	for j, cell := range row.Cells {
		values[j] = cellValue(cell)
	}
	return values
}

func cellValue(cell *xlsx.Cell) model.Value {
	if cell == nil {
		return model.NullValue()
	}
	if cell.Type() == xlsx.CellTypeNumeric && plainNumberFormat(cell.GetNumberFormat()) {
		if n, err := cell.Float(); err == nil {
			return model.NumberValue(n)
		}
	}
	s := cell.String()
	if s == "" {
		return model.NullValue()
	}
	return model.StringValue(s)
}

func plainNumberFormat(format string) bool {
	switch strings.ToLower(format) {
	case "", "general", "0", "0.00":
		return true
	}
	return false
}
