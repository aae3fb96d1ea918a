// Package fetcher reads spreadsheet files (CSV, XLSX) into ordered headers
// and rows, and downloads remote files for import.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// ErrUnsupportedFormat is returned for file extensions the parser cannot read.
var ErrUnsupportedFormat = eris.New("fetcher: unsupported file format")

// SheetParser parses CSV and XLSX files into a model.Sheet.
type SheetParser struct {
	// MaxBytes caps the amount of input read. Zero means unlimited.
	MaxBytes int64
}

// Parse reads r according to the extension of name.
func (p SheetParser) Parse(ctx context.Context, name string, r io.Reader) (*model.Sheet, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".csv", ".txt", ".xlsx":
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
	}

	data, err := p.readAll(r)
	if err != nil {
		return nil, err
	}

	var records [][]model.Value
	if ext == ".xlsx" {
		records, err = ReadXLSX(data, XLSXOptions{})
	} else {
		records, err = ReadCSV(ctx, bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}

	return BuildSheet(records), nil
}

func (p SheetParser) readAll(r io.Reader) ([]byte, error) {
	if p.MaxBytes <= 0 {
		data, err := io.ReadAll(r)
		return data, eris.Wrap(err, "fetcher: read input")
	}
	data, err := io.ReadAll(io.LimitReader(r, p.MaxBytes+1))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read input")
	}
	if int64(len(data)) > p.MaxBytes {
		return nil, eris.Errorf("fetcher: file exceeds %d bytes", p.MaxBytes)
	}
	return data, nil
}
