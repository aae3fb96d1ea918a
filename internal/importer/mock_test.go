package importer

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// --- RecordStore Mock ---

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) CreateBatch(ctx context.Context, batch model.ImportBatch) (*model.ImportBatch, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ImportBatch), args.Error(1)
}

func (m *mockRecordStore) InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

// --- ExistingLookup Mock ---

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) ExistingKeys(ctx context.Context, ownerID, field string, values []string) ([]string, error) {
	args := m.Called(ctx, ownerID, field, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Parser stub ---

type stubParser struct {
	sheet *model.Sheet
	err   error
}

func (p stubParser) Parse(_ context.Context, _ string, _ io.Reader) (*model.Sheet, error) {
	return p.sheet, p.err
}

func sheetOf(headers []string, rows ...[]string) *model.Sheet {
	sh := &model.Sheet{Headers: headers}
	for _, r := range rows {
		row := make(model.RawRow, len(headers))
		for i, h := range headers {
			if i < len(r) && r[i] != "" {
				row[h] = model.StringValue(r[i])
			} else {
				row[h] = model.NullValue()
			}
		}
		sh.Rows = append(sh.Rows, row)
	}
	return sh
}
