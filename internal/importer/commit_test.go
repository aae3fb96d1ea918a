package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kanveo/kanveo-cli/internal/fetcher"
	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/registry"
	"github.com/kanveo/kanveo-cli/internal/store"
)

func TestBuildRecords(t *testing.T) {
	headers := []string{"Nom", "Mail", "CP", "Remarque", "CA"}
	sheet := sheetOf(headers,
		[]string{"  Jeanne Martin ", "Jeanne@Exemple.FR", "75 001", "VIP", "2M"},
		[]string{"", "", "", "", "3M"},
		[]string{"", "", "69002", "", ""},
	)
	mapping := model.ColumnMapping{
		"Nom":      "name",
		"Mail":     "email",
		"CP":       "postal_code",
		"Remarque": "notes",
		"CA":       model.IgnoreField,
	}

	recs, skipped := BuildRecords(sheet.Rows, headers, mapping, registry.Default(), "u1", "b1")
	require.Len(t, recs, 2)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, map[string]string{
		"name":        "Jeanne Martin",
		"email":       "jeanne@exemple.fr",
		"postal_code": "75001",
		"notes":       "VIP",
	}, recs[0].Data)
	assert.Equal(t, "VIP", recs[0].Notes)
	assert.Equal(t, "u1", recs[0].OwnerID)
	assert.Equal(t, "b1", recs[0].ImportBatchID)
	assert.NotEmpty(t, recs[0].ID)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)

	assert.Equal(t, map[string]string{"postal_code": "69002"}, recs[1].Data)
	assert.Empty(t, recs[1].Notes)
}

func TestBuildRecords_NumberCells(t *testing.T) {
	headers := []string{"SIRET"}
	rows := []model.RawRow{{"SIRET": model.NumberValue(73282932000074)}}

	recs, skipped := BuildRecords(rows, headers, model.ColumnMapping{"SIRET": "siret"}, registry.Default(), "u1", "b1")
	require.Len(t, recs, 1)
	assert.Zero(t, skipped)
	assert.Equal(t, "73282932000074", recs[0].Data["siret"])
}

func TestRun_EmptyMapping(t *testing.T) {
	st := new(mockRecordStore)
	_, err := Run(context.Background(), st, CommitRequest{
		Headers: []string{"A"},
		Mapping: model.ColumnMapping{"A": model.IgnoreField},
	})
	assert.True(t, errors.Is(err, ErrEmptyMapping))
	st.AssertNumberOfCalls(t, "CreateBatch", 0)
}

func TestRun_BatchCreationFailure(t *testing.T) {
	sheet := sheetOf([]string{"Email"}, []string{"a@x.com"})
	st := new(mockRecordStore)
	st.On("CreateBatch", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("disk full")).Once()

	_, err := Run(context.Background(), st, CommitRequest{
		OwnerID:  "u1",
		Headers:  sheet.Headers,
		Rows:     sheet.Rows,
		Mapping:  model.ColumnMapping{"Email": "email"},
		Registry: registry.Default(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChunkInsertFailure))
	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.Zero(t, ce.Chunk)
	assert.Zero(t, ce.Committed)
	assert.Empty(t, ce.BatchID)
	assert.Contains(t, err.Error(), "create batch")
	st.AssertNumberOfCalls(t, "InsertRecords", 0)
}

func TestRun_ContextCancelledStopsBetweenChunks(t *testing.T) {
	rows := make([][]string, 0, 4)
	for i := range 4 {
		rows = append(rows, []string{fmt.Sprintf("c%d@x.com", i)})
	}
	sheet := sheetOf([]string{"Email"}, rows...)

	ctx, cancel := context.WithCancel(context.Background())
	st := new(mockRecordStore)
	st.On("CreateBatch", mock.Anything, mock.Anything).Return(&model.ImportBatch{}, nil).Once()
	st.On("InsertRecords", mock.Anything, mock.Anything).Return(2, nil).Once().Run(func(mock.Arguments) { cancel() })

	_, err := Run(ctx, st, CommitRequest{
		OwnerID:   "u1",
		Headers:   sheet.Headers,
		Rows:      sheet.Rows,
		Mapping:   model.ColumnMapping{"Email": "email"},
		Registry:  registry.Default(),
		ChunkSize: 2,
	})
	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 2, ce.Chunk)
	assert.Equal(t, 2, ce.Committed)
	assert.True(t, errors.Is(err, context.Canceled))
	st.AssertNumberOfCalls(t, "InsertRecords", 1)
}

func TestSession_RoundTrip_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	csv := "Raison sociale;E-mail;Ville;Commentaire\n" +
		"Boulangerie Dupont;contact@dupont.fr;Lyon;rappeler\n" +
		"Garage Martin;info@martin.fr;Paris;\n" +
		";;;\n" +
		"Garage Martin bis;INFO@martin.fr ;Paris;\n"

	s := NewSession(Options{OwnerID: "u1", ChunkSize: 2})
	require.NoError(t, s.SelectFile("prospects.csv"))
	require.NoError(t, s.Parse(ctx, fetcher.SheetParser{}, strings.NewReader(csv)))

	snap := s.Snapshot()
	assert.Equal(t, model.ColumnMapping{
		"Raison sociale": "company",
		"E-mail":         "email",
		"Ville":          "city",
		"Commentaire":    "notes",
	}, snap.Mapping)
	assert.Equal(t, []model.DuplicateWarning{{KeyValue: "info@martin.fr", Count: 2}}, snap.Duplicates)

	res, err := s.Commit(ctx, st, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Committed)

	batch, err := st.GetBatch(ctx, "u1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.RowCount)
	assert.Equal(t, "prospects.csv", batch.FileName)
	assert.Equal(t, snap.Mapping, batch.MappingSnapshot)

	page, err := st.ListRecords(ctx, store.RecordFilter{OwnerID: "u1", BatchID: res.BatchID, SortField: "company"})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	first := page.Records[0]
	assert.Equal(t, "Boulangerie Dupont", first.Data["company"])
	assert.Equal(t, "contact@dupont.fr", first.Data["email"])
	assert.Equal(t, "rappeler", first.Notes)
	assert.Equal(t, "info@martin.fr", page.Records[2].Data["email"])

	// A second file sharing a key sees the existing record.
	s2 := NewSession(Options{OwnerID: "u1"})
	require.NoError(t, s2.SelectFile("relance.csv"))
	require.NoError(t, s2.Parse(ctx, fetcher.SheetParser{}, strings.NewReader("Email\ncontact@dupont.fr\nnew@x.fr\n")))
	assert.Equal(t, []string{"contact@dupont.fr"}, s2.CheckExisting(ctx, st))
}

// flakyStore fails the InsertRecords call numbered failOn.
type flakyStore struct {
	*store.SQLiteStore
	failOn int
	calls  int
}

func (f *flakyStore) InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error) {
	f.calls++
	if f.calls == f.failOn {
		return 0, fmt.Errorf("connection reset")
	}
	return f.SQLiteStore.InsertRecords(ctx, records)
}

func TestSession_ChunkFailure_SQLiteKeepsEarlierChunks(t *testing.T) {
	ctx := context.Background()
	sq, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() }) //nolint:errcheck
	require.NoError(t, sq.Migrate(ctx))

	rows := make([][]string, 0, 130)
	for i := range 130 {
		rows = append(rows, []string{fmt.Sprintf("p%03d@x.com", i)})
	}
	s := parsedSession(t, sheetOf([]string{"Email"}, rows...))

	st := &flakyStore{SQLiteStore: sq, failOn: 3}
	_, err = s.Commit(ctx, st, nil)
	require.Error(t, err)

	var ce *ChunkError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Chunk)
	assert.Equal(t, 100, ce.Committed)
	require.NotEmpty(t, ce.BatchID)

	page, err := sq.ListRecords(ctx, store.RecordFilter{OwnerID: "u1", BatchID: ce.BatchID})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Total)

	batch, err := sq.GetBatch(ctx, "u1", ce.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 130, batch.RowCount)
	assert.Equal(t, StateFailed, s.State())
}
