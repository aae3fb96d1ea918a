package importer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/registry"
)

// DefaultChunkSize is the number of records sent to the store per call.
const DefaultChunkSize = 50

// notesField is the canonical field whose value also seeds ImportedRecord.Notes.
const notesField = "notes"

// RecordStore is the part of the store the commit pipeline writes to.
type RecordStore interface {
	CreateBatch(ctx context.Context, batch model.ImportBatch) (*model.ImportBatch, error)
	InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error)
}

// CommitRequest carries everything the pipeline needs to persist one import.
type CommitRequest struct {
	OwnerID   string
	FileName  string
	Headers   []string
	Rows      []model.RawRow
	Mapping   model.ColumnMapping
	Registry  *registry.Registry
	ChunkSize int
	Progress  func(model.Progress)
}

// CommitResult summarises a successful commit.
type CommitResult struct {
	BatchID   string `json:"batch_id"`
	Committed int    `json:"committed"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// BuildRecords converts raw rows into records using the mapping. Values are
// coerced per field type. A row whose mapped values are all empty is skipped
// and counted in the second return value.
func BuildRecords(rows []model.RawRow, headers []string, mapping model.ColumnMapping, reg *registry.Registry, ownerID, batchID string) ([]model.ImportedRecord, int) {
	type column struct {
		header string
		def    registry.FieldDef
	}
	var cols []column
	for _, h := range headers {
		field := mapping[h]
		if field == "" || field == model.IgnoreField {
			continue
		}
		def, ok := reg.ByID(field)
		if !ok {
			continue
		}
		cols = append(cols, column{header: h, def: def})
	}

	now := time.Now().UTC()
	records := make([]model.ImportedRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		data := make(map[string]string, len(cols))
		for _, c := range cols {
			v := registry.Coerce(c.def, row[c.header].String())
			if v == "" {
				continue
			}
			data[c.def.ID] = v
		}
		if len(data) == 0 {
			skipped++
			continue
		}
		records = append(records, model.ImportedRecord{
			ID:            uuid.New().String(),
			OwnerID:       ownerID,
			ImportBatchID: batchID,
			Data:          data,
			Notes:         data[notesField],
			CreatedAt:     now,
		})
	}
	return records, skipped
}

// Run persists an import: it creates the batch, then inserts the records in
// chunks. Chunks are independent store calls, so a failure leaves earlier
// chunks in place and is reported as a *ChunkError.
func Run(ctx context.Context, st RecordStore, req CommitRequest) (*CommitResult, error) {
	if req.Mapping.MappedCount() == 0 {
		return nil, ErrEmptyMapping
	}
	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	log := zap.L().With(zap.String("owner_id", req.OwnerID), zap.String("file", req.FileName))

	batchID := uuid.New().String()
	records, skipped := BuildRecords(req.Rows, req.Headers, req.Mapping, req.Registry, req.OwnerID, batchID)
	total := len(records)

	if _, err := st.CreateBatch(ctx, model.ImportBatch{
		ID:              batchID,
		OwnerID:         req.OwnerID,
		FileName:        req.FileName,
		RowCount:        total,
		MappingSnapshot: req.Mapping.Clone(),
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		log.Error("importer: create batch failed", zap.Error(err))
		return nil, &ChunkError{Total: total, Err: err}
	}

	log.Info("importer: commit started",
		zap.String("batch_id", batchID),
		zap.Int("records", total),
		zap.Int("skipped", skipped),
		zap.Int("chunk_size", chunkSize),
	)

	committed := 0
	for start, chunk := 0, 1; start < total; start, chunk = start+chunkSize, chunk+1 {
		end := min(start+chunkSize, total)

		var err error
		if err = ctx.Err(); err == nil {
			_, err = st.InsertRecords(ctx, records[start:end])
		}
		if err != nil {
			log.Error("importer: chunk failed",
				zap.String("batch_id", batchID),
				zap.Int("chunk", chunk),
				zap.Int("committed", committed),
				zap.Error(err),
			)
			return nil, &ChunkError{BatchID: batchID, Chunk: chunk, Committed: committed, Total: total, Err: err}
		}

		committed = end
		log.Debug("importer: chunk committed",
			zap.String("batch_id", batchID),
			zap.Int("chunk", chunk),
			zap.Int("committed", committed),
		)
		if req.Progress != nil {
			req.Progress(model.Progress{Current: committed, Total: total})
		}
	}

	log.Info("importer: commit finished", zap.String("batch_id", batchID), zap.Int("committed", committed))
	return &CommitResult{BatchID: batchID, Committed: committed, Skipped: skipped, Total: total}, nil
}
