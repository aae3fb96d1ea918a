package model

import "time"

// ImportBatch is one committed import. It is immutable after creation.
type ImportBatch struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	FileName        string        `json:"file_name"`
	RowCount        int           `json:"row_count"`
	MappingSnapshot ColumnMapping `json:"mapping_snapshot"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ImportedRecord is a persisted row produced by an import.
// Data is keyed by canonical field id.
type ImportedRecord struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	ImportBatchID string            `json:"import_batch_id"`
	Data          map[string]string `json:"data"`
	Notes         string            `json:"notes"`
	IsPipelined   bool              `json:"is_pipelined"`
	CreatedAt     time.Time         `json:"created_at"`
}
