// Package store persists import batches and imported records.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// ErrNotFound is returned when a batch or record does not exist for the owner.
var ErrNotFound = eris.New("store: not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// RecordFilter specifies criteria for listing imported records.
// Every query is scoped to OwnerID.
type RecordFilter struct {
	OwnerID   string `json:"owner_id"`
	BatchID   string `json:"batch_id,omitempty"`
	Query     string `json:"query,omitempty"`     // case-insensitive substring over data and notes
	Pipelined *bool  `json:"pipelined,omitempty"` // nil = both
	SortField string `json:"sort_field,omitempty"` // "created_at" or a canonical field id
	Desc      bool   `json:"desc,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []model.ImportedRecord `json:"records"`
	Total   int                    `json:"total"`
}

// Store defines the persistence interface for the import subsystem.
type Store interface {
	// Batches
	CreateBatch(ctx context.Context, batch model.ImportBatch) (*model.ImportBatch, error)
	GetBatch(ctx context.Context, ownerID, batchID string) (*model.ImportBatch, error)
	ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]model.ImportBatch, error)
	DeleteBatch(ctx context.Context, ownerID, batchID string) error

	// Records
	InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error)
	GetRecord(ctx context.Context, ownerID, recordID string) (*model.ImportedRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) (*RecordPage, error)
	DeleteRecord(ctx context.Context, ownerID, recordID string) error
	MarkPipelined(ctx context.Context, ownerID, recordID string) error
	UpdateNotes(ctx context.Context, ownerID, recordID, notes string) error
	ExistingKeys(ctx context.Context, ownerID, field string, values []string) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// normalize validates the filter and applies defaults.
func (f RecordFilter) normalize() (RecordFilter, error) {
	if f.OwnerID == "" {
		return f, eris.New("store: owner id is required")
	}
	if f.SortField == "" {
		f.SortField = "created_at"
	}
	if !fieldPattern.MatchString(f.SortField) {
		return f, eris.Errorf("store: invalid sort field %q", f.SortField)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

// likePattern escapes LIKE wildcards in q and wraps it for substring search.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// foldText applies Unicode case folding so searches match regardless of case.
func foldText(s string) string {
	return cases.Fold().String(s)
}

// encodeData serializes record data as JSON with characters like & kept literal.
func encodeData(data map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
