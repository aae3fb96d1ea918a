package importer

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidFileType is returned when the selected file is not an accepted spreadsheet type.
	ErrInvalidFileType = eris.New("importer: invalid file type")
	// ErrParseFailure is returned when the file cannot be parsed into headers and rows.
	ErrParseFailure = eris.New("importer: parse failure")
	// ErrEmptyMapping is returned by Commit when no column is mapped to a field.
	ErrEmptyMapping = eris.New("importer: no column mapped to a field")
	// ErrChunkInsertFailure marks a commit that stopped on a failed chunk.
	ErrChunkInsertFailure = eris.New("importer: chunk insert failure")

	ErrInvalidTransition = eris.New("importer: invalid state transition")
	ErrUnknownHeader     = eris.New("importer: unknown header")
	ErrUnknownField      = eris.New("importer: unknown field")
	ErrDuplicateTarget   = eris.New("importer: field already mapped to another column")
)

// ChunkError reports the chunk that failed during a commit. Chunks before it
// stay persisted.
type ChunkError struct {
	BatchID   string // empty when the batch itself could not be created
	Chunk     int    // 1-based; 0 when the batch itself could not be created
	Committed int
	Total     int
	Err       error
}

func (e *ChunkError) Error() string {
	if e.Chunk == 0 {
		return fmt.Sprintf("importer: create batch: %v", e.Err)
	}
	return fmt.Sprintf("importer: batch %s chunk %d failed after %d of %d records: %v", e.BatchID, e.Chunk, e.Committed, e.Total, e.Err)
}

// Unwrap exposes both ErrChunkInsertFailure and the store error.
func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkInsertFailure, e.Err}
}
