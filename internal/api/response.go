package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/importer"
	"github.com/kanveo/kanveo-cli/internal/store"
)

// Envelope is the JSON body of every response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

var errSessionNotFound = errors.New("import session not found")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: status < 400, Data: data}); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{Success: false, Error: message, Data: data}); err != nil {
		zap.L().Error("api: encode error response", zap.Error(err))
	}
}

// chunkFailure is the error payload of a partially committed import.
type chunkFailure struct {
	BatchID   string `json:"batch_id,omitempty"`
	Chunk     int    `json:"chunk"`
	Committed int    `json:"committed"`
	Total     int    `json:"total"`
}

// handleError maps domain errors to status codes. Unknown errors become 500.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var chunkErr *importer.ChunkError
	switch {
	case errors.As(err, &chunkErr):
		writeError(w, http.StatusBadGateway, err.Error(), chunkFailure{
			BatchID:   chunkErr.BatchID,
			Chunk:     chunkErr.Chunk,
			Committed: chunkErr.Committed,
			Total:     chunkErr.Total,
		})
	case errors.Is(err, importer.ErrInvalidFileType):
		writeError(w, http.StatusUnsupportedMediaType, err.Error(), nil)
	case errors.Is(err, importer.ErrParseFailure):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, importer.ErrEmptyMapping),
		errors.Is(err, importer.ErrInvalidTransition),
		errors.Is(err, importer.ErrDuplicateTarget):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, importer.ErrUnknownHeader),
		errors.Is(err, importer.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, errSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	default:
		zap.L().Error("api: unhandled error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
