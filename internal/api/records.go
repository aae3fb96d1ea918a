package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kanveo/kanveo-cli/internal/store"
)

type notesRequest struct {
	Notes string `json:"notes" validate:"max=10000"`
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	batches, err := s.store.ListBatches(r.Context(), ownerFrom(r.Context()), limit, offset)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBatch(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBatch(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := pageParams(r)
	filter := store.RecordFilter{
		OwnerID:   ownerFrom(r.Context()),
		Query:     q.Get("q"),
		BatchID:   q.Get("batch"),
		SortField: q.Get("sort"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := q.Get("desc"); v != "" {
		desc, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "desc must be a boolean", nil)
			return
		}
		filter.Desc = desc
	}
	if v := q.Get("pipelined"); v != "" {
		p, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "pipelined must be a boolean", nil)
			return
		}
		filter.Pipelined = &p
	}
	if filter.SortField != "" && filter.SortField != "created_at" && !s.registry.Has(filter.SortField) {
		writeError(w, http.StatusBadRequest, "unknown sort field "+strconv.Quote(filter.SortField), nil)
		return
	}

	page, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRecord(r.Context(), ownerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePipelineRecord flags a record as promoted to the sales pipeline.
func (s *Server) handlePipelineRecord(w http.ResponseWriter, r *http.Request) {
	owner, id := ownerFrom(r.Context()), chi.URLParam(r, "id")
	if err := s.store.MarkPipelined(r.Context(), owner, id); err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := s.store.GetRecord(r.Context(), owner, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, id := ownerFrom(r.Context()), chi.URLParam(r, "id")
	if err := s.store.UpdateNotes(r.Context(), owner, id, req.Notes); err != nil {
		handleError(w, r, err)
		return
	}
	rec, err := s.store.GetRecord(r.Context(), owner, id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// pageParams reads limit and offset. Invalid values fall back to the store defaults.
func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return limit, offset
}
