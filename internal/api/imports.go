package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kanveo/kanveo-cli/internal/dedupe"
	"github.com/kanveo/kanveo-cli/internal/importer"
	"github.com/kanveo/kanveo-cli/internal/model"
)

type mappingRequest struct {
	Header string `json:"header" validate:"required"`
	Field  string `json:"field" validate:"required"`
}

type keyFieldRequest struct {
	Field string `json:"field" validate:"required"`
}

// importView is a session snapshot plus the duplicate preview shown to the user.
type importView struct {
	importer.Snapshot
	DuplicatePreview []model.DuplicateWarning `json:"duplicate_preview"`
}

func (s *Server) view(sess *importer.Session) importView {
	snap := sess.Snapshot()
	return importView{
		Snapshot:         snap,
		DuplicatePreview: dedupe.Preview(snap.Duplicates, s.importC.DuplicatePreview),
	}
}

func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	if limit := s.importC.MaxFileBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	sess := importer.NewSession(importer.Options{
		OwnerID:            owner,
		Registry:           s.registry,
		AcceptedExtensions: s.importC.AcceptedExtensions,
		KeyField:           s.importC.KeyField,
		ChunkSize:          s.importC.ChunkSize,
		MaxRows:            s.importC.MaxRows,
	})
	zap.L().Info("api: import session created",
		zap.String("session_id", sess.ID()),
		zap.String("owner_id", owner),
		zap.String("file", header.Filename),
	)

	if err := sess.SelectFile(header.Filename); err != nil {
		handleError(w, r, err)
		return
	}
	if err := sess.Parse(r.Context(), s.parser, file); err != nil {
		handleError(w, r, err)
		return
	}
	sess.CheckExisting(r.Context(), s.store)

	s.sessions.Add(sess)
	writeJSON(w, http.StatusCreated, s.view(sess))
}

func (s *Server) session(r *http.Request) (*importer.Session, error) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.Get(ownerFrom(r.Context()), id)
	if !ok {
		return nil, eris.Wrapf(errSessionNotFound, "%s", id)
	}
	return sess, nil
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleSetMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req mappingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := sess.SetMapping(req.Header, req.Field); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleSetKeyField(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	var req keyFieldRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := sess.SetKeyField(req.Field); err != nil {
		handleError(w, r, err)
		return
	}
	sess.CheckExisting(r.Context(), s.store)
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) handleCommitImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	// Committing cannot be interrupted, even if the client goes away.
	res, err := sess.Commit(context.WithoutCancel(r.Context()), s.store, nil)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleDeleteImport cancels a session still under review and disposes of
// it. A session that is committing cannot be deleted.
func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	switch st := sess.State(); {
	case st == importer.StateCommitting:
		writeError(w, http.StatusConflict, "import is committing", nil)
		return
	case !st.Terminal():
		if err := sess.Cancel(); err != nil {
			handleError(w, r, err)
			return
		}
	}
	s.sessions.Remove(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body into dst and validates it. It writes a 400 and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}
