package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanveo/kanveo-cli/internal/config"
	"github.com/kanveo/kanveo-cli/internal/fetcher"
	"github.com/kanveo/kanveo-cli/internal/importer"
	"github.com/kanveo/kanveo-cli/internal/model"
	"github.com/kanveo/kanveo-cli/internal/store"
)

const prospectsCSV = "Nom;Email;Ville;CA\n" +
	"Alice Durand;alice@x.fr;Lyon;1M\n" +
	"Bob Petit;bob@x.fr;Paris;\n" +
	"Alice D.;ALICE@x.fr;Lyon;\n"

func testImportConfig() config.ImportConfig {
	return config.ImportConfig{
		ChunkSize:          2,
		AcceptedExtensions: []string{".csv", ".xlsx", ".txt"},
		KeyField:           "email",
		MaxFileMB:          1,
		DuplicatePreview:   5,
	}
}

func newTestServer(t *testing.T, st store.Store) *Server {
	t.Helper()
	if st == nil {
		sq, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { sq.Close() }) //nolint:errcheck
		require.NoError(t, sq.Migrate(context.Background()))
		st = sq
	}
	return NewServer(Options{
		Store:  st,
		Parser: fetcher.SheetParser{MaxBytes: 1 << 20},
		Import: testImportConfig(),
		Server: config.ServerConfig{UploadRPS: 100, UploadBurst: 100, SessionTTLMinutes: 30},
	})
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, srv http.Handler, method, path, owner string, body any) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func upload(t *testing.T, srv http.Handler, owner, name, content string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(OwnerHeader, owner)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func decodeView(t *testing.T, resp apiResponse) importView {
	t.Helper()
	var v importView
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := do(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Data))
}

func TestListFields(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := do(t, srv, http.MethodGet, "/fields", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fields []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &fields))
	require.NotEmpty(t, fields)
	assert.Equal(t, "name", fields[0].ID)
}

func TestRequireOwner(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := do(t, srv, http.MethodGet, "/records", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, OwnerHeader)
}

func TestImportFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	rec, resp := upload(t, srv, "u1", "prospects.csv", prospectsCSV)
	require.Equal(t, http.StatusCreated, rec.Code, resp.Error)
	v := decodeView(t, resp)
	assert.Equal(t, importer.StateParsed, v.State)
	assert.Equal(t, []string{"Nom", "Email", "Ville", "CA"}, v.Headers)
	assert.Equal(t, "name", v.Mapping["Nom"])
	assert.Equal(t, model.IgnoreField, v.Mapping["CA"])
	assert.Equal(t, []model.DuplicateWarning{{KeyValue: "alice@x.fr", Count: 2}}, v.DuplicatePreview)
	id := v.ID

	rec, resp = do(t, srv, http.MethodPut, "/imports/"+id+"/mapping", "u1", mappingRequest{Header: "CA", Field: "notes"})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	assert.Equal(t, importer.StateReviewing, decodeView(t, resp).State)

	rec, _ = do(t, srv, http.MethodPut, "/imports/"+id+"/mapping", "u1", mappingRequest{Header: "Ville", Field: "name"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, srv, http.MethodPut, "/imports/"+id+"/mapping", "u1", mappingRequest{Header: "Fax", Field: "phone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodPut, "/imports/"+id+"/mapping", "u1", map[string]string{"header": "Ville"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/imports/"+id, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = do(t, srv, http.MethodPost, "/imports/"+id+"/commit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var res importer.CommitResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 3, res.Committed)

	rec, _ = do(t, srv, http.MethodPost, "/imports/"+id+"/commit", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, resp = do(t, srv, http.MethodGet, "/records?q=lyon&sort=name&limit=10", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var page store.RecordPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "Alice D.", page.Records[0].Data["name"])

	rec, resp = do(t, srv, http.MethodGet, "/batches", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batches []model.ImportBatch
	require.NoError(t, json.Unmarshal(resp.Data, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, res.BatchID, batches[0].ID)
	assert.Equal(t, 3, batches[0].RowCount)

	rec, _ = do(t, srv, http.MethodDelete, "/imports/"+id, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, srv.Sessions().Len())

	rec, _ = do(t, srv, http.MethodDelete, "/batches/"+res.BatchID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, resp = do(t, srv, http.MethodGet, "/records", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Zero(t, page.Total)
}

func TestCreateImport_InvalidType(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := upload(t, srv, "u1", "brochure.pdf", "%PDF-1.4")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, resp.Error, "invalid file type")
	assert.Zero(t, srv.Sessions().Len())
}

func TestCreateImport_ParseFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, _ := upload(t, srv, "u1", "empty.csv", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, srv.Sessions().Len())
}

func TestCreateImport_MissingFile(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, _ := do(t, srv, http.MethodPost, "/imports", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateImport_RateLimited(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.limiter = newKeyedLimiter(0.001, 1)

	rec, _ := upload(t, srv, "u1", "a.csv", prospectsCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = upload(t, srv, "u1", "b.csv", prospectsCSV)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Budgets are per owner.
	rec, _ = upload(t, srv, "u2", "c.csv", prospectsCSV)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCommit_EmptyMapping(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := upload(t, srv, "u1", "kpi.csv", "Chiffre d'affaires,Effectif\n1M,12\n")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, resp).ID

	rec, resp = do(t, srv, http.MethodPost, "/imports/"+id+"/commit", "u1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, resp.Error, "no column mapped")

	rec, resp = do(t, srv, http.MethodGet, "/imports/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, importer.StateReviewing, decodeView(t, resp).State)
}

// failingStore fails every InsertRecords call after the first n.
type failingStore struct {
	store.Store
	n     int
	calls int
}

func (f *failingStore) InsertRecords(ctx context.Context, recs []model.ImportedRecord) (int, error) {
	f.calls++
	if f.calls > f.n {
		return 0, fmt.Errorf("connection reset")
	}
	return f.Store.InsertRecords(ctx, recs)
}

func TestCommit_ChunkFailure(t *testing.T) {
	sq, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() }) //nolint:errcheck
	require.NoError(t, sq.Migrate(context.Background()))

	srv := newTestServer(t, &failingStore{Store: sq, n: 1})
	rec, resp := upload(t, srv, "u1", "prospects.csv", prospectsCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, resp).ID

	rec, resp = do(t, srv, http.MethodPost, "/imports/"+id+"/commit", "u1", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, resp.Error, "chunk 2")
	var failure chunkFailure
	require.NoError(t, json.Unmarshal(resp.Data, &failure))
	assert.Equal(t, 2, failure.Chunk)
	assert.Equal(t, 2, failure.Committed)
	assert.Equal(t, 3, failure.Total)
	require.NotEmpty(t, failure.BatchID)

	batch, err := sq.GetBatch(context.Background(), "u1", failure.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "prospects.csv", batch.FileName)
	rec, _ = do(t, srv, http.MethodDelete, "/batches/"+failure.BatchID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, resp = do(t, srv, http.MethodGet, "/imports/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, importer.StateFailed, decodeView(t, resp).State)
}

func TestCancelImport(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := upload(t, srv, "u1", "prospects.csv", prospectsCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, resp).ID

	rec, _ = do(t, srv, http.MethodDelete, "/imports/"+id, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = do(t, srv, http.MethodGet, "/imports/"+id, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	rec, resp := upload(t, srv, "u1", "prospects.csv", prospectsCSV)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeView(t, resp).ID
	rec, _ = do(t, srv, http.MethodPost, "/imports/"+id+"/commit", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp = do(t, srv, http.MethodGet, "/records?sort=name", "u1", nil)
	var page store.RecordPage
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	require.Equal(t, 3, page.Total)
	recID := page.Records[0].ID

	rec, resp = do(t, srv, http.MethodPost, "/records/"+recID+"/pipeline", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.ImportedRecord
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.True(t, got.IsPipelined)

	rec, resp = do(t, srv, http.MethodPut, "/records/"+recID+"/notes", "u1", notesRequest{Notes: "rdv jeudi"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "rdv jeudi", got.Notes)

	_, resp = do(t, srv, http.MethodGet, "/records?pipelined=true", "u1", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &page))
	assert.Equal(t, 1, page.Total)

	rec, _ = do(t, srv, http.MethodGet, "/records/"+recID, "u2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, srv, http.MethodGet, "/records?sort=revenue", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, srv, http.MethodGet, "/records?desc=maybe", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, srv, http.MethodDelete, "/records/"+recID, "u1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = do(t, srv, http.MethodGet, "/records/"+recID, "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionManager_Sweep(t *testing.T) {
	m := NewSessionManager(10 * time.Minute)
	old := importer.NewSession(importer.Options{ID: "old", OwnerID: "u1"})
	fresh := importer.NewSession(importer.Options{ID: "fresh", OwnerID: "u1"})
	m.Add(old)
	m.Add(fresh)

	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	assert.Zero(t, m.Sweep())

	m.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Equal(t, 2, m.Sweep())
	assert.Zero(t, m.Len())

	_, ok := m.Get("u1", "old")
	assert.False(t, ok)
}

func TestSessionManager_GetScopesOwner(t *testing.T) {
	m := NewSessionManager(0)
	m.Add(importer.NewSession(importer.Options{ID: "s1", OwnerID: "u1"}))

	_, ok := m.Get("u2", "s1")
	assert.False(t, ok)
	s, ok := m.Get("u1", "s1")
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID())
	assert.Zero(t, m.Sweep())
}

func TestSessionManager_Run(t *testing.T) {
	m := NewSessionManager(time.Nanosecond)
	m.Add(importer.NewSession(importer.Options{ID: "s1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Millisecond) }()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/records", strings.NewReader(""))
	req.Header.Set("Origin", "https://app.kanveo.fr")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
