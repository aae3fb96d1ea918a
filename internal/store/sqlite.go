package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/kanveo/kanveo-cli/internal/model"
)

// keysPerQuery bounds the IN list size of ExistingKeys lookups.
const keysPerQuery = 500

// foldFunc is the SQL name of the Unicode case-folding function used by search.
const foldFunc = "kanveo_fold"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs foldFunc for every connection opened afterwards.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(foldFunc, 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				switch v := args[0].(type) {
				case string:
					return foldText(v), nil
				case []byte:
					return foldText(string(v)), nil
				default:
					return v, nil
				}
			})
	})
	return registerErr
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if err := registerFunctions(); err != nil {
		return nil, eris.Wrap(err, "sqlite: register functions")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if dsn == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS import_batches (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	file_name        TEXT NOT NULL,
	row_count        INTEGER NOT NULL DEFAULT 0,
	mapping_snapshot TEXT NOT NULL DEFAULT '{}',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS imported_records (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	import_batch_id TEXT NOT NULL REFERENCES import_batches(id),
	data            TEXT NOT NULL DEFAULT '{}',
	notes           TEXT NOT NULL DEFAULT '',
	is_pipelined    INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_import_batches_owner ON import_batches(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_imported_records_owner ON imported_records(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_imported_records_batch ON imported_records(import_batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch model.ImportBatch) (*model.ImportBatch, error) {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.MappingSnapshot == nil {
		batch.MappingSnapshot = model.ColumnMapping{}
	}

	mappingJSON, err := json.Marshal(batch.MappingSnapshot)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal mapping")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_batches (id, owner_id, file_name, row_count, mapping_snapshot, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.OwnerID, batch.FileName, batch.RowCount, string(mappingJSON), batch.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch")
	}
	return &batch, nil
}

func (s *SQLiteStore) GetBatch(ctx context.Context, ownerID, batchID string) (*model.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, file_name, row_count, mapping_snapshot, created_at FROM import_batches WHERE id = ? AND owner_id = ?`,
		batchID, ownerID,
	)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}
	return b, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]model.ImportBatch, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, file_name, row_count, mapping_snapshot, created_at FROM import_batches WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	batches := []model.ImportBatch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

// DeleteBatch removes a batch and its records in one transaction.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, ownerID, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete batch")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM imported_records WHERE import_batch_id = ? AND owner_id = ?`,
		batchID, ownerID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: delete batch records %s", batchID)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM import_batches WHERE id = ? AND owner_id = ?`,
		batchID, ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete batch %s", batchID)
	}
	if err := checkRowsAffected(res, "batch", batchID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete batch")
}

// InsertRecords writes all records in one transaction so a failed call leaves
// nothing behind.
func (s *SQLiteStore) InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert records")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO imported_records (id, owner_id, import_batch_id, data, notes, is_pipelined, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert records")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.Data == nil {
			r.Data = map[string]string{}
		}
		dataJSON, err := encodeData(r.Data)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal record data")
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.OwnerID, r.ImportBatchID, string(dataJSON), r.Notes, r.IsPipelined, r.CreatedAt); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert records")
	}
	return len(records), nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, ownerID, recordID string) (*model.ImportedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, import_batch_id, data, notes, is_pipelined, created_at FROM imported_records WHERE id = ? AND owner_id = ?`,
		recordID, ownerID,
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", recordID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", recordID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) (*RecordPage, error) {
	f, err := filter.normalize()
	if err != nil {
		return nil, err
	}

	where := ` WHERE owner_id = ?`
	args := []any{f.OwnerID}

	if f.BatchID != "" {
		where += ` AND import_batch_id = ?`
		args = append(args, f.BatchID)
	}
	if f.Pipelined != nil {
		where += ` AND is_pipelined = ?`
		args = append(args, *f.Pipelined)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		// Values only, so field ids and JSON punctuation never match.
		pattern := likePattern(foldText(q))
		where += ` AND (EXISTS (SELECT 1 FROM json_each(imported_records.data) WHERE ` + foldFunc + `(json_each.value) LIKE ? ESCAPE '\')` +
			` OR ` + foldFunc + `(notes) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM imported_records`+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	query := `SELECT id, owner_id, import_batch_id, data, notes, is_pipelined, created_at FROM imported_records` + where
	if f.SortField == "created_at" {
		query += fmt.Sprintf(` ORDER BY created_at %s, id`, dir)
	} else {
		query += fmt.Sprintf(` ORDER BY json_extract(data, '$.' || ?) %s NULLS LAST, created_at, id`, dir)
		args = append(args, f.SortField)
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	page := &RecordPage{Records: []model.ImportedRecord{}, Total: total}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		page.Records = append(page.Records, *r)
	}
	return page, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, ownerID, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM imported_records WHERE id = ? AND owner_id = ?`,
		recordID, ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete record %s", recordID)
	}
	return checkRowsAffected(res, "record", recordID)
}

func (s *SQLiteStore) MarkPipelined(ctx context.Context, ownerID, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE imported_records SET is_pipelined = 1 WHERE id = ? AND owner_id = ?`,
		recordID, ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark pipelined %s", recordID)
	}
	return checkRowsAffected(res, "record", recordID)
}

func (s *SQLiteStore) UpdateNotes(ctx context.Context, ownerID, recordID, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE imported_records SET notes = ? WHERE id = ? AND owner_id = ?`,
		notes, recordID, ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update notes %s", recordID)
	}
	return checkRowsAffected(res, "record", recordID)
}

func (s *SQLiteStore) ExistingKeys(ctx context.Context, ownerID, field string, values []string) ([]string, error) {
	if !fieldPattern.MatchString(field) {
		return nil, eris.Errorf("store: invalid field %q", field)
	}
	keys := normalizedKeys(values)
	found := []string{}

	for start := 0; start < len(keys); start += keysPerQuery {
		end := min(start+keysPerQuery, len(keys))
		chunk := keys[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		args := make([]any, 0, len(chunk)+3)
		args = append(args, field, ownerID, field)
		for _, k := range chunk {
			args = append(args, k)
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT lower(trim(json_extract(data, '$.' || ?))) AS k FROM imported_records WHERE owner_id = ? AND lower(trim(json_extract(data, '$.' || ?))) IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing keys")
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan key")
			}
			found = append(found, k)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing keys iterate")
		}
	}
	slices.Sort(found)
	return found, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var mappingJSON string
	if err := row.Scan(&b.ID, &b.OwnerID, &b.FileName, &b.RowCount, &mappingJSON, &b.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(mappingJSON), &b.MappingSnapshot); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal mapping")
	}
	return &b, nil
}

func scanRecord(row scannable) (*model.ImportedRecord, error) {
	var r model.ImportedRecord
	var dataJSON string
	if err := row.Scan(&r.ID, &r.OwnerID, &r.ImportBatchID, &dataJSON, &r.Notes, &r.IsPipelined, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record data")
	}
	return &r, nil
}
