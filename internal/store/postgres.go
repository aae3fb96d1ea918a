package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kanveo/kanveo-cli/internal/db"
	"github.com/kanveo/kanveo-cli/internal/dedupe"
	"github.com/kanveo/kanveo-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS import_batches (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	file_name        TEXT NOT NULL,
	row_count        INTEGER NOT NULL DEFAULT 0,
	mapping_snapshot JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS imported_records (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	import_batch_id TEXT NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
	data            JSONB NOT NULL DEFAULT '{}'::jsonb,
	notes           TEXT NOT NULL DEFAULT '',
	is_pipelined    BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_import_batches_owner ON import_batches(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_imported_records_owner ON imported_records(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_imported_records_batch ON imported_records(import_batch_id);
CREATE INDEX IF NOT EXISTS idx_imported_records_data ON imported_records USING GIN (data jsonb_path_ops);
`

var recordColumns = []string{"id", "owner_id", "import_batch_id", "data", "notes", "is_pipelined", "created_at"}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch model.ImportBatch) (*model.ImportBatch, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal mapping")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO import_batches (id, owner_id, file_name, row_count, mapping_snapshot, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.OwnerID, batch.FileName, batch.RowCount, mappingJSON, batch.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch")
	}
	return &batch, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, ownerID, batchID string) (*model.ImportBatch, error) {
	var b model.ImportBatch
	var mappingJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, file_name, row_count, mapping_snapshot, created_at FROM import_batches WHERE id = $1 AND owner_id = $2`,
		batchID, ownerID,
	).Scan(&b.ID, &b.OwnerID, &b.FileName, &b.RowCount, &mappingJSON, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}
	if err := json.Unmarshal(mappingJSON, &b.MappingSnapshot); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal mapping")
	}
	return &b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]model.ImportBatch, error) {
	limit, offset = clampPage(limit, offset)

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, file_name, row_count, mapping_snapshot, created_at FROM import_batches WHERE owner_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	batches := []model.ImportBatch{}
	for rows.Next() {
		var b model.ImportBatch
		var mappingJSON []byte
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.FileName, &b.RowCount, &mappingJSON, &b.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		if err := json.Unmarshal(mappingJSON, &b.MappingSnapshot); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal mapping")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

// DeleteBatch removes a batch. Its records go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteBatch(ctx context.Context, ownerID, batchID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM import_batches WHERE id = $1 AND owner_id = $2`,
		batchID, ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete batch %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "batch %s", batchID)
	}
	return nil
}

// InsertRecords writes records with a single COPY. Either every row lands or none do.
func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.ImportedRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
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
			return 0, eris.Wrap(err, "postgres: marshal record data")
		}
		rows = append(rows, []any{r.ID, r.OwnerID, r.ImportBatchID, dataJSON, r.Notes, r.IsPipelined, r.CreatedAt})
	}

	n, err := db.CopyFrom(ctx, s.pool, "imported_records", recordColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert records")
	}
	return int(n), nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, ownerID, recordID string) (*model.ImportedRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, import_batch_id, data, notes, is_pipelined, created_at FROM imported_records WHERE id = $1 AND owner_id = $2`,
		recordID, ownerID,
	)
	r, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", recordID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", recordID)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) (*RecordPage, error) {
	f, err := filter.normalize()
	if err != nil {
		return nil, err
	}

	where := ` WHERE owner_id = $1`
	args := []any{f.OwnerID}
	argIdx := 2

	if f.BatchID != "" {
		where += fmt.Sprintf(` AND import_batch_id = $%d`, argIdx)
		args = append(args, f.BatchID)
		argIdx++
	}
	if f.Pipelined != nil {
		where += fmt.Sprintf(` AND is_pipelined = $%d`, argIdx)
		args = append(args, *f.Pipelined)
		argIdx++
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where += fmt.Sprintf(` AND (EXISTS (SELECT 1 FROM jsonb_each_text(data) WHERE value ILIKE $%d) OR notes ILIKE $%d)`, argIdx, argIdx)
		args = append(args, likePattern(q))
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM imported_records`+where, args...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "postgres: count records")
	}

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	query := `SELECT id, owner_id, import_batch_id, data, notes, is_pipelined, created_at FROM imported_records` + where
	if f.SortField == "created_at" {
		query += fmt.Sprintf(` ORDER BY created_at %s, id`, dir)
	} else {
		query += fmt.Sprintf(` ORDER BY data->>$%d %s NULLS LAST, created_at, id`, argIdx, dir)
		args = append(args, f.SortField)
		argIdx++
	}
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	page := &RecordPage{Records: []model.ImportedRecord{}, Total: total}
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		page.Records = append(page.Records, *r)
	}
	return page, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, ownerID, recordID string) error {
	return s.execRecord(ctx, "delete record", recordID,
		`DELETE FROM imported_records WHERE id = $1 AND owner_id = $2`,
		recordID, ownerID,
	)
}

func (s *PostgresStore) MarkPipelined(ctx context.Context, ownerID, recordID string) error {
	return s.execRecord(ctx, "mark pipelined", recordID,
		`UPDATE imported_records SET is_pipelined = true WHERE id = $1 AND owner_id = $2`,
		recordID, ownerID,
	)
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, ownerID, recordID, notes string) error {
	return s.execRecord(ctx, "update notes", recordID,
		`UPDATE imported_records SET notes = $3 WHERE id = $1 AND owner_id = $2`,
		recordID, ownerID, notes,
	)
}

// ExistingKeys returns the subset of values already stored under field for the
// owner. Comparison uses the same normalization as duplicate detection.
func (s *PostgresStore) ExistingKeys(ctx context.Context, ownerID, field string, values []string) ([]string, error) {
	if !fieldPattern.MatchString(field) {
		return nil, eris.Errorf("store: invalid field %q", field)
	}
	keys := normalizedKeys(values)
	if len(keys) == 0 {
		return []string{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT lower(trim(data->>$2)) FROM imported_records WHERE owner_id = $1 AND lower(trim(data->>$2)) = ANY($3) ORDER BY 1`,
		ownerID, field, keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing keys")
	}
	defer rows.Close()

	found := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan key")
		}
		found = append(found, k)
	}
	return found, eris.Wrap(rows.Err(), "postgres: existing keys iterate")
}

func (s *PostgresStore) execRecord(ctx context.Context, action, recordID, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", action, recordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", recordID)
	}
	return nil
}

func scanPostgresRecord(row pgx.Row) (*model.ImportedRecord, error) {
	var r model.ImportedRecord
	var dataJSON []byte
	if err := row.Scan(&r.ID, &r.OwnerID, &r.ImportBatchID, &dataJSON, &r.Notes, &r.IsPipelined, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataJSON, &r.Data); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record data")
	}
	return &r, nil
}

// normalizedKeys applies dedupe.Key and drops empties and repeats.
func normalizedKeys(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	keys := make([]string, 0, len(values))
	for _, v := range values {
		k := dedupe.Key(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
