package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

type RecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_records (
	id TEXT PRIMARY KEY,
	entry_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	extracted_text TEXT NOT NULL,
	structured_payload JSONB,
	engine_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	structuring_model TEXT,
	processed_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_records_created_at ON document_records(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveRecords inserts all records in one transaction.
func (r *RecordRepository) SaveRecords(ctx context.Context, records []domain.DocumentRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_records (
	id, entry_id, file_name, mime_type, extracted_text, structured_payload, engine_id, model_id, processed_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`)
	if err != nil {
		return fmt.Errorf("prepare insert record: %w", err)
	}
	defer stmt.Close()

	now := r.now().UTC()
	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.EntryID, rec.FileName, rec.MimeType, rec.ExtractedText, nullableJSON(rec.StructuredPayload),
			rec.EngineID, rec.ModelID, rec.ProcessedAt, createdAt, now,
		); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tx: %w", err)
	}
	return nil
}

const recordColumns = `id, entry_id, file_name, mime_type, extracted_text, structured_payload, engine_id, model_id, structuring_model, processed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.DocumentRecord, error) {
	var rec domain.DocumentRecord
	var payload []byte
	var structuringModel sql.NullString
	err := row.Scan(
		&rec.ID, &rec.EntryID, &rec.FileName, &rec.MimeType, &rec.ExtractedText, &payload,
		&rec.EngineID, &rec.ModelID, &structuringModel, &rec.ProcessedAt, &rec.CreatedAt,
	)
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	if len(payload) > 0 {
		rec.StructuredPayload = json.RawMessage(payload)
	}
	rec.StructuringModel = structuringModel.String
	return rec, nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM document_records
WHERE id = $1
`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	return &rec, nil
}

// List returns one page, newest first, and the total number of records.
func (r *RecordRepository) List(ctx context.Context, limit, offset int) ([]domain.DocumentRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_records`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM document_records
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DocumentRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate records: %w", err)
	}
	return records, total, nil
}

func (r *RecordRepository) SaveStructuredPayload(ctx context.Context, id string, payload json.RawMessage, modelID string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE document_records
SET structured_payload = $2, structuring_model = $3, updated_at = $4
WHERE id = $1
`, id, nullableJSON(payload), modelID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("save structured payload: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save structured payload rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, "save structured payload", fmt.Errorf("id=%s", id))
	}
	return nil
}

func nullableJSON(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
