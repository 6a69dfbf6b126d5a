package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*RecordRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := &RecordRepository{db: db, now: func() time.Time { return fixedNow }}
	return repo, mock, func() { _ = db.Close() }
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "entry_id", "file_name", "mime_type", "extracted_text", "structured_payload",
		"engine_id", "model_id", "structuring_model", "processed_at", "created_at",
	})
}

func TestSaveRecordsInsertsInOneTransaction(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	records := []domain.DocumentRecord{
		{ID: "r1", EntryID: "e1", FileName: "a.jpg", MimeType: "image/jpeg", ExtractedText: "A", EngineID: "vision", ModelID: "m", ProcessedAt: fixedNow},
		{ID: "r2", EntryID: "e2", FileName: "b.pdf", MimeType: "application/pdf", ExtractedText: "B", StructuredPayload: json.RawMessage(`{"document_type":"invoice","fields":{}}`), EngineID: "ocrspace", ModelID: "engine-2", ProcessedAt: fixedNow},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO document_records")
	prep.ExpectExec().
		WithArgs("r1", "e1", "a.jpg", "image/jpeg", "A", nil, "vision", "m", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("r2", "e2", "b.pdf", "application/pdf", "B", `{"document_type":"invoice","fields":{}}`, "ocrspace", "engine-2", fixedNow, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.SaveRecords(context.Background(), records); err != nil {
		t.Fatalf("SaveRecords() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRecordsRollsBackOnFailure(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO document_records").
		ExpectExec().
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.SaveRecords(context.Background(), []domain.DocumentRecord{{ID: "r1", ProcessedAt: fixedNow}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, entry_id, file_name").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansPayload(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, entry_id, file_name").
		WithArgs("r1").
		WillReturnRows(recordRows().AddRow(
			"r1", "e1", "a.jpg", "image/jpeg", "A", []byte(`{"document_type":"receipt","fields":{}}`),
			"vision", "m", "llama3.1", fixedNow, fixedNow,
		))

	rec, err := repo.GetByID(context.Background(), "r1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if string(rec.StructuredPayload) != `{"document_type":"receipt","fields":{}}` || rec.StructuringModel != "llama3.1" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestListReturnsPageAndTotal(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("FROM document_records\\s+ORDER BY created_at DESC").
		WithArgs(2, 1).
		WillReturnRows(recordRows().
			AddRow("r2", "e2", "b.jpg", "image/jpeg", "B", nil, "vision", "m", nil, fixedNow, fixedNow).
			AddRow("r1", "e1", "a.jpg", "image/jpeg", "A", nil, "vision", "m", nil, fixedNow, fixedNow))

	records, total, err := repo.List(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 3 || len(records) != 2 || records[0].ID != "r2" {
		t.Fatalf("List() = %d records, total %d", len(records), total)
	}
	if records[0].StructuredPayload != nil {
		t.Fatalf("null payload scanned as %s", records[0].StructuredPayload)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveStructuredPayloadReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE document_records").
		WithArgs("missing", `{"document_type":"x","fields":{}}`, "gpt-4o-mini", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SaveStructuredPayload(context.Background(), "missing", json.RawMessage(`{"document_type":"x","fields":{}}`), "gpt-4o-mini")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
