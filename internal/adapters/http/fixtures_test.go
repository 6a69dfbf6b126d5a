package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/kirillkom/ocr-intake/internal/config"
	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
	"github.com/kirillkom/ocr-intake/internal/core/usecase"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/storage/localfs"
)

type engineStub struct {
	configured bool
	failFor    map[string]error
}

func (e *engineStub) ID() string       { return "stub-ocr" }
func (e *engineStub) Model() string    { return "stub-1" }
func (e *engineStub) Configured() bool { return e.configured }

func (e *engineStub) Accepts(mimeType string) bool {
	return mimeType == "image/png" || mimeType == "image/jpeg" || mimeType == "application/pdf"
}

func (e *engineStub) Extract(_ context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	if err := e.failFor[doc.Name]; err != nil {
		return domain.EngineOutput{}, err
	}
	return domain.EngineOutput{Text: fmt.Sprintf("TEXT %s (%d bytes)", doc.Name, len(doc.Data))}, nil
}

type structurerStub struct{}

func (structurerStub) Provider() string { return "stub-llm" }
func (structurerStub) Configured() bool { return true }

func (structurerStub) Structure(context.Context, string) (domain.StructuringOutput, error) {
	return domain.StructuringOutput{Payload: json.RawMessage(`{"document_type":"invoice","fields":{}}`), ModelID: "stub-llm-1"}, nil
}

type recordStoreFake struct {
	mu      sync.Mutex
	records []domain.DocumentRecord
	saveErr error
}

func (f *recordStoreFake) SaveRecords(_ context.Context, records []domain.DocumentRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return nil
}

func (f *recordStoreFake) GetByID(_ context.Context, id string) (*domain.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", fmt.Errorf("id=%s", id))
}

func (f *recordStoreFake) List(_ context.Context, limit, offset int) ([]domain.DocumentRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := len(f.records)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	out := make([]domain.DocumentRecord, end-offset)
	copy(out, f.records[offset:end])
	return out, total, nil
}

func (f *recordStoreFake) SaveStructuredPayload(context.Context, string, json.RawMessage, string) error {
	return nil
}

type exporterFake struct {
	exported int
}

func (e *exporterFake) ExportRecords(_ context.Context, records []domain.DocumentRecord) ([]byte, error) {
	e.exported = len(records)
	return []byte("PK-fake-workbook"), nil
}

type apiFixture struct {
	handler  http.Handler
	sessions *usecase.SessionRegistry
	engine   *engineStub
	repo     *recordStoreFake
	exporter *exporterFake
}

func newAPIFixture(t *testing.T, cfg config.Config) *apiFixture {
	t.Helper()
	storage, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New() error = %v", err)
	}

	engine := &engineStub{configured: true, failFor: map[string]error{}}
	extractor := usecase.NewExtractionClient(engine, nil, nil)
	structurer := usecase.NewStructuringClient(structurerStub{}, nil, nil)
	batch := usecase.NewBatchCoordinator(extractor, 0, nil)
	sessions := usecase.NewSessionRegistry(extractor, structurer, batch, storage, usecase.SessionOptions{MaxFiles: 3})

	repo := &recordStoreFake{}
	exporter := &exporterFake{}
	completer := usecase.NewCompleteUseCase(usecase.NewCompletionAggregator(), repo, nil, nil, nil)

	return &apiFixture{
		handler:  NewRouter(cfg, sessions, completer, repo, exporter).Handler(),
		sessions: sessions,
		engine:   engine,
		repo:     repo,
		exporter: exporter,
	}
}

func (f *apiFixture) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func (f *apiFixture) createSession(t *testing.T) string {
	t.Helper()
	res := f.do(t, http.MethodPost, "/v1/sessions", nil, "")
	if res.Code != http.StatusCreated {
		t.Fatalf("create session expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var snap domain.SessionSnapshot
	decodeJSON(t, res, &snap)
	return snap.ID
}

type testFile struct {
	name string
	mime string
	data []byte
}

func multipartBody(t *testing.T, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, file := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, file.name))
		if file.mime != "" {
			header.Set("Content-Type", file.mime)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart() error = %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func decodeJSON(t *testing.T, res *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
