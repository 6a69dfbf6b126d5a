package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

type engineFake struct {
	id         string
	model      string
	configured bool
	accepts    map[string]bool
	failFor    map[string]error
	onExtract  func(doc ports.EngineDocument)

	mu    sync.Mutex
	calls []string
}

func newEngineFake() *engineFake {
	return &engineFake{
		id:         "fake-ocr",
		model:      "fake-model-1",
		configured: true,
		accepts: map[string]bool{
			"image/jpeg":      true,
			"image/png":       true,
			"application/pdf": true,
		},
		failFor: map[string]error{},
	}
}

func (f *engineFake) ID() string       { return f.id }
func (f *engineFake) Model() string    { return f.model }
func (f *engineFake) Configured() bool { return f.configured }

func (f *engineFake) Accepts(mimeType string) bool { return f.accepts[mimeType] }

func (f *engineFake) Extract(_ context.Context, doc ports.EngineDocument) (domain.EngineOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, doc.Name)
	f.mu.Unlock()
	if f.onExtract != nil {
		f.onExtract(doc)
	}
	if err := f.failFor[doc.Name]; err != nil {
		return domain.EngineOutput{}, err
	}
	return domain.EngineOutput{Text: "text of " + doc.Name + ": " + string(doc.Data)}, nil
}

func (f *engineFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *engineFake) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type storageFake struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	deleted []string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: map[string][]byte{}}
}

func (s *storageFake) Save(_ context.Context, key string, body io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *storageFake) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *storageFake) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type structurerFake struct {
	configured bool
	payload    json.RawMessage
	err        error
	calls      int
}

func (f *structurerFake) Provider() string { return "fake-llm" }
func (f *structurerFake) Configured() bool { return f.configured }

func (f *structurerFake) Structure(_ context.Context, _ string) (domain.StructuringOutput, error) {
	f.calls++
	if f.err != nil {
		return domain.StructuringOutput{}, f.err
	}
	return domain.StructuringOutput{Payload: f.payload, ModelID: "fake-llm-model"}, nil
}

type recordRepoFake struct {
	saved       []domain.DocumentRecord
	saveErr     error
	byID        map[string]domain.DocumentRecord
	getErr      error
	payloadID   string
	payload     json.RawMessage
	payloadErr  error
	payloadCall int
}

func (f *recordRepoFake) SaveRecords(_ context.Context, records []domain.DocumentRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, records...)
	return nil
}

func (f *recordRepoFake) GetByID(_ context.Context, id string) (*domain.DocumentRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.byID[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", errors.New(id))
	}
	return &record, nil
}

func (f *recordRepoFake) List(_ context.Context, limit, offset int) ([]domain.DocumentRecord, int, error) {
	return f.saved, len(f.saved), nil
}

func (f *recordRepoFake) SaveStructuredPayload(_ context.Context, id string, payload json.RawMessage, _ string) error {
	f.payloadCall++
	if f.payloadErr != nil {
		return f.payloadErr
	}
	f.payloadID = id
	f.payload = payload
	return nil
}

type queueFake struct {
	published  []string
	publishErr error
}

func (q *queueFake) PublishRecordSaved(_ context.Context, id string) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, id)
	return nil
}

func (q *queueFake) SubscribeRecordSaved(context.Context, func(context.Context, string) error) error {
	return nil
}

type observerFake struct {
	mu          sync.Mutex
	extractions []bool
	structured  []bool
	savedCount  int
	savedErr    error
}

func (o *observerFake) ObserveExtraction(_ string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extractions = append(o.extractions, success)
}

func (o *observerFake) ObserveStructuring(_ string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.structured = append(o.structured, success)
}

func (o *observerFake) ObserveRecordsSaved(count int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.savedCount += count
	o.savedErr = err
}

type pageCounterFake struct {
	pages int
	err   error
}

func (p pageCounterFake) CountPages([]byte, string) (int, error) { return p.pages, p.err }

type waitRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

type sessionFixture struct {
	engine     *engineFake
	storage    *storageFake
	structurer *structurerFake
	waits      *waitRecorder
	manager    *QueueManager
}

func newSessionFixture(maxFiles int) *sessionFixture {
	engine := newEngineFake()
	storage := newStorageFake()
	structurer := &structurerFake{configured: true, payload: json.RawMessage(`{"document_type":"receipt"}`)}
	waits := &waitRecorder{}

	extractor := NewExtractionClient(engine, nil, nil)
	batch := NewBatchCoordinator(extractor, DefaultBatchDelay, nil)
	batch.wait = waits.wait

	manager := NewQueueManager("s1", extractor, NewStructuringClient(structurer, nil, nil), batch, storage, QueueOptions{
		MaxFiles: maxFiles,
	})
	return &sessionFixture{
		engine:     engine,
		storage:    storage,
		structurer: structurer,
		waits:      waits,
		manager:    manager,
	}
}

func upload(name, mimeType, body string) domain.Upload {
	return domain.Upload{
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: int64(len(body)),
		Body:      bytes.NewBufferString(body),
	}
}

func fileInputFromBytes(name, mimeType string, data []byte) domain.FileInput {
	return domain.FileInput{
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
