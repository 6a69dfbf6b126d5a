package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
)

func fixedAggregator() *CompletionAggregator {
	n := 0
	return &CompletionAggregator{
		now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		newID: func() string {
			n++
			return fmt.Sprintf("rec-%d", n)
		},
	}
}

func TestBuildPayloadKeepsOnlySuccesses(t *testing.T) {
	agg := fixedAggregator()
	results := map[string]domain.StructuredResult{
		"01-a": {ExtractionResult: domain.ExtractionResult{FileName: "a.jpg", Success: true, ExtractedText: "A"}},
		"02-b": {ExtractionResult: domain.ExtractionResult{FileName: "b.jpg", Error: "blurry"}},
		"03-c": {
			ExtractionResult:     domain.ExtractionResult{FileName: "c.pdf", Success: true, ExtractedText: "C"},
			StructuredPayload:    json.RawMessage(`{"document_type":"invoice"}`),
			StructuringSucceeded: true,
		},
	}

	records, err := agg.BuildPayload(results)
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].EntryID != "01-a" || records[1].EntryID != "03-c" {
		t.Fatalf("order = %s, %s", records[0].EntryID, records[1].EntryID)
	}
	if records[0].ID != "rec-1" || records[0].ExtractedText != "A" {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[0].StructuredPayload != nil {
		t.Fatalf("unstructured result got payload")
	}
	if string(records[1].StructuredPayload) != `{"document_type":"invoice"}` {
		t.Fatalf("payload = %s", records[1].StructuredPayload)
	}
	if !records[0].ProcessedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("processed at = %s", records[0].ProcessedAt)
	}
}

func TestBuildPayloadRefusesEmptySubmission(t *testing.T) {
	agg := NewCompletionAggregator()

	_, err := agg.BuildPayload(map[string]domain.StructuredResult{
		"a": {ExtractionResult: domain.ExtractionResult{Error: "x"}},
	})
	if !errors.Is(err, domain.ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit, got %v", err)
	}
	if _, err := agg.BuildPayload(nil); !errors.Is(err, domain.ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit for nil, got %v", err)
	}
}

func TestBuildPayloadDropsFailedStructuringPayload(t *testing.T) {
	agg := fixedAggregator()
	records, err := agg.BuildPayload(map[string]domain.StructuredResult{
		"a": {
			ExtractionResult:  domain.ExtractionResult{Success: true},
			StructuredPayload: json.RawMessage(`{"partial":true}`),
			StructuringError:  "schema mismatch",
		},
	})
	if err != nil {
		t.Fatalf("BuildPayload() error = %v", err)
	}
	if records[0].StructuredPayload != nil {
		t.Fatalf("payload = %s, want none", records[0].StructuredPayload)
	}
}

func processedSession(t *testing.T, failing ...string) *sessionFixture {
	t.Helper()
	fx := newSessionFixture(10)
	for _, name := range failing {
		fx.engine.failFor[name] = errors.New("unreadable")
	}
	ctx := context.Background()
	if _, err := fx.manager.AddFiles(ctx, []domain.Upload{
		upload("a.jpg", "image/jpeg", "a"),
		upload("b.jpg", "image/jpeg", "b"),
	}); err != nil {
		t.Fatalf("AddFiles() error = %v", err)
	}
	if _, err := fx.manager.ProcessAll(ctx, ProcessOptions{}); err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	return fx
}

func TestCompleteSavesAndPublishes(t *testing.T) {
	fx := processedSession(t, "b.jpg")
	repo := &recordRepoFake{}
	queue := &queueFake{}
	observer := &observerFake{}
	uc := NewCompleteUseCase(fixedAggregator(), repo, queue, observer, nil)

	records, err := uc.Complete(context.Background(), fx.manager)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(records) != 1 || records[0].FileName != "a.jpg" {
		t.Fatalf("records = %+v", records)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved = %d", len(repo.saved))
	}
	if len(queue.published) != 1 || queue.published[0] != "rec-1" {
		t.Fatalf("published = %v", queue.published)
	}
	if observer.savedCount != 1 || observer.savedErr != nil {
		t.Fatalf("observer = %+v", observer)
	}
	if snapshot := fx.manager.Snapshot(); len(snapshot.Entries) != 0 || len(snapshot.Results) != 0 {
		t.Fatalf("session not reset after save: %+v", snapshot)
	}
}

func TestCompleteTwiceSavesOnce(t *testing.T) {
	fx := processedSession(t)
	repo := &recordRepoFake{}
	queue := &queueFake{}
	uc := NewCompleteUseCase(fixedAggregator(), repo, queue, nil, nil)

	if _, err := uc.Complete(context.Background(), fx.manager); err != nil {
		t.Fatalf("first Complete() error = %v", err)
	}
	_, err := uc.Complete(context.Background(), fx.manager)
	if !errors.Is(err, domain.ErrNothingToSubmit) {
		t.Fatalf("second Complete() error = %v, want ErrNothingToSubmit", err)
	}
	if len(repo.saved) != 2 || len(queue.published) != 2 {
		t.Fatalf("saved = %d published = %d, want 2 each", len(repo.saved), len(queue.published))
	}
	if fx.storage.len() != 0 {
		t.Fatalf("staged payloads left after completion: %d", fx.storage.len())
	}
}

func TestCompletePersistenceFailureKeepsSession(t *testing.T) {
	fx := processedSession(t)
	repo := &recordRepoFake{saveErr: errors.New("connection refused")}
	queue := &queueFake{}
	uc := NewCompleteUseCase(fixedAggregator(), repo, queue, nil, nil)

	before := fx.manager.Snapshot()
	_, err := uc.Complete(context.Background(), fx.manager)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	after := fx.manager.Snapshot()
	if len(after.Entries) != len(before.Entries) || len(after.Results) != len(before.Results) {
		t.Fatalf("session state changed after failed save")
	}
	if after.LastError != "failed to save documents: connection refused" {
		t.Fatalf("last error = %q", after.LastError)
	}
	if len(queue.published) != 0 {
		t.Fatalf("published = %v", queue.published)
	}
}

func TestCompleteNothingToSubmit(t *testing.T) {
	fx := processedSession(t, "a.jpg", "b.jpg")
	repo := &recordRepoFake{}
	uc := NewCompleteUseCase(NewCompletionAggregator(), repo, nil, nil, nil)

	_, err := uc.Complete(context.Background(), fx.manager)
	if !errors.Is(err, domain.ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit, got %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatalf("saved = %d", len(repo.saved))
	}
	if fx.manager.LastError() != "no successfully processed files to submit" {
		t.Fatalf("last error = %q", fx.manager.LastError())
	}
}

func TestCompletePublishFailureIsNotFatal(t *testing.T) {
	fx := processedSession(t)
	repo := &recordRepoFake{}
	uc := NewCompleteUseCase(fixedAggregator(), repo, &queueFake{publishErr: errors.New("nats down")}, nil, nil)

	records, err := uc.Complete(context.Background(), fx.manager)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(records) != 2 || len(repo.saved) != 2 {
		t.Fatalf("records = %d saved = %d", len(records), len(repo.saved))
	}
}
