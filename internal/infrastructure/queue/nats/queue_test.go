package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/infrastructure/resilience"
)

func TestRecordSavedMessageRoundTrip(t *testing.T) {
	body, err := encodeRecordSaved("rec-42", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("encodeRecordSaved() error = %v", err)
	}
	if string(body) != `{"record_id":"rec-42","saved_at":"2026-01-02T03:04:05Z"}` {
		t.Fatalf("body = %s", body)
	}
	id, err := decodeRecordSaved(body)
	if err != nil || id != "rec-42" {
		t.Fatalf("decodeRecordSaved() = %q, %v", id, err)
	}
}

func TestDecodeRecordSavedShapes(t *testing.T) {
	if id, err := decodeRecordSaved([]byte(" rec-7\n")); err != nil || id != "rec-7" {
		t.Fatalf("bare id = %q, %v", id, err)
	}
	for _, raw := range []string{"", "   ", `{"saved_at":"2026-01-01T00:00:00Z"}`, `{broken`} {
		if _, err := decodeRecordSaved([]byte(raw)); err == nil {
			t.Errorf("decodeRecordSaved(%q) expected error", raw)
		}
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want resilience.ErrorClassification
	}{
		{"canceled", context.Canceled, resilience.ErrorClassification{}},
		{"no servers", fmt.Errorf("nats publish: %w", nats.ErrNoServers), resilience.ErrorClassification{Retryable: true, RecordFailure: true}},
		{"reconnecting", nats.ErrConnectionReconnecting, resilience.ErrorClassification{Retryable: true, RecordFailure: true}},
		{"bad subject", nats.ErrBadSubject, resilience.ErrorClassification{Retryable: false, RecordFailure: true}},
		{"max payload", nats.ErrMaxPayload, permanent},
		{"slow consumer", nats.ErrSlowConsumer, transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyNATSError(tc.err); got != tc.want {
				t.Fatalf("classifyNATSError() = %+v, want %+v", got, tc.want)
			}
		})
	}

	wrapped := resilience.WrapTemporaryIfNeeded("nats publish", nats.ErrTimeout, classifyNATSError)
	if !errors.Is(wrapped, domain.ErrTemporary) || !errors.Is(wrapped, nats.ErrTimeout) {
		t.Fatalf("wrapped = %v", wrapped)
	}
}
