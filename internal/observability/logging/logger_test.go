package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewJSONLoggerToAddsServiceAndRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLoggerTo(&buf, "ocrctl", "info")

	logger.Info("ocr.extract.ok", "file", "a.png", "api_key", "sk-secret")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["service"] != "ocrctl" || line["msg"] != "ocr.extract.ok" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["api_key"] != "***" {
		t.Fatalf("api_key not redacted: %v", line["api_key"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	NewJSONLoggerTo(&buf, "api", "info").Debug("queue.add.ok")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}
}
