package domain

import (
	"context"
	"io"
	"time"
)

type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusCompleted  EntryStatus = "completed"
	StatusError      EntryStatus = "error"
)

// QueueEntry is one file waiting for or undergoing extraction. Name, size and
// mime type are fixed at enqueue time.
type QueueEntry struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	SizeBytes  int64       `json:"size_bytes"`
	MimeType   string      `json:"mime_type"`
	Status     EntryStatus `json:"status"`
	Pages      int         `json:"pages,omitempty"`
	StorageKey string      `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
}

// FileInput is the handle the extraction client reads. The payload is opened
// lazily so queued files are referenced, not copied.
type FileInput struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Open      func(ctx context.Context) (io.ReadCloser, error)
}

// Upload is one candidate file offered to a queue.
type Upload struct {
	Name      string
	MimeType  string
	SizeBytes int64
	Body      io.Reader
}

type Rejection struct {
	FileName string `json:"file_name"`
	Reason   string `json:"reason"`
}

type AddReport struct {
	Added    []QueueEntry `json:"added"`
	Rejected []Rejection  `json:"rejected"`
}

type SessionSnapshot struct {
	ID         string                      `json:"id"`
	Entries    []QueueEntry                `json:"entries"`
	Results    map[string]StructuredResult `json:"results"`
	Processing map[string]bool             `json:"processing"`
	LastError  string                      `json:"last_error,omitempty"`
	MaxFiles   int                         `json:"max_files"`
	Configured bool                        `json:"configured"`
}
