package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

const DefaultMaxFiles = 10

type QueueOptions struct {
	MaxFiles int
	Pages    ports.PageCounter
	Logger   *slog.Logger
}

// ProcessOptions tune ProcessAll.
type ProcessOptions struct {
	// Structure runs the structuring client on each successful extraction.
	Structure bool
}

// QueueManager owns one session's queue entries, results and in-flight
// markers. All state changes go through its methods.
type QueueManager struct {
	id         string
	extractor  *ExtractionClient
	structurer *StructuringClient
	batch      *BatchCoordinator
	storage    ports.ObjectStorage
	pages      ports.PageCounter
	maxFiles   int
	logger     *slog.Logger
	now        func() time.Time

	// addMu serializes AddFiles and Reset so the size ceiling holds while
	// payloads are written to storage outside mu.
	addMu sync.Mutex

	// submitMu serializes completions of this session.
	submitMu sync.Mutex

	mu           sync.Mutex
	entries      []domain.QueueEntry
	results      map[string]domain.StructuredResult
	inflight     map[string]uint64
	nextToken    uint64
	lastError    string
	batchRunning bool
	lastActive   time.Time
}

func NewQueueManager(
	id string,
	extractor *ExtractionClient,
	structurer *StructuringClient,
	batch *BatchCoordinator,
	storage ports.ObjectStorage,
	opts QueueOptions,
) *QueueManager {
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &QueueManager{
		id:         id,
		extractor:  extractor,
		structurer: structurer,
		batch:      batch,
		storage:    storage,
		pages:      opts.Pages,
		maxFiles:   maxFiles,
		logger:     logger.With("session_id", id),
		now:        time.Now,
		results:    make(map[string]domain.StructuredResult),
		inflight:   make(map[string]uint64),
	}
	m.lastActive = m.now()
	return m
}

func (m *QueueManager) ID() string { return m.id }

func (m *QueueManager) MaxFiles() int { return m.maxFiles }

func (m *QueueManager) Configured() bool {
	return m.extractor != nil && m.extractor.Configured()
}

func (m *QueueManager) accepts(mimeType string) bool {
	return m.extractor != nil && m.extractor.Accepts(mimeType)
}

// AddFiles admits every upload with an accepted mime type. Unsupported files
// are reported in the returned rejections. When the valid uploads would push
// the queue past MaxFiles nothing is admitted and ErrQueueFull is returned.
func (m *QueueManager) AddFiles(ctx context.Context, uploads []domain.Upload) (domain.AddReport, error) {
	m.addMu.Lock()
	defer m.addMu.Unlock()

	report := domain.AddReport{
		Added:    []domain.QueueEntry{},
		Rejected: []domain.Rejection{},
	}

	valid := make([]domain.Upload, 0, len(uploads))
	for _, upload := range uploads {
		upload.MimeType = normalizeMime(upload.MimeType)
		if !m.accepts(upload.MimeType) {
			report.Rejected = append(report.Rejected, domain.Rejection{
				FileName: upload.Name,
				Reason:   fmt.Sprintf("unsupported file type: %s", displayMime(upload.MimeType)),
			})
			continue
		}
		valid = append(valid, upload)
	}
	if len(report.Rejected) > 0 {
		m.logger.Warn("queue.add.rejected", "rejected", len(report.Rejected))
	}

	m.mu.Lock()
	m.touch()
	current := len(m.entries)
	if current+len(valid) > m.maxFiles {
		msg := fmt.Sprintf("maximum of %d files allowed", m.maxFiles)
		m.lastError = msg
		m.mu.Unlock()
		return report, domain.WrapError(domain.ErrQueueFull, "add files", errors.New(msg))
	}
	if len(report.Rejected) > 0 {
		m.lastError = rejectionMessage(report.Rejected)
	}
	m.mu.Unlock()

	staged := make([]domain.QueueEntry, 0, len(valid))
	for _, upload := range valid {
		entry, err := m.stage(ctx, upload)
		if err != nil {
			m.discardStaged(ctx, staged)
			return report, fmt.Errorf("stage %s: %w", upload.Name, err)
		}
		staged = append(staged, entry)
	}

	m.mu.Lock()
	m.entries = append(m.entries, staged...)
	m.mu.Unlock()

	report.Added = staged
	m.logger.Info("queue.add.ok", "added", len(staged), "queue_size", current+len(staged))
	return report, nil
}

func (m *QueueManager) stage(ctx context.Context, upload domain.Upload) (domain.QueueEntry, error) {
	var body io.Reader = upload.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("read upload: %w", err)
	}

	id := newEntryID()
	key := fmt.Sprintf("%s_%s_%s", m.id, id, sanitizeFilename(upload.Name))
	if err := m.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("save to object storage: %w", err)
	}

	size := upload.SizeBytes
	if size <= 0 {
		size = int64(len(data))
	}

	entry := domain.QueueEntry{
		ID:         id,
		Name:       upload.Name,
		SizeBytes:  size,
		MimeType:   upload.MimeType,
		Status:     domain.StatusPending,
		StorageKey: key,
		CreatedAt:  m.now().UTC(),
	}
	if m.pages != nil {
		pages, err := m.pages.CountPages(data, upload.MimeType)
		if err != nil {
			m.logger.Warn("queue.add.page_count_failed", "file", upload.Name, "error", err)
		}
		entry.Pages = pages
	}
	return entry, nil
}

func (m *QueueManager) discardStaged(ctx context.Context, staged []domain.QueueEntry) {
	for _, entry := range staged {
		m.deletePayload(ctx, entry.StorageKey)
	}
}

// RemoveFile drops the entry, its result, its in-flight marker and its stored
// payload. It is valid in any state.
func (m *QueueManager) RemoveFile(ctx context.Context, id string) error {
	m.mu.Lock()
	m.touch()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return domain.WrapError(domain.ErrEntryNotFound, "remove file", fmt.Errorf("id=%s", id))
	}
	entry := m.entries[idx]
	m.entries = append(m.entries[:idx], m.entries[idx+1:]...)
	delete(m.results, id)
	delete(m.inflight, id)
	m.mu.Unlock()

	m.deletePayload(ctx, entry.StorageKey)
	m.logger.Info("queue.remove.ok", "entry_id", id, "status", string(entry.Status))
	return nil
}

// ProcessOne moves one pending entry through extraction.
func (m *QueueManager) ProcessOne(ctx context.Context, id string) (domain.StructuredResult, error) {
	if !m.Configured() {
		m.setLastError(domain.ErrNotConfigured.Error())
		return domain.StructuredResult{}, domain.WrapError(domain.ErrNotConfigured, "process file", errors.New("extraction engine has no credential"))
	}

	m.mu.Lock()
	m.touch()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return domain.StructuredResult{}, domain.WrapError(domain.ErrEntryNotFound, "process file", fmt.Errorf("id=%s", id))
	}
	entry := m.entries[idx]
	if entry.Status != domain.StatusPending {
		m.mu.Unlock()
		return domain.StructuredResult{}, domain.WrapError(
			domain.ErrInvalidTransition,
			"process file",
			fmt.Errorf("entry %s is %s, expected %s", id, entry.Status, domain.StatusPending),
		)
	}
	token := m.markProcessingLocked(idx)
	file := m.fileInput(entry)
	m.mu.Unlock()

	result, err := m.extractor.Extract(ctx, file)
	if err != nil {
		result = failedResult(file, err.Error())
	}

	stored, ok := m.applyResult(id, token, result)
	if !ok {
		return domain.StructuredResult{ExtractionResult: result}, domain.WrapError(
			domain.ErrEntryNotFound,
			"process file",
			fmt.Errorf("entry %s was removed during extraction", id),
		)
	}
	return stored, nil
}

// ProcessAll extracts every pending entry in enqueue order and returns the
// full results mapping, including results from earlier runs.
func (m *QueueManager) ProcessAll(ctx context.Context, opts ProcessOptions) (map[string]domain.StructuredResult, error) {
	if !m.Configured() {
		m.setLastError(domain.ErrNotConfigured.Error())
		return nil, domain.WrapError(domain.ErrNotConfigured, "process all", errors.New("extraction engine has no credential"))
	}

	m.mu.Lock()
	m.touch()
	if m.batchRunning {
		m.mu.Unlock()
		return nil, domain.WrapError(domain.ErrBatchRunning, "process all", fmt.Errorf("session=%s", m.id))
	}
	m.batchRunning = true
	ids := make([]string, 0, len(m.entries))
	files := make([]domain.FileInput, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.Status != domain.StatusPending {
			continue
		}
		ids = append(ids, entry.ID)
		files = append(files, m.fileInput(entry))
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.batchRunning = false
		m.mu.Unlock()
	}()

	tokens := make([]uint64, len(ids))
	_, err := m.batch.ProcessBatch(ctx, files, BatchHooks{
		OnStart: func(i int) bool {
			m.mu.Lock()
			defer m.mu.Unlock()
			idx := m.indexOf(ids[i])
			if idx < 0 || m.entries[idx].Status != domain.StatusPending {
				return false
			}
			tokens[i] = m.markProcessingLocked(idx)
			return true
		},
		OnResult: func(i int, result domain.ExtractionResult) {
			stored, ok := m.applyResult(ids[i], tokens[i], result)
			if ok && opts.Structure && stored.Success {
				if _, err := m.Structure(ctx, ids[i]); err != nil {
					m.logger.Warn("queue.structure.skipped", "entry_id", ids[i], "error", err)
				}
			}
		},
	})
	if err != nil {
		m.releaseStarted(ids, tokens)
		return m.Results(), fmt.Errorf("process batch: %w", err)
	}
	return m.Results(), nil
}

// Structure enriches one completed entry through the structuring client.
func (m *QueueManager) Structure(ctx context.Context, id string) (domain.StructuredResult, error) {
	if m.structurer == nil {
		return domain.StructuredResult{}, domain.WrapError(domain.ErrNotConfigured, "structure file", errors.New("no structuring client"))
	}

	m.mu.Lock()
	m.touch()
	current, ok := m.results[id]
	if !ok {
		exists := m.indexOf(id) >= 0
		m.mu.Unlock()
		if exists {
			return domain.StructuredResult{}, domain.WrapError(domain.ErrInvalidTransition, "structure file", fmt.Errorf("entry %s has not been extracted", id))
		}
		return domain.StructuredResult{}, domain.WrapError(domain.ErrEntryNotFound, "structure file", fmt.Errorf("id=%s", id))
	}
	m.mu.Unlock()

	out := m.structurer.Structure(ctx, current)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.results[id]; !still {
		m.logger.Warn("queue.late_result_discarded", "entry_id", id, "stage", "structure")
		return out, domain.WrapError(domain.ErrEntryNotFound, "structure file", fmt.Errorf("entry %s was removed during structuring", id))
	}
	m.results[id] = out
	return out, nil
}

// Reset clears all in-memory state and the staged payloads.
func (m *QueueManager) Reset(ctx context.Context) {
	m.addMu.Lock()
	defer m.addMu.Unlock()

	m.mu.Lock()
	m.touch()
	keys := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		keys = append(keys, entry.StorageKey)
	}
	m.entries = nil
	m.results = make(map[string]domain.StructuredResult)
	m.inflight = make(map[string]uint64)
	m.lastError = ""
	m.mu.Unlock()

	for _, key := range keys {
		m.deletePayload(ctx, key)
	}
	m.logger.Info("queue.reset.ok", "dropped", len(keys))
}

func (m *QueueManager) Snapshot() domain.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]domain.QueueEntry, len(m.entries))
	copy(entries, m.entries)
	processing := make(map[string]bool, len(m.inflight))
	for id := range m.inflight {
		processing[id] = true
	}
	return domain.SessionSnapshot{
		ID:         m.id,
		Entries:    entries,
		Results:    m.resultsLocked(),
		Processing: processing,
		LastError:  m.lastError,
		MaxFiles:   m.maxFiles,
		Configured: m.Configured(),
	}
}

func (m *QueueManager) Entry(id string) (domain.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return domain.QueueEntry{}, false
	}
	return m.entries[idx], true
}

func (m *QueueManager) Result(id string) (domain.StructuredResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	return r, ok
}

func (m *QueueManager) Results() map[string]domain.StructuredResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultsLocked()
}

func (m *QueueManager) IsProcessing(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[id]
	return ok
}

func (m *QueueManager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

func (m *QueueManager) LastActive() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}

func (m *QueueManager) setLastError(msg string) {
	m.mu.Lock()
	m.lastError = msg
	m.mu.Unlock()
}

// applyResult stores a finished extraction unless the entry was removed or
// reset while the call was in flight.
func (m *QueueManager) applyResult(id string, token uint64, result domain.ExtractionResult) (domain.StructuredResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, ok := m.inflight[id]
	idx := m.indexOf(id)
	if token == 0 || !ok || live != token || idx < 0 {
		m.logger.Warn("queue.late_result_discarded", "entry_id", id, "stage", "extract")
		return domain.StructuredResult{}, false
	}
	delete(m.inflight, id)

	if result.Success {
		m.entries[idx].Status = domain.StatusCompleted
	} else {
		m.entries[idx].Status = domain.StatusError
	}
	stored := domain.StructuredResult{ExtractionResult: result}
	m.results[id] = stored
	return stored, true
}

// releaseStarted puts entries a stopped batch marked as processing, but never
// resolved, back to pending.
func (m *QueueManager) releaseStarted(ids []string, tokens []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		live, ok := m.inflight[id]
		if tokens[i] == 0 || !ok || live != tokens[i] {
			continue
		}
		delete(m.inflight, id)
		if idx := m.indexOf(id); idx >= 0 {
			m.entries[idx].Status = domain.StatusPending
		}
		m.logger.Warn("queue.batch.entry_released", "entry_id", id)
	}
}

func (m *QueueManager) markProcessingLocked(idx int) uint64 {
	m.nextToken++
	m.entries[idx].Status = domain.StatusProcessing
	m.inflight[m.entries[idx].ID] = m.nextToken
	return m.nextToken
}

func (m *QueueManager) fileInput(entry domain.QueueEntry) domain.FileInput {
	key := entry.StorageKey
	return domain.FileInput{
		Name:      entry.Name,
		MimeType:  entry.MimeType,
		SizeBytes: entry.SizeBytes,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return m.storage.Open(ctx, key)
		},
	}
}

func (m *QueueManager) resultsLocked() map[string]domain.StructuredResult {
	out := make(map[string]domain.StructuredResult, len(m.results))
	for id, r := range m.results {
		out[id] = r
	}
	return out
}

func (m *QueueManager) indexOf(id string) int {
	for i := range m.entries {
		if m.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *QueueManager) touch() {
	m.lastActive = m.now()
}

func (m *QueueManager) deletePayload(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.storage.Delete(ctx, key); err != nil {
		m.logger.Warn("queue.payload_delete_failed", "key", key, "error", err)
	}
}

func rejectionMessage(rejected []domain.Rejection) string {
	names := make([]string, 0, len(rejected))
	for _, r := range rejected {
		names = append(names, r.FileName)
	}
	return "unsupported file type: " + strings.Join(names, ", ")
}

func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeMime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(raw)
	}
	return strings.ToLower(mediaType)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
