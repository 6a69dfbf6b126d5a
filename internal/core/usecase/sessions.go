package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/ocr-intake/internal/core/domain"
	"github.com/kirillkom/ocr-intake/internal/core/ports"
)

type SessionOptions struct {
	MaxFiles int
	TTL      time.Duration
	Pages    ports.PageCounter
	Logger   *slog.Logger
}

// SessionRegistry keeps one QueueManager per intake session.
type SessionRegistry struct {
	extractor  *ExtractionClient
	structurer *StructuringClient
	batch      *BatchCoordinator
	storage    ports.ObjectStorage
	opts       SessionOptions
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*QueueManager
}

func NewSessionRegistry(
	extractor *ExtractionClient,
	structurer *StructuringClient,
	batch *BatchCoordinator,
	storage ports.ObjectStorage,
	opts SessionOptions,
) *SessionRegistry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SessionRegistry{
		extractor:  extractor,
		structurer: structurer,
		batch:      batch,
		storage:    storage,
		opts:       opts,
		now:        time.Now,
		sessions:   make(map[string]*QueueManager),
	}
}

func (r *SessionRegistry) Configured() bool {
	return r.extractor != nil && r.extractor.Configured()
}

func (r *SessionRegistry) Extractor() *ExtractionClient { return r.extractor }

func (r *SessionRegistry) Structurer() *StructuringClient { return r.structurer }

func (r *SessionRegistry) Create(ctx context.Context) *QueueManager {
	r.Sweep(ctx)

	id := uuid.NewString()
	manager := NewQueueManager(id, r.extractor, r.structurer, r.batch, r.storage, QueueOptions{
		MaxFiles: r.opts.MaxFiles,
		Pages:    r.opts.Pages,
		Logger:   r.opts.Logger,
	})

	r.mu.Lock()
	r.sessions[id] = manager
	r.mu.Unlock()

	r.opts.Logger.Info("session.create.ok", "session_id", id, "max_files", manager.MaxFiles())
	return manager
}

func (r *SessionRegistry) Get(id string) (*QueueManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	manager, ok := r.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	return manager, nil
}

// Delete drops the session and its staged payloads.
func (r *SessionRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	manager, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "delete session", fmt.Errorf("id=%s", id))
	}
	manager.Reset(ctx)
	return nil
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the configured TTL.
func (r *SessionRegistry) Sweep(ctx context.Context) int {
	if r.opts.TTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.TTL)

	r.mu.Lock()
	expired := make([]*QueueManager, 0)
	for id, manager := range r.sessions {
		if manager.LastActive().Before(cutoff) {
			expired = append(expired, manager)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, manager := range expired {
		manager.Reset(ctx)
		r.opts.Logger.Info("session.evicted", "session_id", manager.ID())
	}
	return len(expired)
}
