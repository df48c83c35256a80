package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"collab-sync/internal/docmodel"
	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"
	"collab-sync/internal/middleware"
	"collab-sync/internal/models"
	"collab-sync/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultSaveDelay is the debounce window between an accepted batch and the
// snapshot write it triggers.
const DefaultSaveDelay = 2 * time.Second

const saveTimeout = 10 * time.Second

// SnapshotStore is the persistence collaborator. Implementations live in the
// repository package (postgres, redis, memory).
type SnapshotStore interface {
	Load(ctx context.Context, documentID string) (*repository.Snapshot, error)
	Save(ctx context.Context, documentID string, snap repository.Snapshot) error
}

// StoreLoader adapts a SnapshotStore into an instance Loader. Documents that
// were never saved start empty at version 0.
func StoreLoader(store SnapshotStore, schema docmodel.Schema) Loader {
	return func(ctx context.Context, documentID string) (docmodel.Node, int, error) {
		snap, err := store.Load(ctx, documentID)
		if errors.Is(err, repository.ErrNotFound) {
			return schema.EmptyDoc(), 0, nil
		}
		if err != nil {
			return nil, 0, err
		}

		doc, err := schema.DocFromJSON(snap.Doc)
		if err != nil {
			return nil, 0, fmt.Errorf("stored snapshot is invalid: %w", err)
		}
		return doc, snap.Version, nil
	}
}

// SnapshotSource is read when a scheduled save fires. *Instance satisfies it.
type SnapshotSource interface {
	Snapshot() (docmodel.Node, int)
}

type pendingSave struct {
	timer    *time.Timer
	source   SnapshotSource
	identity models.Identity
}

// Bridge debounces snapshot writes per document. Only the state at fire time
// is written, so a burst of edits costs one write and writes never go
// backwards in version.
type Bridge struct {
	store SnapshotStore
	delay time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingSave
	inflight map[string]int
	wg       sync.WaitGroup
}

// NewBridge creates a Bridge writing to store after delay.
func NewBridge(store SnapshotStore, delay time.Duration) *Bridge {
	if delay <= 0 {
		delay = DefaultSaveDelay
	}
	return &Bridge{
		store:   store,
		delay:   delay,
		pending:  make(map[string]*pendingSave),
		inflight: make(map[string]int),
	}
}

// ScheduleSave (re)arms the save timer for documentID.
func (b *Bridge) ScheduleSave(documentID string, source SnapshotSource, identity models.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.pending[documentID]; ok {
		prev.timer.Stop()
	}

	p := &pendingSave{source: source, identity: identity}
	p.timer = time.AfterFunc(b.delay, func() { b.fire(documentID, p) })
	b.pending[documentID] = p
}

// fire runs a save unless p was replaced or flushed in the meantime.
func (b *Bridge) fire(documentID string, p *pendingSave) {
	b.mu.Lock()
	if b.pending[documentID] != p {
		b.mu.Unlock()
		return
	}
	delete(b.pending, documentID)
	b.inflight[documentID]++
	b.wg.Add(1)
	b.mu.Unlock()

	defer b.wg.Done()
	defer b.settle(documentID)
	b.save(context.Background(), documentID, p)
}

// settle marks one save of documentID as finished.
func (b *Bridge) settle(documentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inflight[documentID]--; b.inflight[documentID] <= 0 {
		delete(b.inflight, documentID)
	}
}

func (b *Bridge) save(ctx context.Context, documentID string, p *pendingSave) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Bridge.Save",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	start := time.Now()
	err := b.write(models.WithIdentity(ctx, p.identity), documentID, p.source)
	metrics.RecordSave(err == nil, time.Since(start).Seconds())

	if err != nil {
		middleware.AddSpanError(ctx, err)
		logger.L().Error("failed to save document snapshot",
			"document_id", documentID,
			"error", err,
		)
	}
}

func (b *Bridge) write(ctx context.Context, documentID string, source SnapshotSource) error {
	doc, version := source.Snapshot()

	data, err := doc.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	if err := b.store.Save(ctx, documentID, repository.Snapshot{Doc: data, Version: version}); err != nil {
		return err
	}

	logger.L().Debug("document snapshot saved",
		"document_id", documentID,
		"version", version,
	)
	return nil
}

// Flush runs every pending save now and waits for in-flight saves.
func (b *Bridge) Flush(ctx context.Context) {
	b.mu.Lock()
	due := b.pending
	b.pending = make(map[string]*pendingSave)
	for documentID, p := range due {
		p.timer.Stop()
		b.inflight[documentID]++
	}
	b.mu.Unlock()

	for documentID, p := range due {
		b.save(ctx, documentID, p)
		b.settle(documentID)
	}

	b.wg.Wait()
}

// Unsaved reports whether documentID has a scheduled or running save. Such a
// document holds acknowledged edits the store does not have yet.
func (b *Bridge) Unsaved(documentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, scheduled := b.pending[documentID]
	return scheduled || b.inflight[documentID] > 0
}

// Pending is the number of documents with a scheduled save.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
