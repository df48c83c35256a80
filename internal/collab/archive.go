package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"collab-sync/internal/logger"
	"collab-sync/internal/metrics"
	"collab-sync/internal/middleware"
	"collab-sync/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: ARCHIVE WORKER POOL

Accepted batches are written to the step archive by a fixed pool of workers
reading from a bounded queue:

  AddEvents (under lock) → Submit (never blocks) → jobs chan → worker → AppendBatch → Prune

The in-memory instance stays the authority. When the queue is full the job is
dropped and counted; the live session is never slowed down by the database.
*/

// StepArchive stores accepted batches for history and audit.
type StepArchive interface {
	AppendBatch(ctx context.Context, batch *models.StepBatch) error
	ListSince(ctx context.Context, documentID string, sinceVersion int, limit int) ([]*models.StepBatch, error)
	Prune(ctx context.Context, documentID string, keepCount int) error
}

// ArchiveJob is one accepted batch waiting to be archived.
type ArchiveJob struct {
	DocumentID   string
	StartVersion int
	Steps        []json.RawMessage
	ClientIDs    []string
}

// ArchiverOptions sizes the archive worker pool.
type ArchiverOptions struct {
	Workers   int
	QueueSize int
	// Retention is the number of batches kept per document. Zero keeps all.
	Retention int
}

// Archiver is a worker pool writing ArchiveJobs to a StepArchive.
type Archiver struct {
	archive StepArchive
	opts    ArchiverOptions

	jobs   chan ArchiveJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewArchiver creates an archiver. Call Start before submitting jobs.
func NewArchiver(archive StepArchive, opts ArchiverOptions) *Archiver {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Archiver{
		archive: archive,
		opts:    opts,
		jobs:    make(chan ArchiveJob, opts.QueueSize),
	}
}

// Start spawns the workers.
func (a *Archiver) Start() {
	for i := 0; i < a.opts.Workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
	logger.L().Info("step archiver started", "workers", a.opts.Workers, "queue_size", a.opts.QueueSize)
}

func (a *Archiver) worker(id int) {
	defer a.wg.Done()

	for job := range a.jobs {
		if err := a.process(job); err != nil {
			metrics.RecordArchive("error")
			logger.L().Error("failed to archive step batch",
				"worker", id,
				"document_id", job.DocumentID,
				"start_version", job.StartVersion,
				"error", err,
			)
			continue
		}
		metrics.RecordArchive("success")
	}
}

// Submit queues a job without blocking. It reports whether the job was queued.
func (a *Archiver) Submit(job ArchiveJob) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return false
	}

	select {
	case a.jobs <- job:
		return true
	default:
		metrics.RecordArchive("dropped")
		logger.L().Warn("archive queue full, dropping batch",
			"document_id", job.DocumentID,
			"start_version", job.StartVersion,
		)
		return false
	}
}

func (a *Archiver) process(job ArchiveJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Archive.AppendBatch",
		attribute.String("document.id", job.DocumentID),
		attribute.Int("batch.start_version", job.StartVersion),
		attribute.Int("batch.steps", len(job.Steps)),
	)
	defer span.End()

	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	batch := &models.StepBatch{
		DocumentID:   job.DocumentID,
		StartVersion: job.StartVersion,
		Steps:        models.JSON(steps),
		ClientIDs:    job.ClientIDs,
	}
	if err := a.archive.AppendBatch(ctx, batch); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	if a.opts.Retention > 0 {
		if err := a.archive.Prune(ctx, job.DocumentID, a.opts.Retention); err != nil {
			middleware.AddSpanError(ctx, err)
			return err
		}
	}
	return nil
}

// Shutdown stops accepting jobs and waits until the queue is drained.
func (a *Archiver) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.jobs)
	a.mu.Unlock()

	a.wg.Wait()
	logger.L().Info("step archiver stopped")
}

// QueueLength is the number of jobs waiting for a worker.
func (a *Archiver) QueueLength() int {
	return len(a.jobs)
}
