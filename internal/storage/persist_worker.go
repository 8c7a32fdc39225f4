package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/queue"
	"github.com/vasudvy/billfrog/internal/utils"
)

// RecordWriter is the slice of the usage repository the persist worker
// needs.
type RecordWriter interface {
	Create(ctx context.Context, record *models.UsageRecord) error
}

// PersistWorker re-drives usage record inserts that failed at the
// pipeline's persistence point. The record is already finalized by the
// time it reaches the queue; the worker only retries the write.
type PersistWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	repo        RecordWriter
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewPersistWorker creates a new persist worker
func NewPersistWorker(q queue.Queue, dlq queue.DeadLetterQueue, repo RecordWriter, config *queue.Config) *PersistWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &PersistWorker{
		queue:       q,
		dlq:         dlq,
		repo:        repo,
		config:      config,
		logger:      utils.NewLogger("persist-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *PersistWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop gracefully stops the worker
func (w *PersistWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue hands a finalized record to the retry queue
func (w *PersistWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// QueueLength returns the current retry backlog
func (w *PersistWorker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetterItems returns records that exhausted their retries
func (w *PersistWorker) DeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

func (w *PersistWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Persist worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Persist worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *PersistWorker) processBatch(ctx context.Context) {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.logger.Error("Failed to dequeue records", "error", err)
		time.Sleep(1 * time.Second) // back off on queue errors
		return
	}

	for _, record := range records {
		if err := w.processRecord(ctx, record); err != nil {
			w.logger.Error("Failed to persist record", "record_id", record.ID, "error", err)
		}
	}
}

func (w *PersistWorker) processRecord(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying record persist", "record_id", record.ID, "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		err := w.repo.Create(ctx, record)
		if err == nil {
			w.logger.Info("Recovered usage record", "record_id", record.ID, "attempts", attempt+1)
			return nil
		}
		// A duplicate means an earlier attempt actually landed; the
		// record is safe.
		if isDuplicate(err) {
			w.logger.Debug("Record already persisted", "record_id", record.ID)
			return nil
		}
		lastErr = err
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add record to dead letter queue", "record_id", record.ID, "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "record_id", record.ID, "error", lastErr)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
