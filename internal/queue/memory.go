package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vasudvy/billfrog/internal/models"
)

// MemoryQueue implements Queue over a buffered channel. Records do not
// survive a restart; suitable for single-node deployments.
type MemoryQueue struct {
	records chan *models.UsageRecord
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		// Buffer several batches so the orchestrator never blocks on a
		// slow worker.
		records: make(chan *models.UsageRecord, config.BatchSize*10),
	}
}

// Enqueue adds a record to the queue. The send never blocks: when the
// buffer is full the record is rejected with ErrQueueFull so the caller's
// request goroutine is not held hostage by a prolonged store outage. The
// caller already has the record in hand and logs the loss.
func (q *MemoryQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// DequeueWithTimeout retrieves up to maxItems records within the timeout
func (q *MemoryQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.UsageRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var records []*models.UsageRecord
	deadline := time.After(timeout)

	select {
	case record := <-q.records:
		records = append(records, record)
	case <-deadline:
		return records, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(records) < maxItems {
		select {
		case record := <-q.records:
			records = append(records, record)
		default:
			return records, nil
		}
	}

	return records, nil
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.records), nil
}

// Close shuts down the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.records)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in process memory.
type MemoryDeadLetterQueue struct {
	mu    sync.Mutex
	items map[string]DeadLetterItem
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{items: make(map[string]DeadLetterItem)}
}

// Add stores a failed record
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, record *models.UsageRecord, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := DeadLetterItem{
		ID:        uuid.NewString(),
		Record:    record,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	}
	q.items[item.ID] = item
	return nil
}

// List retrieves up to maxItems entries (0 = all)
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]DeadLetterItem, 0, len(q.items))
	for _, item := range q.items {
		items = append(items, item)
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}
	return items, nil
}

// Remove deletes an entry by id
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, found := q.items[id]; !found {
		return ErrItemNotFound
	}
	delete(q.items, id)
	return nil
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	return nil
}
