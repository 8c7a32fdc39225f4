// Package queue buffers finalized usage records whose initial persist
// failed. Losing a successful, billable call is worse than writing it
// late, so the orchestrator hands such records to a queue and a worker
// re-drives the insert with backoff. Two backends:
//
//   - memory: channel-based, no persistence, zero external dependencies
//   - redis: list-based, survives restarts, supports multiple workers
//
// Records that exhaust their retries land in a dead letter queue for
// operator inspection.
package queue

import (
	"context"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
)

// Queue holds usage records awaiting a persistence retry.
type Queue interface {
	// Enqueue adds a record to the queue
	Enqueue(ctx context.Context, record *models.UsageRecord) error

	// DequeueWithTimeout retrieves up to maxItems records, returning an
	// empty slice if none arrive before the timeout
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]*models.UsageRecord, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue stores records that exhausted their retries.
type DeadLetterQueue interface {
	// Add stores a failed record with its final error
	Add(ctx context.Context, record *models.UsageRecord, err error) error

	// List retrieves up to maxItems entries (0 = all)
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes an entry by id
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is one failed record and the error that exiled it.
type DeadLetterItem struct {
	ID        string              `json:"id"`
	Record    *models.UsageRecord `json:"record"`
	Error     string              `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of records drained per cycle
	BatchSize int

	// BatchTimeout is how long a drain cycle waits for records
	BatchTimeout time.Duration

	// MaxRetries is the number of insert attempts before a record moves
	// to the dead letter queue
	MaxRetries int

	// RetryBackoff is the initial backoff; it doubles per attempt
	RetryBackoff time.Duration

	// UseRedis selects the redis backend over the in-memory one
	UseRedis bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueName namespaces the redis keys
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    50,
		BatchTimeout: 2 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
