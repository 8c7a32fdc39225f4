package archive

import (
	"context"
	"sync"
	"time"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/utils"
)

// BatchWriter uploads one batch of records.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) (string, error)
}

// Sink receives finalized records for archival.
type Sink interface {
	Enqueue(record *models.UsageRecord)
	Close() error
}

// NoopSink discards records. Used when archival is not configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (s *NoopSink) Enqueue(record *models.UsageRecord) {}
func (s *NoopSink) Close() error                       { return nil }

// BufferedSink batches records in memory and flushes them to the writer
// when the batch fills or the flush interval elapses. Enqueue never
// blocks the caller; if the buffer is full the record is dropped with a
// log line, since archival is a secondary copy of already-persisted data.
type BufferedSink struct {
	writer        BatchWriter
	batchSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	recordCh chan *models.UsageRecord
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewBufferedSink starts the background flusher
func NewBufferedSink(writer BatchWriter, batchSize int, flushInterval time.Duration, logger *utils.Logger) *BufferedSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	if logger == nil {
		logger = utils.NewLogger("archive")
	}

	s := &BufferedSink{
		writer:        writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		recordCh:      make(chan *models.UsageRecord, batchSize*4),
		doneCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue hands a record to the background flusher without blocking
func (s *BufferedSink) Enqueue(record *models.UsageRecord) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	select {
	case s.recordCh <- record:
	default:
		s.logger.Warn("archive buffer full, dropping record", "record_id", record.ID)
	}
}

// Close flushes any buffered records and stops the flusher
func (s *BufferedSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)
	s.wg.Wait()
	return nil
}

func (s *BufferedSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.UsageRecord, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("failed to archive batch", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-s.recordCh:
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.doneCh:
			// drain whatever arrived before Close
			for {
				select {
				case record := <-s.recordCh:
					batch = append(batch, record)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
