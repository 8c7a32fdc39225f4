// Package notify broadcasts finalized usage records to observers such as
// a live dashboard. Publishing is fire and forget: a slow or absent
// observer must never block or fail the persistence path.
package notify

import (
	"context"
	"sync"

	"github.com/vasudvy/billfrog/internal/models"
)

// Notifier publishes a finalized record to whoever is listening.
type Notifier interface {
	Publish(ctx context.Context, record *models.UsageRecord)
	Close() error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Publish(ctx context.Context, record *models.UsageRecord) {}
func (Noop) Close() error                                            { return nil }

// Broadcaster fans records out to in-process subscribers over buffered
// channels. A subscriber that falls behind loses notifications rather
// than applying backpressure.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan *models.UsageRecord]struct{}
	buffer      int
	closed      bool
}

// NewBroadcaster creates an in-process broadcaster
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subscribers: make(map[chan *models.UsageRecord]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new observer. The returned cancel function
// removes the subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan *models.UsageRecord, func()) {
	ch := make(chan *models.UsageRecord, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers the record to every subscriber without blocking
func (b *Broadcaster) Publish(ctx context.Context, record *models.UsageRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- record:
		default:
			// subscriber buffer full, drop
		}
	}
}

// Close tears down every subscription
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	return nil
}
