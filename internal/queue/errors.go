package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned when the retry buffer cannot accept a
	// record without blocking
	ErrQueueFull = errors.New("queue is full")

	// ErrItemNotFound is returned when a dead letter entry does not exist
	ErrItemNotFound = errors.New("item not found")
)
