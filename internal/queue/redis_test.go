package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasudvy/billfrog/internal/models"
)

func newRedisQueue(t *testing.T) (*RedisQueue, *RedisDeadLetterQueue) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := DefaultConfig("test")
	cfg.UseRedis = true
	cfg.RedisAddr = mr.Addr()

	q, err := NewRedisQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	dlq, err := NewRedisDeadLetterQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dlq.Close() })

	return q, dlq
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	want := testRecord(models.StatusSuccess)
	want.SafetyFlags = models.JSONB{"quality": []any{"repetition"}}
	require.NoError(t, q.Enqueue(ctx, want))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	records, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Prompt, got.Prompt)
	assert.Equal(t, want.Status, got.Status)
	assert.Contains(t, got.SafetyFlags, "quality")
}

func TestRedisQueue_BatchDrain(t *testing.T) {
	q, _ := newRedisQueue(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, testRecord(models.StatusFailure)))
	}

	records, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestRedisQueue_DequeueTimeout(t *testing.T) {
	q, _ := newRedisQueue(t)

	records, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedisDeadLetterQueue(t *testing.T) {
	_, dlq := newRedisQueue(t)
	ctx := context.Background()

	rec := testRecord(models.StatusSuccess)
	require.NoError(t, dlq.Add(ctx, rec, errors.New("insert failed")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, rec.ID, items[0].Record.ID)
	assert.Equal(t, "insert failed", items[0].Error)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, items[0].ID), ErrItemNotFound)
}
