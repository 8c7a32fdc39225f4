package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasudvy/billfrog/internal/models"
)

func testRecord() *models.UsageRecord {
	return &models.UsageRecord{
		ID:            uuid.New(),
		Provider:      models.ProviderOpenAI,
		ModelName:     "gpt-4",
		Status:        models.StatusSuccess,
	}
}

func TestBroadcasterDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	record := testRecord()
	b.Publish(context.Background(), record)

	for _, ch := range []<-chan *models.UsageRecord{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != record.ID {
				t.Errorf("got record %s, want %s", got.ID, record.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
}

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster(1)
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	// The buffer holds one record; further publishes must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(context.Background(), testRecord())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBroadcasterCancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster(4)
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish(context.Background(), testRecord())
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)

	publisher, err := NewRedisPublisher(mr.Addr(), "", 0, "test:records", nil)
	require.NoError(t, err)
	defer publisher.Close()

	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()

	pubsub := subscriber.Subscribe(context.Background(), "test:records")
	defer pubsub.Close()

	_, err = pubsub.Receive(context.Background())
	require.NoError(t, err)

	record := testRecord()
	publisher.Publish(context.Background(), record)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got models.UsageRecord
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, models.StatusSuccess, got.Status)
}
