package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vasudvy/billfrog/internal/models"
	"github.com/vasudvy/billfrog/internal/utils"
)

const defaultChannel = "billfrog:records"

// RedisPublisher pushes finalized records onto a redis pub/sub channel so
// dashboards on other hosts can observe them.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *utils.Logger
}

// NewRedisPublisher connects to redis and verifies the connection
func NewRedisPublisher(addr, password string, db int, channel string, logger *utils.Logger) (*RedisPublisher, error) {
	if channel == "" {
		channel = defaultChannel
	}
	if logger == nil {
		logger = utils.NewLogger("notify")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisPublisher{client: client, channel: channel, logger: logger}, nil
}

// Channel returns the pub/sub channel name
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish serializes the record and publishes it. Failures are logged and
// swallowed; notification must not fail the response path.
func (p *RedisPublisher) Publish(ctx context.Context, record *models.UsageRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("failed to serialize record for broadcast", "record_id", record.ID, "error", err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Error("failed to broadcast record", "record_id", record.ID, "error", err)
	}
}

// Close releases the redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
