package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisPrefix = "repeatnomore:notify:"

// envelope is the JSON published on Redis channels.
type envelope struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
	Message Message   `json:"message"`
}

// Redis publishes messages on <prefix><channel> for chat bots and other
// subscribers. Delivery counts as successful when at least one subscriber
// received it.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient creates a publisher from an existing client.
func NewRedisWithClient(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: DefaultRedisPrefix, logger: logger.Named("redis")}
}

func (r *Redis) Topic(channel string) string {
	return r.prefix + channel
}

func (r *Redis) Send(ctx context.Context, channel string, msg Message) (bool, error) {
	data, err := json.Marshal(envelope{Channel: channel, SentAt: time.Now().UTC(), Message: msg})
	if err != nil {
		return false, fmt.Errorf("marshal notification: %w", err)
	}
	receivers, err := r.client.Publish(ctx, r.Topic(channel), data).Result()
	if err != nil {
		return false, fmt.Errorf("publish %s: %w", channel, err)
	}
	if receivers == 0 {
		r.logger.Debug("no subscribers", zap.String("channel", channel))
		return false, nil
	}
	return true, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
