package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRelayStream is the Redis stream used when none is configured.
const DefaultRelayStream = "lexicore:events"

// relayMaxLen bounds the mirrored stream; trimming is approximate.
const relayMaxLen = 10000

// RedisRelay mirrors every bus message onto a Redis stream so that external
// tooling can follow the event flow. It is attached as an observer.
type RedisRelay struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewRedisRelay connects to Redis and verifies the connection.
func NewRedisRelay(redisURL, stream string, logger *zap.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultRelayStream
	}
	return &RedisRelay{rdb: rdb, stream: stream, logger: logger}, nil
}

// Attach registers the relay as an observer of b.
func (r *RedisRelay) Attach(b *MessageBus) Unsubscribe {
	return b.Observe(r.forward)
}

func (r *RedisRelay) forward(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: relayMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(msg.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("relay to %s: %w", r.stream, err)
	}

	r.logger.Debug("relayed message",
		zap.String("type", string(msg.Type)),
		zap.String("id", msg.ID))
	return nil
}

// Tail returns up to count of the most recently relayed messages, oldest first.
// Payloads come back as generic JSON values.
func (r *RedisRelay) Tail(ctx context.Context, count int64) ([]*Message, error) {
	if count <= 0 {
		count = DefaultLogSize
	}
	entries, err := r.rdb.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.stream, err)
	}

	out := make([]*Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		data, ok := entries[i].Values["data"].(string)
		if !ok {
			continue
		}
		var m Message
		if json.Unmarshal([]byte(data), &m) == nil {
			out = append(out, &m)
		}
	}
	return out, nil
}

// Close shuts down the Redis connection.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
