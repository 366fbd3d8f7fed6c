// internal/events/redis.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisSink publishes events on Redis pub/sub channels named after the
// event type ("events.bid.accepted", ...). Real-time consumers such as
// a websocket broadcaster subscribe with a pattern on "events.*".
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr, password string, db int) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisSink{client: rdb}, nil
}

func (s *RedisSink) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(Wrap(eventType, payload))
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal event for Redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "events." + eventType
	if err := s.client.Publish(ctx, channel, data).Err(); err != nil {
		logrus.WithError(err).WithField("channel", channel).Warn("Failed to publish event to Redis")
	}
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
