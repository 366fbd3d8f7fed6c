// internal/events/nats.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// NATSSink publishes events to a JetStream stream for the durable
// consumers (notification sink, analytics). JetStream acknowledges
// persistence, which gives the at-least-once delivery the event
// contract promises.
type NATSSink struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

func NewNATSSink(url, streamName string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Marketplace domain events",
		Subjects:    []string{"events.>"},
		Storage:     jetstream.FileStorage,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}

	return &NATSSink{conn: conn, js: js}, nil
}

func (s *NATSSink) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(Wrap(eventType, payload))
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal event for NATS")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subject := "events." + eventType
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		logrus.WithError(err).WithField("subject", subject).Warn("Failed to publish event to JetStream")
	}
}

func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
