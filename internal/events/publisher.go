// internal/events/publisher.go
package events

import (
	"github.com/sirupsen/logrus"
)

// Fanout forwards each event to every configured sink. Sinks are
// independent: one failing does not stop the others, and no sink ever
// blocks the caller beyond its own publish timeout.
type Fanout struct {
	sinks []Publisher
}

func NewFanout(sinks ...Publisher) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Publish(eventType string, payload interface{}) {
	for _, s := range f.sinks {
		s.Publish(eventType, payload)
	}
}

func (f *Fanout) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes every event to the structured log. It is always
// enabled so events are observable even with no broker configured.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (l *LogSink) Publish(eventType string, payload interface{}) {
	logrus.WithFields(logrus.Fields{
		"event_type": eventType,
		"payload":    payload,
	}).Info("Domain event emitted")
}

func (l *LogSink) Close() error {
	return nil
}
