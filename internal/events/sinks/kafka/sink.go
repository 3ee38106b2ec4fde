// Package kafka adapts internal/message's KafkaProducer into an event-bus
// subscriber: it subscribes once, ranges its Subscription's Events channel,
// and republishes every event onto the integration topic exactly the way
// internal/message/kafka_producer.go always has. The conversion logic
// (IntegrationEvent, IntegrationEventConverter) is untouched — only the
// source of events changes, from the teacher's dispatcher event channel to
// the bus's per-subscriber channel.
package kafka

import (
	"github.com/ocpp-csms/core/internal/events/bus"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/message"
)

// Sink publishes every event the bus delivers to it onto Kafka.
type Sink struct {
	sub      *bus.Subscription
	producer *message.KafkaProducer
	logger   *logger.Logger
	done     chan struct{}
}

// New subscribes to b under name and starts forwarding events to producer.
// Call Close to unsubscribe and stop the forwarding goroutine.
func New(b *bus.Bus, name string, producer *message.KafkaProducer, log *logger.Logger) *Sink {
	s := &Sink{
		sub:      b.Subscribe(name),
		producer: producer,
		logger:   log,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for event := range s.sub.Events() {
		if err := s.producer.PublishEvent(event); err != nil {
			if s.logger != nil {
				s.logger.Errorf("failed to publish event %s (%s) to kafka: %v", event.GetID(), event.GetType(), err)
			}
		}
	}
}

// Close unsubscribes from the bus and waits for the forwarding goroutine to
// drain whatever was already queued. It does not close the Kafka producer —
// callers own that lifecycle separately since it may outlive this sink.
func (s *Sink) Close() {
	s.sub.Unsubscribe()
	<-s.done
}
