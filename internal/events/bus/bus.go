// Package bus implements the event bus: publish/subscribe fan-out with one
// bounded queue per subscriber. A slow subscriber never blocks a producer
// and never holds back a faster subscriber — on overflow the oldest queued
// event for that subscriber is dropped and its lag counter increments,
// while every producer's own publish order is preserved within each
// subscriber's queue.
//
// This replaces the teacher's eventAggregator, a round-robin poller that
// slept 10ms between passes and gave no ordering or backpressure
// guarantee; the event struct catalog it fed from is kept unchanged.
package bus

import (
	"sync"

	"github.com/ocpp-csms/core/internal/domain/events"
	"github.com/ocpp-csms/core/internal/logger"
	"github.com/ocpp-csms/core/internal/metrics"
)

// Subscription is a handle returned by Subscribe; Events delivers the
// bounded queue, Unsubscribe stops delivery and releases it.
type Subscription struct {
	name   string
	events chan events.Event
	bus    *Bus
}

func (s *Subscription) Events() <-chan events.Event { return s.events }

func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.name)
}

// Config controls per-subscriber queue depth.
type Config struct {
	QueueCapacity int
}

func DefaultConfig() Config {
	return Config{QueueCapacity: 256}
}

// Bus is the event bus described in spec.md §4.H.
type Bus struct {
	config Config
	logger *logger.Logger

	mu   sync.RWMutex
	subs map[string]chan events.Event

	publishMu sync.Mutex // serializes publish so per-producer order is preserved across subscribers
}

func New(config Config, log *logger.Logger) *Bus {
	return &Bus{
		config: config,
		logger: log,
		subs:   make(map[string]chan events.Event),
	}
}

// Subscribe registers a new subscriber under name. Re-subscribing under an
// already-used name replaces the prior subscription.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[name]; ok {
		close(old)
	}
	ch := make(chan events.Event, b.config.QueueCapacity)
	b.subs[name] = ch
	return &Subscription{name: name, events: ch, bus: b}
}

func (b *Bus) unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		delete(b.subs, name)
		close(ch)
	}
}

// Publish delivers evt to every current subscriber. Held under publishMu so
// that two producers publishing concurrently never interleave their
// deliveries to the same subscriber out of order; a single subscriber's
// queue therefore sees events in the order Publish was called, even though
// different producers call it from different goroutines.
func (b *Bus) Publish(evt events.Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Queue full: drop the oldest queued event to make room rather
			// than drop the new one, so a revived subscriber always sees the
			// most recent state first.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
			metrics.EventsDropped.WithLabelValues(name).Inc()
			if b.logger != nil {
				b.logger.Warnf("event queue full for subscriber %s, dropped oldest event", name)
			}
		}
	}
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stop closes every subscriber's queue so ranging readers terminate. Called
// during graceful shutdown after every other producer has stopped
// publishing (SPEC_FULL.md §12).
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
	}
}
