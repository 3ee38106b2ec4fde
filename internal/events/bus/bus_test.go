package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/domain/events"
)

func testEvent(chargePointID string, seq int) events.Event {
	return &events.ChargePointConnectedEvent{
		BaseEvent: events.NewBaseEvent(events.EventTypeChargePointConnected, chargePointID, events.EventSeverityInfo, events.Metadata{
			Source: fmt.Sprintf("seq-%d", seq),
		}),
	}
}

func TestPublishDeliversToAllSubscribersInOrder(t *testing.T) {
	b := New(DefaultConfig(), nil)
	subA := b.Subscribe("a")
	subB := b.Subscribe("b")

	for i := 0; i < 5; i++ {
		b.Publish(testEvent("CP1", i))
	}

	for i := 0; i < 5; i++ {
		select {
		case evt := <-subA.Events():
			assert.Equal(t, fmt.Sprintf("seq-%d", i), evt.GetMetadata().Source)
		case <-time.After(time.Second):
			t.Fatalf("subscriber a: timed out waiting for event %d", i)
		}
		select {
		case evt := <-subB.Events():
			assert.Equal(t, fmt.Sprintf("seq-%d", i), evt.GetMetadata().Source)
		case <-time.After(time.Second):
			t.Fatalf("subscriber b: timed out waiting for event %d", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(DefaultConfig(), nil)
	sub := b.Subscribe("a")
	sub.Unsubscribe()

	assert.Equal(t, 0, b.SubscriberCount())
	// Publishing after unsubscribe must not panic or block.
	assert.NotPanics(t, func() { b.Publish(testEvent("CP1", 0)) })
}

func TestResubscribeUnderSameNameReplacesPriorSubscription(t *testing.T) {
	b := New(DefaultConfig(), nil)
	first := b.Subscribe("a")
	second := b.Subscribe("a")

	assert.Equal(t, 1, b.SubscriberCount())

	_, open := <-first.Events()
	assert.False(t, open, "the replaced subscription's channel should be closed")

	b.Publish(testEvent("CP1", 0))
	select {
	case evt := <-second.Events():
		assert.Equal(t, "CP1", evt.GetChargePointID())
	case <-time.After(time.Second):
		t.Fatal("replacement subscription never received the event")
	}
}

func TestPublishDropsOldestOnFullQueue(t *testing.T) {
	cfg := Config{QueueCapacity: 2}
	b := New(cfg, nil)
	sub := b.Subscribe("a")

	b.Publish(testEvent("CP1", 0))
	b.Publish(testEvent("CP1", 1))
	b.Publish(testEvent("CP1", 2)) // queue full: drops seq-0, keeps seq-1 then adds seq-2

	first := <-sub.Events()
	second := <-sub.Events()
	assert.Equal(t, "seq-1", first.GetMetadata().Source)
	assert.Equal(t, "seq-2", second.GetMetadata().Source)

	select {
	case <-sub.Events():
		t.Fatal("expected no third event, queue should only ever hold QueueCapacity entries")
	default:
	}
}

func TestStopClosesEverySubscriberQueue(t *testing.T) {
	b := New(DefaultConfig(), nil)
	sub := b.Subscribe("a")

	b.Stop()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestSubscriberCountReflectsActiveSubscriptions(t *testing.T) {
	b := New(DefaultConfig(), nil)
	require.Equal(t, 0, b.SubscriberCount())
	b.Subscribe("a")
	b.Subscribe("b")
	assert.Equal(t, 2, b.SubscriberCount())
}
