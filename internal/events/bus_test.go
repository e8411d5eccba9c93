package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(TopicCircuitStateChange, func(e Event) {
		got = append(got, e)
	})

	bus.Publish(TopicCircuitStateChange, "payload")
	bus.Publish(TopicCircuitFailure, "other")

	assert.Len(t, got, 1)
	assert.Equal(t, TopicCircuitStateChange, got[0].Topic)
	assert.Equal(t, "payload", got[0].Payload)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	calls := 0
	sub := bus.Subscribe("topic", func(Event) { calls++ })

	bus.Publish("topic", nil)
	sub.Unsubscribe()
	bus.Publish("topic", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount("topic"))
}

func TestBus_SubscribeDuringDelivery(t *testing.T) {
	bus := NewBus()

	added := 0
	bus.Subscribe("topic", func(Event) {
		bus.Subscribe("topic", func(Event) { added++ })
	})

	bus.Publish("topic", nil)
	assert.Equal(t, 0, added, "handler added during delivery must not receive the same event")

	bus.Publish("topic", nil)
	assert.Equal(t, 1, added)
}

func TestBus_ClosedRejectsSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Close()

	calls := 0
	sub := bus.Subscribe("topic", func(Event) { calls++ })
	bus.Publish("topic", nil)
	sub.Unsubscribe()

	assert.Equal(t, 0, calls)
}
