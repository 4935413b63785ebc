package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishOrder(t *testing.T) {
	b := NewBus()
	var got []string

	b.Subscribe(PartyDataUpdated, "a", func(Event) { got = append(got, "a") })
	b.Subscribe(PartyDataUpdated, "b", func(Event) { got = append(got, "b") })
	b.SubscribeAll("all", func(Event) { got = append(got, "all") })

	b.Publish(PartyDataUpdated, nil)

	assert.Equal(t, []string{"a", "b", "all"}, got, "channel subscribers first, in subscription order")
}

func TestResubscribeReplacesInPlace(t *testing.T) {
	b := NewBus()
	var got []string

	b.Subscribe(QueueJoined, "a", func(Event) { got = append(got, "a1") })
	b.Subscribe(QueueJoined, "b", func(Event) { got = append(got, "b") })
	b.Subscribe(QueueJoined, "a", func(Event) { got = append(got, "a2") })

	b.Publish(QueueJoined, nil)

	assert.Equal(t, []string{"a2", "b"}, got, "replacement keeps dispatch position, no duplicate delivery")
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0

	b.Subscribe(QueueLeft, "a", func(Event) { calls++ })
	b.Unsubscribe(QueueLeft, "a")
	b.Unsubscribe(QueueLeft, "never-registered")

	b.Publish(QueueLeft, nil)
	assert.Zero(t, calls)
}

func TestUnsubscribeAll(t *testing.T) {
	b := NewBus()
	calls := 0

	b.Subscribe(QueueJoined, "a", func(Event) { calls++ })
	b.Subscribe(QueueLeft, "a", func(Event) { calls++ })
	b.SubscribeAll("a", func(Event) { calls++ })
	b.UnsubscribeAll("a")

	b.Publish(QueueJoined, nil)
	b.Publish(QueueLeft, nil)
	assert.Zero(t, calls)
}

func TestPayloadDelivered(t *testing.T) {
	b := NewBus()
	var got any

	b.Subscribe(QueueSelected, "a", func(ev Event) { got = ev.Payload })
	b.Publish(QueueSelected, "ranked")

	assert.Equal(t, "ranked", got)
}
