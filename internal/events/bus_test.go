package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventModeSwitched, 1)
	defer unsub()

	bus.Publish(EventModeSwitched, ModeSwitched{To: "PRODUCTION", Version: 3})
	select {
	case got := <-ch:
		ev, ok := got.(ModeSwitched)
		require.True(t, ok)
		assert.Equal(t, int64(3), ev.Version)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	dropped := 0
	bus.OnDrop = func(Event) { dropped++ }
	_, unsub := bus.Subscribe(EventConfigChanged, 1)

	bus.Publish(EventConfigChanged, ConfigChanged{Key: "a"})
	bus.Publish(EventConfigChanged, ConfigChanged{Key: "b"})
	assert.Equal(t, 1, dropped)

	unsub()
	unsub()
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(EventKeyRotated, KeyRotated{}) })
}
