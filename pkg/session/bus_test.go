package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-go/pkg/credentials"
)

func TestBusPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Publish(LoggedOut{})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.IsType(t, LoggedOut{}, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	ch, cancel := bus.Subscribe()

	cancel()
	cancel() // safe to call twice

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	bus.Publish(CredentialUpdated{Credential: credentials.Credential{AccessToken: "a", RefreshToken: "r"}})
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(nil)
	ch, _ := bus.Subscribe()

	bus.Close()
	bus.Close() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Subscribing after close yields a closed channel.
	ch2, cancel := bus.Subscribe()
	defer cancel()
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestBusDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus(nil)
	_, cancel := bus.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(LoggedOut{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
