package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishAndDecode(t *testing.T) {
	bus, err := NewInMemoryBus()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscriber.Subscribe(ctx, TopicLifecycle)
	require.NoError(t, err)

	Publish(bus.Publisher, Event{Type: ProcessStarted, Process: "worker-0", Role: "worker", PID: 42})

	select {
	case msg := <-msgs:
		ev, err := Decode(msg)
		require.NoError(t, err)
		msg.Ack()
		require.Equal(t, ProcessStarted, ev.Type)
		require.Equal(t, "worker-0", ev.Process)
		require.Equal(t, 42, ev.PID)
		require.False(t, ev.Time.IsZero())
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestPublish_NilPublisherIsNoop(t *testing.T) {
	Publish(nil, Event{Type: BackendReady})
}

func TestBus_HandlerReceivesEvents(t *testing.T) {
	bus, err := NewInMemoryBus()
	require.NoError(t, err)

	received := make(chan Event, 1)
	bus.OnLifecycle("test-handler", func(ev Event) error {
		select {
		case received <- ev:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	// Router startup is asynchronous and gochannel drops events published
	// before the subscription is live; Running is the gate. The very first
	// event published after it must arrive.
	select {
	case <-bus.Router.Running():
	case <-ctx.Done():
		t.Fatal("router did not start")
	}

	Publish(bus.Publisher, Event{Type: ShutdownBegan})

	select {
	case ev := <-received:
		require.Equal(t, ShutdownBegan, ev.Type)
	case <-ctx.Done():
		t.Fatal("handler never ran")
	}
}
