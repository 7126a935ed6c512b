// Package events carries backend lifecycle notifications over an in-memory
// watermill bus so commands can observe the supervisor without polling state.
package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// TopicLifecycle carries Event payloads as JSON.
const TopicLifecycle = "crawlctl.lifecycle"

// Bus is the in-process lifecycle channel between the supervisor and
// whatever wants to watch it (an attached up command, tests).
type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	runOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		Router:     r,
		Publisher:  pubsub,
		Subscriber: pubsub,
	}, nil
}

// OnLifecycle registers handler for decoded lifecycle events. Handlers only
// receive events once Run's router reports Running; the in-memory transport
// drops anything published before the subscription is live.
func (b *Bus) OnLifecycle(name string, handler func(Event) error) {
	b.Router.AddConsumerHandler(name, TopicLifecycle, b.Subscriber, func(msg *message.Message) error {
		ev, err := Decode(msg)
		if err != nil {
			return err
		}
		return handler(ev)
	})
}

func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.Router.Close()
		}()
		runErr = b.Router.Run(ctx)
	})
	return runErr
}
