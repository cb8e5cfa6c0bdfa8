package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ConvoSphere/DataExtract/store"
)

// subscription adapts a Redis Pub/Sub channel to store.Subscription.
type subscription struct {
	pubsub *goredis.PubSub
	ch     chan []byte
	done   chan struct{}
}

// Messages returns the delivery channel.
func (sub *subscription) Messages() <-chan []byte { return sub.ch }

// Close tears down the Redis subscription.
func (sub *subscription) Close() error {
	err := sub.pubsub.Close()
	<-sub.done
	return err
}

// Publish delivers payload to all current subscribers of topic.
func (s *Store) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := s.client.Publish(ctx, keyPrefix+topic, payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription to topic. The returned
// subscription pumps messages until closed.
func (s *Store) Subscribe(ctx context.Context, topic string) (store.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, keyPrefix+topic)

	// Force the subscription onto the wire before returning so callers
	// cannot miss a notification published right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close() //nolint:errcheck // best-effort cleanup on failed subscribe
		return nil, unavailable("subscribe", err)
	}

	sub := &subscription{
		pubsub: pubsub,
		ch:     make(chan []byte, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			select {
			case sub.ch <- []byte(msg.Payload):
			default:
			}
		}
	}()

	return sub, nil
}
