package memory

import (
	"context"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/store"
)

// subscription is an in-process topic subscription.
type subscription struct {
	store *Store
	topic string
	ch    chan []byte
}

// Messages returns the delivery channel.
func (sub *subscription) Messages() <-chan []byte { return sub.ch }

// Close removes the subscription from the store and closes the channel.
func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	set, ok := sub.store.subs[sub.topic]
	if !ok {
		return nil
	}
	if _, live := set[sub]; !live {
		return nil
	}

	delete(set, sub)
	if len(set) == 0 {
		delete(sub.store.subs, sub.topic)
	}
	close(sub.ch)
	return nil
}

// Publish delivers payload to all current subscribers of topic.
// Subscribers with a full buffer are skipped; delivery is best-effort.
func (s *Store) Publish(_ context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataextract.ErrStoreClosed
	}

	for sub := range s.subs[topic] {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		select {
		case sub.ch <- cp:
		default:
		}
	}
	return nil
}

// Subscribe opens a subscription to topic.
func (s *Store) Subscribe(_ context.Context, topic string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, dataextract.ErrStoreClosed
	}

	sub := &subscription{
		store: s,
		topic: topic,
		ch:    make(chan []byte, subscriberBuffer),
	}
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[*subscription]struct{})
	}
	s.subs[topic][sub] = struct{}{}
	return sub, nil
}
