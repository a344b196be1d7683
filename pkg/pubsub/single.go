package pubsub

import (
	"context"

	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
)

// SingleSubscriber is a Subscriber holding exactly one subscription.
type SingleSubscriber struct {
	sub   *Subscriber
	queue string
}

// NewSingleSubscriber opens a channel on conn and subscribes to topic.
// capacity and handler behave as in Subscriber.Subscribe.
func NewSingleSubscriber(ctx context.Context, conn broker.Connection, topic string, capacity int, handler Handler, opts Options) (*SingleSubscriber, error) {
	sub, err := NewSubscriber(ctx, conn, opts)
	if err != nil {
		return nil, err
	}
	queue, err := sub.Subscribe(ctx, topic, capacity, handler)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}
	return &SingleSubscriber{sub: sub, queue: queue}, nil
}

// Queue returns the name of the subscription's queue.
func (s *SingleSubscriber) Queue() string {
	return s.queue
}

// Get polls the queue once. ok is false when nothing was waiting, and always
// false in push mode.
func (s *SingleSubscriber) Get(ctx context.Context) (v any, ok bool, err error) {
	values, err := s.sub.Get(ctx, s.queue)
	if err != nil {
		return nil, false, err
	}
	v, ok = values[s.queue]
	return v, ok, nil
}

// Spin runs the push handler until consumption ends. See Subscriber.Spin.
func (s *SingleSubscriber) Spin(ctx context.Context) error {
	return s.sub.Spin(ctx)
}

// Close closes the underlying subscriber.
func (s *SingleSubscriber) Close() error {
	return s.sub.Close()
}
