package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"go.uber.org/zap"
)

// Handler receives one decoded value. Returning an error ends Spin with it.
type Handler func(v any) error

// consumptionMode is either pushMode or pullMode.
type consumptionMode interface {
	String() string
}

type pushMode struct {
	handler Handler
}

func (pushMode) String() string { return "push" }

type pullMode struct{}

func (pullMode) String() string { return "pull" }

// subscription binds one queue to one topic.
type subscription struct {
	topic string
	queue string
	mode  consumptionMode
}

// Subscriber owns one broker channel and the subscriptions made on it.
type Subscriber struct {
	ch     broker.Channel
	codec  codec.Codec
	logger *zap.Logger
	subs   []subscription
}

// NewSubscriber opens a channel on conn.
func NewSubscriber(ctx context.Context, conn broker.Connection, opts Options) (*Subscriber, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	opts.SetDefaults()

	ch, err := conn.Channel(ctx)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Subscriber{
		ch:     ch,
		codec:  opts.Codec,
		logger: opts.Logger,
	}, nil
}

// Subscribe creates a queue holding at most capacity messages (unbounded when
// capacity <= 0; 1 keeps only the newest) and binds it to topic. A non-nil
// handler puts the queue in push mode: Spin decodes each message and passes it
// to handler, and Get skips the queue. A nil handler puts it in pull mode.
// It returns the broker-generated queue name.
func (s *Subscriber) Subscribe(ctx context.Context, topic string, capacity int, handler Handler) (string, error) {
	return s.subscribe(ctx, topic, capacity, func(string) Handler { return handler })
}

// subscribe lets the handler depend on the queue name, which only exists once
// the broker has declared the queue.
func (s *Subscriber) subscribe(ctx context.Context, topic string, capacity int, handlerFor func(queue string) Handler) (string, error) {
	if s.ch == nil {
		return "", ErrClosed
	}
	if topic == "" {
		return "", fmt.Errorf("topic cannot be empty")
	}

	queue, err := s.attachQueue(ctx, topic, capacity)
	if err != nil {
		return "", err
	}
	mode, err := s.attachMode(ctx, queue, handlerFor(queue))
	if err != nil {
		// leave no binding the registry does not know about
		if uerr := s.ch.Unbind(ctx, queue, topic); uerr != nil {
			err = errors.Join(err, fmt.Errorf("unbind after failed subscribe: %w", uerr))
		}
		return "", err
	}

	s.subs = append(s.subs, subscription{topic: topic, queue: queue, mode: mode})
	s.logger.Debug("Subscribed",
		zap.String("topic", topic),
		zap.String("queue", queue),
		zap.Int("capacity", capacity),
		zap.Stringer("mode", mode),
	)
	return queue, nil
}

func (s *Subscriber) attachQueue(ctx context.Context, topic string, capacity int) (string, error) {
	if err := s.ch.DeclareExchange(ctx, topic); err != nil {
		return "", err
	}
	queue, err := s.ch.DeclareQueue(ctx, capacity)
	if err != nil {
		return "", err
	}
	if err := s.ch.Bind(ctx, queue, topic); err != nil {
		return "", err
	}
	return queue, nil
}

func (s *Subscriber) attachMode(ctx context.Context, queue string, handler Handler) (consumptionMode, error) {
	if handler == nil {
		return pullMode{}, nil
	}
	err := s.ch.Consume(ctx, queue, func(body []byte) error {
		v, err := s.decode(queue, body)
		if err != nil {
			return err
		}
		return handler(v)
	})
	if err != nil {
		return nil, err
	}
	return pushMode{handler: handler}, nil
}

// UnsubscribeTopic unbinds and forgets every subscription to topic.
// It reports whether any subscription matched.
func (s *Subscriber) UnsubscribeTopic(ctx context.Context, topic string) (bool, error) {
	return s.unsubscribe(ctx, func(sub subscription) bool { return sub.topic == topic })
}

// UnsubscribeQueue unbinds and forgets every subscription using queue.
// It reports whether any subscription matched.
func (s *Subscriber) UnsubscribeQueue(ctx context.Context, queue string) (bool, error) {
	return s.unsubscribe(ctx, func(sub subscription) bool { return sub.queue == queue })
}

func (s *Subscriber) unsubscribe(ctx context.Context, match func(subscription) bool) (bool, error) {
	if s.ch == nil {
		return false, ErrClosed
	}

	found := false
	for i := len(s.subs) - 1; i >= 0; i-- {
		sub := s.subs[i]
		if !match(sub) {
			continue
		}
		if err := s.ch.Unbind(ctx, sub.queue, sub.topic); err != nil {
			return found, err
		}
		s.subs = append(s.subs[:i], s.subs[i+1:]...)
		found = true
		s.logger.Debug("Unsubscribed", zap.String("topic", sub.topic), zap.String("queue", sub.queue))
	}
	return found, nil
}

// Get polls each of queues once, or every registered queue when none are given,
// and returns the decoded values keyed by queue. Empty queues are left out, and
// so are push-mode queues.
func (s *Subscriber) Get(ctx context.Context, queues ...string) (map[string]any, error) {
	if s.ch == nil {
		return nil, ErrClosed
	}
	if len(queues) == 0 {
		queues = s.Queues()
	}

	out := make(map[string]any)
	for _, queue := range queues {
		sub, ok := s.lookup(queue)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
		}
		switch sub.mode.(type) {
		case pushMode:
			continue
		case pullMode:
			v, ok, err := s.poll(ctx, queue)
			if err != nil {
				return nil, err
			}
			if ok {
				out[queue] = v
			}
		}
	}
	return out, nil
}

// Spin runs push handlers as messages arrive. It blocks until a handler
// returns an error, the channel fails, or ctx is cancelled, then stops
// consumption and returns the error that ended it.
func (s *Subscriber) Spin(ctx context.Context) error {
	if s.ch == nil {
		return ErrClosed
	}
	err := s.ch.Run(ctx)
	s.logger.Info("Stop consuming", zap.Error(err))
	s.ch.Stop()
	return err
}

// Queues returns the registered queue names in subscription order.
func (s *Subscriber) Queues() []string {
	queues := make([]string, len(s.subs))
	for i, sub := range s.subs {
		queues[i] = sub.queue
	}
	return queues
}

// Topics returns the topic of every subscription in subscription order.
func (s *Subscriber) Topics() []string {
	topics := make([]string, len(s.subs))
	for i, sub := range s.subs {
		topics[i] = sub.topic
	}
	return topics
}

// Close closes the channel. The broker deletes the subscriber's queues.
func (s *Subscriber) Close() error {
	if s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.ch = nil
	s.subs = nil
	return err
}

func (s *Subscriber) lookup(queue string) (subscription, bool) {
	for _, sub := range s.subs {
		if sub.queue == queue {
			return sub, true
		}
	}
	return subscription{}, false
}

func (s *Subscriber) poll(ctx context.Context, queue string) (any, bool, error) {
	body, ok, err := s.ch.Poll(ctx, queue)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := s.decode(queue, body)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Subscriber) decode(queue string, body []byte) (any, error) {
	var v any
	if err := s.codec.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode message from %s: %w", queue, err)
	}
	return v, nil
}
