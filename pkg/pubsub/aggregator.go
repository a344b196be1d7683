package pubsub

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"go.uber.org/zap"
)

// Aggregator consumes its subscriptions on a background goroutine and keeps the
// latest value received on each queue.
//
// All subscriptions must be made before Start. Once the background loop runs,
// the subscriber's channel belongs to it: Subscribe, UnsubscribeTopic and
// UnsubscribeQueue return ErrAggregatorRunning instead of racing the loop.
// The loop cannot be interrupted while it is inside a handler; cancelling the
// context passed to Start takes effect between deliveries.
type Aggregator struct {
	sub    *Subscriber
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]any

	started atomic.Bool
	done    chan struct{}
	err     error
}

// NewAggregator opens a channel on conn.
func NewAggregator(ctx context.Context, conn broker.Connection, opts Options) (*Aggregator, error) {
	opts.SetDefaults()
	sub, err := NewSubscriber(ctx, conn, opts)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		sub:    sub,
		logger: opts.Logger,
		data:   make(map[string]any),
		done:   make(chan struct{}),
	}, nil
}

// Subscribe adds a push subscription whose values are recorded under the
// returned queue name.
func (a *Aggregator) Subscribe(ctx context.Context, topic string, capacity int) (string, error) {
	if a.started.Load() {
		return "", ErrAggregatorRunning
	}
	return a.sub.subscribe(ctx, topic, capacity, func(queue string) Handler {
		return func(v any) error {
			a.mu.Lock()
			a.data[queue] = v
			a.mu.Unlock()
			return nil
		}
	})
}

// UnsubscribeTopic removes every subscription to topic. Only allowed before Start.
func (a *Aggregator) UnsubscribeTopic(ctx context.Context, topic string) (bool, error) {
	if a.started.Load() {
		return false, ErrAggregatorRunning
	}
	return a.sub.UnsubscribeTopic(ctx, topic)
}

// UnsubscribeQueue removes the subscription using queue. Only allowed before Start.
func (a *Aggregator) UnsubscribeQueue(ctx context.Context, queue string) (bool, error) {
	if a.started.Load() {
		return false, ErrAggregatorRunning
	}
	return a.sub.UnsubscribeQueue(ctx, queue)
}

// Start launches the background consumption loop. The loop runs until ctx is
// cancelled or consumption fails; Done and Err report when and why it ended.
func (a *Aggregator) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAggregatorRunning
	}

	go func() {
		defer close(a.done)
		a.err = a.sub.Spin(ctx)
		a.logger.Info("Background consumption ended", zap.Error(a.err))
	}()
	return nil
}

// Data returns a copy of the latest value per queue.
func (a *Aggregator) Data() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.data)
}

// Queues returns the registered queue names.
func (a *Aggregator) Queues() []string {
	return a.sub.Queues()
}

// Done is closed when the background loop has returned.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Err returns the error that ended the background loop, or nil while it runs.
func (a *Aggregator) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Close closes the underlying channel. A running loop returns with
// broker.ErrChannelClosed.
func (a *Aggregator) Close() error {
	return a.sub.ch.Close()
}
