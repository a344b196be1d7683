package membroker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
)

// Channel is a session on a Broker. Like an AMQP channel it is meant to be used
// from one goroutine at a time.
type Channel struct {
	b         *Broker
	closed    bool
	consumers []*queue

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

var _ broker.Channel = (*Channel)(nil)

// DeclareExchange declares a fanout exchange. Idempotent.
func (c *Channel) DeclareExchange(ctx context.Context, name string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return err
	}
	if _, ok := c.b.exchanges[name]; !ok {
		c.b.exchanges[name] = &exchange{name: name}
	}
	return nil
}

// DeclareQueue creates a new exclusive queue owned by this channel.
func (c *Channel) DeclareQueue(ctx context.Context, capacity int) (string, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return "", err
	}
	if capacity < 0 {
		capacity = 0
	}
	q := &queue{
		name:     newQueueName(),
		capacity: capacity,
		owner:    c,
	}
	c.b.queues[q.name] = q
	return q.name, nil
}

// Bind attaches queue to exchange. Binding twice is a no-op.
func (c *Channel) Bind(ctx context.Context, queue, exchange string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return err
	}
	ex, q, err := c.lookupLocked(queue, exchange)
	if err != nil {
		return err
	}
	for _, bound := range ex.bindings {
		if bound == q {
			return nil
		}
	}
	ex.bindings = append(ex.bindings, q)
	return nil
}

// Unbind detaches queue from exchange. Unbinding an unbound queue is a no-op.
func (c *Channel) Unbind(ctx context.Context, queue, exchange string) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return err
	}
	ex, q, err := c.lookupLocked(queue, exchange)
	if err != nil {
		return err
	}
	ex.unbind(q)
	return nil
}

// Publish copies body into every queue bound to exchange.
func (c *Channel) Publish(ctx context.Context, exchange string, body []byte) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return err
	}
	ex, ok := c.b.exchanges[exchange]
	if !ok {
		return fmt.Errorf("exchange %q: %w", exchange, broker.ErrNotFound)
	}
	for _, q := range ex.bindings {
		q.push(bytes.Clone(body))
		if q.handler != nil {
			q.owner.notify()
		}
	}
	return nil
}

// Consume registers handler as the push consumer of queue.
func (c *Channel) Consume(ctx context.Context, queue string, handler broker.DeliveryHandler) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return err
	}
	q, ok := c.b.queues[queue]
	if !ok {
		return fmt.Errorf("queue %q: %w", queue, broker.ErrNotFound)
	}
	if q.handler != nil {
		return fmt.Errorf("queue %q already has a consumer", queue)
	}
	q.handler = handler
	q.owner = c
	c.consumers = append(c.consumers, q)
	if len(q.messages) > 0 {
		c.notify()
	}
	return nil
}

// Poll removes and returns the oldest message in queue.
func (c *Channel) Poll(ctx context.Context, queue string) ([]byte, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	if err := c.checkLocked(ctx); err != nil {
		return nil, false, err
	}
	q, ok := c.b.queues[queue]
	if !ok {
		return nil, false, fmt.Errorf("queue %q: %w", queue, broker.ErrNotFound)
	}
	body, ok := q.pop()
	return body, ok, nil
}

// Run delivers queued messages to their consumers until stopped.
func (c *Channel) Run(ctx context.Context) error {
	select {
	case <-c.stop:
	default:
	}

	for {
		stopped, err := c.drain(ctx)
		if err != nil || stopped {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-c.done:
			return fmt.Errorf("consume: %w", broker.ErrChannelClosed)
		case <-c.wake:
		}
	}
}

// drain hands every pending message to its consumer, one at a time and in
// consumer registration order.
func (c *Channel) drain(ctx context.Context) (bool, error) {
	for {
		q, body, ok := c.next()
		if !ok {
			return false, nil
		}
		if err := q.handler(body); err != nil {
			return false, err
		}

		select {
		case <-c.stop:
			return true, nil
		case <-c.done:
			return false, fmt.Errorf("consume: %w", broker.ErrChannelClosed)
		default:
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
	}
}

func (c *Channel) next() (*queue, []byte, bool) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	for _, q := range c.consumers {
		if q.deleted {
			continue
		}
		if body, ok := q.pop(); ok {
			return q, body, true
		}
	}
	return nil, nil, false
}

// Stop makes a running Run return nil.
func (c *Channel) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Close closes the channel and deletes the queues it declared.
func (c *Channel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()

	c.closeLocked()
	return nil
}

func (c *Channel) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for _, q := range c.b.queues {
		if q.owner == c {
			c.b.deleteQueueLocked(q)
		}
	}
	c.consumers = nil
	delete(c.b.channels, c)
	close(c.done)
}

func (c *Channel) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) checkLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return broker.ErrChannelClosed
	}
	return nil
}

func (c *Channel) lookupLocked(queue, exchange string) (*exchange, *queue, error) {
	ex, ok := c.b.exchanges[exchange]
	if !ok {
		return nil, nil, fmt.Errorf("exchange %q: %w", exchange, broker.ErrNotFound)
	}
	q, ok := c.b.queues[queue]
	if !ok {
		return nil, nil, fmt.Errorf("queue %q: %w", queue, broker.ErrNotFound)
	}
	return ex, q, nil
}
