package amqpbroker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"go.uber.org/zap"
)

type delivery struct {
	queue   string
	handler broker.DeliveryHandler
	body    []byte
}

// Channel adapts an amqp.Channel to broker.Channel.
//
// amqp091 delivers each consumer's messages on its own Go channel. One forwarder
// goroutine per consumer funnels them into dispatch, and Run invokes the handlers
// so that they all execute on the goroutine that owns the channel.
type Channel struct {
	ch     *amqp.Channel
	logger *zap.Logger

	notifyClose chan *amqp.Error
	dispatch    chan delivery
	stop        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	forwarders  sync.WaitGroup
}

var _ broker.Channel = (*Channel)(nil)

func newChannel(ch *amqp.Channel, logger *zap.Logger) *Channel {
	return &Channel{
		ch:          ch,
		logger:      logger,
		notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1)),
		dispatch:    make(chan delivery),
		stop:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// DeclareExchange declares a non-durable, non-auto-delete fanout exchange.
func (c *Channel) DeclareExchange(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.ch.ExchangeDeclare(
		name,                // name
		amqp.ExchangeFanout, // type
		false,               // durable
		false,               // auto-deleted
		false,               // internal
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return classify(fmt.Sprintf("declare exchange %q", name), err)
	}
	return nil
}

// DeclareQueue declares a server-named exclusive queue, bounded when capacity > 0.
func (c *Channel) DeclareQueue(ctx context.Context, capacity int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var args amqp.Table
	if capacity > 0 {
		args = amqp.Table{
			"x-max-length": int32(min(capacity, math.MaxInt32)),
			"x-overflow":   "drop-head",
		}
	}

	q, err := c.ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // auto-delete when unused
		true,  // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		return "", classify("declare queue", err)
	}
	return q.Name, nil
}

// Bind binds queue to exchange with an empty routing key.
func (c *Channel) Bind(ctx context.Context, queue, exchange string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ch.QueueBind(queue, "", exchange, false, nil); err != nil {
		return classify(fmt.Sprintf("bind %s to %q", queue, exchange), err)
	}
	c.logger.Debug("Queue bound", zap.String("queue", queue), zap.String("exchange", exchange))
	return nil
}

// Unbind removes the binding between queue and exchange.
func (c *Channel) Unbind(ctx context.Context, queue, exchange string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ch.QueueUnbind(queue, "", exchange, nil); err != nil {
		return classify(fmt.Sprintf("unbind %s from %q", queue, exchange), err)
	}
	c.logger.Debug("Queue unbound", zap.String("queue", queue), zap.String("exchange", exchange))
	return nil
}

// Publish sends body to exchange.
func (c *Channel) Publish(ctx context.Context, exchange string, body []byte) error {
	err := c.ch.PublishWithContext(
		ctx,
		exchange, // exchange
		"",       // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType: "application/octet-stream",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return classify(fmt.Sprintf("publish to %q", exchange), err)
	}
	return nil
}

// Consume starts an auto-ack consumer on queue.
func (c *Channel) Consume(ctx context.Context, queue string, handler broker.DeliveryHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deliveries, err := c.ch.Consume(
		queue, // queue
		"",    // consumer tag (auto-generated)
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return classify(fmt.Sprintf("consume %s", queue), err)
	}

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for d := range deliveries {
			select {
			case c.dispatch <- delivery{queue: queue, handler: handler, body: d.Body}:
			case <-c.done:
				return
			}
		}
	}()
	return nil
}

// Poll fetches one message with auto-ack.
func (c *Channel) Poll(ctx context.Context, queue string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	msg, ok, err := c.ch.Get(queue, true)
	if err != nil {
		return nil, false, classify(fmt.Sprintf("get %s", queue), err)
	}
	if !ok {
		return nil, false, nil
	}
	return msg.Body, true, nil
}

// Run invokes consumer handlers until stopped, cancelled, or the channel closes.
func (c *Channel) Run(ctx context.Context) error {
	select {
	case <-c.stop:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case aerr, ok := <-c.notifyClose:
			if !ok || aerr == nil {
				return fmt.Errorf("consume: %w", broker.ErrChannelClosed)
			}
			return classify("consume", aerr)
		case d := <-c.dispatch:
			if err := d.handler(d.body); err != nil {
				return err
			}
			select {
			case <-c.stop:
				return nil
			default:
			}
		}
	}
}

// Stop makes a running Run return nil.
func (c *Channel) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Close closes the AMQP channel, which deletes its exclusive auto-delete queues.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if !c.ch.IsClosed() {
			err = c.ch.Close()
		}
		c.forwarders.Wait()
	})
	return err
}
