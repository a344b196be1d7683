package pubsub

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"go.uber.org/zap"
)

// Publisher sends values to one topic.
type Publisher struct {
	conn   broker.Connection
	ch     broker.Channel
	topic  string
	codec  codec.Codec
	logger *zap.Logger
	closed bool
}

// NewPublisher opens a channel on conn and declares topic's exchange.
func NewPublisher(ctx context.Context, conn broker.Connection, topic string, opts Options) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}
	opts.SetDefaults()

	p := &Publisher{
		conn:   conn,
		topic:  topic,
		codec:  opts.Codec,
		logger: opts.Logger.With(zap.String("topic", topic)),
	}
	if err := p.open(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Topic returns the topic this publisher sends to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish encodes v and sends it to every queue bound to the topic.
//
// If the channel was lost, Publish reopens it once and retries once.
// A failure of the retry is returned as is. When the reopen itself fails the
// publisher stays usable and the next Publish tries to open a channel again.
func (p *Publisher) Publish(ctx context.Context, v any) error {
	if p.closed {
		return ErrClosed
	}

	body, err := p.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %q: %w", p.topic, err)
	}

	if p.ch == nil {
		if err := p.open(ctx); err != nil {
			return fmt.Errorf("reopen publisher for %q: %w", p.topic, err)
		}
	}

	err = p.ch.Publish(ctx, p.topic, body)
	if err == nil || !broker.IsTransient(err) {
		return err
	}

	p.logger.Warn("Publish failed, reconnecting", zap.Error(err))
	_ = p.ch.Close()
	p.ch = nil
	if err := p.open(ctx); err != nil {
		return fmt.Errorf("reconnect publisher for %q: %w", p.topic, err)
	}
	return p.ch.Publish(ctx, p.topic, body)
}

// Close closes the publisher's channel.
func (p *Publisher) Close() error {
	p.closed = true
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *Publisher) open(ctx context.Context) error {
	ch, err := p.conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.DeclareExchange(ctx, p.topic); err != nil {
		_ = ch.Close()
		return err
	}
	p.ch = ch
	p.logger.Debug("Publisher ready")
	return nil
}
