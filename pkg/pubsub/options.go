package pubsub

import (
	"errors"

	"github.com/rmacdonaldsmith/fanout-go/internal/amqpbroker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"go.uber.org/zap"
)

var (
	// ErrUnknownQueue is returned by Get for a queue that is not registered.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrClosed is returned when using a closed Publisher or Subscriber.
	ErrClosed = errors.New("publisher or subscriber closed")

	// ErrAggregatorRunning is returned when an Aggregator's registry is changed
	// after Start, or when Start is called twice.
	ErrAggregatorRunning = errors.New("aggregator is running")
)

// Options configures publishers and subscribers.
type Options struct {
	// Codec encodes published values and decodes received ones.
	// Both sides of a topic must use the same codec. Default is msgpack.
	Codec codec.Codec

	// Logger for operational logging. Default is a no-op logger.
	Logger *zap.Logger
}

// SetDefaults fills unset fields.
func (o *Options) SetDefaults() {
	if o.Codec == nil {
		o.Codec = codec.Default
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Dial connects to a RabbitMQ broker. An empty url dials the local default.
func Dial(url string, logger *zap.Logger) (broker.Connection, error) {
	conn, err := amqpbroker.Dial(url, logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
