package broker

import (
	"context"
	"io"
)

// DeliveryHandler receives the body of one pushed message. A non-nil error
// terminates the Run loop and is returned from it.
type DeliveryHandler func(body []byte) error

// Connection hands out channels to a broker.
type Connection interface {
	io.Closer

	// Channel opens a new channel. Implementations re-establish the underlying
	// transport first if it was lost.
	Channel(ctx context.Context) (Channel, error)
}

// Channel is a single logical session with the broker.
type Channel interface {
	io.Closer

	// DeclareExchange declares a non-auto-delete fanout exchange. Idempotent.
	DeclareExchange(ctx context.Context, name string) error

	// DeclareQueue creates a server-named, exclusive, auto-delete queue and
	// returns its name. capacity <= 0 means unbounded; otherwise the queue holds
	// at most capacity messages and drops the oldest on overflow.
	DeclareQueue(ctx context.Context, capacity int) (string, error)

	// Bind attaches queue to exchange so it receives a copy of every publish.
	Bind(ctx context.Context, queue, exchange string) error

	// Unbind detaches queue from exchange.
	Unbind(ctx context.Context, queue, exchange string) error

	// Publish sends body to exchange with an empty routing key.
	Publish(ctx context.Context, exchange string, body []byte) error

	// Consume registers an auto-acknowledging push consumer on queue. The
	// handler is only invoked from inside Run.
	Consume(ctx context.Context, queue string, handler DeliveryHandler) error

	// Poll fetches at most one message from queue, acknowledging it.
	// ok is false when the queue was empty.
	Poll(ctx context.Context, queue string) (body []byte, ok bool, err error)

	// Run dispatches pushed messages to their handlers until a handler fails,
	// the channel closes, Stop is called or ctx is done. It returns nil only
	// after Stop.
	Run(ctx context.Context) error

	// Stop asks a running Run loop to return. Safe to call from a handler and
	// when no loop is running.
	Stop()
}
