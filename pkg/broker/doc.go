// Package broker provides interfaces for the message broker underneath fanout-go.
//
// This package defines the abstractions the publish/subscribe layer needs from a broker:
//   - Connection: Source of channels, able to reopen one after a transport failure
//   - Channel: Exchange/queue declaration, binding, publishing, polling and push consumption
//   - DeliveryHandler: Callback invoked for each pushed message inside Channel.Run
//
// Every exchange is a fanout exchange: a publish reaches every queue bound to it.
// Queues are always server-named, exclusive to the declaring channel and removed when
// that channel goes away.
//
// The interfaces use Go idioms:
//   - context.Context for cancellation and timeouts
//   - Explicit error returns following Go conventions
//   - io.Closer for resource cleanup
//
// Example usage:
//
//	ch, err := conn.Channel(ctx)
//	if err != nil {
//		return err
//	}
//	defer ch.Close()
//
//	if err := ch.DeclareExchange(ctx, "sensors"); err != nil {
//		return err
//	}
//	queue, err := ch.DeclareQueue(ctx, 1) // keep only the newest message
//	if err != nil {
//		return err
//	}
//	if err := ch.Bind(ctx, queue, "sensors"); err != nil {
//		return err
//	}
//
//	body, ok, err := ch.Poll(ctx, queue)
//
// Channels are not safe for concurrent use. Handlers registered with Consume run on
// the goroutine that called Run, which is also the only goroutine allowed to touch
// the channel while Run is active.
package broker
