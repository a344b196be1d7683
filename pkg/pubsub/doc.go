// Package pubsub exchanges serialized values between processes over fanout topics.
//
// A topic is a broker fanout exchange. Every Subscribe call creates a fresh
// server-named queue bound to that exchange, so N subscriptions to one topic each
// receive their own copy of every publish.
//
// Each queue is consumed in exactly one of two modes, fixed at subscribe time:
//   - Push: a Handler is registered and called from Spin as messages arrive
//   - Pull: no handler; the caller polls with Get
//
// Get never returns data for a push queue, because the broker hands those
// messages to the handler before a poll could see them.
//
// Example usage:
//
//	conn, err := pubsub.Dial(amqpURL, logger)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	pub, err := pubsub.NewPublisher(ctx, conn, "camera", pubsub.Options{})
//	if err != nil {
//		return err
//	}
//	err = pub.Publish(ctx, frame)
//
//	sub, err := pubsub.NewSubscriber(ctx, conn, pubsub.Options{})
//	if err != nil {
//		return err
//	}
//	latest, _ := sub.Subscribe(ctx, "camera", 1, nil) // pull, newest only
//	_, _ = sub.Subscribe(ctx, "camera", 0, func(v any) error {
//		fmt.Println(v)
//		return nil
//	})
//
//	values, err := sub.Get(ctx, latest)
//	err = sub.Spin(ctx) // blocks, runs push handlers
//
// Publisher, Subscriber and SingleSubscriber are not safe for concurrent use;
// each belongs to one goroutine. Aggregator runs its Subscriber on a background
// goroutine and exposes only a guarded snapshot to other goroutines.
package pubsub
