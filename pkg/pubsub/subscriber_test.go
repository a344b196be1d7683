package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/fanout-go/internal/membroker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEnough = errors.New("enough")

func TestSubscriber_FanoutToEveryPullQueue(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	const n = 3
	queues := make([]string, n)
	for i := range queues {
		q, err := sub.Subscribe(ctx, "T", 0, nil)
		require.NoError(t, err)
		queues[i] = q
	}
	assert.Len(t, b.Bindings("T"), n)

	for i := 0; i < 3; i++ {
		require.NoError(t, pub.Publish(ctx, fmt.Sprintf("msg-%d", i)))
	}

	for i := 0; i < 3; i++ {
		got, err := sub.Get(ctx)
		require.NoError(t, err)
		require.Len(t, got, n)
		for _, q := range queues {
			assert.Equal(t, fmt.Sprintf("msg-%d", i), got[q])
		}
	}

	got, err := sub.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSubscriber_CapacityOneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	q1, err := sub.Subscribe(ctx, "T", 1, nil)
	require.NoError(t, err)
	q2, err := sub.Subscribe(ctx, "T", 1, nil)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "X"))
	require.NoError(t, pub.Publish(ctx, "Y"))

	got, err := sub.Get(ctx, q1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{q1: "Y"}, got)

	got, err = sub.Get(ctx, q2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{q2: "Y"}, got)

	got, err = sub.Get(ctx, q1, q2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSubscriber_GetSkipsPushQueues(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	var pushed []any
	push, err := sub.Subscribe(ctx, "T", 0, func(v any) error {
		pushed = append(pushed, v)
		return nil
	})
	require.NoError(t, err)
	pull, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, "value"))

	got, err := sub.Get(ctx, push)
	require.NoError(t, err)
	assert.Empty(t, got, "push queue must never be returned by Get")

	got, err = sub.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{pull: "value"}, got)
	assert.Empty(t, pushed, "handlers only run inside Spin")
}

func TestSubscriber_SpinRunsHandlersInOrder(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	var first, second []any
	_, err := sub.Subscribe(ctx, "T", 0, func(v any) error {
		first = append(first, v)
		return nil
	})
	require.NoError(t, err)
	_, err = sub.Subscribe(ctx, "T", 0, func(v any) error {
		second = append(second, v)
		if len(second) == 3 {
			return errEnough
		}
		return nil
	})
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, pub.Publish(ctx, v))
	}

	err = sub.Spin(ctx)
	assert.ErrorIs(t, err, errEnough)
	assert.Equal(t, []any{"a", "b", "c"}, first)
	assert.Equal(t, []any{"a", "b", "c"}, second)
}

func TestSubscriber_SpinDecodesStructuredValues(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	var got any
	_, err := sub.Subscribe(ctx, "T", 0, func(v any) error {
		got = v
		return errEnough
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, []any{"frame 0 of publisher 0:", []float64{0.5, 0.25}}))
	require.ErrorIs(t, sub.Spin(ctx), errEnough)
	assert.Equal(t, []any{"frame 0 of publisher 0:", []any{0.5, 0.25}}, got)
}

func TestSubscriber_SpinReturnsOnCancel(t *testing.T) {
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	_, err := sub.Subscribe(context.Background(), "T", 0, func(any) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Spin(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Spin did not return after cancel")
	}
}

func TestSubscriber_SpinSurfacesDecodeErrors(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	_, err := sub.Subscribe(ctx, "T", 0, func(any) error { return nil })
	require.NoError(t, err)

	raw, err := b.Channel(ctx)
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, raw.Publish(ctx, "T", []byte{0xc1}))

	err = sub.Spin(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode message")
}

func TestSubscriber_SpinEndsOnChannelLoss(t *testing.T) {
	b := membroker.New()
	sub := newTestSubscriber(t, b)

	errCh := make(chan error, 1)
	go func() { errCh <- sub.Spin(context.Background()) }()
	b.DropChannels()

	select {
	case err := <-errCh:
		assert.True(t, broker.IsTransient(err))
	case <-time.After(time.Second):
		t.Fatal("Spin did not return after channel loss")
	}
}

func TestSubscriber_UnsubscribeTopic(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)

	t1, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)
	u, err := sub.Subscribe(ctx, "U", 0, nil)
	require.NoError(t, err)
	t2, err := sub.Subscribe(ctx, "T", 0, func(any) error { return nil })
	require.NoError(t, err)

	removed, err := sub.UnsubscribeTopic(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{t1, u, t2}, sub.Queues())

	removed, err = sub.UnsubscribeTopic(ctx, "T")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{u}, sub.Queues())
	assert.Equal(t, []string{"U"}, sub.Topics())
	assert.Empty(t, b.Bindings("T"))

	removed, err = sub.UnsubscribeTopic(ctx, "T")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSubscriber_UnsubscribeQueue(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)
	pub := newTestPublisher(t, b, "T")

	q0, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)
	q1, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)

	removed, err := sub.UnsubscribeQueue(ctx, q0)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{q1}, sub.Queues())
	assert.Equal(t, []string{q1}, b.Bindings("T"))

	require.NoError(t, pub.Publish(ctx, "after"))
	got, err := sub.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{q1: "after"}, got)

	removed, err = sub.UnsubscribeQueue(ctx, q0)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = sub.Get(ctx, q0)
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestSubscriber_SetupErrorsAbortSubscribe(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub := newTestSubscriber(t, b)

	b.DropChannels()

	_, err := sub.Subscribe(ctx, "T", 0, nil)
	assert.True(t, broker.IsTransient(err))
	assert.Empty(t, sub.Queues())

	_, err = sub.Subscribe(ctx, "", 0, nil)
	assert.Error(t, err)
}

func TestSubscriber_FailedConsumeLeavesNoBinding(t *testing.T) {
	ctx := context.Background()
	refused := errors.New("consume refused")
	conn := &flakyConnection{Broker: membroker.New(), consumeErr: refused}
	sub := newTestSubscriber(t, conn)

	_, err := sub.Subscribe(ctx, "T", 0, func(any) error { return nil })
	require.ErrorIs(t, err, refused)
	assert.Empty(t, sub.Queues())
	assert.Empty(t, conn.Bindings("T"))

	pull, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{pull}, conn.Bindings("T"))
}

func TestSubscriber_Closed(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	sub, err := NewSubscriber(ctx, b, Options{})
	require.NoError(t, err)
	q, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.Equal(t, -1, b.QueueLen(q), "queue is deleted with its channel")

	_, err = sub.Subscribe(ctx, "T", 0, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = sub.Get(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = sub.UnsubscribeTopic(ctx, "T")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, sub.Spin(ctx), ErrClosed)
	assert.NoError(t, sub.Close())
}

func TestSingleSubscriber(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	pub := newTestPublisher(t, b, "T")

	single, err := NewSingleSubscriber(ctx, b, "T", 1, nil, Options{})
	require.NoError(t, err)
	defer single.Close()
	assert.NotEmpty(t, single.Queue())

	_, ok, err := single.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pub.Publish(ctx, "X"))
	require.NoError(t, pub.Publish(ctx, "Y"))

	v, ok, err := single.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Y", v)
}

func TestSingleSubscriber_Push(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	pub := newTestPublisher(t, b, "T")

	var got any
	single, err := NewSingleSubscriber(ctx, b, "T", 0, func(v any) error {
		got = v
		return errEnough
	}, Options{})
	require.NoError(t, err)
	defer single.Close()

	require.NoError(t, pub.Publish(ctx, "pushed"))

	_, ok, err := single.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, single.Spin(ctx), errEnough)
	assert.Equal(t, "pushed", got)
}
