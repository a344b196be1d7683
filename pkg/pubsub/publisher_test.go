package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rmacdonaldsmith/fanout-go/internal/membroker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
	"github.com/rmacdonaldsmith/fanout-go/pkg/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewPublisher(t *testing.T) {
	b := membroker.New()
	ctx := context.Background()

	t.Run("declares_exchange", func(t *testing.T) {
		pub := newTestPublisher(t, b, "camera")
		assert.Equal(t, "camera", pub.Topic())
		assert.Contains(t, b.Exchanges(), "camera")
	})

	t.Run("empty_topic", func(t *testing.T) {
		_, err := NewPublisher(ctx, b, "", Options{})
		assert.Error(t, err)
	})

	t.Run("nil_connection", func(t *testing.T) {
		_, err := NewPublisher(ctx, nil, "camera", Options{})
		assert.Error(t, err)
	})
}

func TestPublisher_PublishWithoutSubscribers(t *testing.T) {
	pub := newTestPublisher(t, membroker.New(), "nobody-listens")
	assert.NoError(t, pub.Publish(context.Background(), "dropped"))
}

func TestPublisher_EncodeError(t *testing.T) {
	b := membroker.New()
	pub, err := NewPublisher(context.Background(), b, "T", Options{Codec: codec.Proto})
	require.NoError(t, err)
	defer pub.Close()

	err = pub.Publish(context.Background(), "not a proto message")
	assert.ErrorIs(t, err, codec.ErrUnsupportedType)
}

func TestPublisher_ReconnectsOnce(t *testing.T) {
	ctx := context.Background()
	conn := &flakyConnection{Broker: membroker.New(), failures: 1, failWith: broker.ErrChannelClosed}

	sub := newTestSubscriber(t, conn)
	q, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	pub, err := NewPublisher(ctx, conn, "T", Options{Logger: zap.New(core)})
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(ctx, "after reconnect"))

	got, err := sub.Get(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{q: "after reconnect"}, got)

	assert.Equal(t, 3, conn.opened, "subscriber + publisher + one reconnect")
	assert.Equal(t, 1, logs.FilterMessage("Publish failed, reconnecting").Len())
}

func TestPublisher_SecondFailurePropagates(t *testing.T) {
	ctx := context.Background()
	conn := &flakyConnection{Broker: membroker.New(), failures: 2, failWith: fmt.Errorf("stream lost: %w", broker.ErrChannelClosed)}

	pub, err := NewPublisher(ctx, conn, "T", Options{})
	require.NoError(t, err)
	defer pub.Close()

	err = pub.Publish(ctx, "value")
	require.Error(t, err)
	assert.True(t, broker.IsTransient(err))
	assert.Equal(t, 2, conn.opened, "only one reconnect attempt")

	// the reconnected channel is usable afterwards
	assert.NoError(t, pub.Publish(ctx, "value"))
}

func TestPublisher_NonTransientErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("access refused")
	conn := &flakyConnection{Broker: membroker.New(), failures: 1, failWith: boom}

	pub, err := NewPublisher(ctx, conn, "T", Options{})
	require.NoError(t, err)
	defer pub.Close()

	assert.ErrorIs(t, pub.Publish(ctx, "value"), boom)
	assert.Equal(t, 1, conn.opened)
}

func TestPublisher_RecoversFromDroppedConnection(t *testing.T) {
	ctx := context.Background()
	b := membroker.New()
	pub := newTestPublisher(t, b, "T")

	b.DropChannels()

	require.NoError(t, pub.Publish(ctx, "still works"))

	sub := newTestSubscriber(t, b)
	q, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, "seen"))

	got, err := sub.Get(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "seen", got[q])
}

func TestPublisher_UsableAfterFailedReconnect(t *testing.T) {
	ctx := context.Background()
	conn := &flakyConnection{Broker: membroker.New()}

	sub := newTestSubscriber(t, conn)
	q, err := sub.Subscribe(ctx, "T", 0, nil)
	require.NoError(t, err)

	pub := newTestPublisher(t, conn, "T")

	refused := errors.New("dial refused")
	conn.failures = 1
	conn.failWith = broker.ErrChannelClosed
	conn.failNextChannels(1, refused)

	err = pub.Publish(ctx, "a")
	require.ErrorIs(t, err, refused)
	assert.NotErrorIs(t, err, ErrClosed)

	require.NoError(t, pub.Publish(ctx, "b"))

	got, err := sub.Get(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "b", got[q])
}

func TestPublisher_ReopenFailurePropagatesUntilRecovered(t *testing.T) {
	ctx := context.Background()
	conn := &flakyConnection{Broker: membroker.New(), failures: 1, failWith: broker.ErrChannelClosed}
	pub := newTestPublisher(t, conn, "T")

	refused := errors.New("dial refused")
	conn.failNextChannels(2, refused)

	assert.ErrorIs(t, pub.Publish(ctx, "a"), refused)
	err := pub.Publish(ctx, "b")
	assert.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "reopen publisher")

	assert.NoError(t, pub.Publish(ctx, "c"))
}

func TestPublisher_Closed(t *testing.T) {
	pub, err := NewPublisher(context.Background(), membroker.New(), "T", Options{})
	require.NoError(t, err)
	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Publish(context.Background(), "x"), ErrClosed)
	assert.NoError(t, pub.Close())
}
