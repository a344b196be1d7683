// Package membroker is an in-process fanout broker implementing broker.Connection.
//
// It mirrors the broker semantics fanout-go relies on: fanout exchanges, server-named
// exclusive queues with an optional length limit that drops the oldest message on
// overflow, auto-acknowledged polling and push consumption. Queues are deleted when
// the channel that declared them closes.
package membroker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rmacdonaldsmith/fanout-go/pkg/broker"
)

// ErrBrokerClosed is returned by Channel after Close.
var ErrBrokerClosed = errors.New("memory broker closed")

// Broker holds exchanges and queues shared by all of its channels.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]*exchange
	queues    map[string]*queue
	channels  map[*Channel]struct{}
	closed    bool
}

type exchange struct {
	name     string
	bindings []*queue
}

type queue struct {
	name     string
	capacity int
	messages [][]byte
	owner    *Channel
	handler  broker.DeliveryHandler
	deleted  bool
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]*exchange),
		queues:    make(map[string]*queue),
		channels:  make(map[*Channel]struct{}),
	}
}

// Channel opens a new channel on the broker.
func (b *Broker) Channel(ctx context.Context) (broker.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	ch := &Channel{
		b:    b,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.channels[ch] = struct{}{}
	return ch, nil
}

// Close closes every open channel and refuses new ones.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch := range b.channels {
		ch.closeLocked()
	}
	return nil
}

// DropChannels closes every open channel while leaving the broker usable,
// which is what a lost network connection looks like to clients.
func (b *Broker) DropChannels() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.channels {
		ch.closeLocked()
	}
}

// Exchanges returns the names of all declared exchanges.
func (b *Broker) Exchanges() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.exchanges))
	for name := range b.exchanges {
		names = append(names, name)
	}
	return names
}

// Bindings returns the queues currently bound to exchange, in bind order.
func (b *Broker) Bindings(exchange string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchange]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(ex.bindings))
	for _, q := range ex.bindings {
		names = append(names, q.name)
	}
	return names
}

// QueueLen returns the number of messages waiting in queue, or -1 if it does not exist.
func (b *Broker) QueueLen(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		return -1
	}
	return len(q.messages)
}

func (b *Broker) deleteQueueLocked(q *queue) {
	q.deleted = true
	q.messages = nil
	delete(b.queues, q.name)
	for _, ex := range b.exchanges {
		ex.unbind(q)
	}
}

func (ex *exchange) unbind(q *queue) bool {
	for i, bound := range ex.bindings {
		if bound == q {
			ex.bindings = append(ex.bindings[:i], ex.bindings[i+1:]...)
			return true
		}
	}
	return false
}

func (q *queue) push(body []byte) {
	if q.capacity > 0 && len(q.messages) >= q.capacity {
		drop := len(q.messages) - q.capacity + 1
		q.messages = q.messages[drop:]
	}
	q.messages = append(q.messages, body)
}

func (q *queue) pop() ([]byte, bool) {
	if len(q.messages) == 0 {
		return nil, false
	}
	body := q.messages[0]
	q.messages[0] = nil
	q.messages = q.messages[1:]
	return body, true
}

func newQueueName() string {
	return fmt.Sprintf("amq.gen-%s", uuid.NewString())
}
