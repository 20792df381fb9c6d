package worker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

// fakeBroker is an in-memory queue that enforces the prefetch window the
// way RabbitMQ does: a delivery is only handed out while fewer than
// prefetch deliveries are unacked. The stream closes once every queued
// message has been acked.
type fakeBroker struct {
	mu         sync.Mutex
	queue      [][]byte
	prefetch   int
	unacked    map[uint64]bool
	maxUnacked int
	published  []publishedMessage
	acked      []uint64
	events     []string

	consumeErr error
	publishErr error
	ackErr     error
	// streamErr is reported by Err once the stream has closed
	streamErr error

	ackSignal chan struct{}
}

func newFakeBroker(bodies ...string) *fakeBroker {
	queue := make([][]byte, 0, len(bodies))
	for _, b := range bodies {
		queue = append(queue, []byte(b))
	}

	return &fakeBroker{
		queue:     queue,
		unacked:   make(map[uint64]bool),
		ackSignal: make(chan struct{}, 1),
	}
}

func (f *fakeBroker) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}

	f.mu.Lock()
	f.prefetch = prefetch
	f.events = append(f.events, fmt.Sprintf("consume %s %s %d", queue, consumerTag, prefetch))
	f.mu.Unlock()

	deliveries := make(chan amqp.Delivery)
	go f.dispatch(ctx, deliveries)

	return deliveries, nil
}

func (f *fakeBroker) dispatch(ctx context.Context, deliveries chan<- amqp.Delivery) {
	defer close(deliveries)

	for i, body := range f.queue {
		tag := uint64(i + 1)

		if !f.waitFor(ctx, func() bool { return len(f.unacked) < f.prefetch }) {
			return
		}

		f.mu.Lock()
		f.unacked[tag] = true
		if len(f.unacked) > f.maxUnacked {
			f.maxUnacked = len(f.unacked)
		}
		f.events = append(f.events, fmt.Sprintf("deliver %d", tag))
		f.mu.Unlock()

		select {
		case deliveries <- amqp.Delivery{DeliveryTag: tag, Body: body}:
		case <-ctx.Done():
			return
		}
	}

	f.waitFor(ctx, func() bool { return len(f.unacked) == 0 })
}

// waitFor blocks until cond holds under the lock or ctx is done
func (f *fakeBroker) waitFor(ctx context.Context, cond func() bool) bool {
	for {
		f.mu.Lock()
		ok := cond()
		f.mu.Unlock()
		if ok {
			return true
		}

		select {
		case <-f.ackSignal:
		case <-ctx.Done():
			return false
		}
	}
}

func (f *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Msg: msg})
	f.events = append(f.events, "publish "+routingKey)
	return nil
}

func (f *fakeBroker) Ack(deliveryTag uint64) error {
	if f.ackErr != nil {
		return f.ackErr
	}

	f.mu.Lock()
	if !f.unacked[deliveryTag] {
		f.mu.Unlock()
		return fmt.Errorf("unknown delivery tag %d", deliveryTag)
	}
	delete(f.unacked, deliveryTag)
	f.acked = append(f.acked, deliveryTag)
	f.events = append(f.events, fmt.Sprintf("ack %d", deliveryTag))
	f.mu.Unlock()

	select {
	case f.ackSignal <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBroker) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamErr
}

func (f *fakeBroker) snapshot() (published []publishedMessage, acked []uint64, unacked int, maxUnacked int, events []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]publishedMessage(nil), f.published...),
		append([]uint64(nil), f.acked...),
		len(f.unacked),
		f.maxUnacked,
		append([]string(nil), f.events...)
}
