package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/partition"
	"github.com/commflow/commflow/util"
	"go.uber.org/zap"
)

// Handler consumes events. Delivery is at least once; handlers must be
// idempotent keyed by Event.Id.
type Handler interface {
	Handle(ctx context.Context, event model.Event) error
}

type HandlerFunc func(ctx context.Context, event model.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event model.Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      uint64
	handler Handler
}

type delivery struct {
	event   model.Event
	handler Handler
}

// Bus fans events out to subscribers. Each event is routed to one of a fixed
// set of partition workers by its correlation key, so events sharing a
// correlation id reach a subscriber in publish order while unrelated events
// are handled in parallel. Subscriber failures are logged, never propagated
// to the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[model.EventType][]subscription
	nextId   uint64
	ring     *partition.Ring
	workers  []*util.Worker
	wg       sync.WaitGroup
	done     chan struct{}
	stopped  bool
}

func NewBus(partitions int, capacity int) *Bus {
	b := &Bus{
		handlers: make(map[model.EventType][]subscription),
		ring:     partition.NewRing(partitions),
		done:     make(chan struct{}),
	}
	b.workers = make([]*util.Worker, partitions)
	for i := 0; i < partitions; i++ {
		worker := util.NewWorker(fmt.Sprintf("event-bus-%d", i), &b.wg, handleDelivery, capacity)
		worker.Start()
		b.workers[i] = worker
	}
	return b
}

func handleDelivery(task util.Task) error {
	d := task.(delivery)
	if err := d.handler.Handle(context.Background(), d.event); err != nil {
		logger.Error("event handler failed",
			zap.String("event", d.event.Id),
			zap.String("type", string(d.event.Type)),
			zap.Error(err))
	}
	return nil
}

// Subscribe registers a handler for an event type and returns an unsubscribe
// function.
func (b *Bus) Subscribe(eventType model.EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextId++
	id := b.nextId
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[eventType]
		for i, sub := range subs {
			if sub.id == id {
				b.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) SubscribeFunc(eventType model.EventType, fn func(ctx context.Context, event model.Event) error) func() {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish hands the event to every subscriber's partition worker and returns.
// It applies backpressure when a partition buffer is full but never fails on a
// subscriber error.
func (b *Bus) Publish(event model.Event) {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		logger.Warn("publish on stopped bus", zap.String("event", event.Id))
		return
	}
	subs := make([]subscription, len(b.handlers[event.Type]))
	copy(subs, b.handlers[event.Type])
	b.mu.RUnlock()

	if len(subs) == 0 {
		logger.Debug("no subscribers for event", zap.String("type", string(event.Type)))
		return
	}

	worker := b.workers[b.ring.GetPartition(event.PartitionKey())]
	for _, sub := range subs {
		select {
		case worker.Sender() <- delivery{event: event, handler: sub.handler}:
		case <-b.done:
			logger.Warn("publish on stopped bus", zap.String("event", event.Id))
			return
		}
	}
}

func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.done)
	b.mu.Unlock()
	for _, worker := range b.workers {
		worker.Stop()
	}
	b.wg.Wait()
}
