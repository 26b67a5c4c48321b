package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/stretchr/testify/assert"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBusDeliversToSubscriber(t *testing.T) {
	bus := NewBus(4, 16)
	defer bus.Stop()

	var mu sync.Mutex
	var got []model.Event
	bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})

	bus.Publish(model.Event{Id: "ev-1", Type: model.EVENT_MESSAGE_RECEIVED, TeamId: "t1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	assert.Equal(t, "ev-1", got[0].Id)
}

func TestBusIgnoresOtherEventTypes(t *testing.T) {
	bus := NewBus(2, 16)
	defer bus.Stop()

	var mu sync.Mutex
	count := 0
	bus.SubscribeFunc(model.EVENT_ORDER_CREATED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Publish(model.Event{Id: "ev-1", Type: model.EVENT_MESSAGE_RECEIVED})
	bus.Publish(model.Event{Id: "ev-2", Type: model.EVENT_ORDER_CREATED})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestBusPreservesOrderPerCorrelation(t *testing.T) {
	bus := NewBus(8, 128)
	defer bus.Stop()

	var mu sync.Mutex
	got := map[string][]string{}
	bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		got[ev.CorrelationId] = append(got[ev.CorrelationId], ev.Id)
		mu.Unlock()
		return nil
	})

	conversations := []string{"conv-a", "conv-b", "conv-c"}
	want := map[string][]string{}
	for i := 0; i < 20; i++ {
		for _, conv := range conversations {
			id := conv + "-" + string(rune('a'+i))
			want[conv] = append(want[conv], id)
			bus.Publish(model.Event{Id: id, Type: model.EVENT_MESSAGE_RECEIVED, CorrelationId: conv})
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, conv := range conversations {
			if len(got[conv]) != 20 {
				return false
			}
		}
		return true
	})
	mu.Lock()
	defer mu.Unlock()
	for _, conv := range conversations {
		assert.Equal(t, want[conv], got[conv])
	}
}

func TestBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(2, 16)
	defer bus.Stop()

	var mu sync.Mutex
	delivered := 0
	bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, func(ctx context.Context, ev model.Event) error {
		return errors.New("handler down")
	})
	bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	bus.Publish(model.Event{Id: "ev-1", Type: model.EVENT_MESSAGE_RECEIVED, CorrelationId: "c1"})
	bus.Publish(model.Event{Id: "ev-2", Type: model.EVENT_MESSAGE_RECEIVED, CorrelationId: "c1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 2
	})
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(2, 16)
	defer bus.Stop()

	var mu sync.Mutex
	count := 0
	unsubscribe := bus.SubscribeFunc(model.EVENT_TAG_ADDED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	bus.Publish(model.Event{Id: "ev-1", Type: model.EVENT_TAG_ADDED})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	unsubscribe()
	bus.Publish(model.Event{Id: "ev-2", Type: model.EVENT_TAG_ADDED})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishDuringStopDoesNotBlock(t *testing.T) {
	bus := NewBus(1, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, func(ctx context.Context, ev model.Event) error {
		if ev.Id == "ev-1" {
			close(started)
		}
		<-release
		return nil
	})

	// worker is busy with ev-1 and ev-2 fills the partition buffer
	bus.Publish(model.Event{Id: "ev-1", Type: model.EVENT_MESSAGE_RECEIVED})
	<-started
	bus.Publish(model.Event{Id: "ev-2", Type: model.EVENT_MESSAGE_RECEIVED})

	published := make(chan struct{})
	go func() {
		bus.Publish(model.Event{Id: "ev-3", Type: model.EVENT_MESSAGE_RECEIVED})
		close(published)
	}()

	stopped := make(chan struct{})
	go func() {
		bus.Stop()
		close(stopped)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked against a stopping bus")
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not stop")
	}
}
