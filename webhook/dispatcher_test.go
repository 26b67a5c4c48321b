package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence/memory"
	"github.com/stretchr/testify/assert"
)

func newTestDispatcher(t *testing.T, config Config) (*Dispatcher, *memory.Storage, *memory.DelayQueue) {
	t.Helper()
	storage := memory.NewStorage()
	delayQueue := memory.NewDelayQueue()
	dispatcher := NewDispatcher(storage, delayQueue, StaticSecrets{"team-1": "s3cret"}, config)
	dispatcher.SetJitter(func(max time.Duration) time.Duration { return 0 })
	return dispatcher, storage, delayQueue
}

func pendingEvent(endpoint string) model.WebhookEvent {
	return model.WebhookEvent{
		Id:        "wh-1",
		TeamId:    "team-1",
		Platform:  "shopee",
		EventType: "order_created",
		Payload:   map[string]any{"order_id": "ORD-9"},
		Endpoint:  endpoint,
		Status:    model.DELIVERY_PENDING,
		CreatedAt: time.Now(),
	}
}

func TestDeliverySuccess(t *testing.T) {
	var gotSignature atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get(SIGNATURE_HEADER))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, storage, _ := newTestDispatcher(t, DefaultConfig())
	assert.NoError(t, storage.SaveEvent(pendingEvent(server.URL)))

	assert.NoError(t, dispatcher.Deliver(context.Background(), "wh-1"))

	stored, err := storage.GetEvent("wh-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DELIVERY_DELIVERED, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, 0, stored.RetryCount)

	raw := gotBody.Load().([]byte)
	var body model.WebhookBody
	assert.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "wh-1", body.Id)
	assert.Equal(t, "team-1", body.TeamId)
	assert.Equal(t, "order_created", body.EventType)
	assert.Equal(t, 1, body.Attempt)
	assert.Equal(t, Sign(raw, "s3cret"), gotSignature.Load().(string))
}

func TestDeliveryFailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	dispatcher, storage, delayQueue := newTestDispatcher(t, DefaultConfig())
	delayQueue.SetClock(func() time.Time { return clock })
	assert.NoError(t, storage.SaveEvent(pendingEvent(server.URL)))

	assert.NoError(t, dispatcher.Deliver(context.Background(), "wh-1"))

	stored, err := storage.GetEvent("wh-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DELIVERY_PENDING, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.ErrorMessage, "502")

	// nothing due before the backoff elapses
	messages, err := delayQueue.Pop(RETRY_QUEUE)
	assert.NoError(t, err)
	assert.Empty(t, messages)

	clock = clock.Add(DefaultConfig().BaseDelay + time.Second)
	messages, err = delayQueue.Pop(RETRY_QUEUE)
	assert.NoError(t, err)
	assert.Equal(t, []string{"wh-1"}, messages)
}

func TestDeliveryFailsTerminallyAfterMaxRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.MaxRetries = 2
	dispatcher, storage, _ := newTestDispatcher(t, config)
	var failed []string
	dispatcher.OnTerminalFailure = func(event model.WebhookEvent) {
		failed = append(failed, event.Id)
	}
	assert.NoError(t, storage.SaveEvent(pendingEvent(server.URL)))

	// initial attempt plus two retries
	for i := 0; i < 3; i++ {
		assert.NoError(t, dispatcher.Deliver(context.Background(), "wh-1"))
	}

	stored, err := storage.GetEvent("wh-1")
	assert.NoError(t, err)
	assert.Equal(t, model.DELIVERY_FAILED, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.Equal(t, []string{"wh-1"}, failed)
	assert.Equal(t, 3, attempts)

	// terminal events are skipped, never re-attempted
	assert.NoError(t, dispatcher.Deliver(context.Background(), "wh-1"))
	assert.Equal(t, 3, attempts)
}

func TestBackoffDelaysAreNonDecreasingAndCapped(t *testing.T) {
	config := DefaultConfig()
	config.BaseDelay = time.Second
	config.MaxDelay = 10 * time.Second
	dispatcher, _, _ := newTestDispatcher(t, config)

	previous := time.Duration(0)
	for retry := 1; retry <= 8; retry++ {
		delay := dispatcher.BackoffDelay(retry)
		assert.GreaterOrEqual(t, delay, previous)
		assert.LessOrEqual(t, delay, config.MaxDelay)
		previous = delay
	}
	assert.Equal(t, config.MaxDelay, dispatcher.BackoffDelay(8))
}

func TestEnqueueDeliversThroughWorkerPool(t *testing.T) {
	done := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer server.Close()

	dispatcher, storage, _ := newTestDispatcher(t, DefaultConfig())
	dispatcher.Start()
	defer dispatcher.Stop()

	assert.NoError(t, dispatcher.Enqueue(pendingEvent(server.URL)))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not attempted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := storage.GetEvent("wh-1")
		assert.NoError(t, err)
		if stored.Status == model.DELIVERY_DELIVERED {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("event never marked delivered")
}
