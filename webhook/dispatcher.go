package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/commflow/commflow/audit"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	"go.uber.org/zap"
)

const RETRY_QUEUE = "webhook_retry"
const SIGNATURE_HEADER = "X-Commflow-Signature"

// SecretProvider resolves the shared webhook secret for a team.
type SecretProvider interface {
	WebhookSecret(teamId string) (string, error)
}

type StaticSecrets map[string]string

func (s StaticSecrets) WebhookSecret(teamId string) (string, error) {
	secret, ok := s[teamId]
	if !ok {
		return "", fmt.Errorf("no webhook secret for team %s", teamId)
	}
	return secret, nil
}

type Config struct {
	PoolSize    int
	QueueSize   int
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	HTTPTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PoolSize:    4,
		QueueSize:   256,
		MaxRetries:  5,
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		HTTPTimeout: 10 * time.Second,
	}
}

// Dispatcher delivers webhook events to receiver endpoints through a bounded
// worker pool. Failed attempts are rescheduled on the retry delay queue with
// exponential backoff until MaxRetries, after which the event is terminally
// failed but never silently dropped.
type Dispatcher struct {
	storage    persistence.WebhookStorage
	delayQueue persistence.DelayQueue
	secrets    SecretProvider
	client     *http.Client
	config     Config
	workers    []*util.Worker
	wg         sync.WaitGroup
	nextWorker int
	mu         sync.Mutex
	now        func() time.Time
	jitter     func(max time.Duration) time.Duration

	// OnTerminalFailure, when set, is notified after an event exhausts its
	// retries. The audit collector hooks in here.
	OnTerminalFailure func(event model.WebhookEvent)
}

func NewDispatcher(storage persistence.WebhookStorage, delayQueue persistence.DelayQueue, secrets SecretProvider, config Config) *Dispatcher {
	d := &Dispatcher{
		storage:    storage,
		delayQueue: delayQueue,
		secrets:    secrets,
		client:     &http.Client{Timeout: config.HTTPTimeout},
		config:     config,
		now:        time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
	d.workers = make([]*util.Worker, config.PoolSize)
	for i := 0; i < config.PoolSize; i++ {
		worker := util.NewWorker(fmt.Sprintf("webhook-delivery-%d", i), &d.wg, d.handleTask, config.QueueSize)
		d.workers[i] = worker
	}
	return d
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetJitter overrides the backoff jitter source, used by tests for
// deterministic delays.
func (d *Dispatcher) SetJitter(jitter func(max time.Duration) time.Duration) {
	d.jitter = jitter
}

func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	d.client = client
}

func (d *Dispatcher) Start() {
	for _, worker := range d.workers {
		worker.Start()
	}
}

func (d *Dispatcher) Stop() {
	for _, worker := range d.workers {
		worker.Stop()
	}
	d.wg.Wait()
}

// Enqueue persists the event as pending and hands it to a delivery worker.
func (d *Dispatcher) Enqueue(event model.WebhookEvent) error {
	if event.Status == "" {
		event.Status = model.DELIVERY_PENDING
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = d.now()
	}
	if err := d.storage.SaveEvent(event); err != nil {
		return err
	}
	d.submit(event.Id)
	return nil
}

// Redeliver hands a stored event back to the pool. The retry poller calls it
// when a backoff delay expires.
func (d *Dispatcher) Redeliver(eventId string) {
	d.submit(eventId)
}

func (d *Dispatcher) submit(eventId string) {
	d.mu.Lock()
	worker := d.workers[d.nextWorker]
	d.nextWorker = (d.nextWorker + 1) % len(d.workers)
	d.mu.Unlock()
	worker.Sender() <- eventId
}

func (d *Dispatcher) handleTask(task util.Task) error {
	eventId := task.(string)
	return d.Deliver(context.Background(), eventId)
}

// Deliver performs one delivery attempt for a stored event.
func (d *Dispatcher) Deliver(ctx context.Context, eventId string) error {
	event, err := d.storage.GetEvent(eventId)
	if err != nil {
		return err
	}
	if event.Status != model.DELIVERY_PENDING {
		logger.Debug("skipping delivery for non-pending event",
			zap.String("eventId", eventId), zap.String("status", string(event.Status)))
		return nil
	}

	attemptErr := d.attempt(ctx, event)
	if attemptErr == nil {
		event.Status = model.DELIVERY_DELIVERED
		processedAt := d.now()
		event.ProcessedAt = &processedAt
		event.ErrorMessage = ""
		logger.Info("webhook delivered",
			zap.String("eventId", event.Id),
			zap.Int("attempt", event.RetryCount+1))
		audit.RecordDelivery(event.Id, event.TeamId, event.Endpoint, string(event.Status), event.RetryCount+1, "")
		return d.storage.SaveEvent(*event)
	}

	event.RetryCount++
	event.ErrorMessage = attemptErr.Error()
	if event.RetryCount > d.config.MaxRetries {
		event.Status = model.DELIVERY_FAILED
		processedAt := d.now()
		event.ProcessedAt = &processedAt
		if err := d.storage.SaveEvent(*event); err != nil {
			return err
		}
		logger.Warn("webhook delivery failed terminally",
			zap.String("eventId", event.Id),
			zap.Int("retries", event.RetryCount-1),
			zap.String("error", event.ErrorMessage))
		audit.RecordDelivery(event.Id, event.TeamId, event.Endpoint, string(event.Status), event.RetryCount, event.ErrorMessage)
		if d.OnTerminalFailure != nil {
			d.OnTerminalFailure(*event)
		}
		return nil
	}

	if err := d.storage.SaveEvent(*event); err != nil {
		return err
	}
	delay := d.BackoffDelay(event.RetryCount)
	logger.Info("webhook delivery rescheduled",
		zap.String("eventId", event.Id),
		zap.Int("retryCount", event.RetryCount),
		zap.Duration("delay", delay),
		zap.String("error", event.ErrorMessage))
	return d.delayQueue.PushWithDelay(RETRY_QUEUE, delay, []byte(event.Id))
}

// BackoffDelay is base * 2^(retryCount-1) capped at MaxDelay, plus jitter of
// up to a quarter of the delay.
func (d *Dispatcher) BackoffDelay(retryCount int) time.Duration {
	delay := d.config.BaseDelay
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= d.config.MaxDelay {
			delay = d.config.MaxDelay
			break
		}
	}
	if delay > d.config.MaxDelay {
		delay = d.config.MaxDelay
	}
	return delay + d.jitter(delay/4)
}

func (d *Dispatcher) attempt(ctx context.Context, event *model.WebhookEvent) error {
	body := model.WebhookBody{
		Id:        event.Id,
		TeamId:    event.TeamId,
		Platform:  event.Platform,
		EventType: event.EventType,
		Payload:   event.Payload,
		Attempt:   event.RetryCount + 1,
	}
	encDec := util.NewJsonEncoderDecoder[model.WebhookBody]()
	payload, err := encDec.Encode(body)
	if err != nil {
		return err
	}

	secret, err := d.secrets.WebhookSecret(event.TeamId)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SIGNATURE_HEADER, Sign(payload, secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return model.DeliveryError{DeliveryId: event.Id, Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.DeliveryError{DeliveryId: event.Id, StatusCode: resp.StatusCode}
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the request body under the team secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
