package executor

import (
	"context"
	"sync"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	"github.com/commflow/commflow/webhook"
	"github.com/commflow/commflow/workflow"
	"go.uber.org/zap"
)

// RetryExecutor polls the workflow retry queue and re-runs nodes that failed
// with a retryable error once their backoff elapsed.
type RetryExecutor struct {
	delayQueue persistence.DelayQueue
	executor   *workflow.Executor
	encDec     util.EncoderDecoder[workflow.ResumeMessage]
	stop       chan struct{}
	wg         sync.WaitGroup
	tick       *util.TickWorker
}

func NewRetryExecutor(delayQueue persistence.DelayQueue, wfExecutor *workflow.Executor, pollInterval time.Duration) *RetryExecutor {
	e := &RetryExecutor{
		delayQueue: delayQueue,
		executor:   wfExecutor,
		encDec:     util.NewJsonEncoderDecoder[workflow.ResumeMessage](),
		stop:       make(chan struct{}),
	}
	e.tick = util.NewTickWorker("workflow-retry-executor", pollInterval, e.stop, e.poll, &e.wg)
	return e
}

func (e *RetryExecutor) Start() {
	e.tick.Start()
}

func (e *RetryExecutor) Stop() {
	e.tick.Stop()
	e.wg.Wait()
}

func (e *RetryExecutor) poll() {
	messages, err := e.delayQueue.Pop(workflow.RETRY_QUEUE)
	if err != nil {
		logger.Error("failed to poll retry queue", zap.Error(err))
		return
	}
	for _, message := range messages {
		resume, err := e.encDec.Decode([]byte(message))
		if err != nil {
			logger.Error("malformed retry message dropped", zap.Error(err))
			continue
		}
		if err := e.executor.Resume(context.Background(), resume.RunId); err != nil {
			logger.Error("failed to retry workflow run",
				zap.String("runId", resume.RunId), zap.Error(err))
		}
	}
}

// WebhookRetryExecutor polls the webhook retry queue and hands due deliveries
// back to the dispatcher pool.
type WebhookRetryExecutor struct {
	delayQueue persistence.DelayQueue
	dispatcher *webhook.Dispatcher
	stop       chan struct{}
	wg         sync.WaitGroup
	tick       *util.TickWorker
}

func NewWebhookRetryExecutor(delayQueue persistence.DelayQueue, dispatcher *webhook.Dispatcher, pollInterval time.Duration) *WebhookRetryExecutor {
	e := &WebhookRetryExecutor{
		delayQueue: delayQueue,
		dispatcher: dispatcher,
		stop:       make(chan struct{}),
	}
	e.tick = util.NewTickWorker("webhook-retry-executor", pollInterval, e.stop, e.poll, &e.wg)
	return e
}

func (e *WebhookRetryExecutor) Start() {
	e.tick.Start()
}

func (e *WebhookRetryExecutor) Stop() {
	e.tick.Stop()
	e.wg.Wait()
}

func (e *WebhookRetryExecutor) poll() {
	messages, err := e.delayQueue.Pop(webhook.RETRY_QUEUE)
	if err != nil {
		logger.Error("failed to poll webhook retry queue", zap.Error(err))
		return
	}
	for _, eventId := range messages {
		e.dispatcher.Redeliver(eventId)
	}
}
