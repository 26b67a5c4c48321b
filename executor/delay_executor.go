package executor

import (
	"context"
	"sync"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	"github.com/commflow/commflow/workflow"
	"go.uber.org/zap"
)

// DelayExecutor polls the workflow delay queue and resumes runs whose delay
// has elapsed.
type DelayExecutor struct {
	delayQueue persistence.DelayQueue
	executor   *workflow.Executor
	encDec     util.EncoderDecoder[workflow.ResumeMessage]
	queueName  string
	stop       chan struct{}
	wg         sync.WaitGroup
	tick       *util.TickWorker
}

func NewDelayExecutor(delayQueue persistence.DelayQueue, wfExecutor *workflow.Executor, pollInterval time.Duration) *DelayExecutor {
	e := &DelayExecutor{
		delayQueue: delayQueue,
		executor:   wfExecutor,
		encDec:     util.NewJsonEncoderDecoder[workflow.ResumeMessage](),
		queueName:  workflow.DELAY_QUEUE,
		stop:       make(chan struct{}),
	}
	e.tick = util.NewTickWorker("workflow-delay-executor", pollInterval, e.stop, e.poll, &e.wg)
	return e
}

func (e *DelayExecutor) Name() string {
	return "workflow-delay-executor"
}

func (e *DelayExecutor) Start() {
	e.tick.Start()
}

func (e *DelayExecutor) Stop() {
	e.tick.Stop()
	e.wg.Wait()
}

func (e *DelayExecutor) poll() {
	messages, err := e.delayQueue.Pop(e.queueName)
	if err != nil {
		logger.Error("failed to poll delay queue", zap.String("queue", e.queueName), zap.Error(err))
		return
	}
	for _, message := range messages {
		resume, err := e.encDec.Decode([]byte(message))
		if err != nil {
			logger.Error("malformed resume message dropped",
				zap.String("queue", e.queueName), zap.Error(err))
			continue
		}
		if err := e.executor.Resume(context.Background(), resume.RunId); err != nil {
			logger.Error("failed to resume workflow run",
				zap.String("runId", resume.RunId), zap.Error(err))
		}
	}
}
