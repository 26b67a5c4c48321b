package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	"github.com/commflow/commflow/workflow"
	"go.uber.org/zap"
)

// RecipientResolver resolves a recipient set to concrete customer ids at fire
// time. Tag and segment membership may have changed since the message was
// created, so resolution is never cached.
type RecipientResolver interface {
	Resolve(ctx context.Context, teamId string, recipients model.RecipientSet) ([]string, error)
}

// StaticResolver resolves only explicit id lists. It stands in when no
// customer directory is wired.
type StaticResolver struct{}

func (StaticResolver) Resolve(ctx context.Context, teamId string, recipients model.RecipientSet) ([]string, error) {
	return recipients.Ids, nil
}

type Config struct {
	TickInterval time.Duration
}

func DefaultConfig() Config {
	return Config{TickInterval: time.Minute}
}

// Dispatcher fires scheduled messages. Each tick handles every message due in
// (checkpoint, now]; the checkpoint is persisted after each tick so missed
// ticks are caught up on the next one instead of silently skipped.
type Dispatcher struct {
	storage  persistence.ScheduledMessageStorage
	resolver RecipientResolver
	sink     workflow.ActionSink
	config   Config
	wg       sync.WaitGroup
	stop     chan struct{}
	tick     *util.TickWorker
	now      func() time.Time
}

func NewDispatcher(storage persistence.ScheduledMessageStorage, resolver RecipientResolver, sink workflow.ActionSink, config Config) *Dispatcher {
	d := &Dispatcher{
		storage:  storage,
		resolver: resolver,
		sink:     sink,
		config:   config,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	d.tick = util.NewTickWorker("scheduled-dispatcher", config.TickInterval, d.stop, d.onTick, &d.wg)
	return d
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Dispatcher) Start() {
	d.tick.Start()
}

func (d *Dispatcher) Stop() {
	d.tick.Stop()
	d.wg.Wait()
}

func (d *Dispatcher) onTick() {
	if err := d.Tick(context.Background()); err != nil {
		logger.Error("scheduler tick failed", zap.Error(err))
	}
}

// Tick processes everything due since the last checkpoint. It is exported so
// an external clock source can drive the dispatcher directly.
func (d *Dispatcher) Tick(ctx context.Context) error {
	now := d.now()
	checkpoint, err := d.storage.GetCheckpoint()
	if err != nil {
		return err
	}
	due, err := d.storage.ListByStatus(model.SCHEDULED_MSG_SCHEDULED)
	if err != nil {
		return err
	}
	for _, msg := range due {
		next := msg.NextFire(checkpoint)
		if next == nil || next.After(now) {
			continue
		}
		if err := d.fire(ctx, msg, now); err != nil {
			logger.Error("failed to fire scheduled message",
				zap.String("messageId", msg.Id), zap.Error(err))
		}
	}
	return d.storage.SaveCheckpoint(now)
}

func (d *Dispatcher) fire(ctx context.Context, msg model.ScheduledMessage, now time.Time) error {
	// re-read right before firing so a cancellation committed after the
	// listing is honored
	current, err := d.storage.GetMessage(msg.Id)
	if err != nil {
		return err
	}
	if current.Status != model.SCHEDULED_MSG_SCHEDULED {
		return nil
	}
	targets, err := d.resolver.Resolve(ctx, current.TeamId, current.Recipients)
	if err != nil {
		return err
	}
	platforms := current.Platforms
	if len(platforms) == 0 {
		platforms = []string{""}
	}
	sent := int64(0)
	for _, target := range targets {
		for _, platform := range platforms {
			params := map[string]any{
				"content":     current.Content,
				"customer_id": target,
			}
			if platform != "" {
				params["platform"] = platform
			}
			action := model.Action{Type: model.ACTION_SEND_MESSAGE, TargetId: target, Params: params}
			if err := d.sink.Enqueue(ctx, current.TeamId, current.Id, action); err != nil {
				logger.Error("failed to enqueue scheduled send",
					zap.String("messageId", current.Id),
					zap.String("customerId", target),
					zap.Error(err))
				continue
			}
			sent++
		}
	}

	current.SentCount += sent
	current.LastSent = &now
	if current.Schedule.Type == model.SCHEDULE_ONCE {
		current.Status = model.SCHEDULED_MSG_SENT
	}
	if err := d.storage.SaveMessage(*current); err != nil {
		return err
	}
	logger.Info("scheduled message fired",
		zap.String("messageId", current.Id),
		zap.Int64("sent", sent),
		zap.String("schedule", string(current.Schedule.Type)))
	return nil
}
