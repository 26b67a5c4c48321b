package service

import (
	"context"
	"time"

	"github.com/commflow/commflow/chatbot"
	"github.com/commflow/commflow/event"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/workflow"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// AutomationService wires the engines onto the event bus: routing rules and
// auto responders on inbound activity, workflow trigger matching on every
// event, chatbot advancement per conversation, and a completion event
// republished when a workflow run finishes.
type AutomationService struct {
	bus        *event.Bus
	engine     *rules.Engine
	responder  *rules.Responder
	wfStorage  persistence.WorkflowStorage
	wfExecutor *workflow.Executor
	chatbot    *chatbot.Engine
	sink       workflow.ActionSink
	seen       *gocache.Cache

	unsubscribe []func()
}

func NewAutomationService(
	bus *event.Bus,
	engine *rules.Engine,
	responder *rules.Responder,
	wfStorage persistence.WorkflowStorage,
	wfExecutor *workflow.Executor,
	chatbotEngine *chatbot.Engine,
	sink workflow.ActionSink,
) *AutomationService {
	return &AutomationService{
		bus:        bus,
		engine:     engine,
		responder:  responder,
		wfStorage:  wfStorage,
		wfExecutor: wfExecutor,
		chatbot:    chatbotEngine,
		sink:       sink,
		seen:       gocache.New(10*time.Minute, 20*time.Minute),
	}
}

var ruleEventTypes = []model.EventType{
	model.EVENT_MESSAGE_RECEIVED,
	model.EVENT_ORDER_CREATED,
	model.EVENT_TAG_ADDED,
}

var triggerEventTypes = []model.EventType{
	model.EVENT_MESSAGE_RECEIVED,
	model.EVENT_ORDER_CREATED,
	model.EVENT_TAG_ADDED,
	model.EVENT_WEBHOOK_INBOUND,
	model.EVENT_SCHEDULE_TICK,
	model.EVENT_WORKFLOW_COMPLETED,
}

func (s *AutomationService) Start() {
	for _, eventType := range ruleEventTypes {
		s.unsubscribe = append(s.unsubscribe,
			s.bus.SubscribeFunc(eventType, s.handleRuleEvent))
	}
	for _, eventType := range triggerEventTypes {
		s.unsubscribe = append(s.unsubscribe,
			s.bus.SubscribeFunc(eventType, s.handleWorkflowTriggers))
	}
	s.unsubscribe = append(s.unsubscribe,
		s.bus.SubscribeFunc(model.EVENT_MESSAGE_RECEIVED, s.handleChatbotMessage))

	s.wfExecutor.OnComplete = func(run model.WorkflowRun) {
		s.Publish(model.Event{
			Type:   model.EVENT_WORKFLOW_COMPLETED,
			TeamId: run.TeamId,
			Payload: map[string]any{
				"workflow_id": run.WorkflowId,
				"run_id":      run.Id,
			},
			CorrelationId: run.Id,
		})
	}
	logger.Info("automation service started")
}

func (s *AutomationService) Stop() {
	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil
}

// Publish assigns an id and timestamp if missing and hands the event to the
// bus.
func (s *AutomationService) Publish(ev model.Event) model.Event {
	if ev.Id == "" {
		ev.Id = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	s.bus.Publish(ev)
	return ev
}

// duplicate reports whether this handler already processed the event id.
// Subscribers are idempotent keyed by Event.Id; redelivery is a no-op.
func (s *AutomationService) duplicate(handler string, ev model.Event) bool {
	if ev.Id == "" {
		return false
	}
	key := handler + ":" + ev.Id
	if _, exists := s.seen.Get(key); exists {
		return true
	}
	s.seen.SetDefault(key, struct{}{})
	return false
}

func (s *AutomationService) handleRuleEvent(ctx context.Context, ev model.Event) error {
	if s.duplicate("rules", ev) {
		return nil
	}
	actions, err := s.engine.Evaluate(ctx, ev, ev.TeamId)
	if err != nil {
		return err
	}
	if ev.Type == model.EVENT_MESSAGE_RECEIVED && s.responder != nil {
		responses, err := s.responder.Evaluate(ctx, ev)
		if err != nil {
			logger.Error("auto responder evaluation failed",
				zap.String("event", ev.Id), zap.Error(err))
		} else {
			actions = append(actions, responses...)
		}
	}
	for _, action := range actions {
		if err := s.sink.Enqueue(ctx, ev.TeamId, ev.CorrelationId, action); err != nil {
			logger.Error("failed to dispatch rule action",
				zap.String("event", ev.Id),
				zap.String("type", string(action.Type)),
				zap.Error(err))
		}
	}
	return nil
}

func (s *AutomationService) handleWorkflowTriggers(ctx context.Context, ev model.Event) error {
	if s.duplicate("workflows", ev) {
		return nil
	}
	workflows, err := s.wfStorage.ListActiveWorkflows(ev.TeamId)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if !workflow.MatchesTrigger(wf.Trigger, ev) {
			continue
		}
		triggerData := make(map[string]any, len(ev.Payload)+2)
		for k, v := range ev.Payload {
			triggerData[k] = v
		}
		triggerData["event_id"] = ev.Id
		triggerData["event_type"] = string(ev.Type)
		if ev.CorrelationId != "" {
			triggerData["conversation_id"] = ev.CorrelationId
		}
		if _, err := s.wfExecutor.Start(ctx, wf.Id, triggerData); err != nil {
			logger.Error("failed to start workflow run",
				zap.String("workflowId", wf.Id),
				zap.String("event", ev.Id),
				zap.Error(err))
		}
	}
	return nil
}

func (s *AutomationService) handleChatbotMessage(ctx context.Context, ev model.Event) error {
	if s.duplicate("chatbot", ev) {
		return nil
	}
	conversationId := ev.CorrelationId
	if conversationId == "" {
		conversationId, _ = ev.Payload["conversation_id"].(string)
	}
	if conversationId == "" {
		return nil
	}
	platform, _ := ev.Payload["platform"].(string)
	text, _ := ev.Payload["content"].(string)
	return s.chatbot.HandleMessage(ctx, ev.TeamId, conversationId, platform, text)
}
