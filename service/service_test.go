package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/commflow/commflow/chatbot"
	"github.com/commflow/commflow/event"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence/memory"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/workflow"
	"github.com/stretchr/testify/assert"
)

type capturingSink struct {
	mu      sync.Mutex
	actions []model.Action
}

func (s *capturingSink) Enqueue(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	return nil
}

func (s *capturingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

func (s *capturingSink) all() []model.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Action(nil), s.actions...)
}

type harness struct {
	bus     *event.Bus
	storage *memory.Storage
	sink    *capturingSink
	service *AutomationService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     event.NewBus(4, 64),
		storage: memory.NewStorage(),
		sink:    &capturingSink{},
	}
	engine := rules.NewEngine(h.storage, rules.NewContextBuilder(nil), nil)
	responder := rules.NewResponder(h.storage)
	wfExecutor := workflow.NewExecutor(h.storage, memory.NewDelayQueue(), h.sink, nil, workflow.DefaultExecutorConfig())
	chatbotEngine := chatbot.NewEngine(h.storage, h.sink, chatbot.DefaultConfig())
	h.service = NewAutomationService(h.bus, engine, responder, h.storage, wfExecutor, chatbotEngine, h.sink)
	h.service.Start()
	t.Cleanup(func() {
		h.service.Stop()
		h.bus.Stop()
	})
	return h
}

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

func TestRuleActionsDispatchedOnMessage(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.storage.SaveRule(model.SmartRoutingRule{
		Id:       "r1",
		TeamId:   "team-1",
		IsActive: true,
		Priority: 1,
		Conditions: []model.Condition{
			{Field: model.FIELD_SENTIMENT, Operator: model.OP_EQUALS, Value: "negative"},
		},
		Action: model.Action{Type: model.ACTION_ESCALATE},
	}))

	h.service.Publish(model.Event{
		Type:    model.EVENT_MESSAGE_RECEIVED,
		TeamId:  "team-1",
		Payload: map[string]any{"sentiment": "negative"},
	})

	waitFor(t, func() bool { return h.sink.count() == 1 })
	assert.Equal(t, model.ACTION_ESCALATE, h.sink.all()[0].Type)
}

func TestWorkflowStartedByMatchingTrigger(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.storage.SaveWorkflow(model.Workflow{
		Id:       "wf-1",
		TeamId:   "team-1",
		IsActive: true,
		Trigger: model.Trigger{
			Type:   model.EVENT_ORDER_CREATED,
			Config: map[string]any{"platform": "shopee"},
		},
		Nodes: []model.Node{
			{Id: "tag", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "buyer"}},
		},
	}))

	// non-matching platform must not start a run
	h.service.Publish(model.Event{
		Type:    model.EVENT_ORDER_CREATED,
		TeamId:  "team-1",
		Payload: map[string]any{"platform": "line"},
	})
	h.service.Publish(model.Event{
		Type:    model.EVENT_ORDER_CREATED,
		TeamId:  "team-1",
		Payload: map[string]any{"platform": "shopee"},
	})

	waitFor(t, func() bool { return h.sink.count() == 1 })
	assert.Equal(t, "buyer", h.sink.all()[0].TargetId)

	runs, err := h.storage.ListRuns("wf-1")
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, model.RUN_COMPLETED, runs[0].Status)
}

func TestWorkflowCompletionIsRepublished(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.storage.SaveWorkflow(model.Workflow{
		Id:       "wf-1",
		TeamId:   "team-1",
		IsActive: true,
		Trigger:  model.Trigger{Type: model.EVENT_TAG_ADDED},
		Nodes: []model.Node{
			{Id: "tag", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "done"}},
		},
	}))

	var mu sync.Mutex
	var completions []model.Event
	h.bus.SubscribeFunc(model.EVENT_WORKFLOW_COMPLETED, func(ctx context.Context, ev model.Event) error {
		mu.Lock()
		completions = append(completions, ev)
		mu.Unlock()
		return nil
	})

	h.service.Publish(model.Event{
		Type:    model.EVENT_TAG_ADDED,
		TeamId:  "team-1",
		Payload: map[string]any{"tag": "vip"},
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completions) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "wf-1", completions[0].Payload["workflow_id"])
}

func TestDuplicateEventIdIsIdempotent(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.storage.SaveRule(model.SmartRoutingRule{
		Id:       "r1",
		TeamId:   "team-1",
		IsActive: true,
		Conditions: []model.Condition{
			{Field: model.FIELD_PLATFORM, Operator: model.OP_EQUALS, Value: "line"},
		},
		Action: model.Action{Type: model.ACTION_ADD_TAG, TargetId: "line"},
	}))

	ev := model.Event{
		Id:      "fixed-id",
		Type:    model.EVENT_MESSAGE_RECEIVED,
		TeamId:  "team-1",
		Payload: map[string]any{"platform": "line"},
	}
	h.service.Publish(ev)
	h.service.Publish(ev)

	waitFor(t, func() bool { return h.sink.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.sink.count())
}

func TestChatbotDrivenThroughBus(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.storage.SaveFlow(model.ChatbotFlow{
		Id:       "flow-1",
		TeamId:   "team-1",
		IsActive: true,
		Nodes: []model.Node{
			{Id: "ask", Type: model.NODE_QUESTION, Config: map[string]any{"prompt": "Name?", "variable": "name"}},
			{Id: "bye", Type: model.NODE_END, Config: map[string]any{"content": "Bye {name}"}},
		},
		Connections: []model.Connection{{SourceId: "ask", TargetId: "bye"}},
	}))

	h.service.Publish(model.Event{
		Type:          model.EVENT_MESSAGE_RECEIVED,
		TeamId:        "team-1",
		CorrelationId: "conv-1",
		Payload:       map[string]any{"platform": "whatsapp", "content": "hello"},
	})
	waitFor(t, func() bool { return h.sink.count() >= 1 })

	h.service.Publish(model.Event{
		Type:          model.EVENT_MESSAGE_RECEIVED,
		TeamId:        "team-1",
		CorrelationId: "conv-1",
		Payload:       map[string]any{"platform": "whatsapp", "content": "Mia"},
	})
	waitFor(t, func() bool {
		actions := h.sink.all()
		return len(actions) >= 2 && actions[len(actions)-1].Params["content"] == "Bye Mia"
	})
}
