package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence/memory"
	"github.com/stretchr/testify/assert"
)

type capturingSink struct {
	mu      sync.Mutex
	actions []model.Action
	err     error
}

func (s *capturingSink) Enqueue(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.actions = append(s.actions, action)
	return nil
}

type stubResponder struct {
	response string
	err      error
	calls    int
}

func (r *stubResponder) Respond(ctx context.Context, prompt string, variables map[string]any) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return r.response, nil
}

type executorFixture struct {
	storage    *memory.Storage
	delayQueue *memory.DelayQueue
	sink       *capturingSink
	responder  *stubResponder
	executor   *Executor
	clock      time.Time
}

func newFixture(t *testing.T) *executorFixture {
	t.Helper()
	f := &executorFixture{
		storage:    memory.NewStorage(),
		delayQueue: memory.NewDelayQueue(),
		sink:       &capturingSink{},
		responder:  &stubResponder{response: "generated reply"},
		clock:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	config := DefaultExecutorConfig()
	config.MaxNodeAttempts = 3
	f.executor = NewExecutor(f.storage, f.delayQueue, f.sink, f.responder, config)
	f.executor.SetClock(func() time.Time { return f.clock })
	f.delayQueue.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *executorFixture) saveWorkflow(t *testing.T, wf model.Workflow) {
	t.Helper()
	if wf.Id == "" {
		wf.Id = "wf-1"
	}
	if wf.TeamId == "" {
		wf.TeamId = "team-1"
	}
	wf.IsActive = true
	assert.NoError(t, f.storage.SaveWorkflow(wf))
}

func TestStartRunsLinearWorkflow(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "n1", Type: model.NODE_SEND_MESSAGE, Config: map[string]any{"content": "Hello {customer_name}"}},
			{Id: "n2", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "welcomed"}},
		},
		Connections: []model.Connection{{SourceId: "n1", TargetId: "n2"}},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", map[string]any{"customer_name": "Mia"})
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_COMPLETED, run.Status)
	assert.Len(t, f.sink.actions, 2)
	assert.Equal(t, "Hello Mia", f.sink.actions[0].Params["content"])
	assert.Equal(t, model.ACTION_ADD_TAG, f.sink.actions[1].Type)
	assert.Equal(t, "welcomed", f.sink.actions[1].TargetId)

	stored, err := f.storage.GetRun(run.Id)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_COMPLETED, stored.Status)
	assert.Len(t, stored.ExecutionLog, 2)
	assert.Equal(t, model.OUTCOME_COMPLETED, stored.ExecutionLog[0].Outcome)

	wf, err := f.storage.GetWorkflow("wf-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), wf.RunCount)
	assert.NotNil(t, wf.LastRun)
}

func TestConcurrentStartsKeepRunCount(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "n1", Type: model.NODE_SEND_MESSAGE, Config: map[string]any{"content": "hi"}},
		},
	})

	const starts = 200
	var wg sync.WaitGroup
	wg.Add(starts)
	for i := 0; i < starts; i++ {
		go func() {
			defer wg.Done()
			_, err := f.executor.Start(context.Background(), "wf-1", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	wf, err := f.storage.GetWorkflow("wf-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(starts), wf.RunCount)

	runs, err := f.storage.ListRuns("wf-1")
	assert.NoError(t, err)
	assert.Len(t, runs, starts)
}

func TestStartRejectsInactiveWorkflow(t *testing.T) {
	f := newFixture(t)
	wf := model.Workflow{
		Id:     "wf-1",
		TeamId: "team-1",
		Nodes:  []model.Node{{Id: "n1", Type: model.NODE_SEND_MESSAGE, Config: map[string]any{"content": "hi"}}},
	}
	assert.NoError(t, f.storage.SaveWorkflow(wf))

	_, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.Error(t, err)
}

func TestConditionNodeBranches(t *testing.T) {
	scenarios := map[string]struct {
		triggerData map[string]any
		wantTag     string
	}{
		"true branch": {
			triggerData: map[string]any{"sentiment": "negative"},
			wantTag:     "urgent",
		},
		"false branch": {
			triggerData: map[string]any{"sentiment": "positive"},
			wantTag:     "routine",
		},
	}
	for name, scenario := range scenarios {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.saveWorkflow(t, model.Workflow{
				Nodes: []model.Node{
					{Id: "check", Type: model.NODE_CONDITION, Config: map[string]any{
						"field": "sentiment", "operator": "equals", "value": "negative",
					}},
					{Id: "hot", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "urgent"}},
					{Id: "cold", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "routine"}},
				},
				Connections: []model.Connection{
					{SourceId: "check", TargetId: "hot", SourceHandle: model.HANDLE_TRUE},
					{SourceId: "check", TargetId: "cold", SourceHandle: model.HANDLE_FALSE},
				},
			})

			run, err := f.executor.Start(context.Background(), "wf-1", scenario.triggerData)
			assert.NoError(t, err)
			assert.Equal(t, model.RUN_COMPLETED, run.Status)
			assert.Len(t, f.sink.actions, 1)
			assert.Equal(t, scenario.wantTag, f.sink.actions[0].TargetId)
		})
	}
}

func TestConditionNodeExpression(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "check", Type: model.NODE_CONDITION, Config: map[string]any{
				"expression": "order_total > 100 && platform === 'shopee'",
			}},
			{Id: "vip", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "big-spender"}},
			{Id: "skip", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "regular"}},
		},
		Connections: []model.Connection{
			{SourceId: "check", TargetId: "vip", SourceHandle: model.HANDLE_TRUE},
			{SourceId: "check", TargetId: "skip", SourceHandle: model.HANDLE_FALSE},
		},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", map[string]any{
		"order_total": 250.0,
		"platform":    "shopee",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_COMPLETED, run.Status)
	assert.Equal(t, "big-spender", f.sink.actions[0].TargetId)
}

func TestDelayNodeSuspendsAndResumesOnce(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "wait", Type: model.NODE_DELAY, Config: map[string]any{"duration": "2h"}},
			{Id: "followup", Type: model.NODE_SEND_MESSAGE, Config: map[string]any{"content": "still there?"}},
		},
		Connections: []model.Connection{{SourceId: "wait", TargetId: "followup"}},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_IN_PROGRESS, run.Status)
	assert.NotNil(t, run.Cursor.ResumeAt)
	assert.Empty(t, f.sink.actions)

	// nothing due yet
	messages, err := f.delayQueue.Pop(DELAY_QUEUE)
	assert.NoError(t, err)
	assert.Empty(t, messages)

	// an early resume must not advance the cursor
	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))
	stored, err := f.storage.GetRun(run.Id)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_IN_PROGRESS, stored.Status)
	assert.Empty(t, f.sink.actions)

	f.clock = f.clock.Add(2*time.Hour + time.Minute)
	messages, err = f.delayQueue.Pop(DELAY_QUEUE)
	assert.NoError(t, err)
	assert.NotEmpty(t, messages)

	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))
	stored, err = f.storage.GetRun(run.Id)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_COMPLETED, stored.Status)
	assert.Len(t, f.sink.actions, 1)

	// a duplicate resume after completion is a no-op
	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))
	assert.Len(t, f.sink.actions, 1)
}

func TestAIResponseNodeStoresVariable(t *testing.T) {
	f := newFixture(t)
	f.responder.response = "Thanks for reaching out!"
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "gen", Type: model.NODE_AI_RESPONSE, Config: map[string]any{
				"prompt":          "Reply politely to: {content}",
				"output_variable": "reply",
			}},
			{Id: "send", Type: model.NODE_SEND_MESSAGE, Config: map[string]any{"content": "{reply}"}},
		},
		Connections: []model.Connection{{SourceId: "gen", TargetId: "send"}},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", map[string]any{"content": "where is my order"})
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_COMPLETED, run.Status)
	assert.Equal(t, "Thanks for reaching out!", f.sink.actions[0].Params["content"])
}

func TestAIResponseRetriesThenFails(t *testing.T) {
	f := newFixture(t)
	f.responder.err = model.NodeExecutionError{NodeId: "gen", Retryable: true, Cause: errors.New("upstream timeout")}
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "gen", Type: model.NODE_AI_RESPONSE, Config: map[string]any{"prompt": "hi"}},
		},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_IN_PROGRESS, run.Status)
	assert.Equal(t, 1, run.Cursor.Attempt)

	// drive the retries the queue poller would deliver
	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))
	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))

	stored, err := f.storage.GetRun(run.Id)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_FAILED, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "upstream timeout")
	assert.Equal(t, 3, f.responder.calls)
}

func TestMalformedNodeFailsRunImmediately(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "wait", Type: model.NODE_DELAY, Config: map[string]any{}},
		},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, model.RUN_FAILED, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
}

func TestExecutionLogIsAppendOnly(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "wait", Type: model.NODE_DELAY, Config: map[string]any{"duration": "1h"}},
			{Id: "tag", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "done"}},
		},
		Connections: []model.Connection{{SourceId: "wait", TargetId: "tag"}},
	})

	run, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.NoError(t, err)
	before, err := f.storage.GetRun(run.Id)
	assert.NoError(t, err)

	f.clock = f.clock.Add(2 * time.Hour)
	assert.NoError(t, f.executor.Resume(context.Background(), run.Id))
	after, err := f.storage.GetRun(run.Id)
	assert.NoError(t, err)

	assert.Greater(t, len(after.ExecutionLog), len(before.ExecutionLog))
	for i, entry := range before.ExecutionLog {
		assert.Equal(t, entry.NodeId, after.ExecutionLog[i].NodeId)
		assert.Equal(t, entry.Outcome, after.ExecutionLog[i].Outcome)
	}
}

func TestOnCompleteHook(t *testing.T) {
	f := newFixture(t)
	f.saveWorkflow(t, model.Workflow{
		Nodes: []model.Node{
			{Id: "tag", Type: model.NODE_UPDATE_TAG, Config: map[string]any{"tag": "done"}},
		},
	})
	var completed []string
	f.executor.OnComplete = func(run model.WorkflowRun) {
		completed = append(completed, run.Id)
	}

	run, err := f.executor.Start(context.Background(), "wf-1", nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{run.Id}, completed)
}
