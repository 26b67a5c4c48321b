package memory

import (
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, storage *Storage,
	){
		"rules keep priority order":            testRuleOrder,
		"reorder rewrites priorities":          testRuleReorder,
		"inactive rules are filtered":          testActiveRulesOnly,
		"missing entities report not found":    testNotFound,
		"active session found by conversation": testActiveSession,
		"scheduled messages listed by status":  testScheduledByStatus,
		"platform scoping of chatbot flows":    testFlowPlatformScoping,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStorage())
		})
	}
}

func testRuleOrder(t *testing.T, storage *Storage) {
	for i, id := range []string{"r-1", "r-2", "r-3"} {
		err := storage.SaveRule(model.SmartRoutingRule{Id: id, TeamId: "team-1", Priority: i, IsActive: true})
		require.NoError(t, err)
	}
	rules, err := storage.ListRules("team-1")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	require.Equal(t, "r-1", rules[0].Id)
	require.Equal(t, "r-3", rules[2].Id)
}

func testRuleReorder(t *testing.T, storage *Storage) {
	for i, id := range []string{"r-1", "r-2", "r-3"} {
		err := storage.SaveRule(model.SmartRoutingRule{Id: id, TeamId: "team-1", Priority: i, IsActive: true})
		require.NoError(t, err)
	}
	err := storage.Reorder("team-1", []string{"r-3", "r-1", "r-2"})
	require.NoError(t, err)

	rules, err := storage.ListRules("team-1")
	require.NoError(t, err)
	require.Equal(t, "r-3", rules[0].Id)
	require.Equal(t, "r-1", rules[1].Id)
	require.Equal(t, "r-2", rules[2].Id)
}

func testActiveRulesOnly(t *testing.T, storage *Storage) {
	require.NoError(t, storage.SaveRule(model.SmartRoutingRule{Id: "r-1", TeamId: "team-1", IsActive: true}))
	require.NoError(t, storage.SaveRule(model.SmartRoutingRule{Id: "r-2", TeamId: "team-1", IsActive: false}))

	rules, err := storage.GetActiveRules("team-1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "r-1", rules[0].Id)
}

func testNotFound(t *testing.T, storage *Storage) {
	_, err := storage.GetRule("team-1", "missing")
	var notFound persistence.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = storage.GetWorkflow("missing")
	require.ErrorAs(t, err, &notFound)

	_, err = storage.GetEvent("missing")
	require.ErrorAs(t, err, &notFound)
}

func testActiveSession(t *testing.T, storage *Storage) {
	session := model.ChatbotSession{
		Id:             "sess-1",
		FlowId:         "flow-1",
		ConversationId: "conv-1",
		State:          model.SESSION_AWAITING_INPUT,
	}
	require.NoError(t, storage.SaveSession(session))

	got, err := storage.GetActiveSession("conv-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", got.Id)

	session.State = model.SESSION_ENDED
	require.NoError(t, storage.SaveSession(session))

	_, err = storage.GetActiveSession("conv-1")
	var notFound persistence.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testScheduledByStatus(t *testing.T, storage *Storage) {
	require.NoError(t, storage.SaveMessage(model.ScheduledMessage{Id: "m-1", TeamId: "team-1", Status: model.SCHEDULED_MSG_SCHEDULED}))
	require.NoError(t, storage.SaveMessage(model.ScheduledMessage{Id: "m-2", TeamId: "team-1", Status: model.SCHEDULED_MSG_CANCELLED}))

	msgs, err := storage.ListByStatus(model.SCHEDULED_MSG_SCHEDULED)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m-1", msgs[0].Id)
}

func testFlowPlatformScoping(t *testing.T, storage *Storage) {
	require.NoError(t, storage.SaveFlow(model.ChatbotFlow{Id: "f-all", TeamId: "team-1", IsActive: true}))
	require.NoError(t, storage.SaveFlow(model.ChatbotFlow{Id: "f-line", TeamId: "team-1", IsActive: true, Platforms: []string{"line"}}))

	flows, err := storage.ListActiveFlows("team-1", "shopee")
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "f-all", flows[0].Id)

	flows, err = storage.ListActiveFlows("team-1", "line")
	require.NoError(t, err)
	require.Len(t, flows, 2)
}

func TestQueue(t *testing.T) {
	queue := NewQueue()
	require.NoError(t, queue.Push("work", []byte("msg-1")))
	require.NoError(t, queue.Push("work", []byte("msg-2")))
	require.NoError(t, queue.Push("work", []byte("msg-3")))

	msgs, err := queue.Pop("work", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-1", "msg-2"}, msgs)

	msgs, err = queue.Pop("work", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"msg-3"}, msgs)

	msgs, err = queue.Pop("work", 2)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDelayQueue(t *testing.T) {
	queue := NewDelayQueue()
	now := time.Now()
	queue.SetClock(func() time.Time { return now })

	require.NoError(t, queue.PushWithDelay("delay", 5*time.Minute, []byte("later")))
	require.NoError(t, queue.PushWithDelay("delay", 0, []byte("due")))

	msgs, err := queue.Pop("delay")
	require.NoError(t, err)
	require.Equal(t, []string{"due"}, msgs)

	now = now.Add(5 * time.Minute)
	msgs, err = queue.Pop("delay")
	require.NoError(t, err)
	require.Equal(t, []string{"later"}, msgs)

	msgs, err = queue.Pop("delay")
	require.NoError(t, err)
	require.Empty(t, msgs)
}
