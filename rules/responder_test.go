package rules

import (
	"context"
	"testing"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence/memory"
	"github.com/stretchr/testify/assert"
)

func saveResponder(t *testing.T, storage *memory.Storage, responder model.AutoResponder) {
	t.Helper()
	if responder.TeamId == "" {
		responder.TeamId = "team-1"
	}
	responder.IsActive = true
	assert.NoError(t, storage.SaveAutoResponder(responder))
}

func TestResponderKeywordTrigger(t *testing.T) {
	storage := memory.NewStorage()
	responder := NewResponder(storage)
	saveResponder(t, storage, model.AutoResponder{
		Id:            "ar1",
		TriggerType:   model.RESPONDER_TRIGGER_KEYWORD,
		TriggerConfig: map[string]any{"keywords": []any{"pricing", "quote"}},
		ResponseType:  "send_message",
		ResponseConfig: map[string]any{
			"content": "Our pricing page is at example.com/pricing",
		},
	})

	actions, err := responder.Evaluate(context.Background(), messageEvent(map[string]any{
		"platform": "whatsapp",
		"content":  "Can I get a QUOTE for 50 units?",
	}))
	assert.NoError(t, err)
	assert.Len(t, actions, 1)
	assert.Equal(t, model.ACTION_SEND_MESSAGE, actions[0].Type)

	responders, err := storage.ListActiveAutoResponders("team-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), responders[0].TriggeredCount)
}

func TestResponderPlatformFilter(t *testing.T) {
	storage := memory.NewStorage()
	responder := NewResponder(storage)
	saveResponder(t, storage, model.AutoResponder{
		Id:            "ar1",
		TriggerType:   model.RESPONDER_TRIGGER_KEYWORD,
		TriggerConfig: map[string]any{"keywords": []any{"hello"}},
		Platforms:     []string{"line"},
	})

	actions, err := responder.Evaluate(context.Background(), messageEvent(map[string]any{
		"platform": "whatsapp",
		"content":  "hello",
	}))
	assert.NoError(t, err)
	assert.Empty(t, actions)
}

func TestResponderFirstMessageTrigger(t *testing.T) {
	storage := memory.NewStorage()
	responder := NewResponder(storage)
	saveResponder(t, storage, model.AutoResponder{
		Id:          "ar1",
		TriggerType: model.RESPONDER_TRIGGER_FIRST_MESSAGE,
	})

	actions, err := responder.Evaluate(context.Background(), messageEvent(map[string]any{
		"content":          "hi",
		"is_first_message": true,
	}))
	assert.NoError(t, err)
	assert.Len(t, actions, 1)

	actions, err = responder.Evaluate(context.Background(), messageEvent(map[string]any{
		"content": "hi again",
	}))
	assert.NoError(t, err)
	assert.Empty(t, actions)
}

func TestResponderOutsideHours(t *testing.T) {
	storage := memory.NewStorage()
	responder := NewResponder(storage)
	saveResponder(t, storage, model.AutoResponder{
		Id:            "ar1",
		TriggerType:   model.RESPONDER_TRIGGER_OUTSIDE_HOURS,
		TriggerConfig: map[string]any{"start": "09:00", "end": "18:00"},
	})

	responder.SetClock(func() time.Time {
		return time.Date(2024, 3, 1, 22, 30, 0, 0, time.UTC)
	})
	actions, err := responder.Evaluate(context.Background(), messageEvent(map[string]any{"content": "anyone there?"}))
	assert.NoError(t, err)
	assert.Len(t, actions, 1)

	responder.SetClock(func() time.Time {
		return time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	})
	actions, err = responder.Evaluate(context.Background(), messageEvent(map[string]any{"content": "hi"}))
	assert.NoError(t, err)
	assert.Empty(t, actions)
}
