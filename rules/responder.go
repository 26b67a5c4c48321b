package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"go.uber.org/zap"
)

// Responder evaluates auto responders against inbound messages. Responders
// are independent of the routing rule chain; every triggered responder emits
// its reply action.
type Responder struct {
	storage persistence.RuleStorage
	now     func() time.Time
}

func NewResponder(storage persistence.RuleStorage) *Responder {
	return &Responder{
		storage: storage,
		now:     time.Now,
	}
}

// SetClock overrides the wall clock, used by outside_hours tests.
func (r *Responder) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Responder) Evaluate(ctx context.Context, event model.Event) ([]model.Action, error) {
	responders, err := r.storage.ListActiveAutoResponders(event.TeamId)
	if err != nil {
		return nil, err
	}
	platform, _ := event.Payload["platform"].(string)
	content, _ := event.Payload["content"].(string)

	var actions []model.Action
	for _, responder := range responders {
		if !platformAllowed(responder.Platforms, platform) {
			continue
		}
		if !r.triggered(responder, event, content) {
			continue
		}
		if err := r.storage.IncrementTriggeredCount(event.TeamId, responder.Id); err != nil {
			logger.Error("failed to increment triggered count",
				zap.String("responderId", responder.Id), zap.Error(err))
		}
		actions = append(actions, responseAction(responder))
	}
	return actions, nil
}

func platformAllowed(platforms []string, platform string) bool {
	if len(platforms) == 0 {
		return true
	}
	return containsFold(platforms, platform)
}

func (r *Responder) triggered(responder model.AutoResponder, event model.Event, content string) bool {
	switch responder.TriggerType {
	case model.RESPONDER_TRIGGER_KEYWORD:
		keywords, ok := asStringSlice(responder.TriggerConfig["keywords"])
		if !ok {
			return false
		}
		lower := strings.ToLower(content)
		for _, keyword := range keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return true
			}
		}
		return false
	case model.RESPONDER_TRIGGER_FIRST_MESSAGE:
		first, _ := event.Payload["is_first_message"].(bool)
		return first
	case model.RESPONDER_TRIGGER_OUTSIDE_HOURS:
		return r.outsideHours(responder.TriggerConfig)
	}
	return false
}

// outsideHours checks the current local time against the configured business
// hours window ("start"/"end" as HH:MM). Missing or malformed config means the
// responder never fires rather than always fires.
func (r *Responder) outsideHours(config map[string]any) bool {
	startStr, _ := config["start"].(string)
	endStr, _ := config["end"].(string)
	start, err := parseClock(startStr)
	if err != nil {
		return false
	}
	end, err := parseClock(endStr)
	if err != nil {
		return false
	}
	now := r.now()
	minutes := now.Hour()*60 + now.Minute()
	if start <= end {
		return minutes < start || minutes >= end
	}
	// window crosses midnight
	return minutes < start && minutes >= end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("bad clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func responseAction(responder model.AutoResponder) model.Action {
	actionType := model.ACTION_SEND_MESSAGE
	if responder.ResponseType == string(model.ACTION_SEND_TEMPLATE) {
		actionType = model.ACTION_SEND_TEMPLATE
	}
	templateId, _ := responder.ResponseConfig["templateId"].(string)
	return model.Action{
		Type:       actionType,
		TemplateId: templateId,
		Params:     responder.ResponseConfig,
	}
}
