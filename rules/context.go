package rules

import (
	"context"
	"strings"

	"github.com/commflow/commflow/model"
)

// Context is the flat view of an event that conditions are checked against.
// Keys follow the condition field names; message text lives under "content"
// and customer tags under "customer_tags".
type Context map[string]any

func (c Context) FieldValue(field model.ConditionField) (any, bool) {
	switch field {
	case model.FIELD_KEYWORD:
		v, ok := c["content"]
		return v, ok
	case model.FIELD_CUSTOMER_TAG:
		v, ok := c["customer_tags"]
		return v, ok
	default:
		v, ok := c[string(field)]
		return v, ok
	}
}

// Enricher looks up entity attributes the event payload does not carry.
type Enricher interface {
	CustomerTags(ctx context.Context, teamId string, customerId string) ([]string, error)
}

// ContextBuilder assembles the evaluation context for an event.
type ContextBuilder interface {
	Build(ctx context.Context, event model.Event) (Context, error)
}

type payloadContextBuilder struct {
	enricher Enricher
}

// NewContextBuilder returns a builder that flattens the event payload and,
// when an enricher is given, resolves the customer's tags by customer_id.
// Payload-supplied customer_tags win over the enrichment lookup.
func NewContextBuilder(enricher Enricher) ContextBuilder {
	return &payloadContextBuilder{enricher: enricher}
}

func (b *payloadContextBuilder) Build(ctx context.Context, event model.Event) (Context, error) {
	evalCtx := make(Context, len(event.Payload)+2)
	for k, v := range event.Payload {
		evalCtx[k] = v
	}
	evalCtx["event_type"] = string(event.Type)
	if _, ok := evalCtx["content"]; !ok {
		if msg, ok := evalCtx["message"]; ok {
			evalCtx["content"] = msg
		}
	}
	if _, ok := evalCtx["customer_tags"]; !ok && b.enricher != nil {
		if customerId, ok := evalCtx["customer_id"].(string); ok && customerId != "" {
			tags, err := b.enricher.CustomerTags(ctx, event.TeamId, customerId)
			if err != nil {
				return nil, err
			}
			evalCtx["customer_tags"] = tags
		}
	}
	return evalCtx, nil
}

func asStringSlice(v any) ([]string, bool) {
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func containsFold(items []string, want string) bool {
	for _, item := range items {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}
