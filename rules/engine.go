package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/commflow/commflow/audit"
	"github.com/commflow/commflow/cache"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"go.uber.org/zap"
)

// Engine evaluates a team's routing rules against an event and returns the
// actions to dispatch. Rules are checked in (priority, id) order; the default
// policy stops at the first full match unless the matching rule is marked
// non-exclusive or the team runs under the all-matches policy.
type Engine struct {
	storage persistence.RuleStorage
	builder ContextBuilder
	defs    *cache.DefinitionCache
}

func NewEngine(storage persistence.RuleStorage, builder ContextBuilder, defs *cache.DefinitionCache) *Engine {
	return &Engine{
		storage: storage,
		builder: builder,
		defs:    defs,
	}
}

func ruleCacheKey(teamId string) string {
	return "rules:" + teamId
}

func (e *Engine) activeRules(teamId string) ([]model.SmartRoutingRule, error) {
	if e.defs != nil {
		if cached, ok := e.defs.Get(ruleCacheKey(teamId)); ok {
			return cached.([]model.SmartRoutingRule), nil
		}
	}
	rules, err := e.storage.GetActiveRules(teamId)
	if err != nil {
		return nil, err
	}
	if e.defs != nil {
		e.defs.Set(ruleCacheKey(teamId), rules)
	}
	return rules, nil
}

// Invalidate drops the cached rule set for a team. Call after any rule
// mutation so the next evaluation reads through to storage.
func (e *Engine) Invalidate(teamId string) {
	if e.defs != nil {
		e.defs.Invalidate(ruleCacheKey(teamId))
	}
}

// Evaluate returns the actions of every matched rule in evaluation order and
// increments matched_count for each of them.
func (e *Engine) Evaluate(ctx context.Context, event model.Event, teamId string) ([]model.Action, error) {
	rules, err := e.activeRules(teamId)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	policy, err := e.storage.GetMatchPolicy(teamId)
	if err != nil {
		return nil, err
	}
	evalCtx, err := e.builder.Build(ctx, event)
	if err != nil {
		return nil, err
	}

	var actions []model.Action
	for _, rule := range rules {
		if !MatchesAll(rule.Conditions, evalCtx) {
			continue
		}
		if err := e.storage.IncrementMatchedCount(teamId, rule.Id); err != nil {
			logger.Error("failed to increment matched count",
				zap.String("teamId", teamId), zap.String("ruleId", rule.Id), zap.Error(err))
		}
		logger.Debug("rule matched",
			zap.String("teamId", teamId),
			zap.String("ruleId", rule.Id),
			zap.String("event", event.Id))
		audit.RecordRuleMatch(teamId, rule.Id, event.Id, string(rule.Action.Type))
		actions = append(actions, rule.Action)
		if policy == model.MATCH_POLICY_FIRST && !rule.NonExclusive {
			break
		}
	}
	return actions, nil
}

// MatchesAll short-circuit ANDs the conditions. An empty condition list never
// matches; a rule with no conditions would otherwise swallow every event.
func MatchesAll(conditions []model.Condition, evalCtx Context) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		ok, err := EvalCondition(cond, evalCtx)
		if err != nil {
			logger.Debug("condition evaluation error treated as non-match", zap.Error(err))
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// EvalCondition checks one condition against the context. A missing field is a
// plain non-match; a numeric operator on a non-numeric value returns a
// ConditionTypeMismatchError which callers treat as non-match.
func EvalCondition(cond model.Condition, evalCtx Context) (bool, error) {
	value, ok := evalCtx.FieldValue(cond.Field)
	if !ok || value == nil {
		return false, nil
	}
	switch cond.Operator {
	case model.OP_EQUALS:
		if items, ok := asStringSlice(value); ok {
			return containsFold(items, cond.Value), nil
		}
		return strings.EqualFold(fmt.Sprint(value), cond.Value), nil
	case model.OP_CONTAINS:
		if items, ok := asStringSlice(value); ok {
			return containsFold(items, cond.Value), nil
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(value)), strings.ToLower(cond.Value)), nil
	case model.OP_GREATER_THAN, model.OP_LESS_THAN:
		fieldNum, err := toFloat(value)
		if err != nil {
			return false, model.ConditionTypeMismatchError{Field: cond.Field, Value: value}
		}
		wantNum, err := strconv.ParseFloat(cond.Value, 64)
		if err != nil {
			return false, model.ConditionTypeMismatchError{Field: cond.Field, Value: cond.Value}
		}
		if cond.Operator == model.OP_GREATER_THAN {
			return fieldNum > wantNum, nil
		}
		return fieldNum < wantNum, nil
	}
	return false, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
