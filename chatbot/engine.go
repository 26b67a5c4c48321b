package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/commflow/commflow/audit"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/util"
	"github.com/commflow/commflow/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	MenuRetryLimit int
}

func DefaultConfig() Config {
	return Config{MenuRetryLimit: 3}
}

// Engine advances chatbot sessions in response to inbound messages. Sessions
// for the same conversation are strictly serialized; two messages for one
// conversation never race the cursor.
type Engine struct {
	storage persistence.ChatbotStorage
	sink    workflow.ActionSink
	config  Config
	locks   *util.KeyedMutex
	now     func() time.Time
}

func NewEngine(storage persistence.ChatbotStorage, sink workflow.ActionSink, config Config) *Engine {
	return &Engine{
		storage: storage,
		sink:    sink,
		config:  config,
		locks:   util.NewKeyedMutex(),
		now:     time.Now,
	}
}

// HandleMessage processes one inbound customer message. With no active
// session it matches an active flow for the platform and starts one; with a
// session awaiting input it binds the reply and advances.
func (e *Engine) HandleMessage(ctx context.Context, teamId string, conversationId string, platform string, text string) error {
	e.locks.Lock(conversationId)
	defer e.locks.Unlock(conversationId)

	session, err := e.storage.GetActiveSession(conversationId)
	if err != nil {
		var notFound persistence.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		return e.startSession(ctx, teamId, conversationId, platform, text)
	}
	if session.State != model.SESSION_AWAITING_INPUT {
		logger.Debug("inbound message for non-waiting session ignored",
			zap.String("sessionId", session.Id), zap.String("state", string(session.State)))
		return nil
	}
	flow, err := e.storage.GetFlow(session.FlowId)
	if err != nil {
		return err
	}
	return e.handleReply(ctx, session, flow, text)
}

func (e *Engine) startSession(ctx context.Context, teamId string, conversationId string, platform string, text string) error {
	flows, err := e.storage.ListActiveFlows(teamId, platform)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return nil
	}
	flow := flows[0]
	g := newFlowGraph(&flow)
	entry := g.entry()
	if entry == "" {
		logger.Warn("chatbot flow has no entry node", zap.String("flowId", flow.Id))
		return nil
	}
	session := &model.ChatbotSession{
		Id:             uuid.NewString(),
		FlowId:         flow.Id,
		TeamId:         teamId,
		ConversationId: conversationId,
		CurrentNodeId:  entry,
		State:          model.SESSION_ADVANCING,
		Variables:      map[string]any{"content": text, "platform": platform},
		StartedAt:      e.now(),
	}
	if err := e.storage.SaveSession(*session); err != nil {
		return err
	}
	logger.Info("chatbot session started",
		zap.String("sessionId", session.Id),
		zap.String("flowId", flow.Id),
		zap.String("conversationId", conversationId))
	return e.advance(ctx, session, &flow)
}

func (e *Engine) handleReply(ctx context.Context, session *model.ChatbotSession, flow *model.ChatbotFlow, text string) error {
	g := newFlowGraph(flow)
	node, ok := g.nodes[session.CurrentNodeId]
	if !ok {
		return e.endSession(ctx, session, flow)
	}
	switch node.Type {
	case model.NODE_QUESTION:
		variable, _ := node.Config["variable"].(string)
		if variable == "" {
			variable = "answer"
		}
		if session.Variables == nil {
			session.Variables = map[string]any{}
		}
		session.Variables[variable] = text
		return e.moveNext(ctx, session, flow, g, node.Id, "")

	case model.NODE_MENU:
		handle, matched := matchOption(node, text)
		if !matched {
			session.MenuRetries++
			if session.MenuRetries >= e.config.MenuRetryLimit {
				if err := e.emit(ctx, session, model.Action{Type: model.ACTION_ESCALATE}); err != nil {
					return err
				}
				return e.endSession(ctx, session, flow)
			}
			if err := e.storage.SaveSession(*session); err != nil {
				return err
			}
			return e.prompt(ctx, session, node)
		}
		session.MenuRetries = 0
		return e.moveNext(ctx, session, flow, g, node.Id, handle)
	}
	// a non-input node while awaiting input means the stored state drifted
	return e.endSession(ctx, session, flow)
}

func (e *Engine) moveNext(ctx context.Context, session *model.ChatbotSession, flow *model.ChatbotFlow, g *flowGraph, nodeId string, handle string) error {
	next, ok := g.next(nodeId, handle)
	if !ok {
		return e.endSession(ctx, session, flow)
	}
	session.CurrentNodeId = next
	session.State = model.SESSION_ADVANCING
	if err := e.storage.SaveSession(*session); err != nil {
		return err
	}
	return e.advance(ctx, session, flow)
}

// advance processes nodes until the session awaits input or ends.
func (e *Engine) advance(ctx context.Context, session *model.ChatbotSession, flow *model.ChatbotFlow) error {
	g := newFlowGraph(flow)
	for {
		node, ok := g.nodes[session.CurrentNodeId]
		if !ok {
			return e.endSession(ctx, session, flow)
		}
		switch node.Type {
		case model.NODE_MESSAGE:
			if err := e.prompt(ctx, session, node); err != nil {
				return err
			}
			next, ok := g.next(node.Id, "")
			if !ok {
				return e.endSession(ctx, session, flow)
			}
			session.CurrentNodeId = next
			if err := e.storage.SaveSession(*session); err != nil {
				return err
			}

		case model.NODE_QUESTION, model.NODE_MENU:
			if err := e.prompt(ctx, session, node); err != nil {
				return err
			}
			session.State = model.SESSION_AWAITING_INPUT
			return e.storage.SaveSession(*session)

		case model.NODE_CONDITION:
			result := e.evalCondition(node, session)
			handle := model.HANDLE_FALSE
			if result {
				handle = model.HANDLE_TRUE
			}
			next, ok := g.next(node.Id, handle)
			if !ok {
				return e.endSession(ctx, session, flow)
			}
			session.CurrentNodeId = next
			if err := e.storage.SaveSession(*session); err != nil {
				return err
			}

		case model.NODE_ACTION:
			action, err := buildAction(node, session.Variables)
			if err != nil {
				logger.Warn("skipping malformed chatbot action node",
					zap.String("flowId", flow.Id), zap.String("nodeId", node.Id), zap.Error(err))
			} else if err := e.emit(ctx, session, action); err != nil {
				return err
			}
			next, ok := g.next(node.Id, "")
			if !ok {
				return e.endSession(ctx, session, flow)
			}
			session.CurrentNodeId = next
			if err := e.storage.SaveSession(*session); err != nil {
				return err
			}

		case model.NODE_END:
			if content, ok := node.Config["content"].(string); ok && content != "" {
				if err := e.emit(ctx, session, model.Action{
					Type:   model.ACTION_SEND_MESSAGE,
					Params: map[string]any{"content": util.ResolveString(content, session.Variables, session.Variables)},
				}); err != nil {
					return err
				}
			}
			return e.endSession(ctx, session, flow)

		default:
			logger.Warn("unsupported chatbot node type, ending session",
				zap.String("flowId", flow.Id), zap.String("type", string(node.Type)))
			return e.endSession(ctx, session, flow)
		}
	}
}

func (e *Engine) prompt(ctx context.Context, session *model.ChatbotSession, node model.Node) error {
	content, _ := node.Config["prompt"].(string)
	if content == "" {
		content, _ = node.Config["content"].(string)
	}
	if content == "" {
		return nil
	}
	params := map[string]any{
		"content": util.ResolveString(content, session.Variables, session.Variables),
	}
	if options := optionLabels(node); len(options) > 0 {
		params["options"] = options
	}
	return e.emit(ctx, session, model.Action{Type: model.ACTION_SEND_MESSAGE, Params: params})
}

func (e *Engine) emit(ctx context.Context, session *model.ChatbotSession, action model.Action) error {
	return e.sink.Enqueue(ctx, session.TeamId, session.ConversationId, action)
}

func (e *Engine) endSession(ctx context.Context, session *model.ChatbotSession, flow *model.ChatbotFlow) error {
	session.State = model.SESSION_ENDED
	endedAt := e.now()
	session.EndedAt = &endedAt
	if err := e.storage.SaveSession(*session); err != nil {
		return err
	}
	if err := e.storage.IncrementConversationCount(flow.Id); err != nil {
		logger.Error("failed to increment conversation count",
			zap.String("flowId", flow.Id), zap.Error(err))
	}
	logger.Info("chatbot session ended",
		zap.String("sessionId", session.Id), zap.String("flowId", flow.Id))
	audit.RecordSessionEnd(session.Id, flow.Id, session.ConversationId, session.CurrentNodeId)
	return nil
}

func (e *Engine) evalCondition(node model.Node, session *model.ChatbotSession) bool {
	field, _ := node.Config["field"].(string)
	operator, _ := node.Config["operator"].(string)
	value, _ := node.Config["value"].(string)
	cond := model.Condition{
		Field:    model.ConditionField(field),
		Operator: model.ConditionOperator(operator),
		Value:    value,
	}
	result, err := rules.EvalCondition(cond, rules.Context(session.Variables))
	if err != nil {
		logger.Debug("chatbot condition error treated as false",
			zap.String("nodeId", node.Id), zap.Error(err))
		return false
	}
	return result
}

// matchOption resolves a customer reply against a menu node's options. Replies
// match by option value (case-insensitive) or by 1-based position.
func matchOption(node model.Node, text string) (string, bool) {
	options := optionLabels(node)
	reply := strings.TrimSpace(text)
	for _, option := range options {
		if strings.EqualFold(option, reply) {
			return option, true
		}
	}
	if index, err := strconv.Atoi(reply); err == nil && index >= 1 && index <= len(options) {
		return options[index-1], true
	}
	return "", false
}

func optionLabels(node model.Node) []string {
	raw, ok := node.Config["options"]
	if !ok {
		return nil
	}
	switch options := raw.(type) {
	case []string:
		return options
	case []any:
		out := make([]string, 0, len(options))
		for _, option := range options {
			if s, ok := option.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func buildAction(node model.Node, variables map[string]any) (model.Action, error) {
	actionType, _ := node.Config["action_type"].(string)
	if actionType == "" {
		return model.Action{}, fmt.Errorf("action node has no action_type")
	}
	targetId, _ := node.Config["target_id"].(string)
	var params map[string]any
	if raw, ok := node.Config["params"].(map[string]any); ok {
		params = util.ResolveParams(raw, variables, variables)
	}
	return model.Action{
		Type:     model.ActionType(actionType),
		TargetId: targetId,
		Params:   params,
	}, nil
}
