package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/commflow/commflow/audit"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/util"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DELAY_QUEUE = "workflow_delay"
const RETRY_QUEUE = "workflow_retry"

// ResumeMessage is pushed to the delay and retry queues when a run suspends.
// The poller decodes it and hands the run id back to the executor.
type ResumeMessage struct {
	RunId string `json:"runId"`
}

// ActionSink receives the side effects a run produces. Enqueue acknowledges
// hand-off, not delivery; delivery failures are handled by the dispatcher.
type ActionSink interface {
	Enqueue(ctx context.Context, teamId string, correlationId string, action model.Action) error
}

// AIResponder generates text for ai_response nodes.
type AIResponder interface {
	Respond(ctx context.Context, prompt string, variables map[string]any) (string, error)
}

type ExecutorConfig struct {
	AITimeout       time.Duration
	MaxNodeAttempts int
	RetryDelay      time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		AITimeout:       30 * time.Second,
		MaxNodeAttempts: 3,
		RetryDelay:      10 * time.Second,
	}
}

// Executor drives workflow runs node by node. Runs own no in-memory state
// across suspension points; the cursor persisted with the run is enough to
// resume after a restart.
type Executor struct {
	storage    persistence.WorkflowStorage
	delayQueue persistence.DelayQueue
	sink       ActionSink
	responder  AIResponder
	config     ExecutorConfig
	encDec     util.EncoderDecoder[ResumeMessage]
	now        func() time.Time

	// OnComplete, when set, is called after a run reaches the completed
	// status. The service layer uses it to publish a completion event.
	OnComplete func(run model.WorkflowRun)
}

func NewExecutor(storage persistence.WorkflowStorage, delayQueue persistence.DelayQueue, sink ActionSink, responder AIResponder, config ExecutorConfig) *Executor {
	return &Executor{
		storage:    storage,
		delayQueue: delayQueue,
		sink:       sink,
		responder:  responder,
		config:     config,
		encDec:     util.NewJsonEncoderDecoder[ResumeMessage](),
		now:        time.Now,
	}
}

func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Start creates a run for the workflow and advances it until it completes,
// fails or suspends.
func (e *Executor) Start(ctx context.Context, workflowId string, triggerData map[string]any) (*model.WorkflowRun, error) {
	wf, err := e.storage.GetWorkflow(workflowId)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, fmt.Errorf("workflow %s is not active", workflowId)
	}
	g := newGraph(wf)
	entry := g.entry()
	if entry == "" {
		return nil, model.StructuralValidationError{Message: "workflow has no entry node"}
	}
	startedAt := e.now()
	run := model.WorkflowRun{
		Id:          uuid.NewString(),
		WorkflowId:  wf.Id,
		TeamId:      wf.TeamId,
		Status:      model.RUN_PENDING,
		TriggerData: triggerData,
		Cursor: model.Cursor{
			NodeId:    entry,
			Variables: map[string]any{},
		},
		StartedAt: &startedAt,
	}
	if err := e.storage.SaveRun(run); err != nil {
		return nil, err
	}

	if err := e.storage.IncrementRunCount(wf.Id, startedAt); err != nil {
		logger.Error("failed to update workflow run stats", zap.String("workflowId", wf.Id), zap.Error(err))
	}

	run.Status = model.RUN_IN_PROGRESS
	if err := e.advance(ctx, &run, wf, g); err != nil {
		return nil, err
	}
	return &run, nil
}

// Resume continues a suspended run. A resume arriving before the cursor's
// resume time is pushed back to the delay queue, so the cursor advances at
// most once per suspension.
func (e *Executor) Resume(ctx context.Context, runId string) error {
	run, err := e.storage.GetRun(runId)
	if err != nil {
		return err
	}
	if run.Status == model.RUN_COMPLETED || run.Status == model.RUN_FAILED {
		logger.Debug("resume of terminal run ignored", zap.String("runId", runId))
		return nil
	}
	wf, err := e.storage.GetWorkflow(run.WorkflowId)
	if err != nil {
		return err
	}
	if run.Cursor.ResumeAt != nil {
		if remaining := run.Cursor.ResumeAt.Sub(e.now()); remaining > 0 {
			return e.pushResume(DELAY_QUEUE, run.Id, remaining)
		}
		resumedNode := run.Cursor.NodeId
		run.Cursor.ResumeAt = nil
		run.Cursor.Attempt = 0
		appendLog(run, resumedNode, model.OUTCOME_COMPLETED, map[string]any{"resumed": true})
		g := newGraph(wf)
		next, ok := g.next(resumedNode, "")
		if !ok {
			return e.complete(run)
		}
		run.Cursor.NodeId = next
		if err := e.storage.SaveRun(*run); err != nil {
			return err
		}
		return e.advance(ctx, run, wf, g)
	}
	return e.advance(ctx, run, wf, newGraph(wf))
}

func (e *Executor) pushResume(queueName string, runId string, delay time.Duration) error {
	msg, err := e.encDec.Encode(ResumeMessage{RunId: runId})
	if err != nil {
		return err
	}
	return e.delayQueue.PushWithDelay(queueName, delay, msg)
}

func (e *Executor) advance(ctx context.Context, run *model.WorkflowRun, wf *model.Workflow, g *graph) error {
	run.Status = model.RUN_IN_PROGRESS
	for {
		node, ok := g.nodes[run.Cursor.NodeId]
		if !ok {
			return e.fail(run, fmt.Sprintf("cursor points at unknown node %s", run.Cursor.NodeId))
		}
		handle, suspended, err := e.executeNode(ctx, run, node)
		if err != nil {
			if isRetryable(err) && run.Cursor.Attempt+1 < e.config.MaxNodeAttempts {
				run.Cursor.Attempt++
				appendLog(run, node.Id, model.OUTCOME_FAILED, map[string]any{
					"error":   err.Error(),
					"attempt": run.Cursor.Attempt,
					"retry":   true,
				})
				if err := e.storage.SaveRun(*run); err != nil {
					return err
				}
				return e.pushResume(RETRY_QUEUE, run.Id, e.config.RetryDelay)
			}
			appendLog(run, node.Id, model.OUTCOME_FAILED, map[string]any{"error": err.Error()})
			return e.fail(run, err.Error())
		}
		if suspended {
			return e.storage.SaveRun(*run)
		}
		run.Cursor.Attempt = 0
		next, ok := g.next(node.Id, handle)
		if !ok {
			return e.complete(run)
		}
		run.Cursor.NodeId = next
		if err := e.storage.SaveRun(*run); err != nil {
			return err
		}
	}
}

// executeNode runs one node. It returns the outgoing handle to follow and
// whether the run suspended. It appends the node's log entry itself.
func (e *Executor) executeNode(ctx context.Context, run *model.WorkflowRun, node model.Node) (string, bool, error) {
	switch node.Type {
	case model.NODE_CONDITION:
		result, err := e.evalConditionNode(run, node)
		if err != nil {
			return "", false, err
		}
		handle := model.HANDLE_FALSE
		if result {
			handle = model.HANDLE_TRUE
		}
		appendLog(run, node.Id, model.OUTCOME_COMPLETED, map[string]any{"branch": handle})
		return handle, false, nil

	case model.NODE_DELAY:
		duration, err := delayDuration(node.Config)
		if err != nil {
			return "", false, model.NodeExecutionError{NodeId: node.Id, Retryable: false, Cause: err}
		}
		resumeAt := e.now().Add(duration)
		run.Cursor.ResumeAt = &resumeAt
		appendLog(run, node.Id, model.OUTCOME_SUSPENDED, map[string]any{"resumeAt": resumeAt})
		if err := e.pushResume(DELAY_QUEUE, run.Id, duration); err != nil {
			return "", false, err
		}
		return "", true, nil

	case model.NODE_AI_RESPONSE:
		if err := e.executeAINode(ctx, run, node); err != nil {
			return "", false, err
		}
		appendLog(run, node.Id, model.OUTCOME_COMPLETED, nil)
		return "", false, nil

	case model.NODE_ACTION, model.NODE_SEND_MESSAGE, model.NODE_UPDATE_TAG, model.NODE_CREATE_ORDER:
		actions, err := buildActions(node, run.TriggerData, run.Cursor.Variables)
		if err != nil {
			return "", false, model.NodeExecutionError{NodeId: node.Id, Retryable: false, Cause: err}
		}
		correlationId, _ := run.TriggerData["conversation_id"].(string)
		for _, action := range actions {
			if err := e.sink.Enqueue(ctx, run.TeamId, correlationId, action); err != nil {
				return "", false, model.NodeExecutionError{NodeId: node.Id, Retryable: true, Cause: err}
			}
		}
		appendLog(run, node.Id, model.OUTCOME_COMPLETED, map[string]any{"actions": len(actions)})
		return "", false, nil
	}
	return "", false, model.NodeExecutionError{
		NodeId:    node.Id,
		Retryable: false,
		Cause:     fmt.Errorf("unsupported node type %s", node.Type),
	}
}

func (e *Executor) evalConditionNode(run *model.WorkflowRun, node model.Node) (bool, error) {
	merged := mergeVariables(run.TriggerData, run.Cursor.Variables)
	if expr, ok := node.Config["expression"].(string); ok && expr != "" {
		return evalExpression(node.Id, expr, merged)
	}
	field, _ := node.Config["field"].(string)
	operator, _ := node.Config["operator"].(string)
	value, _ := node.Config["value"].(string)
	if field == "" || operator == "" {
		return false, model.NodeExecutionError{
			NodeId:    node.Id,
			Retryable: false,
			Cause:     fmt.Errorf("condition node missing field or operator"),
		}
	}
	cond := model.Condition{
		Field:    model.ConditionField(field),
		Operator: model.ConditionOperator(operator),
		Value:    value,
	}
	result, err := rules.EvalCondition(cond, rules.Context(merged))
	if err != nil {
		// type mismatch fails the condition, not the run
		logger.Debug("condition node type mismatch", zap.String("nodeId", node.Id), zap.Error(err))
		return false, nil
	}
	return result, nil
}

func evalExpression(nodeId string, expr string, scope map[string]any) (bool, error) {
	vm := goja.New()
	for k, v := range scope {
		if err := vm.Set(k, v); err != nil {
			return false, model.NodeExecutionError{NodeId: nodeId, Retryable: false, Cause: err}
		}
	}
	value, err := vm.RunString(expr)
	if err != nil {
		return false, model.NodeExecutionError{NodeId: nodeId, Retryable: false, Cause: err}
	}
	return value.ToBoolean(), nil
}

func (e *Executor) executeAINode(ctx context.Context, run *model.WorkflowRun, node model.Node) error {
	if e.responder == nil {
		return model.NodeExecutionError{NodeId: node.Id, Retryable: false, Cause: fmt.Errorf("no ai responder configured")}
	}
	prompt, _ := node.Config["prompt"].(string)
	prompt = util.ResolveString(prompt, run.TriggerData, mergeVariables(run.TriggerData, run.Cursor.Variables))

	callCtx, cancel := context.WithTimeout(ctx, e.config.AITimeout)
	defer cancel()
	response, err := e.responder.Respond(callCtx, prompt, run.Cursor.Variables)
	if err != nil {
		retryable := callCtx.Err() == context.DeadlineExceeded || isRetryable(err)
		return model.NodeExecutionError{NodeId: node.Id, Retryable: retryable, Cause: err}
	}
	outputVar, _ := node.Config["output_variable"].(string)
	if outputVar == "" {
		outputVar = "ai_response"
	}
	if run.Cursor.Variables == nil {
		run.Cursor.Variables = map[string]any{}
	}
	run.Cursor.Variables[outputVar] = response
	return nil
}

func (e *Executor) complete(run *model.WorkflowRun) error {
	run.Status = model.RUN_COMPLETED
	completedAt := e.now()
	run.CompletedAt = &completedAt
	if err := e.storage.SaveRun(*run); err != nil {
		return err
	}
	logger.Info("workflow run completed",
		zap.String("runId", run.Id), zap.String("workflowId", run.WorkflowId))
	if e.OnComplete != nil {
		e.OnComplete(*run)
	}
	return nil
}

func (e *Executor) fail(run *model.WorkflowRun, message string) error {
	run.Status = model.RUN_FAILED
	run.ErrorMessage = message
	completedAt := e.now()
	run.CompletedAt = &completedAt
	if err := e.storage.SaveRun(*run); err != nil {
		return err
	}
	logger.Warn("workflow run failed",
		zap.String("runId", run.Id),
		zap.String("workflowId", run.WorkflowId),
		zap.String("error", message))
	return nil
}

func appendLog(run *model.WorkflowRun, nodeId string, outcome model.LogOutcome, detail map[string]any) {
	run.ExecutionLog = append(run.ExecutionLog, model.ExecutionLogEntry{
		NodeId:    nodeId,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	audit.RecordNodeOutcome(run.Id, run.WorkflowId, nodeId, string(outcome), detail)
}

func mergeVariables(triggerData map[string]any, variables map[string]any) map[string]any {
	merged := make(map[string]any, len(triggerData)+len(variables))
	for k, v := range triggerData {
		merged[k] = v
	}
	for k, v := range variables {
		merged[k] = v
	}
	return merged
}

func delayDuration(config map[string]any) (time.Duration, error) {
	if raw, ok := config["duration"].(string); ok && raw != "" {
		return time.ParseDuration(raw)
	}
	if minutes, ok := config["minutes"]; ok {
		switch m := minutes.(type) {
		case float64:
			return time.Duration(m) * time.Minute, nil
		case int:
			return time.Duration(m) * time.Minute, nil
		}
	}
	return 0, fmt.Errorf("delay node has no duration")
}

func buildActions(node model.Node, triggerData map[string]any, variables map[string]any) ([]model.Action, error) {
	merged := mergeVariables(triggerData, variables)
	switch node.Type {
	case model.NODE_SEND_MESSAGE:
		content, _ := node.Config["content"].(string)
		if content == "" {
			return nil, fmt.Errorf("send_message node has no content")
		}
		params := map[string]any{"content": util.ResolveString(content, triggerData, merged)}
		if platform, ok := node.Config["platform"].(string); ok && platform != "" {
			params["platform"] = platform
		}
		return []model.Action{{Type: model.ACTION_SEND_MESSAGE, Params: params}}, nil

	case model.NODE_UPDATE_TAG:
		tag, _ := node.Config["tag"].(string)
		if tag == "" {
			return nil, fmt.Errorf("update_tag node has no tag")
		}
		actionType := model.ACTION_ADD_TAG
		if op, ok := node.Config["operation"].(string); ok && op == "remove" {
			actionType = model.ACTION_REMOVE_TAG
		}
		return []model.Action{{Type: actionType, TargetId: tag}}, nil

	case model.NODE_CREATE_ORDER:
		params, _ := node.Config["order"].(map[string]any)
		if params == nil {
			params = node.Config
		}
		return []model.Action{{
			Type:   model.ACTION_CREATE_ORDER,
			Params: util.ResolveParams(params, triggerData, merged),
		}}, nil

	case model.NODE_ACTION:
		actionType, _ := node.Config["action_type"].(string)
		if actionType == "" {
			return nil, fmt.Errorf("action node has no action_type")
		}
		targetId, _ := node.Config["target_id"].(string)
		templateId, _ := node.Config["template_id"].(string)
		var params map[string]any
		if raw, ok := node.Config["params"].(map[string]any); ok {
			params = util.ResolveParams(raw, triggerData, merged)
		}
		return []model.Action{{
			Type:       model.ActionType(actionType),
			TargetId:   targetId,
			TemplateId: templateId,
			Params:     params,
		}}, nil
	}
	return nil, fmt.Errorf("node type %s produces no actions", node.Type)
}

func isRetryable(err error) bool {
	var nodeErr model.NodeExecutionError
	if errors.As(err, &nodeErr) {
		return nodeErr.Retryable
	}
	return false
}
