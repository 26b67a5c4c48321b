package persistence

import (
	"fmt"
	"time"

	"github.com/commflow/commflow/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

// RuleStorage owns routing rules, auto responders and the per-team match
// policy. Reorder must be applied atomically: evaluation never observes a
// partially applied priority ordering.
type RuleStorage interface {
	SaveRule(rule model.SmartRoutingRule) error
	DeleteRule(teamId string, ruleId string) error
	GetRule(teamId string, ruleId string) (*model.SmartRoutingRule, error)
	ListRules(teamId string) ([]model.SmartRoutingRule, error)
	GetActiveRules(teamId string) ([]model.SmartRoutingRule, error)
	Reorder(teamId string, ruleIds []string) error
	IncrementMatchedCount(teamId string, ruleId string) error

	GetMatchPolicy(teamId string) (model.MatchPolicy, error)
	SaveMatchPolicy(teamId string, policy model.MatchPolicy) error

	SaveAutoResponder(responder model.AutoResponder) error
	ListActiveAutoResponders(teamId string) ([]model.AutoResponder, error)
	IncrementTriggeredCount(teamId string, responderId string) error
}

// WorkflowStorage owns workflow definitions and run records. Runs are the
// single source of truth for resumable cursors; a process restart must be able
// to resume every in-flight run from here alone.
type WorkflowStorage interface {
	SaveWorkflow(wf model.Workflow) error
	DeleteWorkflow(id string) error
	GetWorkflow(id string) (*model.Workflow, error)
	ListWorkflows(teamId string) ([]model.Workflow, error)
	ListActiveWorkflows(teamId string) ([]model.Workflow, error)
	// IncrementRunCount bumps the workflow's run stats atomically so
	// concurrent starts never overwrite the stored definition.
	IncrementRunCount(id string, at time.Time) error

	SaveRun(run model.WorkflowRun) error
	GetRun(id string) (*model.WorkflowRun, error)
	ListRuns(workflowId string) ([]model.WorkflowRun, error)
}

type ChatbotStorage interface {
	SaveFlow(flow model.ChatbotFlow) error
	DeleteFlow(id string) error
	GetFlow(id string) (*model.ChatbotFlow, error)
	ListFlows(teamId string) ([]model.ChatbotFlow, error)
	ListActiveFlows(teamId string, platform string) ([]model.ChatbotFlow, error)
	IncrementConversationCount(flowId string) error

	SaveSession(session model.ChatbotSession) error
	GetSession(id string) (*model.ChatbotSession, error)
	// GetActiveSession returns the session currently bound to the
	// conversation, if any. At most one exists.
	GetActiveSession(conversationId string) (*model.ChatbotSession, error)
}

type ScheduledMessageStorage interface {
	SaveMessage(msg model.ScheduledMessage) error
	DeleteMessage(id string) error
	GetMessage(id string) (*model.ScheduledMessage, error)
	ListMessages(teamId string) ([]model.ScheduledMessage, error)
	ListByStatus(status model.ScheduledMessageStatus) ([]model.ScheduledMessage, error)

	// Checkpoint is the dispatcher's low-water mark: everything due at or
	// before it has been handled. Missed ticks are caught up from here.
	GetCheckpoint() (time.Time, error)
	SaveCheckpoint(t time.Time) error
}

type WebhookStorage interface {
	SaveEvent(event model.WebhookEvent) error
	GetEvent(id string) (*model.WebhookEvent, error)
	ListEventsByStatus(teamId string, status model.DeliveryStatus) ([]model.WebhookEvent, error)
}

// Queue is a FIFO work queue.
type Queue interface {
	Push(queueName string, message []byte) error
	Pop(queueName string, batchSize int) ([]string, error)
}

// DelayQueue holds messages until their due time. Pop returns only messages
// whose due time has passed and removes them.
type DelayQueue interface {
	PushWithDelay(queueName string, delay time.Duration, message []byte) error
	Pop(queueName string) ([]string, error)
}
