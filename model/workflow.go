package model

import "time"

type NodeType string

const NODE_CONDITION NodeType = "condition"
const NODE_ACTION NodeType = "action"
const NODE_DELAY NodeType = "delay"
const NODE_AI_RESPONSE NodeType = "ai_response"
const NODE_SEND_MESSAGE NodeType = "send_message"
const NODE_UPDATE_TAG NodeType = "update_tag"
const NODE_CREATE_ORDER NodeType = "create_order"

// chatbot-only node types
const NODE_MESSAGE NodeType = "message"
const NODE_QUESTION NodeType = "question"
const NODE_MENU NodeType = "menu"
const NODE_END NodeType = "end"

const HANDLE_TRUE = "true"
const HANDLE_FALSE = "false"

// Node is one step of a workflow or chatbot graph. Config carries the
// type-specific settings (condition field/operator/value or expression, delay
// duration, message content, prompt, tag, order fields, menu options).
type Node struct {
	Id     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Name   string         `json:"name,omitempty"`
	Config map[string]any `json:"config"`
}

// Connection is a directed edge. SourceHandle distinguishes the outgoing
// branches of condition nodes ("true"/"false") and menu options.
type Connection struct {
	SourceId     string `json:"sourceId"`
	TargetId     string `json:"targetId"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

type Trigger struct {
	Type   EventType      `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type Workflow struct {
	Id          string       `json:"id"`
	TeamId      string       `json:"teamId"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Trigger     Trigger      `json:"trigger"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
	IsActive    bool         `json:"isActive"`
	RunCount    int64        `json:"runCount"`
	LastRun     *time.Time   `json:"lastRun,omitempty"`
}

type RunStatus string

const RUN_PENDING RunStatus = "pending"
const RUN_IN_PROGRESS RunStatus = "in_progress"
const RUN_COMPLETED RunStatus = "completed"
const RUN_FAILED RunStatus = "failed"

type LogOutcome string

const OUTCOME_COMPLETED LogOutcome = "completed"
const OUTCOME_FAILED LogOutcome = "failed"
const OUTCOME_SUSPENDED LogOutcome = "suspended"
const OUTCOME_SKIPPED LogOutcome = "skipped"

// ExecutionLogEntry records one node transition. The log is append-only; past
// entries are never rewritten.
type ExecutionLogEntry struct {
	NodeId    string         `json:"nodeId"`
	Outcome   LogOutcome     `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Cursor is the resumable position of a run: the node to execute next, the
// attempt counter for retryable nodes, accumulated variables and, for
// suspended runs, the earliest resume time.
type Cursor struct {
	NodeId    string         `json:"nodeId"`
	Attempt   int            `json:"attempt"`
	Variables map[string]any `json:"variables"`
	ResumeAt  *time.Time     `json:"resumeAt,omitempty"`
}

// WorkflowRun is the mutable execution record of one trigger firing. It is
// owned exclusively by the workflow executor.
type WorkflowRun struct {
	Id           string              `json:"id"`
	WorkflowId   string              `json:"workflowId"`
	TeamId       string              `json:"teamId"`
	Status       RunStatus           `json:"status"`
	TriggerData  map[string]any      `json:"triggerData"`
	Cursor       Cursor              `json:"cursor"`
	ExecutionLog []ExecutionLogEntry `json:"executionLog"`
	StartedAt    *time.Time          `json:"startedAt,omitempty"`
	CompletedAt  *time.Time          `json:"completedAt,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
}
