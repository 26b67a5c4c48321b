package model

import "time"

// ChatbotFlow is a node graph scoped to one conversation, advanced by customer
// replies instead of elapsed time.
type ChatbotFlow struct {
	Id                string       `json:"id"`
	TeamId            string       `json:"teamId"`
	Name              string       `json:"name"`
	Description       string       `json:"description,omitempty"`
	Nodes             []Node       `json:"nodes"`
	Connections       []Connection `json:"connections"`
	Platforms         []string     `json:"platforms"`
	IsActive          bool         `json:"isActive"`
	ConversationCount int64        `json:"conversationCount"`
}

type SessionState string

const SESSION_ADVANCING SessionState = "advancing"
const SESSION_AWAITING_INPUT SessionState = "awaiting_customer_input"
const SESSION_ENDED SessionState = "ended"

// ChatbotSession is the resumable state of one flow instance bound to one
// conversation. At most one active session exists per conversation.
type ChatbotSession struct {
	Id             string         `json:"id"`
	FlowId         string         `json:"flowId"`
	TeamId         string         `json:"teamId"`
	ConversationId string         `json:"conversationId"`
	CurrentNodeId  string         `json:"currentNodeId"`
	State          SessionState   `json:"state"`
	Variables      map[string]any `json:"variables"`
	MenuRetries    int            `json:"menuRetries"`
	StartedAt      time.Time      `json:"startedAt"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
}
