package model

type ConditionField string

const FIELD_SENTIMENT ConditionField = "sentiment"
const FIELD_PLATFORM ConditionField = "platform"
const FIELD_LANGUAGE ConditionField = "language"
const FIELD_KEYWORD ConditionField = "keyword"
const FIELD_CUSTOMER_TAG ConditionField = "customer_tag"

type ConditionOperator string

const OP_EQUALS ConditionOperator = "equals"
const OP_CONTAINS ConditionOperator = "contains"
const OP_GREATER_THAN ConditionOperator = "greater_than"
const OP_LESS_THAN ConditionOperator = "less_than"

// Condition is one field/operator/value check. All conditions of a rule are
// AND-ed together.
type Condition struct {
	Field    ConditionField    `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value"`
}

type ActionType string

const ACTION_ASSIGN_TO_TEAM ActionType = "assign_to_team"
const ACTION_ASSIGN_TO_AGENT ActionType = "assign_to_agent"
const ACTION_ESCALATE ActionType = "escalate"
const ACTION_ADD_TAG ActionType = "add_tag"
const ACTION_REMOVE_TAG ActionType = "remove_tag"
const ACTION_SEND_MESSAGE ActionType = "send_message"
const ACTION_SEND_TEMPLATE ActionType = "send_template"
const ACTION_CREATE_ORDER ActionType = "create_order"
const ACTION_WEBHOOK ActionType = "webhook"

// Action is the side effect a rule or workflow node asks the dispatch layer to
// perform.
type Action struct {
	Type       ActionType     `json:"type"`
	TargetId   string         `json:"targetId,omitempty"`
	TemplateId string         `json:"templateId,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// SmartRoutingRule maps an ordered condition list to an action. Rules of a team
// form a total order by (priority, id); lower priority evaluates first.
type SmartRoutingRule struct {
	Id           string      `json:"id"`
	TeamId       string      `json:"teamId"`
	Name         string      `json:"name"`
	Conditions   []Condition `json:"conditions"`
	Action       Action      `json:"action"`
	Priority     int         `json:"priority"`
	IsActive     bool        `json:"isActive"`
	NonExclusive bool        `json:"nonExclusive"`
	MatchedCount int64       `json:"matchedCount"`
}

type MatchPolicy string

const MATCH_POLICY_FIRST MatchPolicy = "first_match"
const MATCH_POLICY_ALL MatchPolicy = "all_matches"

type AutoResponderTrigger string

const RESPONDER_TRIGGER_KEYWORD AutoResponderTrigger = "keyword"
const RESPONDER_TRIGGER_FIRST_MESSAGE AutoResponderTrigger = "first_message"
const RESPONDER_TRIGGER_OUTSIDE_HOURS AutoResponderTrigger = "outside_hours"

// AutoResponder is a lightweight automatic reply rule evaluated on inbound
// messages, independent of the routing rule chain.
type AutoResponder struct {
	Id             string               `json:"id"`
	TeamId         string               `json:"teamId"`
	Name           string               `json:"name"`
	TriggerType    AutoResponderTrigger `json:"triggerType"`
	TriggerConfig  map[string]any       `json:"triggerConfig"`
	ResponseType   string               `json:"responseType"`
	ResponseConfig map[string]any       `json:"responseConfig"`
	Platforms      []string             `json:"platforms"`
	IsActive       bool                 `json:"isActive"`
	TriggeredCount int64                `json:"triggeredCount"`
}
