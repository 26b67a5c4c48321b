package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
)

// Storage is an in-memory implementation of every repository interface, used
// in tests and for embedded single-process runs.
type Storage struct {
	mu sync.RWMutex

	rules         map[string]map[string]model.SmartRoutingRule // teamId -> ruleId -> rule
	matchPolicies map[string]model.MatchPolicy
	responders    map[string]map[string]model.AutoResponder
	workflows     map[string]model.Workflow
	runs          map[string]model.WorkflowRun
	chatbots      map[string]model.ChatbotFlow
	sessions      map[string]model.ChatbotSession
	sessionByConv map[string]string
	scheduled     map[string]model.ScheduledMessage
	checkpoint    time.Time
	webhooks      map[string]model.WebhookEvent
}

var _ persistence.RuleStorage = new(Storage)
var _ persistence.WorkflowStorage = new(Storage)
var _ persistence.ChatbotStorage = new(Storage)
var _ persistence.ScheduledMessageStorage = new(Storage)
var _ persistence.WebhookStorage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		rules:         make(map[string]map[string]model.SmartRoutingRule),
		matchPolicies: make(map[string]model.MatchPolicy),
		responders:    make(map[string]map[string]model.AutoResponder),
		workflows:     make(map[string]model.Workflow),
		runs:          make(map[string]model.WorkflowRun),
		chatbots:      make(map[string]model.ChatbotFlow),
		sessions:      make(map[string]model.ChatbotSession),
		sessionByConv: make(map[string]string),
		scheduled:     make(map[string]model.ScheduledMessage),
		webhooks:      make(map[string]model.WebhookEvent),
	}
}

// rules

func (s *Storage) SaveRule(rule model.SmartRoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rules[rule.TeamId] == nil {
		s.rules[rule.TeamId] = make(map[string]model.SmartRoutingRule)
	}
	s.rules[rule.TeamId][rule.Id] = rule
	return nil
}

func (s *Storage) DeleteRule(teamId string, ruleId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules[teamId], ruleId)
	return nil
}

func (s *Storage) GetRule(teamId string, ruleId string) (*model.SmartRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[teamId][ruleId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "rule", Id: ruleId}
	}
	return &rule, nil
}

func (s *Storage) ListRules(teamId string) ([]model.SmartRoutingRule, error) {
	return s.listRules(teamId, false)
}

func (s *Storage) GetActiveRules(teamId string) ([]model.SmartRoutingRule, error) {
	return s.listRules(teamId, true)
}

func (s *Storage) listRules(teamId string, activeOnly bool) ([]model.SmartRoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]model.SmartRoutingRule, 0, len(s.rules[teamId]))
	for _, rule := range s.rules[teamId] {
		if activeOnly && !rule.IsActive {
			continue
		}
		rules = append(rules, rule)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Id < rules[j].Id
	})
	return rules, nil
}

func (s *Storage) Reorder(teamId string, ruleIds []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for priority, ruleId := range ruleIds {
		rule, ok := s.rules[teamId][ruleId]
		if !ok {
			continue
		}
		rule.Priority = priority
		s.rules[teamId][ruleId] = rule
	}
	return nil
}

func (s *Storage) IncrementMatchedCount(teamId string, ruleId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[teamId][ruleId]
	if !ok {
		return persistence.NotFoundError{Kind: "rule", Id: ruleId}
	}
	rule.MatchedCount++
	s.rules[teamId][ruleId] = rule
	return nil
}

func (s *Storage) GetMatchPolicy(teamId string) (model.MatchPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if policy, ok := s.matchPolicies[teamId]; ok {
		return policy, nil
	}
	return model.MATCH_POLICY_FIRST, nil
}

func (s *Storage) SaveMatchPolicy(teamId string, policy model.MatchPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchPolicies[teamId] = policy
	return nil
}

func (s *Storage) SaveAutoResponder(responder model.AutoResponder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responders[responder.TeamId] == nil {
		s.responders[responder.TeamId] = make(map[string]model.AutoResponder)
	}
	s.responders[responder.TeamId][responder.Id] = responder
	return nil
}

func (s *Storage) ListActiveAutoResponders(teamId string) ([]model.AutoResponder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	responders := make([]model.AutoResponder, 0)
	for _, r := range s.responders[teamId] {
		if r.IsActive {
			responders = append(responders, r)
		}
	}
	sort.Slice(responders, func(i, j int) bool { return responders[i].Id < responders[j].Id })
	return responders, nil
}

func (s *Storage) IncrementTriggeredCount(teamId string, responderId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	responder, ok := s.responders[teamId][responderId]
	if !ok {
		return persistence.NotFoundError{Kind: "auto responder", Id: responderId}
	}
	responder.TriggeredCount++
	s.responders[teamId][responderId] = responder
	return nil
}

// workflows and runs

func (s *Storage) SaveWorkflow(wf model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.Id] = wf
	return nil
}

func (s *Storage) DeleteWorkflow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

func (s *Storage) GetWorkflow(id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "workflow", Id: id}
	}
	return &wf, nil
}

func (s *Storage) IncrementRunCount(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return persistence.NotFoundError{Kind: "workflow", Id: id}
	}
	wf.RunCount++
	wf.LastRun = &at
	s.workflows[id] = wf
	return nil
}

func (s *Storage) ListWorkflows(teamId string) ([]model.Workflow, error) {
	return s.listWorkflows(teamId, false)
}

func (s *Storage) ListActiveWorkflows(teamId string) ([]model.Workflow, error) {
	return s.listWorkflows(teamId, true)
}

func (s *Storage) listWorkflows(teamId string, activeOnly bool) ([]model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflows := make([]model.Workflow, 0)
	for _, wf := range s.workflows {
		if wf.TeamId != teamId {
			continue
		}
		if activeOnly && !wf.IsActive {
			continue
		}
		workflows = append(workflows, wf)
	}
	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Id < workflows[j].Id })
	return workflows, nil
}

func (s *Storage) SaveRun(run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Id] = run
	return nil
}

func (s *Storage) GetRun(id string) (*model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "run", Id: id}
	}
	return &run, nil
}

func (s *Storage) ListRuns(workflowId string) ([]model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := make([]model.WorkflowRun, 0)
	for _, run := range s.runs {
		if run.WorkflowId == workflowId {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Id < runs[j].Id })
	return runs, nil
}

// chatbot flows and sessions

func (s *Storage) SaveFlow(flow model.ChatbotFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatbots[flow.Id] = flow
	return nil
}

func (s *Storage) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chatbots, id)
	return nil
}

func (s *Storage) GetFlow(id string) (*model.ChatbotFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.chatbots[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "chatbot flow", Id: id}
	}
	return &flow, nil
}

func (s *Storage) ListFlows(teamId string) ([]model.ChatbotFlow, error) {
	return s.listFlows(teamId, false, "")
}

func (s *Storage) ListActiveFlows(teamId string, platform string) ([]model.ChatbotFlow, error) {
	return s.listFlows(teamId, true, platform)
}

func (s *Storage) listFlows(teamId string, activeOnly bool, platform string) ([]model.ChatbotFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]model.ChatbotFlow, 0)
	for _, flow := range s.chatbots {
		if flow.TeamId != teamId {
			continue
		}
		if activeOnly && !flow.IsActive {
			continue
		}
		if platform != "" && len(flow.Platforms) > 0 && !containsString(flow.Platforms, platform) {
			continue
		}
		flows = append(flows, flow)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].Id < flows[j].Id })
	return flows, nil
}

func (s *Storage) IncrementConversationCount(flowId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.chatbots[flowId]
	if !ok {
		return persistence.NotFoundError{Kind: "chatbot flow", Id: flowId}
	}
	flow.ConversationCount++
	s.chatbots[flowId] = flow
	return nil
}

func (s *Storage) SaveSession(session model.ChatbotSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Id] = session
	if session.State == model.SESSION_ENDED {
		if s.sessionByConv[session.ConversationId] == session.Id {
			delete(s.sessionByConv, session.ConversationId)
		}
	} else {
		s.sessionByConv[session.ConversationId] = session.Id
	}
	return nil
}

func (s *Storage) GetSession(id string) (*model.ChatbotSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "session", Id: id}
	}
	return &session, nil
}

func (s *Storage) GetActiveSession(conversationId string) (*model.ChatbotSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionId, ok := s.sessionByConv[conversationId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "session", Id: conversationId}
	}
	session := s.sessions[sessionId]
	return &session, nil
}

// scheduled messages

func (s *Storage) SaveMessage(msg model.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[msg.Id] = msg
	return nil
}

func (s *Storage) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
	return nil
}

func (s *Storage) GetMessage(id string) (*model.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.scheduled[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "scheduled message", Id: id}
	}
	return &msg, nil
}

func (s *Storage) ListMessages(teamId string) ([]model.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]model.ScheduledMessage, 0)
	for _, msg := range s.scheduled {
		if msg.TeamId == teamId {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Id < msgs[j].Id })
	return msgs, nil
}

func (s *Storage) ListByStatus(status model.ScheduledMessageStatus) ([]model.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]model.ScheduledMessage, 0)
	for _, msg := range s.scheduled {
		if msg.Status == status {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Id < msgs[j].Id })
	return msgs, nil
}

func (s *Storage) GetCheckpoint() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint, nil
}

func (s *Storage) SaveCheckpoint(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = t
	return nil
}

// webhook events

func (s *Storage) SaveEvent(event model.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[event.Id] = event
	return nil
}

func (s *Storage) GetEvent(id string) (*model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.webhooks[id]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "webhook event", Id: id}
	}
	return &event, nil
}

func (s *Storage) ListEventsByStatus(teamId string, status model.DeliveryStatus) ([]model.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]model.WebhookEvent, 0)
	for _, event := range s.webhooks {
		if event.Status != status {
			continue
		}
		if teamId != "" && event.TeamId != teamId {
			continue
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })
	return events, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
