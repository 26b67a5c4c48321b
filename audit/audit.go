package audit

type CollectorConfig struct {
	FileName      string
	CollectorType CollectorType
}

type CollectorType string

const LOG_FILE_COLLECTOR CollectorType = "LOG_FILE_COLLECTOR"

// Collector records the automation audit trail: rule matches, workflow node
// outcomes and webhook delivery attempts.
type Collector interface {
	RecordRuleMatch(teamId string, ruleId string, eventId string, actionType string)
	RecordNodeOutcome(runId string, workflowId string, nodeId string, outcome string, detail map[string]any)
	RecordDelivery(deliveryId string, teamId string, endpoint string, status string, attempt int, reason string)
	RecordSessionEnd(sessionId string, flowId string, conversationId string, reason string)
}

var collector Collector = noopCollector{}

func InitCollector(config CollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_COLLECTOR:
		c, err := NewLogFileCollector(config.FileName)
		if err != nil {
			return err
		}
		collector = c
	}
	return nil
}

func RecordRuleMatch(teamId string, ruleId string, eventId string, actionType string) {
	collector.RecordRuleMatch(teamId, ruleId, eventId, actionType)
}

func RecordNodeOutcome(runId string, workflowId string, nodeId string, outcome string, detail map[string]any) {
	collector.RecordNodeOutcome(runId, workflowId, nodeId, outcome, detail)
}

func RecordDelivery(deliveryId string, teamId string, endpoint string, status string, attempt int, reason string) {
	collector.RecordDelivery(deliveryId, teamId, endpoint, status, attempt, reason)
}

func RecordSessionEnd(sessionId string, flowId string, conversationId string, reason string) {
	collector.RecordSessionEnd(sessionId, flowId, conversationId, reason)
}

type noopCollector struct{}

func (noopCollector) RecordRuleMatch(string, string, string, string)                   {}
func (noopCollector) RecordNodeOutcome(string, string, string, string, map[string]any) {}
func (noopCollector) RecordDelivery(string, string, string, string, int, string)       {}
func (noopCollector) RecordSessionEnd(string, string, string, string)                  {}
