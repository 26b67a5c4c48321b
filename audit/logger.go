package audit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileCollector(fileName string) (*LogFileCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &LogFileCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileCollector) RecordRuleMatch(teamId string, ruleId string, eventId string, actionType string) {
	lc.logger.Info("rule_match",
		zap.String("teamId", teamId),
		zap.String("ruleId", ruleId),
		zap.String("eventId", eventId),
		zap.String("actionType", actionType))
}

func (lc *LogFileCollector) RecordNodeOutcome(runId string, workflowId string, nodeId string, outcome string, detail map[string]any) {
	lc.logger.Info("node_outcome",
		zap.String("runId", runId),
		zap.String("workflowId", workflowId),
		zap.String("nodeId", nodeId),
		zap.String("outcome", outcome),
		zap.Any("detail", detail))
}

func (lc *LogFileCollector) RecordDelivery(deliveryId string, teamId string, endpoint string, status string, attempt int, reason string) {
	lc.logger.Info("delivery",
		zap.String("deliveryId", deliveryId),
		zap.String("teamId", teamId),
		zap.String("endpoint", endpoint),
		zap.String("status", status),
		zap.Int("attempt", attempt),
		zap.String("reason", reason))
}

func (lc *LogFileCollector) RecordSessionEnd(sessionId string, flowId string, conversationId string, reason string) {
	lc.logger.Info("session_end",
		zap.String("sessionId", sessionId),
		zap.String("flowId", flowId),
		zap.String("conversationId", conversationId),
		zap.String("reason", reason))
}
