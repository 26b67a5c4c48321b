package service

import (
	"context"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	"github.com/commflow/commflow/webhook"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlatformSender hands a customer-facing action to the owning channel
// adapter. Hand-off acknowledgement, not delivery confirmation.
type PlatformSender interface {
	Send(ctx context.Context, teamId string, correlationId string, action model.Action) error
}

// LogSender is the default sender when no channel adapter is wired. It records
// the action and acknowledges.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	logger.Info("action dispatched",
		zap.String("teamId", teamId),
		zap.String("correlationId", correlationId),
		zap.String("type", string(action.Type)),
		zap.String("targetId", action.TargetId))
	return nil
}

const OUTBOUND_QUEUE = "outbound_actions"

// OutboundMessage is the envelope channel connectors drain from the outbound
// queue to deliver actions on their platform.
type OutboundMessage struct {
	TeamId        string       `json:"teamId"`
	CorrelationId string       `json:"correlationId"`
	Action        model.Action `json:"action"`
}

// QueueSender hands actions off through the shared work queue so channel
// connectors running outside this process can pick them up.
type QueueSender struct {
	queue  persistence.Queue
	encDec util.EncoderDecoder[OutboundMessage]
}

func NewQueueSender(queue persistence.Queue) *QueueSender {
	return &QueueSender{
		queue:  queue,
		encDec: util.NewJsonEncoderDecoder[OutboundMessage](),
	}
}

func (s *QueueSender) Send(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	data, err := s.encDec.Encode(OutboundMessage{
		TeamId:        teamId,
		CorrelationId: correlationId,
		Action:        action,
	})
	if err != nil {
		return err
	}
	return s.queue.Push(OUTBOUND_QUEUE, data)
}

// EndpointProvider resolves the webhook endpoint configured for a team.
type EndpointProvider interface {
	WebhookEndpoint(teamId string) (string, error)
}

type StaticEndpoints map[string]string

func (s StaticEndpoints) WebhookEndpoint(teamId string) (string, error) {
	return s[teamId], nil
}

// ActionDispatcher routes actions produced by rules, workflows and chatbot
// flows: webhook actions become durable webhook deliveries, everything else
// goes to the platform sender.
type ActionDispatcher struct {
	webhooks  *webhook.Dispatcher
	endpoints EndpointProvider
	sender    PlatformSender
	now       func() time.Time
}

func NewActionDispatcher(webhooks *webhook.Dispatcher, endpoints EndpointProvider, sender PlatformSender) *ActionDispatcher {
	if sender == nil {
		sender = LogSender{}
	}
	return &ActionDispatcher{
		webhooks:  webhooks,
		endpoints: endpoints,
		sender:    sender,
		now:       time.Now,
	}
}

func (d *ActionDispatcher) Enqueue(ctx context.Context, teamId string, correlationId string, action model.Action) error {
	if action.Type == model.ACTION_WEBHOOK {
		return d.enqueueWebhook(teamId, action)
	}
	return d.sender.Send(ctx, teamId, correlationId, action)
}

func (d *ActionDispatcher) enqueueWebhook(teamId string, action model.Action) error {
	endpoint, _ := action.Params["endpoint"].(string)
	if endpoint == "" && d.endpoints != nil {
		resolved, err := d.endpoints.WebhookEndpoint(teamId)
		if err != nil {
			return err
		}
		endpoint = resolved
	}
	eventType, _ := action.Params["event_type"].(string)
	if eventType == "" {
		eventType = "automation.action"
	}
	platform, _ := action.Params["platform"].(string)
	return d.webhooks.Enqueue(model.WebhookEvent{
		Id:        uuid.NewString(),
		TeamId:    teamId,
		Platform:  platform,
		EventType: eventType,
		Payload:   action.Params,
		Endpoint:  endpoint,
		Status:    model.DELIVERY_PENDING,
		CreatedAt: d.now(),
	})
}
