package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	rd "github.com/go-redis/redis/v9"
)

type webhookDao struct {
	baseDao
	encDec util.EncoderDecoder[model.WebhookEvent]
}

var _ persistence.WebhookStorage = new(webhookDao)

func NewWebhookStorage(conf Config) *webhookDao {
	return &webhookDao{
		baseDao: *newBaseDao(conf),
		encDec:  util.NewJsonEncoderDecoder[model.WebhookEvent](),
	}
}

func (dao *webhookDao) SaveEvent(event model.WebhookEvent) error {
	ctx := context.Background()
	data, err := dao.encDec.Encode(event)
	if err != nil {
		return err
	}
	if err := dao.redisClient.HSet(ctx, dao.getNamespaceKey("webhooks"), event.Id, data).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *webhookDao) GetEvent(id string) (*model.WebhookEvent, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("webhooks"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "webhook event", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return dao.encDec.Decode([]byte(data))
}

func (dao *webhookDao) ListEventsByStatus(teamId string, status model.DeliveryStatus) ([]model.WebhookEvent, error) {
	ctx := context.Background()
	entries, err := dao.redisClient.HGetAll(ctx, dao.getNamespaceKey("webhooks")).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	events := make([]model.WebhookEvent, 0)
	for _, data := range entries {
		event, err := dao.encDec.Decode([]byte(data))
		if err != nil {
			continue
		}
		if event.Status != status {
			continue
		}
		if teamId != "" && event.TeamId != teamId {
			continue
		}
		events = append(events, *event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Id < events[j].Id })
	return events, nil
}
