package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	rd "github.com/go-redis/redis/v9"
)

type scheduledDao struct {
	baseDao
	encDec util.EncoderDecoder[model.ScheduledMessage]
}

var _ persistence.ScheduledMessageStorage = new(scheduledDao)

func NewScheduledMessageStorage(conf Config) *scheduledDao {
	return &scheduledDao{
		baseDao: *newBaseDao(conf),
		encDec:  util.NewJsonEncoderDecoder[model.ScheduledMessage](),
	}
}

func (dao *scheduledDao) SaveMessage(msg model.ScheduledMessage) error {
	ctx := context.Background()
	data, err := dao.encDec.Encode(msg)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HSet(ctx, dao.getNamespaceKey("scheduled"), msg.Id, data)
	pipe.SAdd(ctx, dao.getNamespaceKey("scheduledidx", msg.TeamId), msg.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *scheduledDao) DeleteMessage(id string) error {
	ctx := context.Background()
	msg, err := dao.GetMessage(id)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HDel(ctx, dao.getNamespaceKey("scheduled"), id)
	pipe.SRem(ctx, dao.getNamespaceKey("scheduledidx", msg.TeamId), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *scheduledDao) GetMessage(id string) (*model.ScheduledMessage, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("scheduled"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "scheduled message", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return dao.encDec.Decode([]byte(data))
}

func (dao *scheduledDao) ListMessages(teamId string) ([]model.ScheduledMessage, error) {
	ctx := context.Background()
	ids, err := dao.redisClient.SMembers(ctx, dao.getNamespaceKey("scheduledidx", teamId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(ids)
	msgs := make([]model.ScheduledMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := dao.GetMessage(id)
		if err != nil {
			continue
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}

func (dao *scheduledDao) ListByStatus(status model.ScheduledMessageStatus) ([]model.ScheduledMessage, error) {
	ctx := context.Background()
	entries, err := dao.redisClient.HGetAll(ctx, dao.getNamespaceKey("scheduled")).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	msgs := make([]model.ScheduledMessage, 0)
	for _, data := range entries {
		msg, err := dao.encDec.Decode([]byte(data))
		if err != nil {
			continue
		}
		if msg.Status == status {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Id < msgs[j].Id })
	return msgs, nil
}

func (dao *scheduledDao) GetCheckpoint() (time.Time, error) {
	ctx := context.Background()
	ms, err := dao.redisClient.Get(ctx, dao.getNamespaceKey("scheduler", "checkpoint")).Int64()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, persistence.StorageLayerError{Message: err.Error()}
	}
	return time.UnixMilli(ms), nil
}

func (dao *scheduledDao) SaveCheckpoint(t time.Time) error {
	ctx := context.Background()
	if err := dao.redisClient.Set(ctx, dao.getNamespaceKey("scheduler", "checkpoint"), t.UnixMilli(), 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
