package redis

import (
	"context"
	"errors"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/persistence"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

type redisQueue struct {
	baseDao
}

var _ persistence.Queue = new(redisQueue)

func NewRedisQueue(conf Config) *redisQueue {
	return &redisQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisQueue) Push(queueName string, message []byte) error {
	key := rq.getNamespaceKey("queue", queueName)
	ctx := context.Background()
	if err := rq.redisClient.LPush(ctx, key, message).Err(); err != nil {
		logger.Error("error while push to redis list", zap.String("queue", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisQueue) Pop(queueName string, batchSize int) ([]string, error) {
	key := rq.getNamespaceKey("queue", queueName)
	ctx := context.Background()
	res, err := rq.redisClient.RPopCount(ctx, key, batchSize).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from redis list", zap.String("queue", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}
