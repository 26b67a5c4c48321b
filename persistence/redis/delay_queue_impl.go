package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/persistence"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

type redisDelayQueue struct {
	baseDao
}

var _ persistence.DelayQueue = new(redisDelayQueue)

func NewRedisDelayQueue(conf Config) *redisDelayQueue {
	return &redisDelayQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisDelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	key := rq.getNamespaceKey("delay", queueName)
	ctx := context.Background()
	dueTime := time.Now().Add(delay).UnixMilli()
	member := rd.Z{
		Score:  float64(dueTime),
		Member: message,
	}
	if err := rq.redisClient.ZAdd(ctx, key, member).Err(); err != nil {
		logger.Error("error while push to delay queue", zap.String("queue", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

// Pop returns due messages and removes them in one pipeline so a message is
// handed out at most once per due time.
func (rq *redisDelayQueue) Pop(queueName string) ([]string, error) {
	key := rq.getNamespaceKey("delay", queueName)
	ctx := context.Background()
	currentTime := time.Now().UnixMilli()
	pipe := rq.redisClient.Pipeline()

	opt := &rd.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(currentTime, 10),
	}
	zr := pipe.ZRangeByScore(ctx, key, opt)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(currentTime, 10))

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while pop from delay queue", zap.String("queue", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}

	res, err := zr.Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}
