package redis

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

type workflowDao struct {
	baseDao
	encDecWf  util.EncoderDecoder[model.Workflow]
	encDecRun util.EncoderDecoder[model.WorkflowRun]
}

var _ persistence.WorkflowStorage = new(workflowDao)

func NewWorkflowStorage(conf Config) *workflowDao {
	return &workflowDao{
		baseDao:   *newBaseDao(conf),
		encDecWf:  util.NewJsonEncoderDecoder[model.Workflow](),
		encDecRun: util.NewJsonEncoderDecoder[model.WorkflowRun](),
	}
}

func (dao *workflowDao) SaveWorkflow(wf model.Workflow) error {
	ctx := context.Background()
	data, err := dao.encDecWf.Encode(wf)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HSet(ctx, dao.getNamespaceKey("workflows"), wf.Id, data)
	pipe.SAdd(ctx, dao.getNamespaceKey("workflowidx", wf.TeamId), wf.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while saving workflow", zap.String("workflow", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *workflowDao) DeleteWorkflow(id string) error {
	ctx := context.Background()
	wf, err := dao.GetWorkflow(id)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HDel(ctx, dao.getNamespaceKey("workflows"), id)
	pipe.HDel(ctx, dao.getNamespaceKey("workflowstats"), id)
	pipe.HDel(ctx, dao.getNamespaceKey("workflowlastrun"), id)
	pipe.SRem(ctx, dao.getNamespaceKey("workflowidx", wf.TeamId), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *workflowDao) GetWorkflow(id string) (*model.Workflow, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("workflows"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "workflow", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	wf, err := dao.encDecWf.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	count, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("workflowstats"), id).Int64()
	if err == nil {
		wf.RunCount = count
	}
	lastRun, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("workflowlastrun"), id).Result()
	if err == nil {
		if at, parseErr := time.Parse(time.RFC3339Nano, lastRun); parseErr == nil {
			wf.LastRun = &at
		}
	}
	return wf, nil
}

func (dao *workflowDao) IncrementRunCount(id string, at time.Time) error {
	ctx := context.Background()
	pipe := dao.redisClient.Pipeline()
	pipe.HIncrBy(ctx, dao.getNamespaceKey("workflowstats"), id, 1)
	pipe.HSet(ctx, dao.getNamespaceKey("workflowlastrun"), id, at.Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *workflowDao) ListWorkflows(teamId string) ([]model.Workflow, error) {
	return dao.listWorkflows(teamId, false)
}

func (dao *workflowDao) ListActiveWorkflows(teamId string) ([]model.Workflow, error) {
	return dao.listWorkflows(teamId, true)
}

func (dao *workflowDao) listWorkflows(teamId string, activeOnly bool) ([]model.Workflow, error) {
	ctx := context.Background()
	ids, err := dao.redisClient.SMembers(ctx, dao.getNamespaceKey("workflowidx", teamId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(ids)
	workflows := make([]model.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := dao.GetWorkflow(id)
		if err != nil {
			continue
		}
		if activeOnly && !wf.IsActive {
			continue
		}
		workflows = append(workflows, *wf)
	}
	return workflows, nil
}

func (dao *workflowDao) SaveRun(run model.WorkflowRun) error {
	ctx := context.Background()
	data, err := dao.encDecRun.Encode(run)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HSet(ctx, dao.getNamespaceKey("runs"), run.Id, data)
	pipe.SAdd(ctx, dao.getNamespaceKey("runidx", run.WorkflowId), run.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error while saving run", zap.String("run", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *workflowDao) GetRun(id string) (*model.WorkflowRun, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("runs"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "run", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return dao.encDecRun.Decode([]byte(data))
}

func (dao *workflowDao) ListRuns(workflowId string) ([]model.WorkflowRun, error) {
	ctx := context.Background()
	ids, err := dao.redisClient.SMembers(ctx, dao.getNamespaceKey("runidx", workflowId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(ids)
	runs := make([]model.WorkflowRun, 0, len(ids))
	for _, id := range ids {
		run, err := dao.GetRun(id)
		if err != nil {
			continue
		}
		runs = append(runs, *run)
	}
	return runs, nil
}
