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

type chatbotDao struct {
	baseDao
	encDecFlow    util.EncoderDecoder[model.ChatbotFlow]
	encDecSession util.EncoderDecoder[model.ChatbotSession]
}

var _ persistence.ChatbotStorage = new(chatbotDao)

func NewChatbotStorage(conf Config) *chatbotDao {
	return &chatbotDao{
		baseDao:       *newBaseDao(conf),
		encDecFlow:    util.NewJsonEncoderDecoder[model.ChatbotFlow](),
		encDecSession: util.NewJsonEncoderDecoder[model.ChatbotSession](),
	}
}

func (dao *chatbotDao) SaveFlow(flow model.ChatbotFlow) error {
	ctx := context.Background()
	data, err := dao.encDecFlow.Encode(flow)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HSet(ctx, dao.getNamespaceKey("chatbots"), flow.Id, data)
	pipe.SAdd(ctx, dao.getNamespaceKey("chatbotidx", flow.TeamId), flow.Id)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *chatbotDao) DeleteFlow(id string) error {
	ctx := context.Background()
	flow, err := dao.GetFlow(id)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HDel(ctx, dao.getNamespaceKey("chatbots"), id)
	pipe.SRem(ctx, dao.getNamespaceKey("chatbotidx", flow.TeamId), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *chatbotDao) GetFlow(id string) (*model.ChatbotFlow, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("chatbots"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "chatbot flow", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	flow, err := dao.encDecFlow.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	count, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("chatbotstats"), id).Int64()
	if err == nil {
		flow.ConversationCount = count
	}
	return flow, nil
}

func (dao *chatbotDao) ListFlows(teamId string) ([]model.ChatbotFlow, error) {
	return dao.listFlows(teamId, false, "")
}

func (dao *chatbotDao) ListActiveFlows(teamId string, platform string) ([]model.ChatbotFlow, error) {
	return dao.listFlows(teamId, true, platform)
}

func (dao *chatbotDao) listFlows(teamId string, activeOnly bool, platform string) ([]model.ChatbotFlow, error) {
	ctx := context.Background()
	ids, err := dao.redisClient.SMembers(ctx, dao.getNamespaceKey("chatbotidx", teamId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	sort.Strings(ids)
	flows := make([]model.ChatbotFlow, 0, len(ids))
	for _, id := range ids {
		flow, err := dao.GetFlow(id)
		if err != nil {
			continue
		}
		if activeOnly && !flow.IsActive {
			continue
		}
		if platform != "" && len(flow.Platforms) > 0 && !containsString(flow.Platforms, platform) {
			continue
		}
		flows = append(flows, *flow)
	}
	return flows, nil
}

func (dao *chatbotDao) IncrementConversationCount(flowId string) error {
	ctx := context.Background()
	if err := dao.redisClient.HIncrBy(ctx, dao.getNamespaceKey("chatbotstats"), flowId, 1).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *chatbotDao) SaveSession(session model.ChatbotSession) error {
	ctx := context.Background()
	data, err := dao.encDecSession.Encode(session)
	if err != nil {
		return err
	}
	pipe := dao.redisClient.Pipeline()
	pipe.HSet(ctx, dao.getNamespaceKey("sessions"), session.Id, data)
	if session.State == model.SESSION_ENDED {
		pipe.HDel(ctx, dao.getNamespaceKey("session_by_conv"), session.ConversationId)
	} else {
		pipe.HSet(ctx, dao.getNamespaceKey("session_by_conv"), session.ConversationId, session.Id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *chatbotDao) GetSession(id string) (*model.ChatbotSession, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("sessions"), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "session", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return dao.encDecSession.Decode([]byte(data))
}

func (dao *chatbotDao) GetActiveSession(conversationId string) (*model.ChatbotSession, error) {
	ctx := context.Background()
	sessionId, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("session_by_conv"), conversationId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "session", Id: conversationId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return dao.GetSession(sessionId)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
