package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

type ruleDao struct {
	baseDao
	encDecRule      util.EncoderDecoder[model.SmartRoutingRule]
	encDecResponder util.EncoderDecoder[model.AutoResponder]
}

var _ persistence.RuleStorage = new(ruleDao)

func NewRuleStorage(conf Config) *ruleDao {
	return &ruleDao{
		baseDao:         *newBaseDao(conf),
		encDecRule:      util.NewJsonEncoderDecoder[model.SmartRoutingRule](),
		encDecResponder: util.NewJsonEncoderDecoder[model.AutoResponder](),
	}
}

func (dao *ruleDao) rulesKey(teamId string) string {
	return dao.getNamespaceKey("rules", teamId)
}

func (dao *ruleDao) ruleStatsKey(teamId string) string {
	return dao.getNamespaceKey("rulestats", teamId)
}

func (dao *ruleDao) SaveRule(rule model.SmartRoutingRule) error {
	ctx := context.Background()
	data, err := dao.encDecRule.Encode(rule)
	if err != nil {
		return err
	}
	if err := dao.redisClient.HSet(ctx, dao.rulesKey(rule.TeamId), rule.Id, data).Err(); err != nil {
		logger.Error("error while saving rule", zap.String("rule", rule.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) DeleteRule(teamId string, ruleId string) error {
	ctx := context.Background()
	pipe := dao.redisClient.Pipeline()
	pipe.HDel(ctx, dao.rulesKey(teamId), ruleId)
	pipe.HDel(ctx, dao.ruleStatsKey(teamId), ruleId)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) GetRule(teamId string, ruleId string) (*model.SmartRoutingRule, error) {
	ctx := context.Background()
	data, err := dao.redisClient.HGet(ctx, dao.rulesKey(teamId), ruleId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "rule", Id: ruleId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	rule, err := dao.encDecRule.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	count, err := dao.redisClient.HGet(ctx, dao.ruleStatsKey(teamId), ruleId).Int64()
	if err == nil {
		rule.MatchedCount = count
	}
	return rule, nil
}

func (dao *ruleDao) ListRules(teamId string) ([]model.SmartRoutingRule, error) {
	return dao.listRules(teamId, false)
}

func (dao *ruleDao) GetActiveRules(teamId string) ([]model.SmartRoutingRule, error) {
	return dao.listRules(teamId, true)
}

func (dao *ruleDao) listRules(teamId string, activeOnly bool) ([]model.SmartRoutingRule, error) {
	ctx := context.Background()
	entries, err := dao.redisClient.HGetAll(ctx, dao.rulesKey(teamId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	counts, _ := dao.redisClient.HGetAll(ctx, dao.ruleStatsKey(teamId)).Result()
	rules := make([]model.SmartRoutingRule, 0, len(entries))
	for _, data := range entries {
		rule, err := dao.encDecRule.Decode([]byte(data))
		if err != nil {
			logger.Error("can not decode routing rule", zap.String("team", teamId), zap.Error(err))
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		if c, ok := counts[rule.Id]; ok {
			rule.MatchedCount = parseInt64(c)
		}
		rules = append(rules, *rule)
	}
	sortRules(rules)
	return rules, nil
}

// sortRules orders by (priority, id); ties on priority break on id so the
// evaluation order is stable and reproducible.
func sortRules(rules []model.SmartRoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Id < rules[j].Id
	})
}

// Reorder rewrites rule priorities to match the given order in a single
// MULTI/EXEC, so no evaluation observes a partially applied ordering.
func (dao *ruleDao) Reorder(teamId string, ruleIds []string) error {
	ctx := context.Background()
	key := dao.rulesKey(teamId)
	pipe := dao.redisClient.TxPipeline()
	for priority, ruleId := range ruleIds {
		data, err := dao.redisClient.HGet(ctx, key, ruleId).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				continue
			}
			return persistence.StorageLayerError{Message: err.Error()}
		}
		rule, err := dao.encDecRule.Decode([]byte(data))
		if err != nil {
			return err
		}
		rule.Priority = priority
		encoded, err := dao.encDecRule.Encode(*rule)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, key, ruleId, encoded)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) IncrementMatchedCount(teamId string, ruleId string) error {
	ctx := context.Background()
	if err := dao.redisClient.HIncrBy(ctx, dao.ruleStatsKey(teamId), ruleId, 1).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) GetMatchPolicy(teamId string) (model.MatchPolicy, error) {
	ctx := context.Background()
	policy, err := dao.redisClient.HGet(ctx, dao.getNamespaceKey("match_policy"), teamId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return model.MATCH_POLICY_FIRST, nil
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return model.MatchPolicy(policy), nil
}

func (dao *ruleDao) SaveMatchPolicy(teamId string, policy model.MatchPolicy) error {
	ctx := context.Background()
	if err := dao.redisClient.HSet(ctx, dao.getNamespaceKey("match_policy"), teamId, string(policy)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) respondersKey(teamId string) string {
	return dao.getNamespaceKey("responders", teamId)
}

func (dao *ruleDao) SaveAutoResponder(responder model.AutoResponder) error {
	ctx := context.Background()
	data, err := dao.encDecResponder.Encode(responder)
	if err != nil {
		return err
	}
	if err := dao.redisClient.HSet(ctx, dao.respondersKey(responder.TeamId), responder.Id, data).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (dao *ruleDao) ListActiveAutoResponders(teamId string) ([]model.AutoResponder, error) {
	ctx := context.Background()
	entries, err := dao.redisClient.HGetAll(ctx, dao.respondersKey(teamId)).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	responders := make([]model.AutoResponder, 0, len(entries))
	for _, data := range entries {
		responder, err := dao.encDecResponder.Decode([]byte(data))
		if err != nil {
			continue
		}
		if responder.IsActive {
			responders = append(responders, *responder)
		}
	}
	sort.Slice(responders, func(i, j int) bool { return responders[i].Id < responders[j].Id })
	return responders, nil
}

func (dao *ruleDao) IncrementTriggeredCount(teamId string, responderId string) error {
	ctx := context.Background()
	if err := dao.redisClient.HIncrBy(ctx, dao.getNamespaceKey("responderstats", teamId), responderId, 1).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
