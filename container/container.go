package container

import (
	"github.com/commflow/commflow/cache"
	"github.com/commflow/commflow/config"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/persistence/memory"
	rd "github.com/commflow/commflow/persistence/redis"
)

// Stores bundles the per-concern storage implementations behind one value
// satisfying the management surface's union interface.
type Stores struct {
	persistence.RuleStorage
	persistence.WorkflowStorage
	persistence.ChatbotStorage
	persistence.ScheduledMessageStorage
	persistence.WebhookStorage
}

// Container owns the storage and cache wiring selected by configuration.
type Container struct {
	config     config.Config
	Stores     Stores
	Queue      persistence.Queue
	DelayQueue persistence.DelayQueue
	Cache      *cache.DefinitionCache
}

func NewContainer(conf config.Config) *Container {
	c := &Container{
		config: conf,
		Cache:  cache.New(conf.CacheTTL),
	}
	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		redisConf := rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
		}
		c.Stores = Stores{
			RuleStorage:             rd.NewRuleStorage(redisConf),
			WorkflowStorage:         rd.NewWorkflowStorage(redisConf),
			ChatbotStorage:          rd.NewChatbotStorage(redisConf),
			ScheduledMessageStorage: rd.NewScheduledMessageStorage(redisConf),
			WebhookStorage:          rd.NewWebhookStorage(redisConf),
		}
	default:
		mem := memory.NewStorage()
		c.Stores = Stores{
			RuleStorage:             mem,
			WorkflowStorage:         mem,
			ChatbotStorage:          mem,
			ScheduledMessageStorage: mem,
			WebhookStorage:          mem,
		}
	}
	switch conf.QueueType {
	case config.STORAGE_TYPE_REDIS:
		redisConf := rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
		}
		c.Queue = rd.NewRedisQueue(redisConf)
		c.DelayQueue = rd.NewRedisDelayQueue(redisConf)
	default:
		c.Queue = memory.NewQueue()
		c.DelayQueue = memory.NewDelayQueue()
	}
	return c
}
