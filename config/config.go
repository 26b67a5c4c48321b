package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type RedisConfig struct {
	Addrs     []string
	Namespace string
}

type Config struct {
	RedisConfig RedisConfig
	HttpPort    int
	StorageType StorageType
	QueueType   StorageType
	LogLevel    string
	AuditFile   string

	BusPartitions int
	BusCapacity   int

	WebhookPoolSize   int
	WebhookMaxRetries int
	WebhookBaseDelay  time.Duration
	WebhookMaxDelay   time.Duration
	WebhookSecrets    map[string]string
	WebhookEndpoints  map[string]string

	MenuRetryLimit    int
	SchedulerInterval time.Duration
	PollInterval      time.Duration
	CacheTTL          time.Duration
}
