package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/commflow/commflow/agent"
	"github.com/commflow/commflow/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "commflow", "namespace used in storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage")
	cmd.Flags().String("queue-impl", "redis", "implementation of underline queue")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("audit-file", "", "path to audit log file, disabled when empty")
	cmd.Flags().Int("bus-partitions", 8, "number of event bus partitions")
	cmd.Flags().Int("bus-capacity", 256, "per partition event buffer size")
	cmd.Flags().Int("webhook-pool-size", 4, "webhook delivery worker pool size")
	cmd.Flags().Int("webhook-max-retries", 5, "max webhook delivery retries")
	cmd.Flags().Duration("webhook-base-delay", 0, "base webhook retry delay")
	cmd.Flags().Duration("webhook-max-delay", 0, "max webhook retry delay")
	cmd.Flags().StringToString("webhook-secrets", nil, "per team webhook signing secrets")
	cmd.Flags().StringToString("webhook-endpoints", nil, "per team webhook endpoints")
	cmd.Flags().Int("menu-retry-limit", 3, "chatbot menu retry limit before escalation")
	cmd.Flags().Duration("scheduler-interval", 0, "scheduled message dispatch interval")
	cmd.Flags().Duration("poll-interval", 0, "delay queue poll interval")
	cmd.Flags().Duration("cache-ttl", 0, "definition cache ttl")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.QueueType = config.StorageType(viper.GetString("queue-impl"))
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.AuditFile = viper.GetString("audit-file")
	c.cfg.BusPartitions = viper.GetInt("bus-partitions")
	c.cfg.BusCapacity = viper.GetInt("bus-capacity")
	c.cfg.WebhookPoolSize = viper.GetInt("webhook-pool-size")
	c.cfg.WebhookMaxRetries = viper.GetInt("webhook-max-retries")
	c.cfg.WebhookBaseDelay = viper.GetDuration("webhook-base-delay")
	c.cfg.WebhookMaxDelay = viper.GetDuration("webhook-max-delay")
	c.cfg.WebhookSecrets = viper.GetStringMapString("webhook-secrets")
	c.cfg.WebhookEndpoints = viper.GetStringMapString("webhook-endpoints")
	c.cfg.MenuRetryLimit = viper.GetInt("menu-retry-limit")
	c.cfg.SchedulerInterval = viper.GetDuration("scheduler-interval")
	c.cfg.PollInterval = viper.GetDuration("poll-interval")
	c.cfg.CacheTTL = viper.GetDuration("cache-ttl")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "commflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
