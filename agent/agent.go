package agent

import (
	"sync"
	"time"

	"github.com/commflow/commflow/audit"
	"github.com/commflow/commflow/chatbot"
	"github.com/commflow/commflow/config"
	"github.com/commflow/commflow/container"
	"github.com/commflow/commflow/event"
	"github.com/commflow/commflow/executor"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/rest"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/scheduler"
	"github.com/commflow/commflow/service"
	"github.com/commflow/commflow/webhook"
	"github.com/commflow/commflow/workflow"
)

// Agent assembles and runs every component in dependency order.
type Agent struct {
	Config config.Config

	container         *container.Container
	bus               *event.Bus
	ruleEngine        *rules.Engine
	responder         *rules.Responder
	wfExecutor        *workflow.Executor
	chatbotEngine     *chatbot.Engine
	webhookDispatcher *webhook.Dispatcher
	actionDispatcher  *service.ActionDispatcher
	automation        *service.AutomationService
	scheduleDispatch  *scheduler.Dispatcher
	delayExecutor     *executor.DelayExecutor
	retryExecutor     *executor.RetryExecutor
	webhookRetry      *executor.WebhookRetryExecutor
	httpServer        *rest.Server

	shutdown     bool
	shutdownLock sync.Mutex
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{Config: conf}
	setup := []func() error{
		a.setupLogging,
		a.setupContainer,
		a.setupBus,
		a.setupWebhookDispatcher,
		a.setupEngines,
		a.setupAutomationService,
		a.setupExecutors,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupLogging() error {
	logger.Configure(a.Config.LogLevel)
	if a.Config.AuditFile != "" {
		return audit.InitCollector(audit.CollectorConfig{
			FileName:      a.Config.AuditFile,
			CollectorType: audit.LOG_FILE_COLLECTOR,
		})
	}
	return nil
}

func (a *Agent) setupContainer() error {
	if a.Config.CacheTTL <= 0 {
		a.Config.CacheTTL = 5 * time.Minute
	}
	a.container = container.NewContainer(a.Config)
	return nil
}

func (a *Agent) setupBus() error {
	partitions := a.Config.BusPartitions
	if partitions <= 0 {
		partitions = 8
	}
	capacity := a.Config.BusCapacity
	if capacity <= 0 {
		capacity = 256
	}
	a.bus = event.NewBus(partitions, capacity)
	return nil
}

func (a *Agent) setupWebhookDispatcher() error {
	webhookConf := webhook.DefaultConfig()
	if a.Config.WebhookPoolSize > 0 {
		webhookConf.PoolSize = a.Config.WebhookPoolSize
	}
	if a.Config.WebhookMaxRetries > 0 {
		webhookConf.MaxRetries = a.Config.WebhookMaxRetries
	}
	if a.Config.WebhookBaseDelay > 0 {
		webhookConf.BaseDelay = a.Config.WebhookBaseDelay
	}
	if a.Config.WebhookMaxDelay > 0 {
		webhookConf.MaxDelay = a.Config.WebhookMaxDelay
	}
	a.webhookDispatcher = webhook.NewDispatcher(
		a.container.Stores.WebhookStorage,
		a.container.DelayQueue,
		webhook.StaticSecrets(a.Config.WebhookSecrets),
		webhookConf,
	)
	a.actionDispatcher = service.NewActionDispatcher(
		a.webhookDispatcher,
		service.StaticEndpoints(a.Config.WebhookEndpoints),
		service.NewQueueSender(a.container.Queue),
	)
	return nil
}

func (a *Agent) setupEngines() error {
	a.ruleEngine = rules.NewEngine(
		a.container.Stores.RuleStorage,
		rules.NewContextBuilder(nil),
		a.container.Cache,
	)
	a.responder = rules.NewResponder(a.container.Stores.RuleStorage)
	a.wfExecutor = workflow.NewExecutor(
		a.container.Stores.WorkflowStorage,
		a.container.DelayQueue,
		a.actionDispatcher,
		nil,
		workflow.DefaultExecutorConfig(),
	)
	chatbotConf := chatbot.DefaultConfig()
	if a.Config.MenuRetryLimit > 0 {
		chatbotConf.MenuRetryLimit = a.Config.MenuRetryLimit
	}
	a.chatbotEngine = chatbot.NewEngine(
		a.container.Stores.ChatbotStorage,
		a.actionDispatcher,
		chatbotConf,
	)
	schedulerConf := scheduler.DefaultConfig()
	if a.Config.SchedulerInterval > 0 {
		schedulerConf.TickInterval = a.Config.SchedulerInterval
	}
	a.scheduleDispatch = scheduler.NewDispatcher(
		a.container.Stores.ScheduledMessageStorage,
		scheduler.StaticResolver{},
		a.actionDispatcher,
		schedulerConf,
	)
	return nil
}

func (a *Agent) setupAutomationService() error {
	a.automation = service.NewAutomationService(
		a.bus,
		a.ruleEngine,
		a.responder,
		a.container.Stores.WorkflowStorage,
		a.wfExecutor,
		a.chatbotEngine,
		a.actionDispatcher,
	)
	return nil
}

func (a *Agent) setupExecutors() error {
	pollInterval := a.Config.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	a.delayExecutor = executor.NewDelayExecutor(a.container.DelayQueue, a.wfExecutor, pollInterval)
	a.retryExecutor = executor.NewRetryExecutor(a.container.DelayQueue, a.wfExecutor, pollInterval)
	a.webhookRetry = executor.NewWebhookRetryExecutor(a.container.DelayQueue, a.webhookDispatcher, pollInterval)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.container.Stores, a.ruleEngine, a.automation)
	return err
}

func (a *Agent) Start() error {
	a.webhookDispatcher.Start()
	a.automation.Start()
	a.scheduleDispatch.Start()
	a.delayExecutor.Start()
	a.retryExecutor.Start()
	a.webhookRetry.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	_ = a.httpServer.Stop()
	a.webhookRetry.Stop()
	a.retryExecutor.Stop()
	a.delayExecutor.Stop()
	a.scheduleDispatch.Stop()
	a.automation.Stop()
	a.bus.Stop()
	a.webhookDispatcher.Stop()
	return nil
}
