package cli

import (
	"context"
	"errors"

	"finplan/internal/amqp"
	"finplan/internal/cache"
	"finplan/internal/config"
	"finplan/internal/core"
	"finplan/internal/log"
	"finplan/internal/metrics"
	"finplan/internal/services"
	"finplan/internal/storage"
	"finplan/internal/worker"
)

// App is the wired dependency graph shared by the commands.
type App struct {
	Config      *config.Config
	Logger      *log.Logger
	Store       storage.Store
	Metrics     *metrics.Collector
	Obligations *services.ObligationService
	Scheduler   *worker.ObligationScheduler
	AMQP        *amqp.Client
	Caches      *cache.Manager
}

type appOptions struct {
	clock       core.Clock
	connectAMQP bool
	store       storage.Store
}

// NewApp opens the store, connects the broker when configured and builds the
// scheduler. AMQP failures degrade to local-only mode.
func NewApp(cfg *config.Config, logger *log.Logger, opts appOptions) (*App, error) {
	clock := opts.clock
	if clock == nil {
		clock = core.SystemClock{}
	}

	store := opts.store
	if store == nil {
		var err error
		store, err = OpenStore(context.Background(), cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Metrics: metrics.NewCollector(logger.WithComponent(log.ComponentScheduler).Logger),
	}

	var publisher services.Publisher
	if opts.connectAMQP && cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPNotifyQueue, cfg.AMQPTriggerQueue)
		if err != nil {
			logger.WithComponent(log.ComponentAMQP).Warn("Failed to initialize AMQP client, continuing without broker", "error", err)
		} else {
			app.AMQP = client
			publisher = client
			logger.WithComponent(log.ComponentAMQP).Info("AMQP client initialized",
				"exchange", cfg.AMQPExchange,
				"notify_queue", cfg.AMQPNotifyQueue,
				"trigger_queue", cfg.AMQPTriggerQueue)
		}
	}

	app.Caches = cache.NewManager()

	notifier := services.NewNotifier(
		services.NewDeduplicator(cfg.DedupeWindow),
		clock,
		services.WithBudgetDedupe(cfg.BudgetAlertDedupe),
	)
	budgets := services.NewBudgetChecker(services.DefaultExpenseAggregate(), notifier)
	processor := services.NewRecurringProcessor(store, budgets, notifier, publisher)
	reminders := services.NewReminderService(store, notifier, publisher, cfg.ReminderLeadDays)

	scheduler, err := worker.NewObligationScheduler(worker.Config{
		RunAt:        cfg.RecurringRunAt,
		RunOnStartup: cfg.RecurringRunOnStartup,
		Workers:      cfg.RecurringWorkers,
		ItemTimeout:  cfg.RecurringItemTimeout,
	}, store, processor, reminders, app.Metrics, clock)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Scheduler = scheduler
	app.Obligations = services.NewObligationService(store, clock)

	return app, nil
}

// Readiness pings the store when the backend supports it.
func (a *App) Readiness() func(ctx context.Context) error {
	pinger, ok := a.Store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.Ping
}

// Close releases the broker connection and the store.
func (a *App) Close() error {
	var errs []error
	if a.AMQP != nil {
		errs = append(errs, a.AMQP.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
