package main

import (
	"context"

	"github.com/septivank/energy-consumption-notifier/internal/anomaly"
	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/septivank/energy-consumption-notifier/internal/credentials"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/septivank/energy-consumption-notifier/internal/dispatch"
	"github.com/septivank/energy-consumption-notifier/internal/extraction"
	"github.com/septivank/energy-consumption-notifier/internal/mq"
	"github.com/septivank/energy-consumption-notifier/internal/repository"
	"github.com/septivank/energy-consumption-notifier/internal/service"
	"github.com/septivank/energy-consumption-notifier/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
	notifier *service.Notifier,
) (*mq.Consumer, error) {
	// Cancelled on shutdown; stops both the consumer loop and the scheduler
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Exchange:      cfg.RabbitMQ.TriggerExchange,
		Queue:         cfg.RabbitMQ.TriggerQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		RoutingKey:    cfg.RabbitMQ.TriggerRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       service.TriggerHandler(notifier, logger),
	})
	if err != nil {
		cancel()
		return nil, err
	}

	scheduler := service.NewScheduler(notifier, cfg.Notification.RunInterval, cfg.Notification.RunOnStart, logger)

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting notification worker",
				zap.String("trigger_queue", cfg.RabbitMQ.TriggerQueue),
				zap.Duration("run_interval", cfg.Notification.RunInterval),
				zap.Int("max_concurrent_users", cfg.Notification.MaxConcurrentUsers),
			)
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			scheduler.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()

			select {
			case <-scheduler.Done():
			case <-stopCtx.Done():
				logger.Warn("scheduler still running at shutdown")
			}

			if err := multierr.Combine(consumer.Close(), publisher.Close()); err != nil {
				logger.Error("failed to close rabbitmq channels", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return consumer, nil
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

func detectorSettings(cfg config.AnomalyConfig) anomaly.Settings {
	return anomaly.Settings{
		ContaminationMin:           cfg.ContaminationMin,
		ContaminationMax:           cfg.ContaminationMax,
		SmallBaselineContamination: cfg.SmallBaselineContamination,
		SmallBaselineSize:          cfg.SmallBaselineSize,
		PctGuard:                   cfg.PctGuard,
		IQRMultiplier:              cfg.IQRMultiplier,
		StdMultiplier:              cfg.StdMultiplier,
		Trees:                      cfg.Trees,
	}
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(detectorSettings(cfg.Anomaly))
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Extraction.MaxMonthlyKWh)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(mq.PublisherConfig{
		Connection:        conn,
		Exchange:          cfg.RabbitMQ.EventsExchange,
		RunRoutingKey:     cfg.RabbitMQ.RunRoutingKey,
		AnomalyRoutingKey: cfg.RabbitMQ.AnomalyRoutingKey,
		Logger:            logger,
	})
}

// ProvideExtractor creates the extraction service client
func ProvideExtractor(cfg *config.Config) *extraction.Client {
	return extraction.NewClient(cfg.Extraction.BaseURL, cfg.Extraction.Timeout)
}

// ProvideCredentials creates the OAuth token refresher
func ProvideCredentials(cfg *config.Config) *credentials.OAuthRefresher {
	return credentials.NewOAuthRefresher(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.TokenURL, cfg.OAuth.Scopes)
}

// ProvideDispatcher creates the Gmail alert sender
func ProvideDispatcher(cfg *config.Config) *dispatch.GmailSender {
	return dispatch.NewGmailSender(cfg.Dispatch.GmailAPIBaseURL, cfg.Dispatch.Subject)
}

func notifierSettings(cfg *config.Config) service.NotifierSettings {
	return service.NotifierSettings{
		MinIncreasePercentage: cfg.Anomaly.MinIncreasePercentage,
		MaxAnomaliesPerEmail:  cfg.Notification.MaxAnomaliesPerEmail,
		UserTimeout:           cfg.Notification.UserTimeout,
		MaxConcurrentUsers:    cfg.Notification.MaxConcurrentUsers,
	}
}

// ProvideNotifier creates the notification orchestrator
func ProvideNotifier(
	repo *repository.Repository,
	extractor *extraction.Client,
	refresher *credentials.OAuthRefresher,
	sender *dispatch.GmailSender,
	publisher *mq.Publisher,
	detector *anomaly.Detector,
	v *validator.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Notifier {
	return service.NewNotifier(service.NotifierDeps{
		Store:       repo,
		Extractor:   extractor,
		Credentials: refresher,
		Dispatcher:  sender,
		Events:      publisher,
		Detector:    detector,
		Validator:   v,
		Watermark:   cfg.Watermark,
		Settings:    notifierSettings(cfg),
		Logger:      logger,
	})
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}
