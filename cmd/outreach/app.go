package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kursadbilgin/outreach-engine/internal/config"
	"github.com/kursadbilgin/outreach-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/outreach-engine/internal/infra/redis"
	"github.com/kursadbilgin/outreach-engine/internal/lock"
	"github.com/kursadbilgin/outreach-engine/internal/mailer"
	"github.com/kursadbilgin/outreach-engine/internal/observability"
	"github.com/kursadbilgin/outreach-engine/internal/queue"
	"github.com/kursadbilgin/outreach-engine/internal/ratelimit"
	"github.com/kursadbilgin/outreach-engine/internal/repository"
	"github.com/kursadbilgin/outreach-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the wired engine for one process.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	db     *gorm.DB
	sqlDB  *sql.DB
	rdb    *redis.Client
	rabbit *queue.RabbitMQ

	campaign  *service.CampaignService
	replies   *service.ReplyService
	contacts  *service.ContactService
	settings  *service.SettingsService
	templates *service.TemplateService
	forwarder *service.ForwardService
	scheduler *service.Scheduler
	poller    *service.ReplyPoller
	worker    *service.ForwardWorker

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	a.sqlDB, err = a.db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	a.closers = append(a.closers, a.sqlDB.Close)

	var (
		pacer  ratelimit.Pacer
		locker lock.Locker
	)
	if cfg.RedisURL != "" {
		a.rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.rdb.Close)

		redisPacer, err := infraredis.NewRedisPacer(a.rdb)
		if err != nil {
			return nil, err
		}
		redisLocker, err := infraredis.NewRedisLocker(a.rdb)
		if err != nil {
			return nil, err
		}
		pacer, locker = redisPacer, redisLocker
	} else {
		logger.Warn("REDIS_URL not set, pacing and pass locks are process-local")
		pacer, locker = ratelimit.NewLocalPacer(), lock.NewLocalLocker()
	}

	seed, err := config.LoadSettingsSeed(cfg.SettingsSeedFile)
	if err != nil {
		return nil, err
	}

	contactRepo := repository.NewGormContactRepo(a.db)
	actionRepo := repository.NewGormActionLogRepo(a.db)
	settingsRepo := repository.NewGormSettingsRepo(a.db, seed)
	templateRepo := repository.NewGormTemplateRepo(a.db)

	sender, err := newSender(cfg)
	if err != nil {
		return nil, err
	}

	a.campaign, err = service.NewCampaignService(contactRepo, actionRepo, settingsRepo, templateRepo, sender, pacer, locker, logger)
	if err != nil {
		return nil, err
	}
	a.campaign.SetMetrics(a.metrics)

	a.forwarder, err = service.NewForwardService(sender, actionRepo, cfg.ManagerEmails(), logger)
	if err != nil {
		return nil, err
	}
	a.forwarder.SetMetrics(a.metrics)

	var dispatcher service.ForwardDispatcher = a.forwarder
	if cfg.RabbitMQURL != "" {
		a.rabbit, err = queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.rabbit.Close)

		publisher := queue.NewRabbitMQPublisher(a.rabbit)
		dispatcher, err = service.NewQueuedForwarder(publisher, cfg.ManagerEmails())
		if err != nil {
			return nil, err
		}
		consumer := queue.NewRabbitMQConsumer(a.rabbit, cfg.ForwardWorkerConcurrency, logger)
		a.worker, err = service.NewForwardWorker(consumer, a.forwarder, cfg.ForwardWorkerConcurrency, logger)
		if err != nil {
			return nil, err
		}
	}

	if cfg.IMAPEnabled() {
		mailbox, err := mailer.NewIMAPMailbox(mailer.IMAPConfig{
			Host:        cfg.IMAPHost,
			Port:        cfg.IMAPPort,
			Username:    cfg.IMAPUsername,
			Password:    cfg.IMAPPassword,
			Mailbox:     cfg.IMAPMailbox,
			ImplicitTLS: cfg.IMAPImplicitTLS,
		}, logger)
		if err != nil {
			return nil, err
		}
		reconciler, err := service.NewReconciler(contactRepo, logger)
		if err != nil {
			return nil, err
		}
		a.replies, err = service.NewReplyService(mailbox, reconciler, dispatcher, locker, logger)
		if err != nil {
			return nil, err
		}
		a.replies.SetMetrics(a.metrics)

		a.poller, err = service.NewReplyPoller(a.replies, cfg.ReplyPollInterval(), logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("IMAP_HOST not set, reply polling is disabled")
	}

	a.contacts, err = service.NewContactService(contactRepo, actionRepo, settingsRepo, logger)
	if err != nil {
		return nil, err
	}
	a.settings, err = service.NewSettingsService(settingsRepo, logger)
	if err != nil {
		return nil, err
	}
	a.templates, err = service.NewTemplateService(templateRepo, logger)
	if err != nil {
		return nil, err
	}
	a.scheduler, err = service.NewScheduler(a.campaign, settingsRepo, locker, cfg.SchedulerTick(), logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func newSender(cfg *config.Config) (mailer.Sender, error) {
	if cfg.MailTransport == config.TransportWebhook {
		return mailer.NewWebhookSender(cfg.MailWebhookURL, cfg.MailFrom, cfg.MailWebhookToken)
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.MailFrom,
		FromName:    cfg.MailFromName,
		ImplicitTLS: cfg.SMTPImplicitTLS,
		Timeout:     cfg.SMTPTimeout(),
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
