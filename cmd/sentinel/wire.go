package main

import (
	"context"
	"net/http"

	config "github.com/NordCoder/Sentinel/internal/config/sentinel"
	"github.com/NordCoder/Sentinel/internal/domain/notification"
	"github.com/NordCoder/Sentinel/internal/obs/retry"
	"github.com/NordCoder/Sentinel/internal/outbox"
	"github.com/NordCoder/Sentinel/internal/queue"
	"github.com/NordCoder/Sentinel/internal/repository/kafka"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/NordCoder/Sentinel/internal/services/admin"
	"github.com/NordCoder/Sentinel/internal/services/dispatcher"
	"github.com/NordCoder/Sentinel/internal/services/engine"
	"github.com/NordCoder/Sentinel/internal/services/notifier"
	"github.com/NordCoder/Sentinel/internal/services/probe"
	"github.com/NordCoder/Sentinel/internal/services/scheduler"
	"go.uber.org/zap"
)

type app struct {
	sched   *scheduler.Scheduler
	pool    *queue.WorkerPool
	claimer *queue.Runner
	intake  *queue.KafkaIntake
	outbox  *outbox.Runner
	sweeper *scheduler.Sweeper
	admin   http.Handler
	closers []func() error
}

func wire(ctx context.Context, cfg *config.Config, db *pg.DB, l *zap.Logger) (*app, error) {
	var a app

	tx := pg.NewTransactor(db, l)
	endpoints := pg.NewEndpointRepo(db)
	metrics := pg.NewMetricRepo(db)
	alerts := pg.NewAlertRepo(db)
	tasks := pg.NewTaskRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)
	clock := notification.SystemClock{}

	// scheduling
	a.sched = scheduler.New(l, tx, endpoints, tasks, scheduler.WithStuckGrace(cfg.Sweep.StuckGrace))
	if cfg.Sweep.Enable {
		sw, err := scheduler.NewSweeper(l, a.sched, cfg.Sweep.Spec)
		if err != nil {
			return nil, err
		}
		a.sweeper = sw
	}

	// alert delivery
	sender, err := notifier.New(notifier.Config{
		Channel:       cfg.Notify.Channel,
		RatePerSecond: cfg.Notify.RatePerSecond,
		Burst:         cfg.Notify.Burst,
		SMTP: notifier.SMTPConfig{
			Addr:       cfg.SMTP.Addr,
			From:       cfg.SMTP.From,
			User:       cfg.SMTP.User,
			Password:   cfg.SMTP.Password,
			UseTLS:     cfg.SMTP.UseTLS,
			Timeout:    cfg.SMTP.Timeout,
			SubjPrefix: cfg.SMTP.SubjPrefix,
		},
		Webhook: notifier.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Timeout: cfg.Webhook.Timeout,
			Headers: cfg.Webhook.Headers,
		},
	}, l)
	if err != nil {
		return nil, err
	}
	delivery := dispatcher.NewDelivery(l, alerts, sender, clock)
	pol := retry.LoggedPolicy("alert_delivery", cfg.Alerts.AsPolicyConfig(), l)
	a.outbox = outbox.NewOutboxRunner(l, outboxRepo, delivery.Handlers(pol), outbox.RunnerConfig{
		Workers:       cfg.Alerts.Workers,
		BatchSize:     cfg.Alerts.BatchSize,
		WaitTime:      cfg.Alerts.PollInterval,
		InProgressTTL: cfg.Alerts.InProgressTTL,
	})

	// check cycle
	prober := probe.NewExecutor(l, probe.NewHTTPClient(probe.ClientConfig{
		FollowRedirects: cfg.Probe.FollowRedirects,
		VerifyTLS:       cfg.Probe.VerifyTLS,
	}), probe.Config{
		UserAgent:    cfg.Probe.UserAgent,
		MaxBodyBytes: cfg.Probe.MaxBodyBytes,
	})
	eng := engine.New(l, endpoints, tasks, prober,
		engine.NewRecorder(tx, metrics, endpoints), a.sched, dispatcher.New(outboxRepo), clock,
		engine.Config{RetryDelay: cfg.Queue.RetryDelay, DefaultRecipient: cfg.Notify.DefaultRecipient})

	a.pool = queue.NewWorkerPool(l, eng, tasks, queue.PoolConfig{
		Workers:    cfg.Queue.Workers,
		Buffer:     cfg.Queue.Buffer,
		RetryDelay: cfg.Queue.RetryDelay,
	})

	// transport
	var transport queue.Transport = a.pool
	if cfg.Queue.Transport == config.TransportKafka {
		// a new group must see checks published before it joined
		cons := kafka.BootstrapConsumer(ctx, kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			GroupID:       cfg.Kafka.GroupID,
			Topic:         cfg.Kafka.Topic,
			FromBeginning: true,
		}, cfg.Kafka.Partitions, l)
		prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
		a.closers = append(a.closers, cons.Close, prod.Close)

		transport = queue.NewKafkaTransport(kafka.NewCheckEventsKafka(prod))
		a.intake = queue.NewKafkaIntake(l, cons, a.pool, tasks, cfg.Queue.RetryDelay)
	}
	a.claimer = queue.NewRunner(l, tasks, transport, queue.ClaimerConfig{
		PollInterval: cfg.Queue.PollInterval,
		BatchLimit:   cfg.Queue.BatchLimit,
		RetryDelay:   cfg.Queue.RetryDelay,
	})

	a.admin = admin.NewRouter(admin.NewHandler(l, a.sched, metrics, alerts), cfg.Server.CORSOrigins)
	return &a, nil
}

func (a *app) close(l *zap.Logger) {
	for _, c := range a.closers {
		if err := c(); err != nil {
			l.Warn("close", zap.Error(err))
		}
	}
}
