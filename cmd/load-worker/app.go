package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/StubbleTrack/config"
	"github.com/BearBump/StubbleTrack/internal/broker/kafka"
	"github.com/BearBump/StubbleTrack/internal/integrations/notifier"
	"github.com/BearBump/StubbleTrack/internal/integrations/notifier/lognotifier"
	"github.com/BearBump/StubbleTrack/internal/integrations/notifier/webhook"
	"github.com/BearBump/StubbleTrack/internal/services/carbon"
	"github.com/BearBump/StubbleTrack/internal/services/loads"
	"github.com/BearBump/StubbleTrack/internal/services/notify"
	"github.com/BearBump/StubbleTrack/internal/services/relay"
	"github.com/BearBump/StubbleTrack/internal/storage/memload"
	"github.com/BearBump/StubbleTrack/internal/storage/pgload"
	"golang.org/x/sync/errgroup"
)

// workerStore is everything the worker reads and writes: the outbox for the
// relay, loads and credits for settling recycled loads.
type workerStore interface {
	relay.Repository
	loads.Repository
	carbon.CreditStore
}

type loadEventConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (store workerStore, closeFn func(), err error)
	newProducer func(cfg *config.Config) (relay.Producer, func())
	newConsumer func(cfg *config.Config) (loadEventConsumer, func())
	newNotifier func(cfg *config.Config) notifier.Client
}

const (
	defaultTopic               = "stubble.load-events"
	defaultConsumerGroup       = "load-worker"
	defaultConsumerMaxAttempts = 8
)

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			if cfg.Database.Host == "" {
				slog.Warn("database host is empty, worker uses in-memory storage")
				return memload.New(), nil, nil
			}
			st, err := pgload.New(cfg.Database.DSN())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) (relay.Producer, func()) {
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newConsumer: func(cfg *config.Config) (loadEventConsumer, func()) {
			planner := relay.NewPlanner(plannerConfig(cfg), nil)
			c := kafka.NewConsumer(cfg.Kafka.Brokers(), topicName(cfg), consumerGroup(cfg)).
				WithRetry(consumerMaxAttempts(cfg), planner.BackoffDelay)
			return c, func() { _ = c.Close() }
		},
		newNotifier: func(cfg *config.Config) notifier.Client {
			if cfg.StubbleTrack.NotifierMode == "webhook" && cfg.StubbleTrack.NotifierWebhookURL != "" {
				return webhook.New(cfg.StubbleTrack.NotifierWebhookURL)
			}
			return lognotifier.New(slog.Default())
		},
	}
}

type workerRunOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func topicName(cfg *config.Config) string {
	if cfg.Kafka.LoadEventsTopicName == "" {
		return defaultTopic
	}
	return cfg.Kafka.LoadEventsTopicName
}

func consumerGroup(cfg *config.Config) string {
	if cfg.StubbleTrack.KafkaConsumerGroup == "" {
		return defaultConsumerGroup
	}
	return cfg.StubbleTrack.KafkaConsumerGroup
}

func consumerMaxAttempts(cfg *config.Config) int {
	if cfg.StubbleTrack.ConsumerMaxAttempts <= 0 {
		return defaultConsumerMaxAttempts
	}
	return cfg.StubbleTrack.ConsumerMaxAttempts
}

func plannerConfig(cfg *config.Config) relay.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return relay.PlannerConfig{
		Backoff1: sec(cfg.StubbleTrack.OutboxBackoff1Seconds),
		Backoff2: sec(cfg.StubbleTrack.OutboxBackoff2Seconds),
		Backoff3: sec(cfg.StubbleTrack.OutboxBackoff3Seconds),
		Backoff4: sec(cfg.StubbleTrack.OutboxBackoff4Seconds),
	}
}

// RunLoadWorker relays the outbox to Kafka, consumes the same topic to settle
// credits and notify users, and serves the ops HTTP API. It returns when ctx is
// done or any of the three fails.
func RunLoadWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	pollInterval := time.Duration(cfg.StubbleTrack.OutboxPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.StubbleTrack.OutboxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.StubbleTrack.OutboxConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.StubbleTrack.OutboxLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 60 * time.Second
	}

	store, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	producer, closeProducer := f.newProducer(cfg)
	if closeProducer != nil {
		defer closeProducer()
	}
	consumer, closeConsumer := f.newConsumer(cfg)
	if closeConsumer != nil {
		defer closeConsumer()
	}

	ledger := carbon.NewLedger(store,
		carbon.EmissionFactorsOrBuiltin(cfg.StubbleTrack.EmissionFactors, cfg.StubbleTrack.DefaultEmissionFactor),
		cfg.StubbleTrack.PointsPerKg,
	)
	svc := loads.New(store, ledger, nil, 0)
	dispatcher := notify.New(svc, f.newNotifier(cfg))

	planCfg := plannerConfig(cfg)
	rl := relay.New(store, producer, topicName(cfg)).
		WithSettings(pollInterval, batchSize, concurrency, lease).
		WithPlanner(planCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("outbox relay started", "topic", topicName(cfg), "poll_interval", pollInterval.String())
		return rl.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("kafka consumer started", "topic", topicName(cfg), "group", consumerGroup(cfg))
		return consumer.Consume(gctx, dispatcher.Handle)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.StubbleTrack.WorkerHTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			relay:       rl,
			cfg:         cfg,
		})
	})
	return g.Wait()
}
