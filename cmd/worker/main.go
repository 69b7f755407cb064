// The worker binary runs the periodic perform loop delivering due
// mailings, and, when asynchronous delivery is enabled, the consumer
// draining the Redis delivery queue.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/campaigns"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/delivery"
	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/store/postgres"
	"github.com/ignite/drip-engine/internal/worker"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	store, err := postgres.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("connect to postgres: %v", err)
	}
	defer store.Close()

	engine, rdb, err := buildEngine(cfg, store)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	lock := distlock.New(rdb, store.DB(), "drip:perform", cfg.Perform.LockTTL())
	pw := worker.NewPerformWorker(engine, lock, cfg.Perform.Interval(), cfg.Perform.EnabledCampaigns)
	pw.Start()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	if q, ok := engine.Queue.(*delivery.Queue); ok {
		consumer := delivery.NewConsumer(q, engine.DeliverQueued)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("delivery consumer stopped", "error", err.Error())
			}
		}()
	} else {
		close(consumerDone)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", "signal", sig.String())

	pw.Stop()
	stopConsumer()
	<-consumerDone
}

// buildEngine wires the registry, delivery handlers, and engine shared by
// the server and worker binaries.
func buildEngine(cfg *config.Config, store *postgres.Store) (*drip.Engine, *redis.Client, error) {
	registry := drip.NewRegistry()
	handlers := delivery.NewRegistry()

	var sender delivery.EmailSender = delivery.LogSender{}
	if ses := cfg.Delivery.SES; ses.AccessKey != "" {
		s, err := delivery.NewSESSender(ses.AccessKey, ses.SecretKey, ses.Region, ses.FromName, ses.FromEmail)
		if err != nil {
			return nil, nil, err
		}
		sender = s
	}

	emails := delivery.NewEmailHandler(registry, store, sender)
	if err := campaigns.RegisterOnboarding(registry, handlers, emails, store.DB()); err != nil {
		return nil, nil, err
	}
	if cfg.Perform.BatchSize > 0 {
		for _, dr := range registry.Drippers() {
			dr.BatchSize = cfg.Perform.BatchSize
		}
	}

	engine := drip.NewEngine(registry, store, handlers)
	engine.ClaimLease = cfg.Perform.ClaimLease()
	if cfg.Perform.EndedReason != "" {
		engine.EndedReason = cfg.Perform.EndedReason
	}
	if cfg.Perform.UnsubscribeReason != "" {
		engine.UnsubscribeReason = cfg.Perform.UnsubscribeReason
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if cfg.Delivery.Async {
			engine.Queue = delivery.NewQueue(rdb, cfg.Delivery.QueueKey)
		}
	}

	return engine, rdb, nil
}
