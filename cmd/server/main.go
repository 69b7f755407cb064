// The server binary exposes the subscription HTTP endpoints: campaign
// enrollment, the unsubscribe/resubscribe links embedded in emails, and
// refuel.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/drip-engine/internal/api"
	"github.com/ignite/drip-engine/internal/campaigns"
	"github.com/ignite/drip-engine/internal/config"
	"github.com/ignite/drip-engine/internal/delivery"
	"github.com/ignite/drip-engine/internal/drip"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/store/postgres"
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

	engine, _, err := buildEngine(cfg, store)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	server := api.NewServer(cfg.Server.Addr(), api.NewHandlers(engine))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
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
