package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/messaging-service/internal/api"
	"github.com/fathima-sithara/messaging-service/internal/auth"
	"github.com/fathima-sithara/messaging-service/internal/config"
	"github.com/fathima-sithara/messaging-service/internal/contacts"
	"github.com/fathima-sithara/messaging-service/internal/kafka"
	"github.com/fathima-sithara/messaging-service/internal/logger"
	"github.com/fathima-sithara/messaging-service/internal/pipeline"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/registry"
	"github.com/fathima-sithara/messaging-service/internal/relay"
	"github.com/fathima-sithara/messaging-service/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	mongoClient, err := store.NewMongoClient(ctx, cfg.Mongo.URI)
	cancel()
	if err != nil {
		lg.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	st := store.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	if err := st.EnsureIndexes(ctx); err != nil {
		cancel()
		lg.Fatalw("ensure indexes", "err", err)
	}
	cancel()

	var pres *presence.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pres = presence.NewStore(rdb, cfg.Redis.Prefix)
	}

	var events pipeline.EventPublisher
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageStored)
		defer func() { _ = producer.Close() }()
		events = producer
	}

	reg := registry.New()
	rly := relay.New(reg, lg)
	pipe := pipeline.New(st, events, cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, lg)
	updater := contacts.NewUpdater(st, lg)

	srv := api.NewServer(cfg, api.Deps{
		Validator:    auth.NewValidator(cfg.App.JWTSecret),
		Registry:     reg,
		Relay:        rly,
		Pipeline:     pipe,
		Updater:      updater,
		Presence:     pres,
		Messages:     st,
		ContactStore: st,
	}, lg)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		lg.Infow("starting messaging service", "addr", addr)
		errs <- srv.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Fatalw("server error", "err", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	if err := srv.Shutdown(); err != nil {
		lg.Warnw("shutdown", "err", err)
	}
	pipe.Stop()
	lg.Infow("shut down cleanly")
}
