package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/offpaylabs/offpay/internal/config"
	"github.com/offpaylabs/offpay/internal/logger"
	"github.com/offpaylabs/offpay/internal/model"
	"github.com/offpaylabs/offpay/internal/repo"
	"github.com/offpaylabs/offpay/internal/risk"
	httptransport "github.com/offpaylabs/offpay/internal/transport/http"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := gdb.AutoMigrate(&model.SettledTransaction{}, &model.OutboxEvent{}, &model.Profile{}); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. kafka writers
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	gw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.GossipTopic,
		Balancer: &kafka.LeastBytes{},
	}

	// 6. repo, scorer, handler
	repository := repo.NewRepository(gdb, rdb, kw, gw, log)
	handler := httptransport.NewHandler(repository, risk.NewScorer(), log)

	// 7. gin router
	router := httptransport.NewRouter(handler, cfg.RateLimit, log)

	// 8. serve
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Infof("offpay authority listening on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("listen: %v", err)
	}
}
