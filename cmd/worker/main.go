// worker consumes session events from Kafka and writes them to the audit_logs table.
// Requires KAFKA_BROKERS and DATABASE_URL; SESSION_EVENTS_TOPIC and KAFKA_GROUP_ID have defaults.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"serreconnect/backend/internal/audit"
	auditrepo "serreconnect/backend/internal/audit/repository"
	"serreconnect/backend/internal/config"
	"serreconnect/backend/internal/db"
	"serreconnect/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	defer func() { _ = zl.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		zl.Fatal("worker: KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		zl.Fatal("worker: postgres", zap.Error(err))
	}
	defer pool.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.SessionEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	zl.Info("worker: consuming session events",
		zap.String("topic", cfg.SessionEventsTopic),
		zap.String("group", cfg.KafkaGroupID))

	consumer := audit.NewConsumer(reader, audit.NewLogger(auditrepo.NewPostgresRepository(pool), zl), zl)
	if err := consumer.Run(ctx); err != nil {
		zl.Error("worker: stopped with error", zap.Error(err))
		return
	}
	zl.Info("worker: stopped")
}
