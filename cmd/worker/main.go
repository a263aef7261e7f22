// Worker consumes signature lifecycle events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, LIFECYCLE_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"docsign-engine/backend/internal/config"
	"docsign-engine/backend/internal/logger"
	"docsign-engine/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "").Fatal("config", zap.Error(err))
	}
	log := logger.WithComponent(logger.New(cfg.LogLevel, cfg.Env), "worker")
	defer func() { _ = log.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" {
		log.Fatal("LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.LifecycleKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := loki.NewClient(cfg.LokiURL)
	log.Info("consuming lifecycle events",
		zap.String("topic", cfg.LifecycleKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopped")
				return
			}
			log.Warn("kafka read failed", zap.Error(err))
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := client.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Warn("loki push failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
		cancel()
	}
}
