package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"

	"kafkasink/internal/config"
	"kafkasink/internal/kafka"
	"kafkasink/internal/loadgen"
	"kafkasink/internal/logger"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed for generated logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.WithComponent("loadgen")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg := cfg.LoadGen
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Producer,
		kafka.WithBalancer(&kafkago.RoundRobin{}))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create producer")
	}
	defer producer.Close()

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = producer.HealthCheck(healthCtx)
	cancel()
	if err != nil {
		producer.Close()
		log.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("broker unreachable")
	}

	err = kafka.CreateTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Partitions, lg.ReplicationFactor)
	switch {
	case errors.Is(err, kafka.ErrTopicExists):
		log.Warn().Str("topic", cfg.Kafka.Topic).Msg("topic already exists")
	case err != nil:
		producer.Close()
		log.Fatal().Err(err).Str("topic", cfg.Kafka.Topic).Msg("failed to create topic")
	default:
		log.Info().
			Str("topic", cfg.Kafka.Topic).
			Int("partitions", lg.Partitions).
			Int("replication_factor", lg.ReplicationFactor).
			Msg("topic created")
	}

	runner := loadgen.NewRunner(producer, loadgen.NewGenerator(*seed), loadgen.Config{
		Total:       lg.TotalLogs,
		Rate:        lg.Rate,
		ReportEvery: lg.ReportEvery,
		BatchSize:   cfg.Kafka.Producer.BatchSize,
		Linger:      cfg.Kafka.Producer.BatchTimeout,
	})

	sent, err := runner.Run(ctx)
	stats := producer.Stats()
	log.Info().
		Int("sent", sent).
		Uint64("messages_failed", stats.MessagesFailed).
		Uint64("bytes_written", stats.BytesWritten).
		Msg("load generation finished")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("load generation failed")
		producer.Close()
		os.Exit(1)
	}
}
