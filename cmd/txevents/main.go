package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txrelay/internal/config"
	"txrelay/internal/domain"
	"txrelay/internal/infrastructure/ethrpc"
	"txrelay/internal/infrastructure/kafka"
	"txrelay/internal/infrastructure/logging"
	"txrelay/internal/infrastructure/telemetry"
	"txrelay/internal/streaming"
)

// txevents tails the relayer's lifecycle topic and logs each transition.
func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	_, logFile, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{ServiceName: "txrelay-events", Endpoint: cfg.OtelEndpoint})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	chainID := cfg.ChainID
	if chainID == 0 {
		rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout})
		if err != nil {
			slog.Error("rpc error", "err", err)
			os.Exit(1)
		}
		if chainID, err = rpcClient.ChainID(ctx); err != nil {
			slog.Error("chain id error", "err", err)
			os.Exit(1)
		}
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ChainID:     chainID,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer consumer.Close()

	slog.Info("tailing transaction events", "topic", kafka.TopicName(cfg.KafkaTopicPrefix, chainID), "group", cfg.KafkaGroupID)
	err = consumer.Run(ctx, func(ctx context.Context, msg streaming.Message) error {
		state, _ := domain.ParseTransactionState(msg.Status)
		slog.Info("transaction event",
			"hash", msg.Hash,
			"status", msg.Status,
			"terminal", state.IsTerminal(),
			"nonce", msg.Nonce,
			"block", msg.BlockNumber,
			"relayer", msg.RelayerAddress,
			"updated_at", msg.UpdatedAt,
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("event tail stopped", "err", err)
	}
}
