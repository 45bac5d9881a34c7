package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txrelay/internal/application"
	"txrelay/internal/config"
	"txrelay/internal/infrastructure/ethrpc"
	"txrelay/internal/infrastructure/kafka"
	"txrelay/internal/infrastructure/logging"
	"txrelay/internal/infrastructure/mysql"
	"txrelay/internal/infrastructure/postgres"
	"txrelay/internal/infrastructure/rediscache"
	"txrelay/internal/infrastructure/sqlite"
	"txrelay/internal/infrastructure/storage"
	"txrelay/internal/infrastructure/telemetry"
	"txrelay/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

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

	shutdownTracing, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "txrelay",
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
	})
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store error", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{URL: cfg.RPCURL, Timeout: cfg.RPCTimeout})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	var publisher application.StatusPublisher
	if len(cfg.KafkaBrokers) > 0 {
		chainID, err := resolveChainID(ctx, cfg, rpcClient)
		if err != nil {
			slog.Error("chain id error", "err", err)
			os.Exit(1)
		}
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			ChainID:     chainID,
		})
		if err != nil {
			slog.Error("kafka error", "err", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		slog.Info("publishing transaction events", "topic", producer.Topic())
	}

	metrics := httpapi.NewMetrics()
	tracker, err := application.NewTracker(rpcClient, store, publisher, metrics, application.TrackerConfig{
		PollInterval:   cfg.PollInterval,
		ReconcileBatch: cfg.ReconcileBatch,
	})
	if err != nil {
		slog.Error("tracker error", "err", err)
		os.Exit(1)
	}

	httpServer, err := httpapi.NewServer(store, rpcClient, tracker, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	slog.Info("relayer started",
		"rpc", cfg.RPCURL,
		"rpc_timeout", cfg.RPCTimeout,
		"store", cfg.StoreDriver,
		"poll", cfg.PollInterval,
	)
	if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("relayer stopped", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	driver, err := storage.ParseDriver(cfg.StoreDriver)
	if err != nil {
		return nil, err
	}
	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = storage.DefaultDSN(driver)
	}

	var base storage.Store
	switch driver {
	case storage.DriverMySQL:
		base, err = mysql.NewRepository(dsn)
	case storage.DriverPostgres:
		base, err = postgres.NewRepository(ctx, dsn)
	default:
		base, err = sqlite.NewRepository(dsn)
	}
	if err != nil {
		return nil, err
	}

	cached, err := rediscache.NewCachedRepository(base, rediscache.Config{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
	if err != nil {
		slog.Warn("redis cache disabled", "addr", cfg.RedisAddr, "err", err)
		return base, nil
	}
	return cached, nil
}

func resolveChainID(ctx context.Context, cfg config.Config, rpc *ethrpc.Client) (uint64, error) {
	if cfg.ChainID != 0 {
		return cfg.ChainID, nil
	}
	return rpc.ChainID(ctx)
}
