package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	RPCURL           string
	RPCTimeout       time.Duration
	StoreDriver      string
	DBDSN            string
	RedisAddr        string
	CacheTTL         time.Duration
	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaGroupID     string
	ChainID          uint64
	HTTPAddr         string
	PollInterval     time.Duration
	ReconcileBatch   int
	OtelEndpoint     string
	LogLevel         string
	LogFormat        string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxBackups    int
}

type EnvSource interface {
	Lookup(key string) (string, bool)
}

type EnvMap map[string]string

func (e EnvMap) Lookup(key string) (string, bool) {
	value, ok := e[key]
	return value, ok
}

func FromEnviron() EnvSource {
	env := make(EnvMap)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func Load(source EnvSource) (Config, error) {
	if source == nil {
		return Config{}, errors.New("env source is required")
	}

	rpcURL := lookupString(source, "RPC_URL", "")
	if rpcURL == "" {
		return Config{}, errors.New("RPC_URL is required")
	}
	rpcTimeout, err := parseDurationEnv(source, "RPC_TIMEOUT", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDurationEnv(source, "CACHE_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseDurationEnv(source, "POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	reconcileBatch, err := parseUintEnv(source, "RECONCILE_BATCH", 100)
	if err != nil {
		return Config{}, err
	}
	if reconcileBatch == 0 {
		return Config{}, errors.New("RECONCILE_BATCH must be positive")
	}
	chainID, err := parseUintEnv(source, "CHAIN_ID", 0)
	if err != nil {
		return Config{}, err
	}
	logMaxSizeMB, err := parseUintEnv(source, "LOG_MAX_SIZE_MB", 100)
	if err != nil {
		return Config{}, err
	}
	if logMaxSizeMB == 0 || logMaxSizeMB > math.MaxInt32 {
		return Config{}, errors.New("LOG_MAX_SIZE_MB must be between 1 and 2147483647")
	}
	logMaxBackups, err := parseUintEnv(source, "LOG_MAX_BACKUPS", 5)
	if err != nil {
		return Config{}, err
	}
	if logMaxBackups > 1000 {
		return Config{}, errors.New("LOG_MAX_BACKUPS must not exceed 1000")
	}

	return Config{
		RPCURL:           rpcURL,
		RPCTimeout:       rpcTimeout,
		StoreDriver:      lookupString(source, "STORE_DRIVER", "sqlite"),
		DBDSN:            lookupString(source, "DB_DSN", ""),
		RedisAddr:        lookupString(source, "REDIS_ADDR", ""),
		CacheTTL:         cacheTTL,
		KafkaBrokers:     parseList(source, "KAFKA_BROKERS"),
		KafkaTopicPrefix: lookupString(source, "KAFKA_TOPIC_PREFIX", "txrelay-transactions"),
		KafkaGroupID:     lookupString(source, "KAFKA_GROUP_ID", "txrelay-events"),
		ChainID:          chainID,
		HTTPAddr:         lookupString(source, "HTTP_ADDR", ":8080"),
		PollInterval:     pollInterval,
		ReconcileBatch:   int(reconcileBatch),
		OtelEndpoint:     lookupString(source, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:         lookupString(source, "LOG_LEVEL", "info"),
		LogFormat:        lookupString(source, "LOG_FORMAT", "text"),
		LogFile:          lookupString(source, "LOG_FILE", ""),
		LogMaxSizeMB:     int(logMaxSizeMB),
		LogMaxBackups:    int(logMaxBackups),
	}, nil
}

func lookupString(source EnvSource, key, defaultValue string) string {
	raw, ok := source.Lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	return strings.TrimSpace(raw)
}

func parseUintEnv(source EnvSource, key string, defaultValue uint64) (uint64, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(source EnvSource, key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := source.Lookup(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return value, nil
}

// parseList splits a comma separated value, dropping empty items. An unset
// key yields nil.
func parseList(source EnvSource, key string) []string {
	raw, ok := source.Lookup(key)
	if !ok {
		return nil
	}
	var values []string
	for _, item := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(item); value != "" {
			values = append(values, value)
		}
	}
	return values
}
