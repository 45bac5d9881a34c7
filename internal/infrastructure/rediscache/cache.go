package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"txrelay/internal/domain"
	"txrelay/internal/infrastructure/storage"

	"github.com/redis/go-redis/v9"
)

const (
	txCacheKeyPrefix   = "txrelay:tx:"
	txVersionKeyPrefix = "txrelay:txver:"
	defaultCacheTTL    = time.Minute
)

type Config struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository serves GetTransaction from Redis. Cached entries are keyed
// by a per-hash version that every save bumps, so a read that raced a save can
// only fill a key no later read will look at.
type CachedRepository struct {
	storage.Store
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base storage.Store, cfg Config) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Store: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newCachedRepository(base, client, cfg.TTL), nil
}

func newCachedRepository(base storage.Store, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{Store: base, cache: client, ttl: ttl}
}

func (r *CachedRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := r.Store.SaveTransaction(ctx, tx); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.Incr(ctx, txVersionKey(tx.Hash())).Err(); err != nil {
			slog.Warn("cache version bump failed", "hash", tx.Hash(), "error", err)
		}
	}
	return nil
}

func (r *CachedRepository) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	if r.cache == nil {
		return r.Store.GetTransaction(ctx, hash)
	}
	version, ok := r.cacheVersion(ctx, hash)
	if !ok {
		return r.Store.GetTransaction(ctx, hash)
	}
	key := txCacheKey(version, hash)
	if cached, err := r.cache.Get(ctx, key).Bytes(); err == nil {
		if tx, err := decodeCached(cached); err == nil {
			return tx, true, nil
		}
	}

	tx, ok, err := r.Store.GetTransaction(ctx, hash)
	if err != nil || !ok {
		return tx, ok, err
	}
	if payload, err := encodeCached(tx); err == nil {
		if err := r.cache.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			slog.Warn("cache fill failed", "hash", hash, "error", err)
		}
	}
	return tx, true, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context, hash string) (string, bool) {
	version, err := r.cache.Get(ctx, txVersionKey(hash)).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	slog.Warn("cache version lookup failed", "hash", hash, "error", err)
	return "", false
}

func (r *CachedRepository) Ping(ctx context.Context) error {
	if err := r.Store.Ping(ctx); err != nil {
		return err
	}
	if r.cache == nil {
		return nil
	}
	return r.cache.Ping(ctx).Err()
}

func (r *CachedRepository) Close() error {
	err := r.Store.Close()
	if r.cache != nil {
		if cacheErr := r.cache.Close(); err == nil {
			err = cacheErr
		}
	}
	return err
}

type cachedTransaction struct {
	Hash               string    `json:"hash"`
	Status             string    `json:"status"`
	ExpectedMinedInSec int64     `json:"expected_mined_in_sec"`
	Nonce              uint64    `json:"nonce"`
	GasPrice           string    `json:"gas_price"`
	BlockNumber        *uint64   `json:"block_number,omitempty"`
	RelayerAddress     string    `json:"relayer_address"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpectedAt         time.Time `json:"expected_at"`
}

func encodeCached(tx *domain.Transaction) ([]byte, error) {
	s := tx.Snapshot()
	return json.Marshal(cachedTransaction{
		Hash:               s.Hash,
		Status:             s.Status,
		ExpectedMinedInSec: s.ExpectedMinedInSec,
		Nonce:              s.Nonce,
		GasPrice:           s.GasPrice.String(),
		BlockNumber:        s.BlockNumber,
		RelayerAddress:     s.RelayerAddress,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		ExpectedAt:         s.ExpectedAt,
	})
}

func decodeCached(payload []byte) (*domain.Transaction, error) {
	var cached cachedTransaction
	if err := json.Unmarshal(payload, &cached); err != nil {
		return nil, err
	}
	gasPrice, ok := new(big.Int).SetString(cached.GasPrice, 10)
	if !ok {
		return nil, errors.New("invalid cached gas price")
	}
	return domain.RestoreTransaction(domain.TransactionSnapshot{
		Hash:               cached.Hash,
		Status:             cached.Status,
		ExpectedMinedInSec: cached.ExpectedMinedInSec,
		Nonce:              cached.Nonce,
		GasPrice:           gasPrice,
		BlockNumber:        cached.BlockNumber,
		RelayerAddress:     cached.RelayerAddress,
		CreatedAt:          cached.CreatedAt,
		UpdatedAt:          cached.UpdatedAt,
		ExpectedAt:         cached.ExpectedAt,
	})
}

func txCacheKey(version, hash string) string {
	return txCacheKeyPrefix + version + ":" + strings.ToLower(hash)
}

func txVersionKey(hash string) string {
	return txVersionKeyPrefix + strings.ToLower(hash)
}
