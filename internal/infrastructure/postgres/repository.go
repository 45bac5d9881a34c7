package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"txrelay/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	repo := &Repository{pool: pool}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS transactions (
  hash TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  expected_mined_in_sec BIGINT NOT NULL,
  nonce BIGINT NOT NULL,
  gas_price NUMERIC(78,0) NOT NULL,
  block_number BIGINT NULL,
  meta_txn_relayer_address TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  expected_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions(status, expected_at);
`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaDDL)
	return err
}

func (r *Repository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s := tx.Snapshot()
	var blockNumber *int64
	if s.BlockNumber != nil {
		value := int64(*s.BlockNumber)
		blockNumber = &value
	}
	_, err := r.pool.Exec(cctx, `
INSERT INTO transactions
  (hash, status, expected_mined_in_sec, nonce, gas_price, block_number, meta_txn_relayer_address, created_at, updated_at, expected_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
ON CONFLICT (hash) DO UPDATE SET
  status = EXCLUDED.status,
  block_number = EXCLUDED.block_number,
  updated_at = EXCLUDED.updated_at`,
		s.Hash, s.Status, s.ExpectedMinedInSec, int64(s.Nonce), s.GasPrice.String(), blockNumber,
		s.RelayerAddress, s.CreatedAt, s.UpdatedAt, s.ExpectedAt,
	)
	return err
}

func (r *Repository) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.pool.QueryRow(cctx, selectTransactions+` WHERE hash = $1`, strings.ToLower(hash))
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return tx, true, nil
}

func (r *Repository) ListByStatus(ctx context.Context, states []domain.TransactionState, limit int) ([]*domain.Transaction, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	values := make([]string, 0, len(states))
	for _, state := range states {
		values = append(values, string(state))
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(cctx, selectTransactions+` WHERE status = ANY($1) ORDER BY expected_at ASC LIMIT $2`, values, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.pool.Ping(cctx)
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

const selectTransactions = `SELECT hash, status, expected_mined_in_sec, nonce, gas_price::text, block_number,
  meta_txn_relayer_address, created_at, updated_at, expected_at FROM transactions`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		s           domain.TransactionSnapshot
		expected    int32
		nonce       int64
		gasPrice    string
		blockNumber *int64
	)
	if err := row.Scan(&s.Hash, &s.Status, &expected, &nonce, &gasPrice, &blockNumber,
		&s.RelayerAddress, &s.CreatedAt, &s.UpdatedAt, &s.ExpectedAt); err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(gasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas_price %q for %s", gasPrice, s.Hash)
	}
	s.ExpectedMinedInSec = int64(expected)
	s.Nonce = uint64(nonce)
	s.GasPrice = value
	if blockNumber != nil {
		block := uint64(*blockNumber)
		s.BlockNumber = &block
	}
	return domain.RestoreTransaction(s)
}
