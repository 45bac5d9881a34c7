package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"txrelay/internal/domain"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Timestamps are stored as unix microseconds.
func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			expected_mined_in_sec INTEGER NOT NULL,
			nonce INTEGER NOT NULL,
			gas_price TEXT NOT NULL,
			block_number INTEGER NULL,
			meta_txn_relayer_address TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expected_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions (status, expected_at)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s := tx.Snapshot()
	var blockNumber sql.NullInt64
	if s.BlockNumber != nil {
		blockNumber = sql.NullInt64{Int64: int64(*s.BlockNumber), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO transactions
		(hash, status, expected_mined_in_sec, nonce, gas_price, block_number, meta_txn_relayer_address, created_at, updated_at, expected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			status = excluded.status,
			block_number = excluded.block_number,
			updated_at = excluded.updated_at`,
		s.Hash, s.Status, s.ExpectedMinedInSec, int64(s.Nonce), s.GasPrice.String(), blockNumber,
		s.RelayerAddress, s.CreatedAt.UnixMicro(), s.UpdatedAt.UnixMicro(), s.ExpectedAt.UnixMicro(),
	)
	return err
}

func (r *Repository) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, selectTransactions+` WHERE hash = ?`, strings.ToLower(hash))
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	placeholders := make([]string, 0, len(states))
	args := make([]any, 0, len(states)+1)
	for _, state := range states {
		placeholders = append(placeholders, "?")
		args = append(args, string(state))
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)

	query := selectTransactions + ` WHERE status IN (` + strings.Join(placeholders, ", ") + `) ORDER BY expected_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

const selectTransactions = `SELECT hash, status, expected_mined_in_sec, nonce, gas_price, block_number,
	meta_txn_relayer_address, created_at, updated_at, expected_at FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		s           domain.TransactionSnapshot
		nonce       int64
		gasPrice    string
		blockNumber sql.NullInt64
		createdAt   int64
		updatedAt   int64
		expectedAt  int64
	)
	if err := row.Scan(&s.Hash, &s.Status, &s.ExpectedMinedInSec, &nonce, &gasPrice, &blockNumber,
		&s.RelayerAddress, &createdAt, &updatedAt, &expectedAt); err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(gasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas_price %q for %s", gasPrice, s.Hash)
	}
	s.Nonce = uint64(nonce)
	s.GasPrice = value
	if blockNumber.Valid {
		block := uint64(blockNumber.Int64)
		s.BlockNumber = &block
	}
	s.CreatedAt = time.UnixMicro(createdAt).UTC()
	s.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	s.ExpectedAt = time.UnixMicro(expectedAt).UTC()
	return domain.RestoreTransaction(s)
}
