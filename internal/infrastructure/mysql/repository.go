package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"txrelay/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

// NewRepository opens dsn and ensures the schema. The DSN must set parseTime=true.
func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		hash VARCHAR(66) NOT NULL,
		status VARCHAR(32) NOT NULL,
		expected_mined_in_sec BIGINT NOT NULL,
		nonce BIGINT UNSIGNED NOT NULL,
		gas_price VARCHAR(78) NOT NULL,
		block_number BIGINT UNSIGNED NULL,
		meta_txn_relayer_address VARCHAR(42) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		expected_at DATETIME(6) NOT NULL,
		PRIMARY KEY (hash),
		KEY transactions_status_idx (status, expected_at),
		KEY transactions_relayer_idx (meta_txn_relayer_address, nonce)
	)`,
}

func createSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction inserts tx or updates the fields that change after creation.
func (r *Repository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, span := startDBSpan(ctx, "mysql.SaveTransaction", attribute.String("tx.hash", tx.Hash()))
	defer span.End()
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			block_number = VALUES(block_number),
			updated_at = VALUES(updated_at)`,
		s.Hash, s.Status, s.ExpectedMinedInSec, s.Nonce, s.GasPrice.String(), blockNumber,
		s.RelayerAddress, s.CreatedAt, s.UpdatedAt, s.ExpectedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *Repository) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	ctx, span := startDBSpan(ctx, "mysql.GetTransaction", attribute.String("tx.hash", hash))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := r.db.QueryRowContext(ctx, selectTransactions+` WHERE hash = ?`, strings.ToLower(hash))
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return tx, true, nil
}

// ListByStatus returns records in any of states, earliest expectedAt first.
func (r *Repository) ListByStatus(ctx context.Context, states []domain.TransactionState, limit int) ([]*domain.Transaction, error) {
	if len(states) == 0 {
		return nil, nil
	}
	ctx, span := startDBSpan(ctx, "mysql.ListByStatus", attribute.Int("state.count", len(states)))
	defer span.End()
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
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
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
		gasPrice    string
		blockNumber sql.NullInt64
	)
	if err := row.Scan(&s.Hash, &s.Status, &s.ExpectedMinedInSec, &s.Nonce, &gasPrice, &blockNumber,
		&s.RelayerAddress, &s.CreatedAt, &s.UpdatedAt, &s.ExpectedAt); err != nil {
		return nil, err
	}
	value, ok := new(big.Int).SetString(gasPrice, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas_price %q for %s", gasPrice, s.Hash)
	}
	s.GasPrice = value
	if blockNumber.Valid {
		block := uint64(blockNumber.Int64)
		s.BlockNumber = &block
	}
	return domain.RestoreTransaction(s)
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("txrelay/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
