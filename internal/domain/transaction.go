package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultExpectedMinedInSec applies when a record is created without an explicit mining estimate.
const DefaultExpectedMinedInSec int64 = 120

// MaxExpectedMinedInSec is the largest estimate whose offset still fits a time.Duration.
const MaxExpectedMinedInSec = math.MaxInt64 / int64(time.Second)

// ValidationError names the field that blocked construction or mutation of a Transaction.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// TransactionOpts carries the caller-supplied fields of a new Transaction.
// Optional values are pointers; nil means absent.
type TransactionOpts struct {
	Hash               string
	Status             string
	ExpectedMinedInSec *int64
	Nonce              int64
	GasPrice           *big.Int
	BlockNumber        *int64
	RelayerAddress     string
}

// Transaction tracks one relayed transaction from submission to mining.
// Values are only obtainable from NewTransaction or RestoreTransaction.
type Transaction struct {
	hash               string
	status             TransactionState
	expectedMinedInSec int64
	nonce              uint64
	gasPrice           *big.Int
	blockNumber        *uint64
	relayerAddress     string
	createdAt          time.Time
	updatedAt          time.Time
	expectedAt         time.Time
}

// TransactionSnapshot is the flat, persisted form of a Transaction.
type TransactionSnapshot struct {
	Hash               string
	Status             string
	ExpectedMinedInSec int64
	Nonce              uint64
	GasPrice           *big.Int
	BlockNumber        *uint64
	RelayerAddress     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ExpectedAt         time.Time
}

// NewTransaction validates opts and returns a record stamped with the current time.
func NewTransaction(opts TransactionOpts) (*Transaction, error) {
	return newTransactionAt(opts, now())
}

func newTransactionAt(opts TransactionOpts, createdAt time.Time) (*Transaction, error) {
	if err := validateHash(opts.Hash); err != nil {
		return nil, err
	}
	if err := validateAddress(opts.RelayerAddress); err != nil {
		return nil, err
	}
	status, err := validateStatus(opts.Status)
	if err != nil {
		return nil, err
	}
	if opts.Nonce < 0 {
		return nil, &ValidationError{Field: "nonce", Value: opts.Nonce, Reason: "must be a non-negative integer"}
	}
	var blockNumber *uint64
	if opts.BlockNumber != nil {
		if *opts.BlockNumber <= 0 {
			return nil, &ValidationError{Field: "blockNumber", Value: *opts.BlockNumber, Reason: "must be a positive integer"}
		}
		value := uint64(*opts.BlockNumber)
		blockNumber = &value
	}
	expectedMinedInSec := DefaultExpectedMinedInSec
	if opts.ExpectedMinedInSec != nil {
		if err := validateExpectedMinedInSec(*opts.ExpectedMinedInSec); err != nil {
			return nil, err
		}
		expectedMinedInSec = *opts.ExpectedMinedInSec
	}
	if err := validateGasPrice(opts.GasPrice); err != nil {
		return nil, err
	}

	return &Transaction{
		hash:               strings.ToLower(opts.Hash),
		status:             status,
		expectedMinedInSec: expectedMinedInSec,
		nonce:              uint64(opts.Nonce),
		gasPrice:           new(big.Int).Set(opts.GasPrice),
		blockNumber:        blockNumber,
		relayerAddress:     strings.ToLower(opts.RelayerAddress),
		createdAt:          createdAt,
		updatedAt:          createdAt,
		expectedAt:         createdAt.Add(time.Duration(expectedMinedInSec) * time.Second),
	}, nil
}

// RestoreTransaction rebuilds a persisted record. It applies the same checks as
// NewTransaction and rejects rows whose expectedAt no longer matches createdAt.
func RestoreTransaction(s TransactionSnapshot) (*Transaction, error) {
	if err := validateHash(s.Hash); err != nil {
		return nil, err
	}
	if err := validateAddress(s.RelayerAddress); err != nil {
		return nil, err
	}
	status, err := validateStatus(s.Status)
	if err != nil {
		return nil, err
	}
	if s.BlockNumber != nil && *s.BlockNumber == 0 {
		return nil, &ValidationError{Field: "blockNumber", Value: *s.BlockNumber, Reason: "must be a positive integer"}
	}
	if err := validateExpectedMinedInSec(s.ExpectedMinedInSec); err != nil {
		return nil, err
	}
	if err := validateGasPrice(s.GasPrice); err != nil {
		return nil, err
	}
	if want := s.CreatedAt.Add(time.Duration(s.ExpectedMinedInSec) * time.Second); !s.ExpectedAt.Equal(want) {
		return nil, &ValidationError{Field: "expectedAt", Value: s.ExpectedAt, Reason: "must equal createdAt plus expectedMinedInSec"}
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return nil, &ValidationError{Field: "updatedAt", Value: s.UpdatedAt, Reason: "must not precede createdAt"}
	}

	var blockNumber *uint64
	if s.BlockNumber != nil {
		value := *s.BlockNumber
		blockNumber = &value
	}
	return &Transaction{
		hash:               strings.ToLower(s.Hash),
		status:             status,
		expectedMinedInSec: s.ExpectedMinedInSec,
		nonce:              s.Nonce,
		gasPrice:           new(big.Int).Set(s.GasPrice),
		blockNumber:        blockNumber,
		relayerAddress:     strings.ToLower(s.RelayerAddress),
		createdAt:          s.CreatedAt.UTC(),
		updatedAt:          s.UpdatedAt.UTC(),
		expectedAt:         s.ExpectedAt.UTC(),
	}, nil
}

func (t *Transaction) Hash() string { return t.hash }
func (t *Transaction) Status() TransactionState { return t.status }
func (t *Transaction) ExpectedMinedInSec() int64 { return t.expectedMinedInSec }
func (t *Transaction) Nonce() uint64 { return t.nonce }
func (t *Transaction) RelayerAddress() string { return t.relayerAddress }
func (t *Transaction) CreatedAt() time.Time { return t.createdAt }
func (t *Transaction) UpdatedAt() time.Time { return t.updatedAt }
func (t *Transaction) ExpectedAt() time.Time { return t.expectedAt }
func (t *Transaction) GasPrice() *big.Int { return new(big.Int).Set(t.gasPrice) }

// BlockNumber returns the mining block, if one has been assigned.
func (t *Transaction) BlockNumber() (uint64, bool) {
	if t.blockNumber == nil {
		return 0, false
	}
	return *t.blockNumber, true
}

// Overdue reports whether the record is still unmined past its expected time.
func (t *Transaction) Overdue(at time.Time) bool {
	return t.blockNumber == nil && !t.status.IsTerminal() && at.After(t.expectedAt)
}

// SetStatus moves the record to state and bumps updatedAt.
func (t *Transaction) SetStatus(state TransactionState) error {
	if !state.Valid() {
		return &ValidationError{Field: "status", Value: state, Reason: "unknown transaction state"}
	}
	t.status = state
	t.touch()
	return nil
}

// SetBlockNumber records the block the transaction was mined in and bumps updatedAt.
func (t *Transaction) SetBlockNumber(blockNumber int64) error {
	if blockNumber <= 0 {
		return &ValidationError{Field: "blockNumber", Value: blockNumber, Reason: "must be a positive integer"}
	}
	value := uint64(blockNumber)
	t.blockNumber = &value
	t.touch()
	return nil
}

// Clone returns an independent copy, so a caller can stage mutations and
// discard them if persisting fails.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.gasPrice = new(big.Int).Set(t.gasPrice)
	if t.blockNumber != nil {
		value := *t.blockNumber
		c.blockNumber = &value
	}
	return &c
}

// Snapshot copies the record into its persisted form.
func (t *Transaction) Snapshot() TransactionSnapshot {
	var blockNumber *uint64
	if t.blockNumber != nil {
		value := *t.blockNumber
		blockNumber = &value
	}
	return TransactionSnapshot{
		Hash:               t.hash,
		Status:             string(t.status),
		ExpectedMinedInSec: t.expectedMinedInSec,
		Nonce:              t.nonce,
		GasPrice:           new(big.Int).Set(t.gasPrice),
		BlockNumber:        blockNumber,
		RelayerAddress:     t.relayerAddress,
		CreatedAt:          t.createdAt,
		UpdatedAt:          t.updatedAt,
		ExpectedAt:         t.expectedAt,
	}
}

func (t *Transaction) touch() {
	updated := now()
	if updated.Before(t.updatedAt) {
		updated = t.updatedAt
	}
	t.updatedAt = updated
}

// Timestamps are kept at microsecond precision so they survive DATETIME(6) and TIMESTAMPTZ columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func validateHash(hash string) error {
	decoded, err := hexutil.Decode(hash)
	if err != nil {
		return &ValidationError{Field: "hash", Value: hash, Reason: err.Error()}
	}
	if len(decoded) != common.HashLength {
		return &ValidationError{Field: "hash", Value: hash, Reason: fmt.Sprintf("expected %d bytes, got %d", common.HashLength, len(decoded))}
	}
	return nil
}

func validateAddress(address string) error {
	hasPrefix := strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X")
	if !hasPrefix || !common.IsHexAddress(address) {
		return &ValidationError{Field: "relayerAddress", Value: address, Reason: "not a 0x-prefixed 20-byte hex address"}
	}
	return nil
}

func validateStatus(raw string) (TransactionState, error) {
	state, ok := ParseTransactionState(raw)
	if !ok {
		return "", &ValidationError{Field: "status", Value: raw, Reason: "unknown transaction state"}
	}
	return state, nil
}

func validateExpectedMinedInSec(seconds int64) error {
	if seconds < 0 {
		return &ValidationError{Field: "expectedMinedInSec", Value: seconds, Reason: "must be a non-negative integer"}
	}
	if seconds > MaxExpectedMinedInSec {
		return &ValidationError{Field: "expectedMinedInSec", Value: seconds, Reason: fmt.Sprintf("must not exceed %d", MaxExpectedMinedInSec)}
	}
	return nil
}

func validateGasPrice(gasPrice *big.Int) error {
	if gasPrice == nil {
		return &ValidationError{Field: "gasPrice", Value: nil, Reason: "is required"}
	}
	if gasPrice.Sign() < 0 {
		return &ValidationError{Field: "gasPrice", Value: gasPrice.String(), Reason: "must be non-negative"}
	}
	return nil
}
