package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHash    = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	testRelayer = "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"
)

func int64Ptr(v int64) *int64 { return &v }

func validOpts() TransactionOpts {
	return TransactionOpts{
		Hash:           testHash,
		Status:         string(StateSubmitted),
		Nonce:          5,
		GasPrice:       big.NewInt(1_000_000_000),
		RelayerAddress: testRelayer,
	}
}

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr), "expected ValidationError, got %v", err)
	assert.Equal(t, field, validationErr.Field)
}

func TestNewTransaction_RoundTrip(t *testing.T) {
	opts := validOpts()
	opts.ExpectedMinedInSec = int64Ptr(60)

	tx, err := NewTransaction(opts)
	require.NoError(t, err)

	assert.Equal(t, testHash, tx.Hash())
	assert.Equal(t, StateSubmitted, tx.Status())
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, 0, tx.GasPrice().Cmp(big.NewInt(1_000_000_000)))
	assert.Equal(t, testRelayer, tx.RelayerAddress())
	assert.Equal(t, int64(60), tx.ExpectedMinedInSec())
	_, mined := tx.BlockNumber()
	assert.False(t, mined)
	assert.Equal(t, tx.CreatedAt(), tx.UpdatedAt())
	assert.Equal(t, 60*time.Second, tx.ExpectedAt().Sub(tx.CreatedAt()))
}

func TestNewTransaction_DefaultExpectedMinedInSec(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tx, err := newTransactionAt(validOpts(), createdAt)
	require.NoError(t, err)

	assert.Equal(t, DefaultExpectedMinedInSec, tx.ExpectedMinedInSec())
	assert.Equal(t, createdAt.Add(120*time.Second), tx.ExpectedAt())
}

func TestNewTransaction_ZeroExpectedMinedInSec(t *testing.T) {
	opts := validOpts()
	opts.ExpectedMinedInSec = int64Ptr(0)
	tx, err := NewTransaction(opts)
	require.NoError(t, err)
	assert.Equal(t, tx.CreatedAt(), tx.ExpectedAt())
}

func TestNewTransaction_GasPriceKeepsFullPrecision(t *testing.T) {
	huge, ok := new(big.Int).SetString("1180591620717411303424123456789", 10)
	require.True(t, ok)
	opts := validOpts()
	opts.GasPrice = huge

	tx, err := NewTransaction(opts)
	require.NoError(t, err)
	assert.Equal(t, huge.String(), tx.GasPrice().String())

	// Neither the caller's value nor the returned copy aliases the record.
	huge.SetInt64(1)
	tx.GasPrice().SetInt64(2)
	assert.Equal(t, "1180591620717411303424123456789", tx.GasPrice().String())
}

func TestNewTransaction_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TransactionOpts)
		field  string
	}{
		{"non-hex hash", func(o *TransactionOpts) { o.Hash = "0xzz" + testHash[4:] }, "hash"},
		{"missing hash prefix", func(o *TransactionOpts) { o.Hash = testHash[2:] }, "hash"},
		{"short hash", func(o *TransactionOpts) { o.Hash = "0xabc" }, "hash"},
		{"empty hash", func(o *TransactionOpts) { o.Hash = "" }, "hash"},
		{"malformed relayer", func(o *TransactionOpts) { o.RelayerAddress = "0x1234" }, "relayerAddress"},
		{"relayer without prefix", func(o *TransactionOpts) { o.RelayerAddress = testRelayer[2:] }, "relayerAddress"},
		{"unknown status", func(o *TransactionOpts) { o.Status = "pending" }, "status"},
		{"empty status", func(o *TransactionOpts) { o.Status = "" }, "status"},
		{"negative nonce", func(o *TransactionOpts) { o.Nonce = -1 }, "nonce"},
		{"zero block number", func(o *TransactionOpts) { o.BlockNumber = int64Ptr(0) }, "blockNumber"},
		{"negative block number", func(o *TransactionOpts) { o.BlockNumber = int64Ptr(-7) }, "blockNumber"},
		{"negative expected seconds", func(o *TransactionOpts) { o.ExpectedMinedInSec = int64Ptr(-1) }, "expectedMinedInSec"},
		{"expected seconds past duration range", func(o *TransactionOpts) { o.ExpectedMinedInSec = int64Ptr(10_000_000_000) }, "expectedMinedInSec"},
		{"missing gas price", func(o *TransactionOpts) { o.GasPrice = nil }, "gasPrice"},
		{"negative gas price", func(o *TransactionOpts) { o.GasPrice = big.NewInt(-1) }, "gasPrice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := validOpts()
			tc.mutate(&opts)
			tx, err := NewTransaction(opts)
			assert.Nil(t, tx)
			requireValidationField(t, err, tc.field)
		})
	}
}

func TestNewTransaction_ExpectedMinedInSecUpperBound(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := validOpts()
	opts.ExpectedMinedInSec = int64Ptr(MaxExpectedMinedInSec)
	tx, err := newTransactionAt(opts, createdAt)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(MaxExpectedMinedInSec)*time.Second, tx.ExpectedAt().Sub(tx.CreatedAt()))
	assert.True(t, tx.ExpectedAt().After(tx.CreatedAt()))

	opts.ExpectedMinedInSec = int64Ptr(MaxExpectedMinedInSec + 1)
	_, err = newTransactionAt(opts, createdAt)
	requireValidationField(t, err, "expectedMinedInSec")

	snap := tx.Snapshot()
	snap.ExpectedMinedInSec = MaxExpectedMinedInSec + 1
	_, err = RestoreTransaction(snap)
	requireValidationField(t, err, "expectedMinedInSec")
}

func TestValidationError_CarriesOffendingValue(t *testing.T) {
	opts := validOpts()
	opts.RelayerAddress = "0x1234"
	_, err := NewTransaction(opts)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "relayerAddress", validationErr.Field)
	assert.Equal(t, "0x1234", validationErr.Value)
	assert.Contains(t, err.Error(), "relayerAddress")
	assert.Contains(t, err.Error(), "0x1234")

	opts = validOpts()
	opts.Nonce = -3
	_, err = NewTransaction(opts)
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, int64(-3), validationErr.Value)
}

func TestTransaction_CloneIsIndependent(t *testing.T) {
	tx, err := NewTransaction(validOpts())
	require.NoError(t, err)

	clone := tx.Clone()
	require.NoError(t, clone.SetStatus(StateSucceeded))
	require.NoError(t, clone.SetBlockNumber(9))

	assert.Equal(t, StateSubmitted, tx.Status())
	_, mined := tx.BlockNumber()
	assert.False(t, mined)
	assert.Equal(t, StateSucceeded, clone.Status())
}

func TestNewTransaction_ValidationOrder(t *testing.T) {
	opts := TransactionOpts{
		Hash:           "nope",
		Status:         "nope",
		Nonce:          -1,
		BlockNumber:    int64Ptr(0),
		RelayerAddress: "nope",
	}
	_, err := NewTransaction(opts)
	requireValidationField(t, err, "hash")

	opts.Hash = testHash
	_, err = NewTransaction(opts)
	requireValidationField(t, err, "relayerAddress")

	opts.RelayerAddress = testRelayer
	_, err = NewTransaction(opts)
	requireValidationField(t, err, "status")

	opts.Status = string(StateMempool)
	_, err = NewTransaction(opts)
	requireValidationField(t, err, "nonce")

	opts.Nonce = 0
	_, err = NewTransaction(opts)
	requireValidationField(t, err, "blockNumber")
}

// A block number must be an integer and positive; positive alone is not enough
// and the integer requirement is enforced by the int64 input type.
func TestNewTransaction_BlockNumberMustBePositiveInteger(t *testing.T) {
	opts := validOpts()
	opts.BlockNumber = int64Ptr(1)
	tx, err := NewTransaction(opts)
	require.NoError(t, err)
	block, ok := tx.BlockNumber()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), block)
}

func TestTransaction_Mutators(t *testing.T) {
	createdAt := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	tx, err := newTransactionAt(validOpts(), createdAt)
	require.NoError(t, err)
	expectedAt := tx.ExpectedAt()

	require.NoError(t, tx.SetStatus(StateSucceeded))
	assert.Equal(t, StateSucceeded, tx.Status())
	assert.True(t, tx.UpdatedAt().After(createdAt))

	err = tx.SetStatus("bogus")
	requireValidationField(t, err, "status")
	assert.Equal(t, StateSucceeded, tx.Status())

	requireValidationField(t, tx.SetBlockNumber(0), "blockNumber")
	require.NoError(t, tx.SetBlockNumber(19_000_000))
	block, ok := tx.BlockNumber()
	assert.True(t, ok)
	assert.Equal(t, uint64(19_000_000), block)

	assert.Equal(t, createdAt, tx.CreatedAt())
	assert.Equal(t, expectedAt, tx.ExpectedAt())
}

func TestTransaction_Overdue(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tx, err := newTransactionAt(validOpts(), createdAt)
	require.NoError(t, err)

	assert.False(t, tx.Overdue(createdAt.Add(119*time.Second)))
	assert.True(t, tx.Overdue(createdAt.Add(121*time.Second)))

	require.NoError(t, tx.SetBlockNumber(10))
	assert.False(t, tx.Overdue(createdAt.Add(time.Hour)))
}

func TestRestoreTransaction(t *testing.T) {
	opts := validOpts()
	opts.BlockNumber = int64Ptr(42)
	tx, err := NewTransaction(opts)
	require.NoError(t, err)

	restored, err := RestoreTransaction(tx.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, tx.Snapshot(), restored.Snapshot())

	tampered := tx.Snapshot()
	tampered.ExpectedAt = tampered.ExpectedAt.Add(time.Second)
	_, err = RestoreTransaction(tampered)
	requireValidationField(t, err, "expectedAt")

	unknown := tx.Snapshot()
	unknown.Status = "lost"
	_, err = RestoreTransaction(unknown)
	requireValidationField(t, err, "status")
}

func TestTransactionStates(t *testing.T) {
	states := TransactionStates()
	assert.Len(t, states, 9)
	for _, state := range states {
		parsed, ok := ParseTransactionState(string(state))
		assert.True(t, ok)
		assert.Equal(t, state, parsed)
	}
	_, ok := ParseTransactionState("Submitted")
	assert.False(t, ok)
	assert.True(t, StateConfirmed.IsTerminal())
	assert.False(t, StateMempool.IsTerminal())
}
