package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"txrelay/internal/domain"
)

type TransactionRepository interface {
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error)
	ListByStatus(ctx context.Context, states []domain.TransactionState, limit int) ([]*domain.Transaction, error)
}

type ChainClient interface {
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, bool, error)
}

type StatusPublisher interface {
	PublishTransaction(ctx context.Context, tx *domain.Transaction) error
}

type TrackerObserver interface {
	OnSubmitted(tx *domain.Transaction)
	OnStatusChanged(tx *domain.Transaction, from domain.TransactionState)
	OnOverdue(tx *domain.Transaction)
	OnReconcileFailed(tx *domain.Transaction, err error)
}

type TrackerConfig struct {
	PollInterval   time.Duration
	ReconcileBatch int
}

// SubmitRequest is a signed transaction handed to the relayer together with
// the bookkeeping fields recorded alongside it. Nonce, GasPrice and
// RelayerAddress default to the values carried by the signed transaction; when
// set they must agree with it.
type SubmitRequest struct {
	RawTx              string
	Nonce              *int64
	GasPrice           *big.Int
	RelayerAddress     string
	ExpectedMinedInSec *int64
}

// Tracker submits transactions and walks their records forward as receipts appear.
type Tracker struct {
	chain     ChainClient
	repo      TransactionRepository
	publisher StatusPublisher
	observer  TrackerObserver
	cfg       TrackerConfig
	now       func() time.Time
}

var ErrTransactionNotFound = errors.New("transaction not found")

var pendingStates = []domain.TransactionState{domain.StateSubmitted, domain.StateMempool}

func NewTracker(chain ChainClient, repo TransactionRepository, publisher StatusPublisher, observer TrackerObserver, cfg TrackerConfig) (*Tracker, error) {
	if chain == nil || repo == nil {
		return nil, errors.New("tracker dependencies must not be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 100
	}
	return &Tracker{chain: chain, repo: repo, publisher: publisher, observer: observer, cfg: cfg, now: time.Now}, nil
}

// Submit validates req against the signed transaction it carries, relays it to
// the node and persists the resulting record as submitted. Nothing is sent
// when validation fails.
func (t *Tracker) Submit(ctx context.Context, req SubmitRequest) (*domain.Transaction, error) {
	signed, err := domain.DecodeSignedTransaction(req.RawTx)
	if err != nil {
		return nil, err
	}
	tx, err := newSubmittedTransaction(signed, req)
	if err != nil {
		return nil, err
	}

	hash, err := t.chain.SendRawTransaction(ctx, req.RawTx)
	if err != nil {
		return nil, fmt.Errorf("send raw transaction: %w", err)
	}
	if !strings.EqualFold(hash, tx.Hash()) {
		slog.Warn("node returned a different transaction hash", "expected", tx.Hash(), "returned", hash)
	}
	if err := t.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("relayed transaction was not recorded", "hash", tx.Hash(), "error", err)
		return nil, fmt.Errorf("save transaction %s: %w", tx.Hash(), err)
	}
	slog.Info("transaction submitted", "hash", tx.Hash(), "nonce", tx.Nonce(), "relayer", tx.RelayerAddress(), "expected_at", tx.ExpectedAt())
	if t.observer != nil {
		t.observer.OnSubmitted(tx)
	}
	t.publish(ctx, tx)
	return tx, nil
}

func newSubmittedTransaction(signed domain.SignedTransaction, req SubmitRequest) (*domain.Transaction, error) {
	nonce := int64(signed.Nonce)
	if signed.Nonce > math.MaxInt64 {
		return nil, &domain.ValidationError{Field: "nonce", Value: signed.Nonce, Reason: "exceeds the supported range"}
	}
	if req.Nonce != nil {
		nonce = *req.Nonce
	}
	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice = signed.GasPrice
	}
	relayer := req.RelayerAddress
	if strings.TrimSpace(relayer) == "" {
		relayer = signed.Sender
	}

	tx, err := domain.NewTransaction(domain.TransactionOpts{
		Hash:               signed.Hash,
		Status:             string(domain.StateSubmitted),
		ExpectedMinedInSec: req.ExpectedMinedInSec,
		Nonce:              nonce,
		GasPrice:           gasPrice,
		RelayerAddress:     relayer,
	})
	if err != nil {
		return nil, err
	}
	if tx.Nonce() != signed.Nonce {
		return nil, &domain.ValidationError{Field: "nonce", Value: nonce, Reason: fmt.Sprintf("signed transaction has nonce %d", signed.Nonce)}
	}
	if tx.RelayerAddress() != signed.Sender {
		return nil, &domain.ValidationError{Field: "relayerAddress", Value: relayer, Reason: "signed transaction was sent by " + signed.Sender}
	}
	return tx, nil
}

// Reconcile checks the receipt for hash and records the mining outcome. It
// returns the record and whether it changed.
func (t *Tracker) Reconcile(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	tx, ok, err := t.repo.GetTransaction(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrTransactionNotFound
	}
	return t.reconcile(ctx, tx)
}

// ReconcilePending reconciles up to one batch of records still awaiting mining
// and returns how many changed. A failing record does not stop the batch; its
// error is joined into the returned error. Only cancellation of ctx aborts.
func (t *Tracker) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := t.repo.ListByStatus(ctx, pendingStates, t.cfg.ReconcileBatch)
	if err != nil {
		return 0, err
	}
	changed := 0
	var errs []error
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		_, ok, err := t.reconcile(ctx, tx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return changed, ctxErr
			}
			slog.Warn("reconcile transaction failed", "hash", tx.Hash(), "error", err)
			if t.observer != nil {
				t.observer.OnReconcileFailed(tx, err)
			}
			errs = append(errs, fmt.Errorf("reconcile %s: %w", tx.Hash(), err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

// Run reconciles pending records every poll interval until ctx is done.
// Reconcile failures are logged and retried on the next tick.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		changed, err := t.ReconcilePending(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("reconcile pending failed", "error", err)
		} else if changed > 0 {
			slog.Info("reconciled pending transactions", "changed", changed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcile works on a copy of tx so a failed save leaves the caller's record
// as it was.
func (t *Tracker) reconcile(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, bool, error) {
	if tx.Status().IsTerminal() {
		return tx, false, nil
	}
	receipt, mined, err := t.chain.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		return tx, false, err
	}
	if !mined {
		if tx.Overdue(t.now()) {
			slog.Warn("transaction overdue", "hash", tx.Hash(), "expected_at", tx.ExpectedAt(), "status", tx.Status())
			if t.observer != nil {
				t.observer.OnOverdue(tx)
			}
		}
		return tx, false, nil
	}

	from := tx.Status()
	state := domain.StateFailed
	if receipt.Succeeded() {
		state = domain.StateSucceeded
	}
	next := tx.Clone()
	if err := next.SetBlockNumber(int64(receipt.BlockNumber)); err != nil {
		return tx, false, err
	}
	if err := next.SetStatus(state); err != nil {
		return tx, false, err
	}
	if err := t.repo.SaveTransaction(ctx, next); err != nil {
		return tx, false, fmt.Errorf("save transaction %s: %w", tx.Hash(), err)
	}
	slog.Info("transaction mined", "hash", next.Hash(), "block", receipt.BlockNumber, "status", state)
	if t.observer != nil {
		t.observer.OnStatusChanged(next, from)
	}
	t.publish(ctx, next)
	return next, true, nil
}

func (t *Tracker) publish(ctx context.Context, tx *domain.Transaction) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishTransaction(ctx, tx); err != nil {
		slog.Warn("publish transaction status failed", "hash", tx.Hash(), "error", err)
	}
}
