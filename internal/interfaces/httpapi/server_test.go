package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"txrelay/internal/application"
	"txrelay/internal/domain"
	"txrelay/internal/infrastructure/ethrpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHash    = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	testRelayer = "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"
)

type fakeStore struct {
	txs        map[string]*domain.Transaction
	listStates []domain.TransactionState
	pingErr    error
}

func (f *fakeStore) GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	return tx, ok, nil
}

func (f *fakeStore) ListByStatus(ctx context.Context, states []domain.TransactionState, limit int) ([]*domain.Transaction, error) {
	f.listStates = states
	var out []*domain.Transaction
	for _, tx := range f.txs {
		for _, state := range states {
			if tx.Status() == state {
				out = append(out, tx)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type fakeRPC struct {
	result json.RawMessage
	err    error
	last   ethrpc.Request
}

func (f *fakeRPC) Forward(ctx context.Context, req ethrpc.Request) (json.RawMessage, error) {
	f.last = req
	return f.result, f.err
}

func (f *fakeRPC) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return 1, f.err
}

type fakeTracker struct {
	submitted application.SubmitRequest
	tx        *domain.Transaction
	err       error
}

func (f *fakeTracker) Submit(ctx context.Context, req application.SubmitRequest) (*domain.Transaction, error) {
	f.submitted = req
	return f.tx, f.err
}

func (f *fakeTracker) Reconcile(ctx context.Context, hash string) (*domain.Transaction, bool, error) {
	if f.tx == nil || f.tx.Hash() != hash {
		return nil, false, application.ErrTransactionNotFound
	}
	return f.tx, false, nil
}

func sampleTransaction(t *testing.T, status domain.TransactionState) *domain.Transaction {
	t.Helper()
	tx, err := domain.NewTransaction(domain.TransactionOpts{
		Hash:           testHash,
		Status:         string(status),
		Nonce:          4,
		GasPrice:       big.NewInt(30_000_000_000),
		RelayerAddress: testRelayer,
	})
	require.NoError(t, err)
	return tx
}

func newTestServer(t *testing.T, store *fakeStore, rpc *fakeRPC, tracker *fakeTracker) *httptest.Server {
	t.Helper()
	server, err := NewServer(store, rpc, tracker, nil, BuildInfo{Version: "test"})
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decodeEnvelope(t *testing.T, resp *http.Response) rpcEnvelope {
	t.Helper()
	defer resp.Body.Close()
	var env rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func postRPC(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestRPCProxy_Success(t *testing.T) {
	rpc := &fakeRPC{result: json.RawMessage(`"0x10"`)}
	ts := newTestServer(t, &fakeStore{}, rpc, &fakeTracker{})

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":"abc","method":"eth_blockNumber"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.JSONEq(t, `"abc"`, string(env.ID))
	assert.JSONEq(t, `"0x10"`, string(env.Result))
	assert.Empty(t, env.Error)
	assert.Equal(t, "eth_blockNumber", rpc.last.Method)
}

func TestRPCProxy_RPCErrorBecomesEnvelope(t *testing.T) {
	raw := json.RawMessage(`{"code":-32000,"message":"nonce too low","data":{"x":1}}`)
	rpc := &fakeRPC{err: &ethrpc.RPCError{Code: -32000, Message: "nonce too low", Raw: raw}}
	ts := newTestServer(t, &fakeStore{}, rpc, &fakeTracker{})

	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":7,"method":"eth_sendRawTransaction","params":["0x00"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.JSONEq(t, `7`, string(env.ID))
	assert.JSONEq(t, string(raw), string(env.Error))
	assert.Empty(t, env.Result)
}

func TestRPCProxy_FailureStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", &ethrpc.TimeoutError{Timeout: time.Second, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"transport", &ethrpc.TransportError{Err: errors.New("connection refused")}, http.StatusBadGateway},
		{"upstream", &ethrpc.UpstreamError{StatusCode: 503, StatusText: "Service Unavailable"}, http.StatusBadGateway},
		{"protocol", &ethrpc.ProtocolError{Err: errors.New("invalid character")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeStore{}, &fakeRPC{err: tc.err}, &fakeTracker{})
			resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`)
			assert.Equal(t, tc.status, resp.StatusCode)
			env := decodeEnvelope(t, resp)
			assert.Contains(t, string(env.Error), "-32603")
		})
	}
}

func TestRPCProxy_RejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, &fakeRPC{}, &fakeTracker{})

	resp := postRPC(t, ts.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(decodeEnvelope(t, resp).Error), "-32700")

	resp = postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(decodeEnvelope(t, resp).Error), "-32600")
}

func TestGetTransaction(t *testing.T) {
	tx := sampleTransaction(t, domain.StateSubmitted)
	store := &fakeStore{txs: map[string]*domain.Transaction{testHash: tx}}
	ts := newTestServer(t, store, &fakeRPC{}, &fakeTracker{})

	resp, err := http.Get(ts.URL + "/transactions/0x" + strings.Repeat("1", 64))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/transactions/" + testHash)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view transactionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, testHash, view.Hash)
	assert.Equal(t, "submitted", view.Status)
	assert.Equal(t, "30000000000", view.GasPrice)
	assert.Nil(t, view.BlockNumber)
	assert.Equal(t, int64(domain.DefaultExpectedMinedInSec), view.ExpectedMinedInSec)
}

func TestListTransactions(t *testing.T) {
	store := &fakeStore{txs: map[string]*domain.Transaction{testHash: sampleTransaction(t, domain.StateMempool)}}
	ts := newTestServer(t, store, &fakeRPC{}, &fakeTracker{})

	resp, err := http.Get(ts.URL + "/transactions?status=mempool,submitted")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []transactionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, []domain.TransactionState{domain.StateMempool, domain.StateSubmitted}, store.listStates)

	resp, err = http.Get(ts.URL + "/transactions")
	require.NoError(t, err)
	resp.Body.Close()
	for _, state := range store.listStates {
		assert.False(t, state.IsTerminal(), state)
	}

	resp, err = http.Get(ts.URL + "/transactions?status=lost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitTransaction(t *testing.T) {
	tracker := &fakeTracker{tx: sampleTransaction(t, domain.StateSubmitted)}
	ts := newTestServer(t, &fakeStore{}, &fakeRPC{}, tracker)

	body := `{"raw_tx":"0xf86c","nonce":4,"gas_price":"30000000000","relayer_address":"` + testRelayer + `","expected_mined_in_sec":45}`
	resp, err := http.Post(ts.URL+"/transactions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "0xf86c", tracker.submitted.RawTx)
	assert.Equal(t, "30000000000", tracker.submitted.GasPrice.String())
	require.NotNil(t, tracker.submitted.Nonce)
	assert.Equal(t, int64(4), *tracker.submitted.Nonce)
	require.NotNil(t, tracker.submitted.ExpectedMinedInSec)
	assert.Equal(t, int64(45), *tracker.submitted.ExpectedMinedInSec)

	// Only the raw transaction is required; the rest comes from its signature.
	resp, err = http.Post(ts.URL+"/transactions", "application/json", strings.NewReader(`{"raw_tx":"0xf86c"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, tracker.submitted.Nonce)
	assert.Nil(t, tracker.submitted.GasPrice)
	assert.Empty(t, tracker.submitted.RelayerAddress)

	resp, err = http.Post(ts.URL+"/transactions", "application/json", strings.NewReader(`{"gas_price":"abc"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	tracker.err = &domain.ValidationError{Field: "nonce", Value: int64(-1), Reason: "must be non-negative"}
	resp, err = http.Post(ts.URL+"/transactions", "application/json", strings.NewReader(`{"gas_price":"1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTransactions_LimitBounds(t *testing.T) {
	store := &fakeStore{txs: map[string]*domain.Transaction{testHash: sampleTransaction(t, domain.StateSubmitted)}}
	ts := newTestServer(t, store, &fakeRPC{}, &fakeTracker{})

	for _, limit := range []string{"1", "1000"} {
		resp, err := http.Get(ts.URL + "/transactions?status=submitted&limit=" + limit)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, "limit=%s", limit)
	}
	for _, limit := range []string{"0", "1001", "-1", "ten"} {
		resp, err := http.Get(ts.URL + "/transactions?status=submitted&limit=" + limit)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s", limit)
	}
}

func TestReconcileTransactionNotFound(t *testing.T) {
	ts := newTestServer(t, &fakeStore{}, &fakeRPC{}, &fakeTracker{})
	resp, err := http.Post(ts.URL+"/transactions/"+testHash+"/reconcile", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	store := &fakeStore{}
	rpc := &fakeRPC{result: json.RawMessage(`"0x1"`)}
	ts := newTestServer(t, store, rpc, &fakeTracker{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	store.pingErr = errors.New("db down")
	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}`).Body.Close()
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `txrelay_rpc_forwards_total{outcome="ok"} 1`)
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	tx := sampleTransaction(t, domain.StateSubmitted)
	m.OnSubmitted(tx)
	require.NoError(t, tx.SetStatus(domain.StateSucceeded))
	m.OnStatusChanged(tx, domain.StateSubmitted)
	m.OnOverdue(tx)
	m.OnReconcileFailed(tx, errors.New("receipt lookup failed"))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() != nil {
				found[family.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), found["txrelay_transactions_submitted_total"])
	assert.Equal(t, float64(1), found["txrelay_transaction_status_changes_total"])
	assert.Equal(t, float64(1), found["txrelay_transactions_overdue_total"])
	assert.Equal(t, float64(1), found["txrelay_reconcile_failures_total"])
}
