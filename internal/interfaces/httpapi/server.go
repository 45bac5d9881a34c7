package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"txrelay/internal/application"
	"txrelay/internal/domain"
	"txrelay/internal/infrastructure/ethrpc"
)

const maxRequestBody = 1 << 20

type TransactionStore interface {
	GetTransaction(ctx context.Context, hash string) (*domain.Transaction, bool, error)
	ListByStatus(ctx context.Context, states []domain.TransactionState, limit int) ([]*domain.Transaction, error)
	Ping(ctx context.Context) error
}

type RPCForwarder interface {
	Forward(ctx context.Context, req ethrpc.Request) (json.RawMessage, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

type Submitter interface {
	Submit(ctx context.Context, req application.SubmitRequest) (*domain.Transaction, error)
	Reconcile(ctx context.Context, hash string) (*domain.Transaction, bool, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	store     TransactionStore
	rpc       RPCForwarder
	tracker   Submitter
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(store TransactionStore, rpc RPCForwarder, tracker Submitter, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if store == nil || rpc == nil || tracker == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{store: store, rpc: rpc, tracker: tracker, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("POST /transactions", s.handleSubmitTransaction)
	mux.HandleFunc("GET /transactions/{hash}", s.handleGetTransaction)
	mux.HandleFunc("POST /transactions/{hash}/reconcile", s.handleReconcileTransaction)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	if _, err := s.rpc.LatestBlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// handleRPC relays a single JSON-RPC request. Errors returned by the remote
// method come back as JSON-RPC error envelopes with status 200; failures to
// reach the node map to gateway statuses.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req ethrpc.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondRPCError(w, http.StatusBadRequest, nil, -32700, "parse error")
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		respondRPCError(w, http.StatusBadRequest, req.ID, -32600, "method is required")
		return
	}
	id := req.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	started := time.Now()
	result, err := s.rpc.Forward(r.Context(), req)
	s.metrics.ObserveForward(ethrpc.ErrorKind(err), time.Since(started))
	if err == nil {
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		respondJSON(w, http.StatusOK, rpcEnvelope{JSONRPC: "2.0", ID: id, Result: result})
		return
	}

	var (
		rpcErr     *ethrpc.RPCError
		timeoutErr *ethrpc.TimeoutError
	)
	switch {
	case errors.As(err, &rpcErr):
		respondJSON(w, http.StatusOK, rpcEnvelope{JSONRPC: "2.0", ID: id, Error: rpcErr.Raw})
	case errors.As(err, &timeoutErr):
		slog.Warn("rpc forward timed out", "method", req.Method, "timeout", timeoutErr.Timeout)
		respondRPCError(w, http.StatusGatewayTimeout, id, -32603, err.Error())
	default:
		slog.Warn("rpc forward failed", "method", req.Method, "kind", ethrpc.ErrorKind(err), "error", err)
		respondRPCError(w, http.StatusBadGateway, id, -32603, err.Error())
	}
}

type submitPayload struct {
	RawTx              string `json:"raw_tx"`
	Nonce              *int64 `json:"nonce,omitempty"`
	GasPrice           string `json:"gas_price,omitempty"`
	RelayerAddress     string `json:"relayer_address"`
	ExpectedMinedInSec *int64 `json:"expected_mined_in_sec,omitempty"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var gasPrice *big.Int
	if raw := strings.TrimSpace(payload.GasPrice); raw != "" {
		value, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid gas_price")
			return
		}
		gasPrice = value
	}
	tx, err := s.tracker.Submit(r.Context(), application.SubmitRequest{
		RawTx:              payload.RawTx,
		Nonce:              payload.Nonce,
		GasPrice:           gasPrice,
		RelayerAddress:     payload.RelayerAddress,
		ExpectedMinedInSec: payload.ExpectedMinedInSec,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newTransactionView(tx))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok, err := s.store.GetTransaction(r.Context(), strings.ToLower(r.PathValue("hash")))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}
	respondJSON(w, http.StatusOK, newTransactionView(tx))
}

func (s *Server) handleReconcileTransaction(w http.ResponseWriter, r *http.Request) {
	tx, changed, err := s.tracker.Reconcile(r.Context(), strings.ToLower(r.PathValue("hash")))
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"changed":     changed,
		"transaction": newTransactionView(tx),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	states, err := parseStates(r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := s.store.ListByStatus(r.Context(), states, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

type transactionView struct {
	Hash               string    `json:"hash"`
	Status             string    `json:"status"`
	Nonce              uint64    `json:"nonce"`
	GasPrice           string    `json:"gas_price"`
	BlockNumber        *uint64   `json:"block_number"`
	RelayerAddress     string    `json:"relayer_address"`
	ExpectedMinedInSec int64     `json:"expected_mined_in_sec"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ExpectedAt         time.Time `json:"expected_at"`
}

func newTransactionView(tx *domain.Transaction) transactionView {
	snap := tx.Snapshot()
	return transactionView{
		Hash:               snap.Hash,
		Status:             snap.Status,
		Nonce:              snap.Nonce,
		GasPrice:           snap.GasPrice.String(),
		BlockNumber:        snap.BlockNumber,
		RelayerAddress:     snap.RelayerAddress,
		ExpectedMinedInSec: snap.ExpectedMinedInSec,
		CreatedAt:          snap.CreatedAt,
		UpdatedAt:          snap.UpdatedAt,
		ExpectedAt:         snap.ExpectedAt,
	}
}

// parseStates reads a comma separated status filter. An empty filter selects
// every non-terminal state.
func parseStates(raw string) ([]domain.TransactionState, error) {
	if strings.TrimSpace(raw) == "" {
		var open []domain.TransactionState
		for _, state := range domain.TransactionStates() {
			if !state.IsTerminal() {
				open = append(open, state)
			}
		}
		return open, nil
	}
	var states []domain.TransactionState
	for _, item := range strings.Split(raw, ",") {
		state, ok := domain.ParseTransactionState(strings.TrimSpace(item))
		if !ok {
			return nil, errors.New("invalid status " + strconv.Quote(item))
		}
		states = append(states, state)
	}
	return states, nil
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 || value > maxListLimit {
		return 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxListLimit)
	}
	return value, nil
}

func respondFailure(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		timeoutErr    *ethrpc.TimeoutError
		rpcErr        *ethrpc.RPCError
	)
	switch {
	case errors.Is(err, application.ErrTransactionNotFound):
		respondError(w, http.StatusNotFound, "transaction not found")
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &rpcErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": rpcErr.Message, "rpc_error": rpcErr.Raw})
	case errors.As(err, &timeoutErr):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	case ethrpc.ErrorKind(err) != "unknown":
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	errObj, _ := json.Marshal(map[string]any{"code": code, "message": message})
	respondJSON(w, status, rpcEnvelope{JSONRPC: "2.0", ID: id, Error: errObj})
}
