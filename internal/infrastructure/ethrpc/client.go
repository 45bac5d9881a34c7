package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"txrelay/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client normalizes request envelopes and exposes the handful of node calls the
// relayer needs on top of a Forwarder.
type Client struct {
	forwarder *Forwarder
	idCounter uint64
}

type Config struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	forwarder, err := NewForwarder(ForwarderConfig{
		URL:        cfg.URL,
		Timeout:    cfg.Timeout,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Client{forwarder: forwarder}, nil
}

// Forward normalizes req and relays it unchanged otherwise.
func (c *Client) Forward(ctx context.Context, req Request) (json.RawMessage, error) {
	return c.forwarder.Forward(ctx, Normalize(req, c.nextID))
}

// Call invokes method and decodes the result into result when it is non-nil.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	req, err := NewRequest(method, params...)
	if err != nil {
		return err
	}
	raw, err := c.Forward(ctx, req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if isNull(raw) {
		return errors.New("rpc result is empty")
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &ProtocolError{Err: fmt.Errorf("decode %s result: %w", method, err)}
	}
	return nil
}

func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.Call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.Call(ctx, "eth_chainId", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SendRawTransaction submits a signed, RLP-encoded transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	if _, err := hexutil.Decode(rawTx); err != nil {
		return "", &domain.ValidationError{Field: "rawTx", Value: rawTx, Reason: err.Error()}
	}
	var hash common.Hash
	if err := c.Call(ctx, "eth_sendRawTransaction", []any{rawTx}, &hash); err != nil {
		return "", err
	}
	return strings.ToLower(hash.Hex()), nil
}

// TransactionReceipt returns the receipt for hash; ok is false while the
// transaction is not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, bool, error) {
	var result *rpcReceipt
	req, err := NewRequest("eth_getTransactionReceipt", hash)
	if err != nil {
		return domain.Receipt{}, false, err
	}
	raw, err := c.Forward(ctx, req)
	if err != nil {
		return domain.Receipt{}, false, err
	}
	if isNull(raw) {
		return domain.Receipt{}, false, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.Receipt{}, false, &ProtocolError{Err: fmt.Errorf("decode receipt: %w", err)}
	}
	receipt := domain.Receipt{
		TxHash:      strings.ToLower(result.TxHash.Hex()),
		BlockNumber: uint64(result.BlockNumber),
		BlockHash:   strings.ToLower(result.BlockHash.Hex()),
		Status:      uint64(result.Status),
		GasUsed:     uint64(result.GasUsed),
	}
	if result.EffectiveGasPrice != nil {
		receipt.EffectiveGasPrice = (*big.Int)(result.EffectiveGasPrice)
	}
	return receipt, true, nil
}

type rpcReceipt struct {
	TxHash            common.Hash    `json:"transactionHash"`
	BlockNumber       hexutil.Uint64 `json:"blockNumber"`
	BlockHash         common.Hash    `json:"blockHash"`
	Status            hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
}

func (c *Client) nextID() uint64 {
	return atomic.AddUint64(&c.idCounter, 1)
}
