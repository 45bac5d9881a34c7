package streaming

import (
	"encoding/json"
	"errors"
	"time"

	"txrelay/internal/domain"
)

type MessageType string

const (
	MessageTypeTransactionStatus MessageType = "transaction_status"
)

// Message is the lifecycle event published whenever a relayed transaction is
// recorded or changes state.
type Message struct {
	Type           MessageType `json:"type"`
	ChainID        uint64      `json:"chain_id"`
	TraceID        string      `json:"trace_id,omitempty"`
	Hash           string      `json:"hash"`
	Status         string      `json:"status"`
	Nonce          uint64      `json:"nonce"`
	GasPrice       string      `json:"gas_price"`
	BlockNumber    uint64      `json:"block_number,omitempty"`
	RelayerAddress string      `json:"relayer_address"`
	ExpectedAt     time.Time   `json:"expected_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func FromTransaction(chainID uint64, tx *domain.Transaction) Message {
	block, _ := tx.BlockNumber()
	return Message{
		Type:           MessageTypeTransactionStatus,
		ChainID:        chainID,
		Hash:           tx.Hash(),
		Status:         string(tx.Status()),
		Nonce:          tx.Nonce(),
		GasPrice:       tx.GasPrice().String(),
		BlockNumber:    block,
		RelayerAddress: tx.RelayerAddress(),
		ExpectedAt:     tx.ExpectedAt(),
		UpdatedAt:      tx.UpdatedAt(),
	}
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	if msg.Type == "" {
		return errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if msg.Hash == "" {
		return errors.New("hash is required")
	}
	if _, ok := domain.ParseTransactionState(msg.Status); !ok {
		return errors.New("status is not a known transaction state")
	}
	return nil
}
