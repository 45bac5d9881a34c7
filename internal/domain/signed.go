package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignedTransaction is what can be read from a signed raw transaction without
// contacting a node.
type SignedTransaction struct {
	Hash     string
	Nonce    uint64
	GasPrice *big.Int
	Sender   string
	ChainID  *big.Int
}

// DecodeSignedTransaction parses an RLP or typed-envelope transaction and
// recovers its sender. Hash and sender are lowercased.
func DecodeSignedTransaction(rawTx string) (SignedTransaction, error) {
	raw, err := hexutil.Decode(rawTx)
	if err != nil {
		return SignedTransaction{}, &ValidationError{Field: "rawTx", Value: rawTx, Reason: err.Error()}
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return SignedTransaction{}, &ValidationError{Field: "rawTx", Value: rawTx, Reason: "not a signed transaction: " + err.Error()}
	}
	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
	if err != nil {
		return SignedTransaction{}, &ValidationError{Field: "rawTx", Value: rawTx, Reason: "signature does not recover a sender: " + err.Error()}
	}
	return SignedTransaction{
		Hash:     strings.ToLower(tx.Hash().Hex()),
		Nonce:    tx.Nonce(),
		GasPrice: tx.GasPrice(),
		Sender:   strings.ToLower(sender.Hex()),
		ChainID:  tx.ChainId(),
	}, nil
}
