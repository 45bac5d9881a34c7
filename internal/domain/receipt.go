package domain

import "math/big"

// Receipt is the subset of an eth_getTransactionReceipt result the relayer tracks.
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	BlockHash         string
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Succeeded reports whether the receipt carries the post-Byzantium success status.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}
