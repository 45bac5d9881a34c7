package domain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSignedTransaction(t *testing.T) {
	key, err := crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	require.NoError(t, err)
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	signed, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(137)), &types.LegacyTx{
		Nonce:    11,
		GasPrice: big.NewInt(35_000_000_000),
		Gas:      21_000,
		To:       &to,
		Value:    big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := signed.MarshalBinary()
	require.NoError(t, err)

	decoded, err := DecodeSignedTransaction(hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(signed.Hash().Hex()), decoded.Hash)
	assert.Equal(t, uint64(11), decoded.Nonce)
	assert.Equal(t, "35000000000", decoded.GasPrice.String())
	assert.Equal(t, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), decoded.Sender)
	assert.Equal(t, int64(137), decoded.ChainID.Int64())
}

func TestDecodeSignedTransaction_Rejects(t *testing.T) {
	for _, raw := range []string{"", "not-hex", "0x", "0xf86c0a8502540be400"} {
		_, err := DecodeSignedTransaction(raw)
		requireValidationField(t, err, "rawTx")
	}
}
