package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

func testKey(t *testing.T) (crypto.PrivateKey, string) {
	t.Helper()
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	addr, err := priv.PublicKey().Address()
	require.NoError(t, err)
	return priv, addr.String()
}

func signedTx(t *testing.T, priv crypto.PrivateKey, from, to string, amt int64, nonce uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Amount:    amount.Amount(amt),
		GasFee:    1,
		Nonce:     nonce,
	}
	require.NoError(t, tx.Sign(priv))
	return tx
}

func TestNewBlockComputesRoots(t *testing.T) {
	priv, from := testKey(t)
	_, to := testKey(t)

	txs := []*types.Transaction{
		signedTx(t, priv, from, to, 10, 0),
		signedTx(t, priv, from, to, 20, 1),
	}
	roots := []types.ShardRoot{{Shard: 0, Root: hash.NewHash([]byte("root-0"))}}

	b, err := NewBlock(1, hash.NewHash([]byte("prev")), time.Now().Unix(), from, roots, txs, nil)
	require.NoError(t, err)
	require.False(t, b.Hash.IsZero())
	require.False(t, b.TxRoot.IsZero())

	want, err := ComputeTxRoot(b)
	require.NoError(t, err)
	require.True(t, b.TxRoot.Equal(want))

	require.NoError(t, VerifyBasic(b))
}

func TestBlockSignAndVerify(t *testing.T) {
	priv, proposer := testKey(t)

	b, err := NewBlock(3, hash.NewHash([]byte("prev")), time.Now().Unix(), proposer, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, SignBlock(b, priv))
	require.NotEmpty(t, b.Signature)

	pubBytes, err := priv.PublicKey().Marshal()
	require.NoError(t, err)
	require.NoError(t, VerifyBlockSignature(b, pubBytes))

	otherPriv, _ := testKey(t)
	otherBytes, err := otherPriv.PublicKey().Marshal()
	require.NoError(t, err)
	require.Error(t, VerifyBlockSignature(b, otherBytes))
}

func TestVerifyBasicDetectsTamperedHash(t *testing.T) {
	_, proposer := testKey(t)

	b, err := NewBlock(2, hash.NewHash([]byte("prev")), time.Now().Unix(), proposer, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, VerifyBasic(b))

	b.Hash = hash.NewHash([]byte("forged"))
	require.Error(t, VerifyBasic(b))
}

func TestVerifyBasicDetectsTamperedTx(t *testing.T) {
	priv, from := testKey(t)
	_, to := testKey(t)

	tx := signedTx(t, priv, from, to, 10, 0)
	b, err := NewBlock(2, hash.NewHash([]byte("prev")), time.Now().Unix(), from,
		nil, []*types.Transaction{tx}, nil)
	require.NoError(t, err)

	b.Transactions[0].Amount = 9999
	require.NoError(t, ComputeBlockHash(b))
	require.Error(t, VerifyBasic(b))
}
