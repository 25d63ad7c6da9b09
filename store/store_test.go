package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)

	acc := &types.Account{Address: "hx1testaddress", Balance: 100, Nonce: 5}
	require.NoError(t, s.SaveAccount(1, acc))

	loaded, err := s.GetAccount(1, "hx1testaddress")
	require.NoError(t, err)
	require.Equal(t, acc.Balance, loaded.Balance)
	require.Equal(t, acc.Nonce, loaded.Nonce)

	// The same address on another shard is a different key space.
	_, err = s.GetAccount(2, "hx1testaddress")
	require.ErrorIs(t, err, types.ErrUnknownAccount)
}

func TestGetAccountUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAccount(0, "hx1neverseen")
	require.ErrorIs(t, err, types.ErrUnknownAccount)
}

func TestGetAccountReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveAccount(0, &types.Account{Address: "hx1copy", Balance: 10}))

	first, err := s.GetAccount(0, "hx1copy")
	require.NoError(t, err)
	first.Balance = 999

	second, err := s.GetAccount(0, "hx1copy")
	require.NoError(t, err)
	require.EqualValues(t, 10, second.Balance)
}

func TestAccountsInShard(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveAccount(0, &types.Account{Address: "hx1a", Balance: 1}))
	require.NoError(t, s.SaveAccount(0, &types.Account{Address: "hx1b", Balance: 2}))
	require.NoError(t, s.SaveAccount(1, &types.Account{Address: "hx1c", Balance: 3}))

	shard0, err := s.AccountsInShard(0)
	require.NoError(t, err)
	require.Len(t, shard0, 2)

	shard1, err := s.AccountsInShard(1)
	require.NoError(t, err)
	require.Len(t, shard1, 1)
	require.Equal(t, "hx1c", shard1[0].Address)
}

// Shard 1's prefix must not pick up shard 12's keys.
func TestAccountsInShardPrefixDisjoint(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveAccount(1, &types.Account{Address: "hx1only", Balance: 1}))
	require.NoError(t, s.SaveAccount(12, &types.Account{Address: "hx1other", Balance: 2}))

	shard1, err := s.AccountsInShard(1)
	require.NoError(t, err)
	require.Len(t, shard1, 1)
	require.Equal(t, "hx1only", shard1[0].Address)
}

func TestBlockRoundTrip(t *testing.T) {
	s := newTestStore(t)

	tx := &types.Transaction{
		From:   "hx1from",
		To:     "hx1to",
		Amount: 50,
		Nonce:  0,
	}
	id, err := tx.ComputeID()
	require.NoError(t, err)
	tx.ID = id

	block := &types.Block{
		Height:       0,
		Timestamp:    1700000000,
		Proposer:     "hx1proposer",
		Transactions: []*types.Transaction{tx},
	}
	block.Hash = hash.NewHash([]byte("test block zero"))

	require.NoError(t, s.SaveBlock(block))

	byHeight, err := s.GetBlockByHeight(0)
	require.NoError(t, err)
	require.Equal(t, block.Hash, byHeight.Hash)
	require.Len(t, byHeight.Transactions, 1)

	byHash, err := s.GetBlockByHash(block.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(0), byHash.Height)

	height, ok, err := s.LatestHeight()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), height)

	committed, err := s.HasTransaction(tx.ID)
	require.NoError(t, err)
	require.True(t, committed)

	committed, err = s.HasTransaction(hash.NewHash([]byte("never committed")))
	require.NoError(t, err)
	require.False(t, committed)
}

func TestLatestHeightEmpty(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LatestHeight()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetBlockMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBlockByHeight(42)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestStakingStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	blob, err := s.LoadStakingState()
	require.NoError(t, err)
	require.Nil(t, blob)

	require.NoError(t, s.SaveStakingState([]byte("snapshot-bytes")))
	blob, err = s.LoadStakingState()
	require.NoError(t, err)
	require.Equal(t, []byte("snapshot-bytes"), blob)
}

func TestGenesisParamsPinning(t *testing.T) {
	s := newTestStore(t)

	params, err := s.LoadGenesisParams()
	require.NoError(t, err)
	require.Nil(t, params)

	require.NoError(t, s.SaveGenesisParams(&GenesisParams{ChainID: "helix-test-1", ShardCount: 4}))

	params, err = s.LoadGenesisParams()
	require.NoError(t, err)
	require.Equal(t, "helix-test-1", params.ChainID)
	require.Equal(t, 4, params.ShardCount)
}
