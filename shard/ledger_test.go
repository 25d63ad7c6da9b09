package shard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/types"
)

func TestLedgerCredit(t *testing.T) {
	l := NewLedger(0)

	// First credit creates the account.
	l.Credit("hx1qalice", 100)
	acc, ok := l.Account("hx1qalice")
	require.True(t, ok)
	require.Equal(t, int64(100), int64(acc.Balance))

	l.Credit("hx1qalice", 50)
	acc, _ = l.Account("hx1qalice")
	require.Equal(t, int64(150), int64(acc.Balance))

	require.Equal(t, 1, l.Size())
	require.Equal(t, int64(150), int64(l.TotalBalance()))
}

func TestLedgerCloneIsolation(t *testing.T) {
	l := NewLedger(0)
	l.SetAccount(types.NewAccount("hx1qalice", 100))

	clone := l.Clone()
	acc, ok := clone.Account("hx1qalice")
	require.True(t, ok)
	acc.Balance = 1
	acc.Nonce = 99
	clone.Credit("hx1qbob", 500)

	orig, _ := l.Account("hx1qalice")
	require.Equal(t, int64(100), int64(orig.Balance))
	require.Equal(t, uint64(0), orig.Nonce)
	_, ok = l.Account("hx1qbob")
	require.False(t, ok)
}

func TestLedgerAccountsSorted(t *testing.T) {
	l := NewLedger(0)
	l.SetAccount(types.NewAccount("hx1qcarol", 3))
	l.SetAccount(types.NewAccount("hx1qalice", 1))
	l.SetAccount(types.NewAccount("hx1qbob", 2))

	accounts := l.Accounts()
	require.Len(t, accounts, 3)
	require.Equal(t, "hx1qalice", accounts[0].Address)
	require.Equal(t, "hx1qbob", accounts[1].Address)
	require.Equal(t, "hx1qcarol", accounts[2].Address)
}

func TestStateRootDeterministic(t *testing.T) {
	a := NewLedger(0)
	a.SetAccount(types.NewAccount("hx1qalice", 100))
	a.SetAccount(types.NewAccount("hx1qbob", 200))

	// Same accounts, reversed insertion order.
	b := NewLedger(0)
	b.SetAccount(types.NewAccount("hx1qbob", 200))
	b.SetAccount(types.NewAccount("hx1qalice", 100))

	rootA, err := a.StateRoot()
	require.NoError(t, err)
	rootB, err := b.StateRoot()
	require.NoError(t, err)
	require.True(t, rootA.Equal(rootB))

	b.Credit("hx1qbob", 1)
	rootC, err := b.StateRoot()
	require.NoError(t, err)
	require.False(t, rootA.Equal(rootC))
}
