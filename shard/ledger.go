package shard

import (
	"sort"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
	"github.com/helix-labs/helix/utils"
)

// Ledger is the account table of one shard. It is owned by a single
// writer at any time: the shard's executor during batch execution, the
// commit path between rounds. Concurrent readers go through the
// committed state in the store instead.
type Ledger struct {
	shard    types.ShardID
	accounts map[string]*types.Account
}

func NewLedger(shard types.ShardID) *Ledger {
	return &Ledger{
		shard:    shard,
		accounts: make(map[string]*types.Account),
	}
}

func (l *Ledger) Shard() types.ShardID {
	return l.shard
}

// Load seeds the ledger from persisted accounts at boot.
func (l *Ledger) Load(accounts []*types.Account) {
	for _, acc := range accounts {
		l.accounts[acc.Address] = acc.Clone()
	}
}

// Account returns the record for addr, or false if the address has
// never been funded on this shard.
func (l *Ledger) Account(addr string) (*types.Account, bool) {
	acc, ok := l.accounts[addr]
	return acc, ok
}

// SetAccount installs an account record, replacing any existing one.
func (l *Ledger) SetAccount(acc *types.Account) {
	l.accounts[acc.Address] = acc
}

// Credit adds funds to addr, creating the account on first contact.
func (l *Ledger) Credit(addr string, amt amount.Amount) {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = types.NewAccount(addr, 0)
		l.accounts[addr] = acc
	}
	acc.Balance += amt
}

// Clone deep-copies the ledger for speculative execution.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger(l.shard)
	for addr, acc := range l.accounts {
		clone.accounts[addr] = acc.Clone()
	}
	return clone
}

// Accounts returns every record ordered by address.
func (l *Ledger) Accounts() []*types.Account {
	accounts := make([]*types.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Address < accounts[j].Address
	})
	return accounts
}

// Size returns the number of accounts.
func (l *Ledger) Size() int {
	return len(l.accounts)
}

// TotalBalance sums every account balance on the shard.
func (l *Ledger) TotalBalance() amount.Amount {
	var total amount.Amount
	for _, acc := range l.accounts {
		total += acc.Balance
	}
	return total
}

// StateRoot commits to the full shard state: the merkle root over the
// serialized accounts in address order. Two ledgers with the same
// accounts produce the same root.
func (l *Ledger) StateRoot() (hash.Hash, error) {
	accounts := l.Accounts()
	leaves := make([][]byte, 0, len(accounts))
	for _, acc := range accounts {
		data, err := acc.Marshal()
		if err != nil {
			return hash.Hash{}, err
		}
		leaves = append(leaves, data)
	}
	return utils.MerkleRootHash(leaves)
}
