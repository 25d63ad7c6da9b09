package types

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/helix-labs/helix/amount"
)

// Account is the per-address ledger record. Every account belongs to
// exactly one shard, determined by routing its address.
type Account struct {
	Address string        `cbor:"1,keyasint"`
	Balance amount.Amount `cbor:"2,keyasint"`
	Nonce   uint64        `cbor:"3,keyasint"`
}

func NewAccount(address string, balance amount.Amount) *Account {
	return &Account{Address: address, Balance: balance}
}

func (a *Account) Clone() *Account {
	clone := *a
	return &clone
}

func (a *Account) Marshal() ([]byte, error) {
	return cbor.Marshal(a)
}

func (a *Account) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, a)
}
