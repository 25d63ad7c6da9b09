package types

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/helix-labs/helix/crypto/hash"
)

// CommitSig is a single validator's precommit carried in a finalized
// block's commit.
type CommitSig struct {
	ValidatorAddress string `cbor:"1,keyasint"`
	Timestamp        int64  `cbor:"2,keyasint"`
	Signature        []byte `cbor:"3,keyasint"`
}

// Commit is the aggregated precommit evidence that finalized a block:
// signatures from validators holding more than two thirds of the
// voting power, all for the same block hash and round.
type Commit struct {
	Height     int64       `cbor:"1,keyasint"`
	Round      int32       `cbor:"2,keyasint"`
	BlockHash  hash.Hash   `cbor:"3,keyasint"`
	Signatures []CommitSig `cbor:"4,keyasint"`
}

// Block is one height of the chain. A block is immutable once its
// Commit is attached; changing any field would change the hash the
// commit signatures cover.
type Block struct {
	Height       int64          `cbor:"1,keyasint"`
	PrevHash     hash.Hash      `cbor:"2,keyasint"`
	Timestamp    int64          `cbor:"3,keyasint"`
	Proposer     string         `cbor:"4,keyasint"`
	TxRoot       hash.Hash      `cbor:"5,keyasint"`
	ShardRoots   []ShardRoot    `cbor:"6,keyasint"`
	Transactions []*Transaction `cbor:"7,keyasint"`
	Intents      []CreditIntent `cbor:"8,keyasint,omitempty"`
	Hash         hash.Hash      `cbor:"9,keyasint,omitempty"`
	Signature    []byte         `cbor:"10,keyasint,omitempty"`
	Commit       *Commit        `cbor:"11,keyasint,omitempty"`
}

func (b *Block) Marshal() ([]byte, error) {
	return cbor.Marshal(b)
}

func (b *Block) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, b)
}

// TxIDs lists the digests of the block's transactions in block order.
func (b *Block) TxIDs() []hash.Hash {
	ids := make([]hash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return ids
}
