package types

import (
	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto/hash"
)

// ShardID identifies one partition of the account space.
type ShardID int

// ShardRoot pairs a shard with its post-execution state root.
type ShardRoot struct {
	Shard ShardID   `cbor:"1,keyasint"`
	Root  hash.Hash `cbor:"2,keyasint"`
}

// ShardFault reports a shard whose executor failed during assembly.
// The remaining shards proceed; the faulted shard contributes nothing
// to the candidate block.
type ShardFault struct {
	Shard  ShardID `cbor:"1,keyasint"`
	Reason string  `cbor:"2,keyasint"`
}

// RejectCode classifies why a transaction was refused.
type RejectCode uint8

const (
	RejectMalformed RejectCode = iota + 1
	RejectBadSignature
	RejectBadNonce
	RejectInsufficientBalance
	RejectDuplicate
)

func (c RejectCode) String() string {
	switch c {
	case RejectMalformed:
		return "malformed"
	case RejectBadSignature:
		return "bad_signature"
	case RejectBadNonce:
		return "bad_nonce"
	case RejectInsufficientBalance:
		return "insufficient_balance"
	case RejectDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Rejection records one refused transaction together with the reason.
// Rejections are data, not errors: a rejected transaction never aborts
// the batch it arrived in.
type Rejection struct {
	TxID   hash.Hash  `cbor:"1,keyasint"`
	Code   RejectCode `cbor:"2,keyasint"`
	Detail string     `cbor:"3,keyasint,omitempty"`
}

// ShardResult is the outcome of executing one shard's drained batch.
type ShardResult struct {
	Shard    ShardID
	Root     hash.Hash
	Applied  []*Transaction
	Rejected []Rejection
	Intents  []CreditIntent
	Fees     amount.Amount
}
