package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// VoteType distinguishes the two voting phases of a consensus round.
type VoteType uint8

const (
	VoteTypePrevote   VoteType = 1
	VoteTypePrecommit VoteType = 2
)

func (t VoteType) String() string {
	switch t {
	case VoteTypePrevote:
		return "prevote"
	case VoteTypePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Vote is one validator's signed opinion in one round. A nil BlockHash
// is a vote against every proposal in the round. Votes are ephemeral:
// they bind to an exact (height, round) and are discarded when the
// round concludes.
type Vote struct {
	Type             VoteType `cbor:"1,keyasint"`
	Height           int64    `cbor:"2,keyasint"`
	Round            int32    `cbor:"3,keyasint"`
	BlockHash        []byte   `cbor:"4,keyasint,omitempty"`
	ValidatorAddress string   `cbor:"5,keyasint"`
	ValidatorIndex   int32    `cbor:"6,keyasint"`
	Timestamp        int64    `cbor:"7,keyasint"`
	Signature        []byte   `cbor:"8,keyasint,omitempty"`
}

// IsNil reports whether the vote rejects every proposal in its round.
func (v *Vote) IsNil() bool {
	return len(v.BlockHash) == 0
}

func (v *Vote) Marshal() ([]byte, error) {
	return cbor.Marshal(v)
}

func (v *Vote) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, v)
}

// canonicalVote is the signed portion of a vote. The chain ID is mixed
// in so a vote for one network can never count on another.
type canonicalVote struct {
	ChainID   string   `cbor:"1,keyasint"`
	Type      VoteType `cbor:"2,keyasint"`
	Height    int64    `cbor:"3,keyasint"`
	Round     int32    `cbor:"4,keyasint"`
	BlockHash []byte   `cbor:"5,keyasint,omitempty"`
	Timestamp int64    `cbor:"6,keyasint"`
}

// VoteSignBytes returns the canonical payload a validator signs.
func VoteSignBytes(chainID string, v *Vote) ([]byte, error) {
	return cbor.Marshal(&canonicalVote{
		ChainID:   chainID,
		Type:      v.Type,
		Height:    v.Height,
		Round:     v.Round,
		BlockHash: v.BlockHash,
		Timestamp: v.Timestamp,
	})
}
