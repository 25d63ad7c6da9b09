package types

import (
	"github.com/fxamacker/cbor/v2"
)

// Proposal offers a candidate block for one consensus round. PolRound
// is the round whose prevote majority justifies re-proposing the block,
// or -1 for a fresh proposal. The proposal signature binds the block
// hash to the round so a relayed block cannot be re-labelled.
type Proposal struct {
	Height    int64  `cbor:"1,keyasint"`
	Round     int32  `cbor:"2,keyasint"`
	PolRound  int32  `cbor:"3,keyasint"`
	Block     *Block `cbor:"4,keyasint"`
	Timestamp int64  `cbor:"5,keyasint"`
	Proposer  string `cbor:"6,keyasint"`
	Signature []byte `cbor:"7,keyasint,omitempty"`
}

func (p *Proposal) Marshal() ([]byte, error) {
	return cbor.Marshal(p)
}

func (p *Proposal) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, p)
}

// canonicalProposal is the signed portion of a proposal. The block is
// represented by its hash; the block body carries its own signature.
type canonicalProposal struct {
	ChainID   string `cbor:"1,keyasint"`
	Height    int64  `cbor:"2,keyasint"`
	Round     int32  `cbor:"3,keyasint"`
	PolRound  int32  `cbor:"4,keyasint"`
	BlockHash []byte `cbor:"5,keyasint"`
	Timestamp int64  `cbor:"6,keyasint"`
	Proposer  string `cbor:"7,keyasint"`
}

// ProposalSignBytes returns the canonical bytes a proposer signs.
func ProposalSignBytes(chainID string, p *Proposal) ([]byte, error) {
	var blockHash []byte
	if p.Block != nil {
		blockHash = p.Block.Hash.Bytes()
	}
	return cbor.Marshal(canonicalProposal{
		ChainID:   chainID,
		Height:    p.Height,
		Round:     p.Round,
		PolRound:  p.PolRound,
		BlockHash: blockHash,
		Timestamp: p.Timestamp,
		Proposer:  p.Proposer,
	})
}
