package types

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/helix-labs/helix/amount"
)

// Validator is one bonded consensus participant. VotingPower is
// denominated in whole units of bonded stake and derives from Stake;
// the two are kept together so a snapshot is self-contained.
type Validator struct {
	Address       string        `cbor:"1,keyasint"`
	PubKey        []byte        `cbor:"2,keyasint"`
	Stake         amount.Amount `cbor:"3,keyasint"`
	VotingPower   int64         `cbor:"4,keyasint"`
	CommissionBps uint16        `cbor:"5,keyasint"`
	Jailed        bool          `cbor:"6,keyasint"`
	JailedUntil   int64         `cbor:"7,keyasint,omitempty"`
	BondHeight    int64         `cbor:"8,keyasint"`

	// ProposerPriority is rotation bookkeeping, not identity, and is
	// excluded from serialization and hashing.
	ProposerPriority int64 `cbor:"-"`
}

func (v *Validator) Clone() *Validator {
	clone := *v
	return &clone
}

func (v *Validator) Marshal() ([]byte, error) {
	return cbor.Marshal(v)
}

func (v *Validator) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, v)
}
