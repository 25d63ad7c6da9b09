package types

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/address"
	"github.com/helix-labs/helix/crypto/hash"
)

// Transaction is a signed value transfer between two accounts. The
// sender's nonce must equal the account nonce at execution time, which
// makes every transaction apply at most once.
type Transaction struct {
	ID              hash.Hash     `cbor:"1,keyasint"`
	Timestamp       int64         `cbor:"2,keyasint"`
	From            string        `cbor:"3,keyasint"`
	To              string        `cbor:"4,keyasint"`
	Amount          amount.Amount `cbor:"5,keyasint"`
	GasFee          amount.Amount `cbor:"6,keyasint"`
	Nonce           uint64        `cbor:"7,keyasint"`
	SenderPublicKey []byte        `cbor:"8,keyasint"`
	Signature       []byte        `cbor:"9,keyasint,omitempty"`
}

// CreditIntent is the committed record of the credit half of a
// cross-shard transfer. Phase one debits the sender on its home shard
// and emits the intent into the block; phase two applies the credit on
// the target shard when the block commits.
type CreditIntent struct {
	SourceTx    hash.Hash     `cbor:"1,keyasint"`
	SourceShard ShardID       `cbor:"2,keyasint"`
	TargetShard ShardID       `cbor:"3,keyasint"`
	To          string        `cbor:"4,keyasint"`
	Amount      amount.Amount `cbor:"5,keyasint"`
}

// Marshal serializes the transaction into CBOR format.
func (tx *Transaction) Marshal() ([]byte, error) {
	return cbor.Marshal(tx)
}

// Unmarshal deserializes the transaction from CBOR format.
func (tx *Transaction) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, tx)
}

// SigningBytes returns the canonical serialization covered by the
// sender's signature: the transaction with ID and Signature cleared.
func (tx *Transaction) SigningBytes() ([]byte, error) {
	clone := *tx
	clone.ID = hash.Hash{}
	clone.Signature = nil
	return cbor.Marshal(&clone)
}

// ComputeID derives the transaction ID from the signing payload.
func (tx *Transaction) ComputeID() (hash.Hash, error) {
	payload, err := tx.SigningBytes()
	if err != nil {
		return hash.Hash{}, err
	}
	return hash.NewHash(payload), nil
}

// Sign attaches the sender's public key and signature and fills in the ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) error {
	pubBytes, err := priv.PublicKey().Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal sender public key: %w", err)
	}
	tx.SenderPublicKey = pubBytes

	payload, err := tx.SigningBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize transaction for signing: %w", err)
	}
	tx.ID = hash.NewHash(payload)

	sig := priv.Sign(payload)
	if sig == nil {
		return errors.New("failed to sign transaction")
	}
	tx.Signature = sig.Bytes()
	return nil
}

// VerifySignature checks the signature against the embedded public key
// and confirms that the key actually derives the From address.
func (tx *Transaction) VerifySignature() error {
	if len(tx.Signature) == 0 {
		return ErrInvalidSignature
	}
	pub, err := crypto.NewPublicKeyFromBytes(tx.SenderPublicKey)
	if err != nil {
		return fmt.Errorf("%w: undecodable sender public key", ErrInvalidSignature)
	}

	derived, err := pub.Address()
	if err != nil {
		return fmt.Errorf("%w: cannot derive sender address", ErrInvalidSignature)
	}
	if derived.String() != tx.From {
		return fmt.Errorf("%w: public key does not own sender address", ErrInvalidSignature)
	}

	payload, err := tx.SigningBytes()
	if err != nil {
		return fmt.Errorf("failed to serialize transaction for verification: %w", err)
	}
	sig := crypto.NewSignature(tx.Signature)
	if err := pub.Verify(payload, &sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ValidateBasic rejects transactions that are malformed regardless of
// ledger state.
func (tx *Transaction) ValidateBasic() error {
	if !address.Validate(tx.From) {
		return fmt.Errorf("%w: sender %q", ErrInvalidAddress, tx.From)
	}
	if !address.Validate(tx.To) {
		return fmt.Errorf("%w: recipient %q", ErrInvalidAddress, tx.To)
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrNonPositiveAmount, tx.Amount)
	}
	if tx.GasFee < 0 {
		return fmt.Errorf("%w: gas fee %d", ErrNegativeFee, tx.GasFee)
	}
	return nil
}
