package consensus

import (
	"fmt"

	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/types"
)

// Signer produces consensus signatures for this node's validator
// identity. A node without a signer follows rounds as an observer.
type Signer interface {
	Address() string
	SignVote(chainID string, v *types.Vote) error
	SignProposal(chainID string, p *types.Proposal) error
}

// PrivValidator signs votes and proposals with an in-process private
// key.
type PrivValidator struct {
	priv crypto.PrivateKey
	pub  []byte
	addr string
}

func NewPrivValidator(priv crypto.PrivateKey) (*PrivValidator, error) {
	pub := priv.PublicKey()
	addr, err := pub.Address()
	if err != nil {
		return nil, fmt.Errorf("failed to derive validator address: %w", err)
	}
	pubBytes, err := pub.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validator public key: %w", err)
	}
	return &PrivValidator{
		priv: priv,
		pub:  pubBytes,
		addr: addr.String(),
	}, nil
}

func (pv *PrivValidator) Address() string { return pv.addr }

// PubKey returns the serialized public key, in the same envelope the
// vote and proposal verifiers decode.
func (pv *PrivValidator) PubKey() []byte { return pv.pub }

func (pv *PrivValidator) SignVote(chainID string, v *types.Vote) error {
	payload, err := types.VoteSignBytes(chainID, v)
	if err != nil {
		return err
	}
	sig := pv.priv.Sign(payload)
	if sig == nil {
		return fmt.Errorf("failed to sign vote at %d/%d", v.Height, v.Round)
	}
	v.Signature = sig.Bytes()
	return nil
}

func (pv *PrivValidator) SignProposal(chainID string, p *types.Proposal) error {
	payload, err := types.ProposalSignBytes(chainID, p)
	if err != nil {
		return err
	}
	sig := pv.priv.Sign(payload)
	if sig == nil {
		return fmt.Errorf("failed to sign proposal at %d/%d", p.Height, p.Round)
	}
	p.Signature = sig.Bytes()
	return nil
}
