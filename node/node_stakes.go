package node

import (
	"fmt"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/types"
)

// Staking operations move value between an account and the staking
// ledger. The debit and the bond commit together under the state
// lock; a failed bond puts the funds back before the lock releases.

// Stake bonds amt from the validator's own account.
func (n *Node) Stake(address string, pubKey []byte, amt amount.Amount, commissionBps uint16) error {
	resp := n.Do(types.Command{
		Type: types.CmdStake,
		Stake: &types.StakeCmd{
			Address:       address,
			PubKey:        pubKey,
			Amount:        amt,
			CommissionBps: commissionBps,
		},
	})
	return resp.Err
}

// Unstake begins unbonding amt of the validator's self-stake. The
// funds return to the account when the unbonding period elapses.
func (n *Node) Unstake(address string, amt amount.Amount) error {
	resp := n.Do(types.Command{
		Type:    types.CmdUnstake,
		Unstake: &types.UnstakeCmd{Address: address, Amount: amt},
	})
	return resp.Err
}

// Delegate bonds amt from the delegator's account to a validator.
func (n *Node) Delegate(delegator, validator string, amt amount.Amount) error {
	resp := n.Do(types.Command{
		Type:     types.CmdDelegate,
		Delegate: &types.DelegateCmd{Delegator: delegator, Validator: validator, Amount: amt},
	})
	return resp.Err
}

// Undelegate begins unbonding amt of a delegation.
func (n *Node) Undelegate(delegator, validator string, amt amount.Amount) error {
	resp := n.Do(types.Command{
		Type:       types.CmdUndelegate,
		Undelegate: &types.UndelegateCmd{Delegator: delegator, Validator: validator, Amount: amt},
	})
	return resp.Err
}

func (n *Node) handleStake(cmd types.Command) {
	if cmd.Stake == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("stake command carries no payload")})
		return
	}
	req := cmd.Stake
	if err := verifyKeyOwner(req.Address, req.PubKey); err != nil {
		respond(cmd, types.CommandResponse{Err: err})
		return
	}
	err := n.debitAndBond(req.Address, req.Amount, func(height int64) error {
		return n.staking.Bond(req.Address, req.PubKey, req.Amount, req.CommissionBps, height)
	})
	respond(cmd, types.CommandResponse{Err: err})
}

// verifyKeyOwner checks that pubKey decodes and derives addr. Bonding
// a key the staker does not own would let its holder sign consensus
// votes attributed to the staker.
func verifyKeyOwner(addr string, pubKey []byte) error {
	pub, err := crypto.NewPublicKeyFromBytes(pubKey)
	if err != nil {
		return fmt.Errorf("validator public key undecodable: %w", err)
	}
	derived, err := pub.Address()
	if err != nil {
		return fmt.Errorf("validator public key unaddressable: %w", err)
	}
	if derived.String() != addr {
		return fmt.Errorf("validator %s does not own the submitted public key", addr)
	}
	return nil
}

func (n *Node) handleDelegate(cmd types.Command) {
	if cmd.Delegate == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("delegate command carries no payload")})
		return
	}
	req := cmd.Delegate
	err := n.debitAndBond(req.Delegator, req.Amount, func(height int64) error {
		return n.staking.Delegate(req.Delegator, req.Validator, req.Amount, height)
	})
	respond(cmd, types.CommandResponse{Err: err})
}

func (n *Node) handleUnstake(cmd types.Command) {
	if cmd.Unstake == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("unstake command carries no payload")})
		return
	}
	req := cmd.Unstake

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	_, err := n.staking.Unbond(req.Address, req.Amount, n.chain.Height())
	if err == nil {
		err = n.persistStaking()
	}
	respond(cmd, types.CommandResponse{Err: err})
}

func (n *Node) handleUndelegate(cmd types.Command) {
	if cmd.Undelegate == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("undelegate command carries no payload")})
		return
	}
	req := cmd.Undelegate

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	_, err := n.staking.Undelegate(req.Delegator, req.Validator, req.Amount, n.chain.Height())
	if err == nil {
		err = n.persistStaking()
	}
	respond(cmd, types.CommandResponse{Err: err})
}

// debitAndBond takes amt out of addr's account, runs the bond, and
// puts the funds back when the bond refuses them.
func (n *Node) debitAndBond(addr string, amt amount.Amount, bond func(height int64) error) error {
	if amt <= 0 {
		return types.ErrNonPositiveAmount
	}
	id, err := n.router.Route(addr)
	if err != nil {
		return err
	}

	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	ledger := n.executors[id].Ledger()
	acc, ok := ledger.Account(addr)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownAccount, addr)
	}
	if acc.Balance < amt {
		return fmt.Errorf("%w: balance %d, need %d", types.ErrInsufficientBalance, acc.Balance, amt)
	}

	acc.Balance -= amt
	if err := bond(n.chain.Height()); err != nil {
		acc.Balance += amt
		return err
	}

	if err := n.store.SaveAccount(id, acc); err != nil {
		return err
	}
	return n.persistStaking()
}
