package node

import (
	"fmt"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

// Do submits one command to the node and waits for its response.
// Commands are dispatched on a single loop, one at a time.
func (n *Node) Do(cmd types.Command) types.CommandResponse {
	if !n.running.Load() {
		return types.CommandResponse{Err: ErrNodeStopped}
	}
	cmd.Resp = make(chan types.CommandResponse, 1)
	select {
	case n.commandCh <- cmd:
	case <-n.stopCh:
		return types.CommandResponse{Err: ErrNodeStopped}
	}
	select {
	case resp := <-cmd.Resp:
		return resp
	case <-n.stopCh:
		return types.CommandResponse{Err: ErrNodeStopped}
	}
}

func (n *Node) dispatch(cmd types.Command) {
	switch cmd.Type {
	case types.CmdSubmitTransaction:
		n.handleSubmitTransaction(cmd)
	case types.CmdGetStatus:
		n.handleGetStatus(cmd)
	case types.CmdGetAccount:
		n.handleGetAccount(cmd)
	case types.CmdGetValidatorSet:
		n.handleGetValidatorSet(cmd)
	case types.CmdStake:
		n.handleStake(cmd)
	case types.CmdUnstake:
		n.handleUnstake(cmd)
	case types.CmdDelegate:
		n.handleDelegate(cmd)
	case types.CmdUndelegate:
		n.handleUndelegate(cmd)
	default:
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)})
	}
}

func respond(cmd types.Command, resp types.CommandResponse) {
	if cmd.Resp != nil {
		cmd.Resp <- resp
	}
}

// SubmitTransaction admits a signed transaction into its shard's pool
// and fans it out to peers.
func (n *Node) SubmitTransaction(tx *types.Transaction) (hash.Hash, error) {
	resp := n.Do(types.Command{
		Type:              types.CmdSubmitTransaction,
		SubmitTransaction: &types.SubmitTransactionCmd{Tx: tx},
	})
	return resp.TxID, resp.Err
}

// Status reports the node's externally visible condition.
func (n *Node) Status() (*types.NodeStatus, error) {
	resp := n.Do(types.Command{Type: types.CmdGetStatus})
	return resp.Status, resp.Err
}

// GetAccount returns the committed state of one account.
func (n *Node) GetAccount(addr string) (*types.Account, error) {
	resp := n.Do(types.Command{
		Type:       types.CmdGetAccount,
		GetAccount: &types.GetAccountCmd{Address: addr},
	})
	return resp.Account, resp.Err
}

// GetValidatorSet returns the active validators.
func (n *Node) GetValidatorSet() ([]*types.Validator, error) {
	resp := n.Do(types.Command{Type: types.CmdGetValidatorSet})
	return resp.Validators, resp.Err
}

func (n *Node) handleSubmitTransaction(cmd types.Command) {
	if cmd.SubmitTransaction == nil || cmd.SubmitTransaction.Tx == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("submit command carries no transaction")})
		return
	}
	if n.engine.Err() != nil {
		// A halted node would hold the transaction forever.
		respond(cmd, types.CommandResponse{Err: types.ErrHalted})
		return
	}
	tx := cmd.SubmitTransaction.Tx

	id, err := n.router.Route(tx.From)
	if err != nil {
		respond(cmd, types.CommandResponse{Err: err})
		return
	}
	if err := n.mempools[id].Add(tx); err != nil {
		respond(cmd, types.CommandResponse{Err: err})
		return
	}

	n.pool.Publish(Event{Tx: tx})
	respond(cmd, types.CommandResponse{TxID: tx.ID})
}

func (n *Node) handleGetStatus(cmd types.Command) {
	sizes := make(map[types.ShardID]int, len(n.mempools))
	for id, mp := range n.mempools {
		sizes[id] = mp.Size()
	}
	respond(cmd, types.CommandResponse{Status: &types.NodeStatus{
		ChainID:        n.chain.ChainID(),
		Height:         n.chain.Height(),
		LastBlockHash:  n.chain.LastHash().String(),
		ShardCount:     n.router.ShardCount(),
		MempoolSizes:   sizes,
		ValidatorCount: len(n.staking.ActiveSet()),
		TotalStaked:    n.staking.TotalStaked(),
		Halted:         n.engine.Err() != nil,
	}})
}

func (n *Node) handleGetAccount(cmd types.Command) {
	if cmd.GetAccount == nil {
		respond(cmd, types.CommandResponse{Err: fmt.Errorf("get account command carries no address")})
		return
	}
	addr := cmd.GetAccount.Address

	id, err := n.router.Route(addr)
	if err != nil {
		respond(cmd, types.CommandResponse{Err: err})
		return
	}
	acc, err := n.store.GetAccount(id, addr)
	if err != nil {
		respond(cmd, types.CommandResponse{Err: err})
		return
	}
	respond(cmd, types.CommandResponse{Account: acc})
}

func (n *Node) handleGetValidatorSet(cmd types.Command) {
	respond(cmd, types.CommandResponse{Validators: n.staking.ActiveSet()})
}
