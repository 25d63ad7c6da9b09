package node

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/chain"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/consensus/validator"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

// The node is the consensus engine's block source: candidates are
// assembled from the shard mempools, validated by deterministic
// replay, and finalized against the canonical ledgers. All three
// paths run under the state lock, so a candidate never observes a
// half-applied commit.

// CreateCandidate drains the mempools and assembles a proposer-signed
// block for the given height.
func (n *Node) CreateCandidate(height int64, proposer string) (*types.Block, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	// A batch drained by an earlier attempt at this height goes back
	// first, so one failed round cannot strand its transactions.
	n.reinstatePendingLocked()

	block, report, err := n.assembler.AssembleCandidate(height, n.chain.LastHash(), time.Now().Unix(), proposer)
	if err != nil {
		if report != nil {
			n.assembler.Reinstate(report)
		}
		return nil, err
	}
	if n.operatorKey != nil {
		if err := chain.SignBlock(block, n.operatorKey); err != nil {
			n.assembler.Reinstate(report)
			return nil, err
		}
	}

	n.pendingReport = report
	n.pendingHeight = height
	return block, nil
}

// ValidateCandidate checks a remote proposal's linkage to the
// committed tip and replays it against speculative ledger copies.
func (n *Node) ValidateCandidate(b *types.Block) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if b.Height != n.chain.Height()+1 {
		return fmt.Errorf("candidate height %d does not extend committed height %d", b.Height, n.chain.Height())
	}
	if !b.PrevHash.Equal(n.chain.LastHash()) {
		return fmt.Errorf("candidate links to %s, committed tip is %s", b.PrevHash.String(), n.chain.LastHash().String())
	}
	return n.assembler.ValidateCandidate(b)
}

// CommitBlock finalizes a block that gathered a precommit quorum:
// persist it, apply it to the canonical ledgers, settle staking flows
// and report the next validator set if bonded stake changed it.
func (n *Node) CommitBlock(b *types.Block, commit *types.Commit) (*validator.Set, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	if err := n.chain.AddBlock(b); err != nil {
		return nil, err
	}

	n.reinstatePendingLocked()

	touched := make(map[types.ShardID]map[string]struct{})
	touch := func(id types.ShardID, addr string) {
		if touched[id] == nil {
			touched[id] = make(map[string]struct{})
		}
		touched[id][addr] = struct{}{}
	}

	batches := make(map[types.ShardID][]*types.Transaction)
	for _, tx := range b.Transactions {
		id, err := n.router.Route(tx.From)
		if err != nil {
			return nil, fmt.Errorf("committed block carries unroutable sender %q: %w", tx.From, err)
		}
		batches[id] = append(batches[id], tx)
	}

	var fees amount.Amount
	for _, id := range n.router.Shards() {
		batch := batches[id]
		if len(batch) == 0 {
			continue
		}
		res, err := n.executors[id].Apply(batch)
		if err != nil {
			return nil, fmt.Errorf("applying committed batch on shard %d: %w", id, err)
		}
		if len(res.Rejected) > 0 {
			r := res.Rejected[0]
			return nil, fmt.Errorf("shard %d rejected committed transaction %s (%s): %w",
				id, r.TxID.String(), r.Code, types.ErrForkDetected)
		}
		fees += res.Fees
		for _, tx := range batch {
			touch(id, tx.From)
			if to, err := n.router.Route(tx.To); err == nil && to == id {
				touch(id, tx.To)
			}
		}
	}

	// The block's shard roots cover phase one only; verify them before
	// cross-shard credits move the target shards past them.
	for _, claimed := range b.ShardRoots {
		root, err := n.executors[claimed.Shard].Ledger().StateRoot()
		if err != nil {
			return nil, err
		}
		if !root.Equal(claimed.Root) {
			return nil, fmt.Errorf("shard %d root %s diverges from committed %s: %w",
				claimed.Shard, root.String(), claimed.Root.String(), types.ErrForkDetected)
		}
	}

	intentsByShard := make(map[types.ShardID][]types.CreditIntent)
	for _, intent := range b.Intents {
		intentsByShard[intent.TargetShard] = append(intentsByShard[intent.TargetShard], intent)
		touch(intent.TargetShard, intent.To)
	}
	for id, intents := range intentsByShard {
		exec, ok := n.executors[id]
		if !ok {
			return nil, fmt.Errorf("committed intent targets unknown shard %d", id)
		}
		exec.ApplyIntents(intents)
	}

	idsByShard := make(map[types.ShardID][]hash.Hash)
	for _, tx := range b.Transactions {
		id, _ := n.router.Route(tx.From)
		idsByShard[id] = append(idsByShard[id], tx.ID)
	}
	for id, ids := range idsByShard {
		n.mempools[id].MarkCommitted(ids)
	}

	if fees > 0 {
		n.staking.AddFees(fees)
	}

	for _, release := range n.staking.ProcessUnbonding(b.Height) {
		id, err := n.router.Route(release.Account)
		if err != nil {
			logrus.WithError(err).WithField("account", release.Account).Error("unroutable unbonding release")
			continue
		}
		n.executors[id].Ledger().Credit(release.Account, release.Amount)
		touch(id, release.Account)
	}

	for _, reward := range n.staking.AccrueEpochRewards(b.Height) {
		id, err := n.router.Route(reward.Account)
		if err != nil {
			logrus.WithError(err).WithField("account", reward.Account).Error("unroutable reward recipient")
			continue
		}
		n.executors[id].Ledger().Credit(reward.Account, reward.Amount)
		touch(id, reward.Account)
	}

	n.settleEvidence(b.Height, commit)

	for _, id := range n.router.Shards() {
		addrs, ok := touched[id]
		if !ok || len(addrs) == 0 {
			continue
		}
		ledger := n.executors[id].Ledger()
		accounts := make([]*types.Account, 0, len(addrs))
		for addr := range addrs {
			if acc, ok := ledger.Account(addr); ok {
				accounts = append(accounts, acc)
			}
		}
		if err := n.store.SaveAccounts(id, accounts); err != nil {
			return nil, fmt.Errorf("persisting shard %d accounts: %w", id, err)
		}
	}
	if err := n.persistStaking(); err != nil {
		return nil, err
	}

	if prune := b.Height - config.DowntimeWindowBlocks; prune > 0 {
		n.detector.Prune(prune)
	}

	n.pool.Publish(Event{Block: b})

	return n.nextValidatorSetLocked(), nil
}

// nextValidatorSetLocked returns a freshly built set when bonded stake
// changed the active membership or weights, nil otherwise.
func (n *Node) nextValidatorSetLocked() *validator.Set {
	active := n.staking.ActiveSet()
	if len(active) == 0 {
		logrus.Error("active validator set is empty, keeping the previous set")
		return nil
	}
	next, err := validator.NewSet(active)
	if err != nil {
		logrus.WithError(err).Error("failed to build next validator set")
		return nil
	}
	nextHash, err := next.Hash()
	if err != nil {
		logrus.WithError(err).Error("failed to hash next validator set")
		return nil
	}
	curHash, err := n.valSet.Hash()
	if err != nil || !nextHash.Equal(curHash) {
		n.valSet = next
		return next
	}
	return nil
}

func (n *Node) reinstatePendingLocked() {
	if n.pendingReport == nil {
		return
	}
	n.assembler.Reinstate(n.pendingReport)
	n.pendingReport = nil
	n.pendingHeight = -1
}
