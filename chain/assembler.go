package chain

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/shard"
	"github.com/helix-labs/helix/types"
)

// AssemblyReport is everything a candidate build produced besides the
// block itself: per-shard results, rejected transactions, shard faults
// and the drained batches for reinstatement if the round fails.
type AssemblyReport struct {
	Results  map[types.ShardID]*types.ShardResult
	Faults   []types.ShardFault
	Rejected []types.Rejection
	Drained  map[types.ShardID][]*types.Transaction
}

// Assembler drains every shard's mempool, executes the batches in
// parallel, and assembles the results into one candidate block. A
// failing shard is isolated: it contributes a fault report instead of
// poisoning the round.
type Assembler struct {
	router      *shard.Router
	executors   map[types.ShardID]*shard.Executor
	mempools    map[types.ShardID]*shard.Mempool
	maxBlockTxs int
}

func NewAssembler(router *shard.Router, executors map[types.ShardID]*shard.Executor,
	mempools map[types.ShardID]*shard.Mempool, maxBlockTxs int) *Assembler {
	return &Assembler{
		router:      router,
		executors:   executors,
		mempools:    mempools,
		maxBlockTxs: maxBlockTxs,
	}
}

// AssembleCandidate builds the next candidate block. Execution is
// speculative: the canonical ledgers stay untouched until the block
// commits.
func (a *Assembler) AssembleCandidate(height int64, prevHash hash.Hash, timestamp int64, proposer string) (*types.Block, *AssemblyReport, error) {
	perShard := a.maxBlockTxs / len(a.executors)
	if perShard < 1 {
		perShard = 1
	}

	report := &AssemblyReport{
		Results: make(map[types.ShardID]*types.ShardResult),
		Drained: make(map[types.ShardID][]*types.Transaction),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for id, exec := range a.executors {
		batch := a.mempools[id].Drain(perShard)
		report.Drained[id] = batch

		wg.Add(1)
		go func(id types.ShardID, exec *shard.Executor, batch []*types.Transaction) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					report.Faults = append(report.Faults, types.ShardFault{
						Shard:  id,
						Reason: fmt.Sprintf("executor panic: %v", r),
					})
					mu.Unlock()
				}
			}()

			res, err := exec.Execute(batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Faults = append(report.Faults, types.ShardFault{Shard: id, Reason: err.Error()})
				return
			}
			report.Results[id] = res
		}(id, exec, batch)
	}
	wg.Wait()

	var (
		roots   []types.ShardRoot
		txs     []*types.Transaction
		intents []types.CreditIntent
	)
	for _, id := range sortedShards(report.Results) {
		res := report.Results[id]
		roots = append(roots, types.ShardRoot{Shard: id, Root: res.Root})
		txs = append(txs, res.Applied...)
		intents = append(intents, res.Intents...)
		report.Rejected = append(report.Rejected, res.Rejected...)
	}

	if len(report.Faults) > 0 {
		for _, fault := range report.Faults {
			logrus.WithFields(logrus.Fields{
				"shard":  fault.Shard,
				"reason": fault.Reason,
			}).Warn("shard faulted during assembly")
		}
	}

	block, err := NewBlock(height, prevHash, timestamp, proposer, roots, txs, intents)
	if err != nil {
		return nil, report, err
	}
	return block, report, nil
}

// ValidateCandidate replays a proposed block against speculative
// copies of the ledgers and checks that every root, every transaction
// and every cross-shard intent matches what the block claims.
func (a *Assembler) ValidateCandidate(b *types.Block) error {
	if err := VerifyBasic(b); err != nil {
		return err
	}

	// A faulted shard is simply absent from the block, so replay covers
	// exactly the shards the block claims roots for.
	claimedRoots := make(map[types.ShardID]hash.Hash, len(b.ShardRoots))
	for _, claimed := range b.ShardRoots {
		if _, ok := a.executors[claimed.Shard]; !ok {
			return fmt.Errorf("block claims root for unknown shard %d", claimed.Shard)
		}
		if _, dup := claimedRoots[claimed.Shard]; dup {
			return fmt.Errorf("block claims shard %d twice", claimed.Shard)
		}
		claimedRoots[claimed.Shard] = claimed.Root
	}

	batches := make(map[types.ShardID][]*types.Transaction)
	for _, tx := range b.Transactions {
		id, err := a.router.Route(tx.From)
		if err != nil {
			return fmt.Errorf("unroutable sender %q: %w", tx.From, err)
		}
		if _, ok := claimedRoots[id]; !ok {
			return fmt.Errorf("transaction %s routed to shard %d, which the block carries no root for",
				tx.ID.String(), id)
		}
		batches[id] = append(batches[id], tx)
	}

	results := make(map[types.ShardID]*types.ShardResult)
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(claimedRoots))

	for id := range claimedRoots {
		wg.Add(1)
		go func(id types.ShardID, exec *shard.Executor, batch []*types.Transaction) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errCh <- fmt.Errorf("shard %d panicked during validation: %v", id, r)
				}
			}()
			res, err := exec.Execute(batch)
			if err != nil {
				errCh <- fmt.Errorf("shard %d failed during validation: %w", id, err)
				return
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id, a.executors[id], batches[id])
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}

	for id, claimed := range claimedRoots {
		res, ok := results[id]
		if !ok {
			return fmt.Errorf("shard %d produced no replay result", id)
		}
		if !res.Root.Equal(claimed) {
			return fmt.Errorf("shard %d root mismatch: claimed %s, replayed %s",
				id, claimed.String(), res.Root.String())
		}
	}

	// Replay must apply every transaction the block carries, in order.
	var replayedTxs []*types.Transaction
	var replayedIntents []types.CreditIntent
	for _, id := range sortedShards(results) {
		res := results[id]
		if len(res.Rejected) > 0 {
			r := res.Rejected[0]
			return fmt.Errorf("block carries inapplicable transaction %s on shard %d: %s",
				r.TxID.String(), id, r.Code)
		}
		replayedTxs = append(replayedTxs, res.Applied...)
		replayedIntents = append(replayedIntents, res.Intents...)
	}
	if len(replayedTxs) != len(b.Transactions) {
		return fmt.Errorf("block carries %d transactions, replay applied %d", len(b.Transactions), len(replayedTxs))
	}
	for i, tx := range b.Transactions {
		if !bytes.Equal(tx.ID.Bytes(), replayedTxs[i].ID.Bytes()) {
			return fmt.Errorf("block transaction order diverges from canonical order at index %d", i)
		}
	}

	// A fabricated credit intent would mint value on the target shard.
	if len(replayedIntents) != len(b.Intents) {
		return fmt.Errorf("block carries %d credit intents, replay derived %d", len(b.Intents), len(replayedIntents))
	}
	for i, intent := range b.Intents {
		derived := replayedIntents[i]
		if intent != derived {
			return fmt.Errorf("credit intent %d diverges from replay", i)
		}
	}
	return nil
}

// Reinstate puts a failed round's transactions back into their pools
// in original order. Shards that executed give back only the applied
// transactions; rejected ones stay dropped. A faulted shard never
// judged its batch, so the whole batch goes back.
func (a *Assembler) Reinstate(report *AssemblyReport) {
	for id, batch := range report.Drained {
		if len(batch) == 0 {
			continue
		}
		if res, ok := report.Results[id]; ok {
			if len(res.Applied) > 0 {
				a.mempools[id].Reinstate(res.Applied)
			}
			continue
		}
		a.mempools[id].Reinstate(batch)
	}
}

func sortedShards[V any](m map[types.ShardID]V) []types.ShardID {
	ids := make([]types.ShardID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
