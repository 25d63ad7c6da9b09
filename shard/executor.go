package shard

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/types"
)

// Executor applies transaction batches to one shard's ledger. It is
// the ledger's only writer. Rejections are recorded per transaction
// and never abort the batch; a rejected transaction leaves no trace in
// the ledger.
type Executor struct {
	shard  types.ShardID
	ledger *Ledger
	router *Router
}

func NewExecutor(shard types.ShardID, ledger *Ledger, router *Router) *Executor {
	return &Executor{shard: shard, ledger: ledger, router: router}
}

func (e *Executor) Shard() types.ShardID {
	return e.shard
}

func (e *Executor) Ledger() *Ledger {
	return e.ledger
}

// Execute runs the batch speculatively against a copy of the ledger.
// The canonical ledger is untouched; a failed consensus round discards
// the copy.
func (e *Executor) Execute(batch []*types.Transaction) (*types.ShardResult, error) {
	return e.applyBatch(e.ledger.Clone(), batch)
}

// Apply runs the batch against the canonical ledger. Called on the
// commit path, where the batch comes from a finalized block and must
// be applied deterministically.
func (e *Executor) Apply(batch []*types.Transaction) (*types.ShardResult, error) {
	return e.applyBatch(e.ledger, batch)
}

// ApplyIntents credits this shard's recipients for committed
// cross-shard transfers (phase two). Intents for other shards are
// ignored.
func (e *Executor) ApplyIntents(intents []types.CreditIntent) {
	for _, intent := range intents {
		if intent.TargetShard != e.shard {
			continue
		}
		e.ledger.Credit(intent.To, intent.Amount)
		logrus.WithFields(logrus.Fields{
			"shard":  e.shard,
			"source": intent.SourceTx.String(),
			"to":     intent.To,
			"amount": intent.Amount,
		}).Debug("cross-shard credit applied")
	}
}

func (e *Executor) applyBatch(ledger *Ledger, batch []*types.Transaction) (*types.ShardResult, error) {
	result := &types.ShardResult{Shard: e.shard}

	for _, tx := range batch {
		if reject := e.applyOne(ledger, tx, result); reject != nil {
			result.Rejected = append(result.Rejected, *reject)
			continue
		}
		result.Applied = append(result.Applied, tx)
		result.Fees += tx.GasFee
	}

	root, err := ledger.StateRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to compute shard %d state root: %w", e.shard, err)
	}
	result.Root = root
	return result, nil
}

// applyOne validates and applies a single transaction. A non-nil
// return means the transaction was rejected and the ledger was left
// unchanged.
func (e *Executor) applyOne(ledger *Ledger, tx *types.Transaction, result *types.ShardResult) *types.Rejection {
	if err := tx.ValidateBasic(); err != nil {
		return &types.Rejection{TxID: tx.ID, Code: types.RejectMalformed, Detail: err.Error()}
	}
	if err := tx.VerifySignature(); err != nil {
		return &types.Rejection{TxID: tx.ID, Code: types.RejectBadSignature, Detail: err.Error()}
	}

	sender, ok := ledger.Account(tx.From)
	if !ok {
		sender = types.NewAccount(tx.From, 0)
	}

	if tx.Nonce != sender.Nonce {
		return &types.Rejection{
			TxID:   tx.ID,
			Code:   types.RejectBadNonce,
			Detail: fmt.Sprintf("tx nonce %d, account nonce %d", tx.Nonce, sender.Nonce),
		}
	}

	total := tx.Amount + tx.GasFee
	if sender.Balance < total {
		return &types.Rejection{
			TxID:   tx.ID,
			Code:   types.RejectInsufficientBalance,
			Detail: fmt.Sprintf("balance %d, required %d", sender.Balance, total),
		}
	}

	// All checks passed; mutate.
	sender.Balance -= total
	sender.Nonce++
	ledger.SetAccount(sender)

	target, err := e.router.Route(tx.To)
	if err != nil {
		// Unreachable after ValidateBasic; reject rather than corrupt.
		return &types.Rejection{TxID: tx.ID, Code: types.RejectMalformed, Detail: err.Error()}
	}

	if target == e.shard {
		ledger.Credit(tx.To, tx.Amount)
	} else {
		result.Intents = append(result.Intents, types.CreditIntent{
			SourceTx:    tx.ID,
			SourceShard: e.shard,
			TargetShard: target,
			To:          tx.To,
			Amount:      tx.Amount,
		})
	}
	return nil
}
