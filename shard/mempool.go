package shard

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/willf/bloom"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
	"github.com/helix-labs/helix/utils"
)

var (
	// ErrPoolFull signals backpressure: the pool refuses admissions
	// until execution drains it.
	ErrPoolFull = errors.New("mempool full")

	ErrTxInPool    = errors.New("transaction already in mempool")
	ErrTxCommitted = errors.New("transaction already committed")
	ErrBelowMinFee = errors.New("gas fee below minimum")
	ErrStaleTx     = errors.New("transaction timestamp too old")
)

const (
	seenFilterItems = 1_000_000
	seenFilterFP    = 0.0001

	// maxTxAge bounds how long a signed transaction stays admissible.
	maxTxAge = time.Hour
)

// CommitIndex answers whether a transaction has already been committed
// in some block. The store implements it.
type CommitIndex interface {
	HasTransaction(hash.Hash) (bool, error)
}

// Mempool holds pending transactions for one shard in arrival order,
// bounded by capacity. Admission re-validates the transaction so a
// drained batch needs no further signature checks before execution
// ordering decisions.
type Mempool struct {
	mu       sync.RWMutex
	shard    types.ShardID
	txs      map[hash.Hash]*list.Element
	order    *list.List
	seen     *bloom.BloomFilter
	capacity int
	minFee   amount.Amount
	commits  CommitIndex
}

func NewMempool(shard types.ShardID, capacity int, minFee amount.Amount, commits CommitIndex) *Mempool {
	return &Mempool{
		shard:    shard,
		txs:      make(map[hash.Hash]*list.Element),
		order:    list.New(),
		seen:     bloom.NewWithEstimates(seenFilterItems, seenFilterFP),
		capacity: capacity,
		minFee:   minFee,
		commits:  commits,
	}
}

// Add admits a transaction. The bloom filter screens for transactions
// seen before; only on a hit does the authoritative commit index get
// consulted.
func (m *Mempool) Add(tx *types.Transaction) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	if tx.GasFee < m.minFee {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinFee, tx.GasFee, m.minFee)
	}
	// Admission-only: blocks may legitimately commit a transaction
	// past this age.
	if !utils.FreshWithin(tx.Timestamp, maxTxAge) {
		return fmt.Errorf("%w: %d", ErrStaleTx, tx.Timestamp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txs[tx.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTxInPool, tx.ID.String())
	}
	if m.seen.Test(tx.ID.Bytes()) && m.commits != nil {
		committed, err := m.commits.HasTransaction(tx.ID)
		if err != nil {
			return fmt.Errorf("failed to consult commit index: %w", err)
		}
		if committed {
			return fmt.Errorf("%w: %s", ErrTxCommitted, tx.ID.String())
		}
	}
	if m.order.Len() >= m.capacity {
		return fmt.Errorf("%w: shard %d at capacity %d", ErrPoolFull, m.shard, m.capacity)
	}

	elem := m.order.PushBack(tx)
	m.txs[tx.ID] = elem
	m.seen.Add(tx.ID.Bytes())

	logrus.WithFields(logrus.Fields{
		"shard": m.shard,
		"tx":    tx.ID.String(),
		"size":  m.order.Len(),
	}).Debug("transaction admitted")
	return nil
}

// Drain removes and returns up to max transactions in arrival order.
func (m *Mempool) Drain(max int) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []*types.Transaction
	for m.order.Len() > 0 && len(batch) < max {
		front := m.order.Front()
		tx := front.Value.(*types.Transaction)
		m.order.Remove(front)
		delete(m.txs, tx.ID)
		batch = append(batch, tx)
	}
	return batch
}

// Reinstate returns a drained batch to the front of the pool in its
// original order, for rounds that failed to commit. Transactions that
// no longer fit are dropped.
func (m *Mempool) Reinstate(batch []*types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(batch) - 1; i >= 0; i-- {
		tx := batch[i]
		if _, exists := m.txs[tx.ID]; exists {
			continue
		}
		if m.order.Len() >= m.capacity {
			logrus.WithFields(logrus.Fields{
				"shard": m.shard,
				"tx":    tx.ID.String(),
			}).Warn("dropping reinstated transaction, pool full")
			continue
		}
		elem := m.order.PushFront(tx)
		m.txs[tx.ID] = elem
	}
}

// MarkCommitted removes committed transactions and records them in the
// seen filter, so re-submissions short-circuit to the commit index.
func (m *Mempool) MarkCommitted(ids []hash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if elem, exists := m.txs[id]; exists {
			m.order.Remove(elem)
			delete(m.txs, id)
		}
		m.seen.Add(id.Bytes())
	}
}

// Contains reports whether the transaction is currently pending.
func (m *Mempool) Contains(id hash.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.txs[id]
	return exists
}

// Size returns the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len()
}
