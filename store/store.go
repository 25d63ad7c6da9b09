package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

const (
	accountCacheSize   = 10_000
	bloomExpectedKeys  = 100_000
	bloomFalsePositive = 0.001
)

// ErrBlockNotFound is returned when no block exists for the requested
// height or hash.
var ErrBlockNotFound = errors.New("block not found")

// Store is the persistence layer of a node: accounts partitioned by
// shard, committed blocks, a transaction index, and opaque snapshots
// for the staking ledger.
type Store struct {
	db       *Database
	accounts *AccountCache
}

func NewStore(db *Database) (*Store, error) {
	cache, err := NewAccountCache(accountCacheSize, bloomExpectedKeys, bloomFalsePositive)
	if err != nil {
		return nil, fmt.Errorf("failed to create account cache: %w", err)
	}
	return &Store{db: db, accounts: cache}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(shard types.ShardID, addr string) []byte {
	return ShardedKey(AccountPrefix, shard, addr)
}

// SaveAccount persists one account under its shard.
func (s *Store) SaveAccount(shard types.ShardID, acc *types.Account) error {
	data, err := acc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal account %s: %w", acc.Address, err)
	}
	key := accountKey(shard, acc.Address)
	if err := s.db.Set(key, data); err != nil {
		return fmt.Errorf("failed to save account %s: %w", acc.Address, err)
	}
	s.accounts.Add(string(key), acc.Clone())
	return nil
}

// SaveAccounts persists a batch of accounts in a single transaction.
// The commit path stores every account a block touched in one call.
func (s *Store) SaveAccounts(shard types.ShardID, accounts []*types.Account) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, acc := range accounts {
			data, err := acc.Marshal()
			if err != nil {
				return fmt.Errorf("failed to marshal account %s: %w", acc.Address, err)
			}
			if err := txn.Set(accountKey(shard, acc.Address), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		s.accounts.Add(string(accountKey(shard, acc.Address)), acc.Clone())
	}
	return nil
}

// GetAccount loads an account, trying the cache first. Returns
// types.ErrUnknownAccount if the address has never been stored.
func (s *Store) GetAccount(shard types.ShardID, addr string) (*types.Account, error) {
	key := accountKey(shard, addr)
	if acc, ok := s.accounts.Get(string(key)); ok {
		return acc.Clone(), nil
	}

	data, err := s.db.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownAccount, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", addr, err)
	}

	acc := new(types.Account)
	if err := acc.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", addr, err)
	}
	s.accounts.Add(string(key), acc.Clone())
	return acc, nil
}

// AccountsInShard loads every account of one shard. Used once at boot
// to seed the shard ledger.
func (s *Store) AccountsInShard(shard types.ShardID) ([]*types.Account, error) {
	prefix := ShardedKey(AccountPrefix, shard)
	var accounts []*types.Account
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			acc := new(types.Account)
			err := it.Item().Value(func(val []byte) error {
				return acc.Unmarshal(val)
			})
			if err != nil {
				return err
			}
			accounts = append(accounts, acc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan shard %d accounts: %w", shard, err)
	}
	return accounts, nil
}

// SaveBlock persists a committed block: the block body by height, a
// hash index entry, one transaction index entry per included
// transaction, and the committed-height watermark. All writes land in
// one transaction.
func (s *Store) SaveBlock(b *types.Block) error {
	data, err := b.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal block %d: %w", b.Height, err)
	}

	heightBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(heightBytes, uint64(b.Height))

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(heightKey(b.Height), data); err != nil {
			return err
		}
		hashKey := append([]byte(BlockHashPrefix), b.Hash.Bytes()...)
		if err := txn.Set(hashKey, heightBytes); err != nil {
			return err
		}
		for _, tx := range b.Transactions {
			txKey := append([]byte(TransactionPrefix), tx.ID.Bytes()...)
			if err := txn.Set(txKey, heightBytes); err != nil {
				return err
			}
		}
		return txn.Set([]byte(metaKeyHeight), heightBytes)
	})
	if err != nil {
		return fmt.Errorf("failed to save block %d: %w", b.Height, err)
	}

	logrus.WithFields(logrus.Fields{
		"height": b.Height,
		"hash":   b.Hash.String(),
		"txs":    len(b.Transactions),
	}).Debug("block persisted")
	return nil
}

// GetBlockByHeight loads the block at the given height.
func (s *Store) GetBlockByHeight(height int64) (*types.Block, error) {
	data, err := s.db.Get(heightKey(height))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load block %d: %w", height, err)
	}
	b := new(types.Block)
	if err := b.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to decode block %d: %w", height, err)
	}
	return b, nil
}

// GetBlockByHash resolves a block hash through the hash index.
func (s *Store) GetBlockByHash(h hash.Hash) (*types.Block, error) {
	hashKey := append([]byte(BlockHashPrefix), h.Bytes()...)
	heightBytes, err := s.db.Get(hashKey)
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: hash %s", ErrBlockNotFound, h.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve block hash %s: %w", h.String(), err)
	}
	height := int64(binary.BigEndian.Uint64(heightBytes))
	return s.GetBlockByHeight(height)
}

// LatestHeight returns the committed-height watermark. ok is false for
// an empty database.
func (s *Store) LatestHeight() (int64, bool, error) {
	data, err := s.db.Get([]byte(metaKeyHeight))
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load committed height: %w", err)
	}
	return int64(binary.BigEndian.Uint64(data)), true, nil
}

// HasTransaction reports whether a transaction was committed in any
// block.
func (s *Store) HasTransaction(id hash.Hash) (bool, error) {
	txKey := append([]byte(TransactionPrefix), id.Bytes()...)
	return s.db.Has(txKey)
}

// SaveStakingState persists the staking ledger snapshot. The blob is
// opaque to the store; the staking package owns its encoding.
func (s *Store) SaveStakingState(data []byte) error {
	return s.db.Set([]byte(StakingPrefix+"snapshot"), data)
}

// LoadStakingState returns the staking snapshot, or nil if none exists.
func (s *Store) LoadStakingState() ([]byte, error) {
	data, err := s.db.Get([]byte(StakingPrefix + "snapshot"))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load staking state: %w", err)
	}
	return data, nil
}

// GenesisParams pins the network parameters the database was created
// with. A node refuses to start when its configuration disagrees,
// since changing the shard count invalidates every routed key.
type GenesisParams struct {
	ChainID    string `cbor:"1,keyasint"`
	ShardCount int    `cbor:"2,keyasint"`
}

func (s *Store) SaveGenesisParams(p *GenesisParams) error {
	data, err := cbor.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal genesis params: %w", err)
	}
	return s.db.Set([]byte(metaKeyGenesis), data)
}

// LoadGenesisParams returns the pinned parameters, or nil for a fresh
// database.
func (s *Store) LoadGenesisParams() (*GenesisParams, error) {
	data, err := s.db.Get([]byte(metaKeyGenesis))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load genesis params: %w", err)
	}
	p := new(GenesisParams)
	if err := cbor.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode genesis params: %w", err)
	}
	return p, nil
}
