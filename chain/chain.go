package chain

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/store"
	"github.com/helix-labs/helix/types"
)

const blockCacheSize = 256

// Chain is the committed block sequence. All mutation goes through
// AddBlock, which refuses anything that would rewrite committed
// history.
type Chain struct {
	mu       sync.RWMutex
	store    *store.Store
	blocks   *lru.Cache[int64, *types.Block]
	chainID  string
	height   int64
	lastHash hash.Hash
}

// NewChain opens the chain over st, resuming from the latest persisted
// block if one exists. Height is -1 until the genesis block commits.
func NewChain(st *store.Store, chainID string) (*Chain, error) {
	cache, err := lru.New[int64, *types.Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		store:   st,
		blocks:  cache,
		chainID: chainID,
		height:  -1,
	}

	height, ok, err := st.LatestHeight()
	if err != nil {
		return nil, fmt.Errorf("reading latest height: %w", err)
	}
	if ok {
		tip, err := st.GetBlockByHeight(height)
		if err != nil {
			return nil, fmt.Errorf("loading tip block %d: %w", height, err)
		}
		c.height = height
		c.lastHash = tip.Hash
		c.blocks.Add(height, tip)
		logrus.WithFields(logrus.Fields{
			"height": height,
			"hash":   tip.Hash.String(),
		}).Info("resumed chain from store")
	}
	return c, nil
}

func (c *Chain) ChainID() string {
	return c.chainID
}

func (c *Chain) Height() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *Chain) LastHash() hash.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHash
}

// AddBlock appends b to the chain. Re-committing an identical block is
// a no-op; a different block at a committed height, or a next block
// whose PrevHash does not match the tip, is a fork and returns
// ErrForkDetected.
func (c *Chain) AddBlock(b *types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case b.Height <= c.height:
		existing, err := c.blockLocked(b.Height)
		if err != nil {
			return err
		}
		if existing.Hash.Equal(b.Hash) {
			return nil
		}
		return fmt.Errorf("block %s at height %d conflicts with committed %s: %w",
			b.Hash.String(), b.Height, existing.Hash.String(), types.ErrForkDetected)

	case b.Height == c.height+1:
		if c.height >= 0 && !b.PrevHash.Equal(c.lastHash) {
			return fmt.Errorf("block %d links to %s, tip is %s: %w",
				b.Height, b.PrevHash.String(), c.lastHash.String(), types.ErrForkDetected)
		}

	default:
		return fmt.Errorf("block height %d leaves a gap after %d", b.Height, c.height)
	}

	if err := c.store.SaveBlock(b); err != nil {
		return fmt.Errorf("persisting block %d: %w", b.Height, err)
	}
	c.blocks.Add(b.Height, b)
	c.height = b.Height
	c.lastHash = b.Hash
	return nil
}

// GetBlock returns the committed block at height.
func (c *Chain) GetBlock(height int64) (*types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockLocked(height)
}

// GetBlockByHash returns the committed block with the given hash.
func (c *Chain) GetBlockByHash(h hash.Hash) (*types.Block, error) {
	return c.store.GetBlockByHash(h)
}

func (c *Chain) blockLocked(height int64) (*types.Block, error) {
	if b, ok := c.blocks.Get(height); ok {
		return b, nil
	}
	b, err := c.store.GetBlockByHeight(height)
	if err != nil {
		return nil, err
	}
	c.blocks.Add(height, b)
	return b, nil
}
