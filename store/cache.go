package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"

	"github.com/helix-labs/helix/types"
)

// AccountCache keeps hot account records in memory. The bloom filter
// answers "definitely never stored" without touching the LRU, so reads
// of unknown addresses stay cheap.
type AccountCache struct {
	cache       *lru.Cache[string, *types.Account]
	bloomFilter *bloom.BloomFilter
	mutex       sync.RWMutex
}

// NewAccountCache creates an LRU cache of size entries with a Bloom
// filter sized for expectedItems at the given false positive rate.
func NewAccountCache(size int, expectedItems uint, falsePositiveRate float64) (*AccountCache, error) {
	c, err := lru.New[string, *types.Account](size)
	if err != nil {
		return nil, err
	}

	bf := bloom.NewWithEstimates(expectedItems, falsePositiveRate)

	return &AccountCache{
		cache:       c,
		bloomFilter: bf,
	}, nil
}

// Get retrieves an account from the cache.
func (c *AccountCache) Get(key string) (*types.Account, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.bloomFilter.TestString(key) {
		return nil, false
	}
	return c.cache.Get(key)
}

// Add inserts an account into the cache.
func (c *AccountCache) Add(key string, account *types.Account) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.bloomFilter.AddString(key)
	c.cache.Add(key, account)
}

// Remove evicts an account from the cache. The bloom filter keeps the
// key; a later Get falls through to storage and misses there.
func (c *AccountCache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Remove(key)
}

// Purge clears the cache and the bloom filter.
func (c *AccountCache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache.Purge()
	c.bloomFilter.ClearAll()
}
