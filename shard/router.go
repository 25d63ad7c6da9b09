package shard

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/types"
)

// Router deterministically assigns addresses to shards. Routing is a
// pure function of the address and the shard count; every node with
// the same count agrees on every assignment. The count is fixed for
// the lifetime of the process: changing it would re-home accounts and
// invalidate every cached route.
type Router struct {
	shardCount int
}

func NewRouter(shardCount int) (*Router, error) {
	if shardCount < 1 || shardCount > config.MaxShardCount {
		return nil, fmt.Errorf("shard count must be between 1 and %d, got %d", config.MaxShardCount, shardCount)
	}
	return &Router{shardCount: shardCount}, nil
}

// Route maps an address to its owning shard.
func (r *Router) Route(addr string) (types.ShardID, error) {
	if addr == "" {
		return 0, errors.New("cannot route empty address")
	}
	h := sha256.Sum256([]byte(addr))
	bigIntHash := new(big.Int).SetBytes(h[:])
	shardID := bigIntHash.Mod(bigIntHash, big.NewInt(int64(r.shardCount))).Int64()
	return types.ShardID(shardID), nil
}

func (r *Router) ShardCount() int {
	return r.shardCount
}

// Shards lists every shard ID in order.
func (r *Router) Shards() []types.ShardID {
	ids := make([]types.ShardID, r.shardCount)
	for i := range ids {
		ids[i] = types.ShardID(i)
	}
	return ids
}
