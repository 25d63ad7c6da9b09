package store

import (
	"encoding/binary"
	"fmt"

	"github.com/helix-labs/helix/types"
)

// ShardedKey builds a Badger key scoped to one shard. The separator
// always follows the shard id, so a prefix scan over shard 1 cannot
// pick up shard 12's keys.
func ShardedKey(prefix string, shardID types.ShardID, originalKeyParts ...string) []byte {
	key := fmt.Sprintf("%s%d-", prefix, shardID)
	for i, part := range originalKeyParts {
		if i > 0 {
			key += "-"
		}
		key += part
	}
	return []byte(key)
}

// heightKey encodes a block height big-endian so keys sort by height.
func heightKey(height int64) []byte {
	key := make([]byte, len(BlockPrefix)+8)
	copy(key, BlockPrefix)
	binary.BigEndian.PutUint64(key[len(BlockPrefix):], uint64(height))
	return key
}
