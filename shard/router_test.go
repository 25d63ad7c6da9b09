package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/types"
)

func TestNewRouterBounds(t *testing.T) {
	_, err := NewRouter(0)
	require.Error(t, err)

	_, err = NewRouter(config.MaxShardCount + 1)
	require.Error(t, err)

	r, err := NewRouter(config.MaxShardCount)
	require.NoError(t, err)
	require.Equal(t, config.MaxShardCount, r.ShardCount())
}

func TestRouteDeterministic(t *testing.T) {
	r, err := NewRouter(4)
	require.NoError(t, err)

	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	addr, err := priv.PublicKey().Address()
	require.NoError(t, err)

	first, err := r.Route(addr.String())
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Route(addr.String())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.GreaterOrEqual(t, int(first), 0)
	require.Less(t, int(first), 4)
}

func TestRouteRejectsEmptyAddress(t *testing.T) {
	r, err := NewRouter(4)
	require.NoError(t, err)

	_, err = r.Route("")
	require.Error(t, err)
}

func TestRouteSpreadsAddresses(t *testing.T) {
	r, err := NewRouter(4)
	require.NoError(t, err)

	hits := make(map[types.ShardID]int)
	for i := 0; i < 200; i++ {
		id, err := r.Route(fmt.Sprintf("hx1qsender%04d", i))
		require.NoError(t, err)
		hits[id]++
	}
	require.Len(t, hits, 4)
}

func TestShards(t *testing.T) {
	r, err := NewRouter(3)
	require.NoError(t, err)
	require.Equal(t, []types.ShardID{0, 1, 2}, r.Shards())
}
