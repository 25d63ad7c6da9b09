package chain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/config"
)

func validGenesis(t *testing.T) *GenesisConfig {
	t.Helper()
	priv, addr := testKey(t)
	_, rich := testKey(t)
	pubBytes, err := priv.PublicKey().Marshal()
	require.NoError(t, err)
	return &GenesisConfig{
		ChainID:     "helix-test-1",
		GenesisTime: 1700000000,
		ShardCount:  2,
		Alloc: map[string]int64{
			rich: 5_000 * config.NanoPerHLX,
		},
		Validators: []GenesisValidator{{
			Address:       addr,
			PubKey:        pubBytes,
			Stake:         config.MinValidatorStake,
			CommissionBps: config.DefaultCommissionBps,
		}},
	}
}

func TestGenesisValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validGenesis(t).Validate())
	})
	t.Run("empty chain id", func(t *testing.T) {
		g := validGenesis(t)
		g.ChainID = ""
		require.Error(t, g.Validate())
	})
	t.Run("zero shards", func(t *testing.T) {
		g := validGenesis(t)
		g.ShardCount = 0
		require.Error(t, g.Validate())
	})
	t.Run("too many shards", func(t *testing.T) {
		g := validGenesis(t)
		g.ShardCount = config.MaxShardCount + 1
		require.Error(t, g.Validate())
	})
	t.Run("bad alloc address", func(t *testing.T) {
		g := validGenesis(t)
		g.Alloc["not-an-address"] = 100
		require.Error(t, g.Validate())
	})
	t.Run("negative alloc", func(t *testing.T) {
		g := validGenesis(t)
		_, addr := testKey(t)
		g.Alloc[addr] = -1
		require.Error(t, g.Validate())
	})
	t.Run("alloc exceeds supply", func(t *testing.T) {
		g := validGenesis(t)
		_, addr := testKey(t)
		g.Alloc[addr] = config.InitialTotalSupply
		require.Error(t, g.Validate())
	})
	t.Run("understaked validator", func(t *testing.T) {
		g := validGenesis(t)
		g.Validators[0].Stake = config.MinValidatorStake - 1
		require.Error(t, g.Validate())
	})
	t.Run("validator listed twice", func(t *testing.T) {
		g := validGenesis(t)
		g.Validators = append(g.Validators, g.Validators[0])
		require.Error(t, g.Validate())
	})
	t.Run("stolen validator key", func(t *testing.T) {
		g := validGenesis(t)
		_, other := testKey(t)
		g.Validators[0].Address = other
		require.Error(t, g.Validate())
	})
	t.Run("undecodable validator key", func(t *testing.T) {
		g := validGenesis(t)
		g.Validators[0].PubKey = []byte("garbage")
		require.Error(t, g.Validate())
	})
	t.Run("excessive commission", func(t *testing.T) {
		g := validGenesis(t)
		g.Validators[0].CommissionBps = config.MaxCommissionBps + 1
		require.Error(t, g.Validate())
	})
}

func TestNewGenesisBlockDeterministic(t *testing.T) {
	g := validGenesis(t)

	b1, err := NewGenesisBlock(g, nil)
	require.NoError(t, err)
	b2, err := NewGenesisBlock(g, nil)
	require.NoError(t, err)

	require.Equal(t, int64(0), b1.Height)
	require.True(t, b1.PrevHash.IsZero())
	require.True(t, b1.Hash.Equal(b2.Hash))
}

func TestLoadGenesisFile(t *testing.T) {
	g := validGenesis(t)
	data, err := json.Marshal(g)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadGenesisFile(path)
	require.NoError(t, err)
	require.Equal(t, g.ChainID, loaded.ChainID)
	require.Equal(t, g.ShardCount, loaded.ShardCount)
	require.Len(t, loaded.Validators, 1)

	_, err = LoadGenesisFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
