package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HELIX_CHAIN_ID", "helix-test-7")
	t.Setenv("HELIX_SHARD_COUNT", "8")
	t.Setenv("HELIX_RPC_ADDR", ":9545")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "helix-test-7", cfg.ChainID)
	require.Equal(t, 8, cfg.ShardCount)
	require.Equal(t, ":9545", cfg.RPCAddr)
	require.Equal(t, DefaultMempoolCapacity, cfg.MempoolCapacity)
}

func TestLoadConfigJSONOverridesEnv(t *testing.T) {
	t.Setenv("HELIX_SHARD_COUNT", "8")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"SHARD_COUNT": 2, "CHAIN_ID": "helix-json-1"}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.ShardCount)
	require.Equal(t, "helix-json-1", cfg.ChainID)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShardCount = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ShardCount = MaxShardCount + 1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MempoolCapacity = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ChainID = ""
	require.Error(t, cfg.Validate())
}
