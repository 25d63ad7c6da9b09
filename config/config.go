package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries the runtime settings of a helix node. Protocol-level
// constants live in constraints.go and are not configurable.
type Config struct {
	ChainID         string `json:"CHAIN_ID"`
	DataDir         string `json:"DATA_DIR"`
	ShardCount      int    `json:"SHARD_COUNT"`
	MempoolCapacity int    `json:"MEMPOOL_CAPACITY"`
	BlockIntervalMs int    `json:"BLOCK_INTERVAL_MS"`
	RPCAddr         string `json:"RPC_ADDR"`
	JWTSecret       string `json:"JWT_SECRET"`
	KeyFile         string `json:"KEY_FILE"`
	KeyPassphrase   string `json:"KEY_PASSPHRASE"`
	GenesisFile     string `json:"GENESIS_FILE"`
	LogLevel        string `json:"LOG_LEVEL"`
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig() *Config {
	return &Config{
		ChainID:         DefaultChainID,
		DataDir:         "./data",
		ShardCount:      DefaultShardCount,
		MempoolCapacity: DefaultMempoolCapacity,
		BlockIntervalMs: DefaultBlockIntervalMs,
		RPCAddr:         DefaultRPCAddr,
		LogLevel:        "info",
	}
}

// LoadConfig reads an optional .env file, then the environment, then an
// optional JSON file. JSON values win over environment values.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.applyEnv()

	if configPath != "" {
		configFile, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer configFile.Close()

		if err := json.NewDecoder(configFile).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HELIX_CHAIN_ID"); v != "" {
		c.ChainID = v
	}
	if v := os.Getenv("HELIX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HELIX_SHARD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ShardCount = n
		}
	}
	if v := os.Getenv("HELIX_MEMPOOL_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MempoolCapacity = n
		}
	}
	if v := os.Getenv("HELIX_BLOCK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BlockIntervalMs = n
		}
	}
	if v := os.Getenv("HELIX_RPC_ADDR"); v != "" {
		c.RPCAddr = v
	}
	if v := os.Getenv("HELIX_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("HELIX_KEY_FILE"); v != "" {
		c.KeyFile = v
	}
	if v := os.Getenv("HELIX_KEY_PASSPHRASE"); v != "" {
		c.KeyPassphrase = v
	}
	if v := os.Getenv("HELIX_GENESIS_FILE"); v != "" {
		c.GenesisFile = v
	}
	if v := os.Getenv("HELIX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects settings the node cannot run with.
func (c *Config) Validate() error {
	if c.ChainID == "" {
		return fmt.Errorf("chain id must not be empty")
	}
	if c.ShardCount < 1 || c.ShardCount > MaxShardCount {
		return fmt.Errorf("shard count must be between 1 and %d, got %d", MaxShardCount, c.ShardCount)
	}
	if c.MempoolCapacity < 1 {
		return fmt.Errorf("mempool capacity must be positive, got %d", c.MempoolCapacity)
	}
	if c.BlockIntervalMs < 100 {
		return fmt.Errorf("block interval must be at least 100ms, got %d", c.BlockIntervalMs)
	}
	return nil
}
