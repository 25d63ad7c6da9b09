package chain

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/address"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

// GenesisValidator is one validator bonded at genesis.
type GenesisValidator struct {
	Address       string `json:"address"`
	PubKey        []byte `json:"pubKey"`
	Stake         int64  `json:"stake"`
	CommissionBps uint16 `json:"commissionBps"`
}

// GenesisConfig describes the chain at height zero. Every node must
// start from an identical config or the genesis hashes will diverge.
type GenesisConfig struct {
	ChainID     string             `json:"chainId"`
	GenesisTime int64              `json:"genesisTime"`
	ShardCount  int                `json:"shardCount"`
	Alloc       map[string]int64   `json:"alloc"` // address -> nanoHLX
	Validators  []GenesisValidator `json:"validators"`
}

// LoadGenesisFile reads a genesis config from a JSON file.
func LoadGenesisFile(path string) (*GenesisConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open genesis file: %w", err)
	}
	defer f.Close()

	cfg := new(GenesisConfig)
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode genesis file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the genesis config for internal consistency.
func (g *GenesisConfig) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("genesis chain id must not be empty")
	}
	if g.ShardCount < 1 || g.ShardCount > config.MaxShardCount {
		return fmt.Errorf("genesis shard count must be between 1 and %d, got %d", config.MaxShardCount, g.ShardCount)
	}
	var total int64
	for addr, bal := range g.Alloc {
		if !address.Validate(addr) {
			return fmt.Errorf("genesis alloc address %q is not a valid address", addr)
		}
		if bal < 0 {
			return fmt.Errorf("genesis alloc for %s is negative", addr)
		}
		total += bal
	}
	if total > config.InitialTotalSupply {
		return fmt.Errorf("genesis alloc %d exceeds initial supply %d", total, config.InitialTotalSupply)
	}
	seen := make(map[string]bool, len(g.Validators))
	for i, v := range g.Validators {
		if !address.Validate(v.Address) {
			return fmt.Errorf("genesis validator %d address %q invalid", i, v.Address)
		}
		if seen[v.Address] {
			return fmt.Errorf("genesis validator %s listed twice", v.Address)
		}
		seen[v.Address] = true
		pub, err := crypto.NewPublicKeyFromBytes(v.PubKey)
		if err != nil {
			return fmt.Errorf("genesis validator %s public key undecodable: %w", v.Address, err)
		}
		derived, err := pub.Address()
		if err != nil {
			return fmt.Errorf("genesis validator %s public key unaddressable: %w", v.Address, err)
		}
		if derived.String() != v.Address {
			return fmt.Errorf("genesis validator %s does not own its public key", v.Address)
		}
		if v.Stake < config.MinValidatorStake {
			return fmt.Errorf("genesis validator %s stake %d below minimum %d", v.Address, v.Stake, config.MinValidatorStake)
		}
		if v.CommissionBps > config.MaxCommissionBps {
			return fmt.Errorf("genesis validator %s commission %d exceeds maximum", v.Address, v.CommissionBps)
		}
	}
	return nil
}

// AllocAmount returns the genesis balance for addr.
func (g *GenesisConfig) AllocAmount(addr string) amount.Amount {
	return amount.FromNano(g.Alloc[addr])
}

// NewGenesisBlock builds the deterministic height-zero block. The
// shard roots must come from ledgers already seeded with the alloc;
// passing them in keeps this package free of execution concerns.
func NewGenesisBlock(cfg *GenesisConfig, roots []types.ShardRoot) (*types.Block, error) {
	block := &types.Block{
		Height:     0,
		PrevHash:   hash.Hash{},
		Timestamp:  cfg.GenesisTime,
		Proposer:   "",
		ShardRoots: roots,
	}
	txRoot, err := ComputeTxRoot(block)
	if err != nil {
		return nil, err
	}
	block.TxRoot = txRoot
	if err := ComputeBlockHash(block); err != nil {
		return nil, err
	}
	return block, nil
}
