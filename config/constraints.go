package config

const (
	// Token related
	NanoPerHLX         = 1_000_000_000
	InitialTotalSupply = 120_000_000 * NanoPerHLX // 120 million HLX

	// Staking related
	AnnualStakeReward = 4_800_000 * NanoPerHLX
	MinValidatorStake = 1_000 * NanoPerHLX
	MinDelegation     = 10 * NanoPerHLX

	// One reward epoch per RewardEpochBlocks committed heights.
	RewardEpochBlocks = 1_200
	BlocksPerYear     = 6_307_200 // 365d at the 5s default interval

	// UnbondingBlocks is the height delay before unbonded stake releases.
	// Stake in the queue is still slashable.
	UnbondingBlocks = 120_960 // about seven days

	// Commission in basis points
	DefaultCommissionBps = 1_000 // 10%
	MaxCommissionBps     = 10_000

	// Slashing
	SlashFractionDoubleSign = 0.05
	SlashFractionDowntime   = 0.01
	DowntimeWindowBlocks    = 100
	MaxMissedPerWindow      = 50
	JailBlocks              = 10_000

	// Voting power is denominated in whole HLX of bonded stake.
	PowerReduction = NanoPerHLX

	// Fees (nanoHLX)
	DefaultGasFee = 1_000_000
	MinGasFee     = 10_000

	// Shard and block limits
	MaxShardCount        = 64
	MaxBlockTransactions = 1_000

	// Defaults for runtime configuration
	DefaultShardCount      = 4
	DefaultBlockIntervalMs = 5_000
	DefaultMempoolCapacity = 5_000
	DefaultChainID         = "helix-mainnet-1"
	DefaultRPCAddr         = ":8545"
)
