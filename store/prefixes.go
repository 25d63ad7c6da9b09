package store

// Storage prefixes
const (
	AccountPrefix     = "ac-"
	TransactionPrefix = "tx-"
	BlockPrefix       = "bl-"
	BlockHashPrefix   = "bh-"
	StakingPrefix     = "st-"
	MetaPrefix        = "mt-"
)

// Meta keys
const (
	metaKeyHeight  = MetaPrefix + "height"
	metaKeyGenesis = MetaPrefix + "genesis"
)
