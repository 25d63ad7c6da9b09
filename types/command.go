package types

import (
	"fmt"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/crypto/hash"
)

// Commands are how outer surfaces talk to the node. The set is closed:
// every command is one of the variants below, carries a typed payload,
// and is dispatched in exactly one place. Packages never invoke node
// internals directly.

// CommandType tags the variant carried by a Command.
type CommandType uint8

const (
	CmdSubmitTransaction CommandType = iota + 1
	CmdGetAccount
	CmdGetStatus
	CmdStake
	CmdUnstake
	CmdDelegate
	CmdUndelegate
	CmdGetValidatorSet
)

func (t CommandType) String() string {
	switch t {
	case CmdSubmitTransaction:
		return "submit_transaction"
	case CmdGetAccount:
		return "get_account"
	case CmdGetStatus:
		return "get_status"
	case CmdStake:
		return "stake"
	case CmdUnstake:
		return "unstake"
	case CmdDelegate:
		return "delegate"
	case CmdUndelegate:
		return "undelegate"
	case CmdGetValidatorSet:
		return "get_validator_set"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

type SubmitTransactionCmd struct {
	Tx *Transaction
}

type GetAccountCmd struct {
	Address string
}

type StakeCmd struct {
	Address       string
	PubKey        []byte
	Amount        amount.Amount
	CommissionBps uint16
}

type UnstakeCmd struct {
	Address string
	Amount  amount.Amount
}

type DelegateCmd struct {
	Delegator string
	Validator string
	Amount    amount.Amount
}

type UndelegateCmd struct {
	Delegator string
	Validator string
	Amount    amount.Amount
}

// Command is one request to the node. Exactly one payload pointer is
// non-nil, matching Type. Resp receives exactly one CommandResponse.
type Command struct {
	Type CommandType

	SubmitTransaction *SubmitTransactionCmd
	GetAccount        *GetAccountCmd
	Stake             *StakeCmd
	Unstake           *UnstakeCmd
	Delegate          *DelegateCmd
	Undelegate        *UndelegateCmd

	Resp chan CommandResponse
}

// CommandResponse is the result of one command. Err is set on failure;
// on success the field matching the command type is populated.
type CommandResponse struct {
	Err error

	TxID       hash.Hash
	Account    *Account
	Status     *NodeStatus
	Validators []*Validator
}

// NodeStatus is the node's externally visible condition.
type NodeStatus struct {
	ChainID        string          `json:"chainId"`
	Height         int64           `json:"height"`
	LastBlockHash  string          `json:"lastBlockHash"`
	ShardCount     int             `json:"shardCount"`
	MempoolSizes   map[ShardID]int `json:"mempoolSizes"`
	ValidatorCount int             `json:"validatorCount"`
	TotalStaked    amount.Amount   `json:"totalStaked"`
	Halted         bool            `json:"halted"`
}
