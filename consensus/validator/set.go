package validator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

const (
	// MaxValidators bounds the active set size.
	MaxValidators = 1024

	// MaxTotalVotingPower keeps priority arithmetic away from int64
	// overflow.
	MaxTotalVotingPower = int64(1) << 60

	priorityWindow = MaxTotalVotingPower * 2
)

var (
	ErrEmptySet           = errors.New("empty validator set")
	ErrDuplicateValidator = errors.New("duplicate validator")
	ErrInvalidPower       = errors.New("validator power must be positive")
	ErrTooManyValidators  = errors.New("too many validators")
	ErrPowerOverflow      = errors.New("total voting power overflow")
	ErrNotFound           = errors.New("validator not found")
)

// Set is the active validator set for one consensus height. Entries
// are sorted by address so every node derives the same indices, and
// proposer rotation is weighted round-robin over proposer priorities.
type Set struct {
	Validators []*types.Validator
	Proposer   *types.Validator
	TotalPower int64

	byAddress map[string]int
}

// NewSet builds a set from the active validators. Jailed or unbonded
// validators must be filtered out before the set is built.
func NewSet(validators []*types.Validator) (*Set, error) {
	if len(validators) == 0 {
		return nil, ErrEmptySet
	}
	if len(validators) > MaxValidators {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyValidators, len(validators), MaxValidators)
	}

	s := &Set{
		Validators: make([]*types.Validator, len(validators)),
		byAddress:  make(map[string]int, len(validators)),
	}
	for i, v := range validators {
		if v.VotingPower <= 0 {
			return nil, fmt.Errorf("%w: %s has power %d", ErrInvalidPower, v.Address, v.VotingPower)
		}
		if s.TotalPower > MaxTotalVotingPower-v.VotingPower {
			return nil, fmt.Errorf("%w: exceeds %d", ErrPowerOverflow, MaxTotalVotingPower)
		}
		s.Validators[i] = v.Clone()
		s.TotalPower += v.VotingPower
	}

	sort.Slice(s.Validators, func(i, j int) bool {
		return s.Validators[i].Address < s.Validators[j].Address
	})
	for i, v := range s.Validators {
		if _, exists := s.byAddress[v.Address]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateValidator, v.Address)
		}
		s.byAddress[v.Address] = i
	}

	allZero := true
	for _, v := range s.Validators {
		if v.ProposerPriority != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		// Charge the first proposer at construction. Without this the
		// initial proposer owes nothing and round 1 of the first height
		// would select it again.
		s.IncrementProposerPriority(1)
	} else {
		s.Proposer = s.maxPriority()
	}
	return s, nil
}

func (s *Set) Size() int {
	return len(s.Validators)
}

func (s *Set) HasAddress(addr string) bool {
	_, ok := s.byAddress[addr]
	return ok
}

// GetByAddress returns the validator and its index, or -1 and nil.
func (s *Set) GetByAddress(addr string) (int, *types.Validator) {
	i, ok := s.byAddress[addr]
	if !ok {
		return -1, nil
	}
	return i, s.Validators[i]
}

func (s *Set) GetByIndex(i int) *types.Validator {
	if i < 0 || i >= len(s.Validators) {
		return nil
	}
	return s.Validators[i]
}

// TwoThirdsMajority returns the smallest voting power strictly greater
// than 2/3 of the total. Dividing before summing keeps the arithmetic
// clear of overflow.
func (s *Set) TwoThirdsMajority() int64 {
	third := s.TotalPower / 3
	twoThirds := third + third
	if s.TotalPower%3 == 2 {
		twoThirds++
	}
	return twoThirds + 1
}

// IncrementProposerPriority advances proposer rotation by times
// rounds. Each round every validator gains its power and the leader
// pays back the total, so selection frequency tracks stake. The
// proposer is the validator that paid in the final round.
func (s *Set) IncrementProposerPriority(times int) {
	if len(s.Validators) == 0 || times <= 0 {
		return
	}
	var leader *types.Validator
	for n := 0; n < times; n++ {
		for _, v := range s.Validators {
			p := v.ProposerPriority + v.VotingPower
			if p > priorityWindow/2 {
				p = priorityWindow / 2
			}
			v.ProposerPriority = p
		}
		leader = s.maxPriority()
		p := leader.ProposerPriority - s.TotalPower
		if p < -priorityWindow/2 {
			p = -priorityWindow / 2
		}
		leader.ProposerPriority = p
	}
	s.centerPriorities()
	s.Proposer = leader
}

// Copy returns a deep copy preserving priorities exactly.
func (s *Set) Copy() *Set {
	out := &Set{
		Validators: make([]*types.Validator, len(s.Validators)),
		TotalPower: s.TotalPower,
		byAddress:  make(map[string]int, len(s.byAddress)),
	}
	for i, v := range s.Validators {
		out.Validators[i] = v.Clone()
		out.byAddress[v.Address] = i
	}
	if s.Proposer != nil {
		i := s.byAddress[s.Proposer.Address]
		out.Proposer = out.Validators[i]
	}
	return out
}

// Hash is a deterministic digest of the set's composition. Proposer
// priority mutates every round and is already excluded from validator
// serialization, so identical sets hash identically mid-rotation.
func (s *Set) Hash() (hash.Hash, error) {
	entries := make([]types.Validator, len(s.Validators))
	for i, v := range s.Validators {
		entries[i] = *v
	}
	data, err := cbor.Marshal(entries)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("marshaling validator set: %w", err)
	}
	return hash.NewHash(data), nil
}

func (s *Set) centerPriorities() {
	var sum int64
	for _, v := range s.Validators {
		sum += v.ProposerPriority
	}
	avg := sum / int64(len(s.Validators))
	for _, v := range s.Validators {
		v.ProposerPriority -= avg
	}
}

func (s *Set) maxPriority() *types.Validator {
	var leader *types.Validator
	for _, v := range s.Validators {
		if leader == nil || v.ProposerPriority > leader.ProposerPriority {
			leader = v
		}
	}
	return leader
}
