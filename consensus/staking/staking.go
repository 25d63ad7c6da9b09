package staking

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/types"
)

var (
	ErrBelowMinStake      = errors.New("stake below minimum")
	ErrBelowMinDelegation = errors.New("delegation below minimum")
	ErrCommissionTooHigh  = errors.New("commission exceeds maximum")
	ErrNotValidator       = errors.New("not a bonded validator")
	ErrNoDelegation       = errors.New("no such delegation")
	ErrInsufficientStake  = errors.New("insufficient bonded stake")
	ErrJailed             = errors.New("validator is jailed")
	ErrNotJailed          = errors.New("validator is not jailed")
	ErrJailNotExpired     = errors.New("jail period has not expired")
)

// UnbondingEntry is stake on its way out. It stays slashable until
// ReleaseHeight passes.
type UnbondingEntry struct {
	Account       string        `cbor:"1,keyasint"`
	Validator     string        `cbor:"2,keyasint"`
	Amount        amount.Amount `cbor:"3,keyasint"`
	ReleaseHeight int64         `cbor:"4,keyasint"`
}

// Delegation is stake bonded to a validator by a third party.
type Delegation struct {
	Delegator string        `cbor:"1,keyasint"`
	Validator string        `cbor:"2,keyasint"`
	Amount    amount.Amount `cbor:"3,keyasint"`
}

// Release is matured unbonding stake owed back to an account. The
// caller credits the account ledger; the staking ledger only reports.
type Release struct {
	Account string
	Amount  amount.Amount
}

// Reward is one epoch payout owed to an account.
type Reward struct {
	Account string
	Amount  amount.Amount
}

type snapshot struct {
	Validators  []*types.Validator `cbor:"1,keyasint"`
	Delegations []Delegation       `cbor:"2,keyasint"`
	Unbonding   []UnbondingEntry   `cbor:"3,keyasint"`
	FeePool     amount.Amount      `cbor:"4,keyasint"`
}

// Ledger tracks bonded validators, delegations, the unbonding queue
// and the fee pool. It does not touch account balances: bonding
// debits and release credits are the caller's responsibility, so value
// conservation stays in one place.
type Ledger struct {
	mu          sync.RWMutex
	validators  map[string]*types.Validator
	delegations map[string]map[string]amount.Amount // delegator -> validator -> amount
	unbonding   []UnbondingEntry
	feePool     amount.Amount
}

func NewLedger() *Ledger {
	return &Ledger{
		validators:  make(map[string]*types.Validator),
		delegations: make(map[string]map[string]amount.Amount),
	}
}

// Bond stakes amt for the validator at addr, creating it on first
// bond. Stake and commission changes apply from the next epoch's set
// rebuild.
func (l *Ledger) Bond(addr string, pubKey []byte, amt amount.Amount, commissionBps uint16, height int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if commissionBps > config.MaxCommissionBps {
		return fmt.Errorf("%w: %d bps > %d bps", ErrCommissionTooHigh, commissionBps, config.MaxCommissionBps)
	}

	v, exists := l.validators[addr]
	if !exists {
		if int64(amt) < config.MinValidatorStake {
			return fmt.Errorf("%w: %d < %d", ErrBelowMinStake, amt, config.MinValidatorStake)
		}
		v = &types.Validator{
			Address:       addr,
			PubKey:        pubKey,
			CommissionBps: commissionBps,
			BondHeight:    height,
		}
		l.validators[addr] = v
	}
	v.Stake += amt
	v.VotingPower = votingPower(v.Stake)

	logrus.WithFields(logrus.Fields{
		"validator": addr,
		"amount":    int64(amt),
		"stake":     int64(v.Stake),
		"height":    height,
	}).Info("stake bonded")
	return nil
}

// Unbond moves amt of the validator's stake into the unbonding queue.
// Dropping below the minimum unbonds the whole remaining stake and
// retires the validator.
func (l *Ledger) Unbond(addr string, amt amount.Amount, height int64) (amount.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.validators[addr]
	if !exists {
		return 0, ErrNotValidator
	}
	selfStake := v.Stake - l.delegatedToLocked(addr)
	if amt > selfStake {
		return 0, fmt.Errorf("%w: %d bonded, %d requested", ErrInsufficientStake, selfStake, amt)
	}

	// Dropping under the minimum is a full exit.
	if int64(selfStake-amt) < config.MinValidatorStake {
		amt = selfStake
	}

	v.Stake -= amt
	v.VotingPower = votingPower(v.Stake)
	l.unbonding = append(l.unbonding, UnbondingEntry{
		Account:       addr,
		Validator:     addr,
		Amount:        amt,
		ReleaseHeight: height + config.UnbondingBlocks,
	})
	if selfStake == amt {
		l.retireLocked(addr, height)
	}

	logrus.WithFields(logrus.Fields{
		"validator": addr,
		"amount":    int64(amt),
		"release":   height + config.UnbondingBlocks,
	}).Info("stake unbonding")
	return amt, nil
}

// retireLocked removes a validator whose self-stake is gone, forcing
// its remaining delegations through the unbonding queue. Callers hold
// l.mu.
func (l *Ledger) retireLocked(addr string, height int64) {
	for delegator, byValidator := range l.delegations {
		amt, ok := byValidator[addr]
		if !ok {
			continue
		}
		l.unbonding = append(l.unbonding, UnbondingEntry{
			Account:       delegator,
			Validator:     addr,
			Amount:        amt,
			ReleaseHeight: height + config.UnbondingBlocks,
		})
		delete(byValidator, addr)
		if len(byValidator) == 0 {
			delete(l.delegations, delegator)
		}
	}
	delete(l.validators, addr)
}

// Delegate bonds amt from delegator to an existing validator.
func (l *Ledger) Delegate(delegator, validator string, amt amount.Amount, height int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if int64(amt) < config.MinDelegation {
		return fmt.Errorf("%w: %d < %d", ErrBelowMinDelegation, amt, config.MinDelegation)
	}
	v, exists := l.validators[validator]
	if !exists {
		return ErrNotValidator
	}
	if v.Jailed {
		return ErrJailed
	}

	if l.delegations[delegator] == nil {
		l.delegations[delegator] = make(map[string]amount.Amount)
	}
	l.delegations[delegator][validator] += amt
	v.Stake += amt
	v.VotingPower = votingPower(v.Stake)

	logrus.WithFields(logrus.Fields{
		"delegator": delegator,
		"validator": validator,
		"amount":    int64(amt),
		"height":    height,
	}).Info("stake delegated")
	return nil
}

// Undelegate moves amt of a delegation into the unbonding queue.
func (l *Ledger) Undelegate(delegator, validator string, amt amount.Amount, height int64) (amount.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byValidator := l.delegations[delegator]
	bonded, ok := byValidator[validator]
	if !ok {
		return 0, ErrNoDelegation
	}
	if amt > bonded {
		return 0, fmt.Errorf("%w: %d delegated, %d requested", ErrInsufficientStake, bonded, amt)
	}

	rest := bonded - amt
	if int64(rest) < config.MinDelegation {
		amt = bonded
		rest = 0
	}
	if rest == 0 {
		delete(byValidator, validator)
		if len(byValidator) == 0 {
			delete(l.delegations, delegator)
		}
	} else {
		byValidator[validator] = rest
	}

	if v, exists := l.validators[validator]; exists {
		v.Stake -= amt
		v.VotingPower = votingPower(v.Stake)
	}
	l.unbonding = append(l.unbonding, UnbondingEntry{
		Account:       delegator,
		Validator:     validator,
		Amount:        amt,
		ReleaseHeight: height + config.UnbondingBlocks,
	})
	return amt, nil
}

// ProcessUnbonding pops every entry whose release height has passed
// and returns the credits owed.
func (l *Ledger) ProcessUnbonding(height int64) []Release {
	l.mu.Lock()
	defer l.mu.Unlock()

	var released []Release
	var pending []UnbondingEntry
	for _, e := range l.unbonding {
		if e.ReleaseHeight <= height {
			released = append(released, Release{Account: e.Account, Amount: e.Amount})
			continue
		}
		pending = append(pending, e)
	}
	l.unbonding = pending
	return released
}

// AddFees accrues collected gas fees for the next epoch payout.
func (l *Ledger) AddFees(fees amount.Amount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feePool += fees
}

// AccrueEpochRewards distributes the fixed epoch reward plus the fee
// pool across bonded, unjailed validators pro rata to stake. Each
// delegator's share pays the validator's commission. Returns nil when
// height is not an epoch boundary.
func (l *Ledger) AccrueEpochRewards(height int64) []Reward {
	if height <= 0 || height%config.RewardEpochBlocks != 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	const epochsPerYear = config.BlocksPerYear / config.RewardEpochBlocks
	total := config.AnnualStakeReward/epochsPerYear + int64(l.feePool)

	var totalStake int64
	for _, v := range l.validators {
		if !v.Jailed {
			totalStake += int64(v.Stake)
		}
	}
	if totalStake == 0 || total == 0 {
		// Collected fees wait for an epoch with someone to pay.
		return nil
	}
	l.feePool = 0

	delegatedTo := make(map[string]map[string]amount.Amount)
	for delegator, byValidator := range l.delegations {
		for validator, amt := range byValidator {
			if delegatedTo[validator] == nil {
				delegatedTo[validator] = make(map[string]amount.Amount)
			}
			delegatedTo[validator][delegator] = amt
		}
	}

	payouts := make(map[string]int64)
	for addr, v := range l.validators {
		if v.Jailed {
			continue
		}
		share := mulDiv(total, int64(v.Stake), totalStake)

		validatorTake := share
		for delegator, amt := range delegatedTo[addr] {
			dShare := mulDiv(share, int64(amt), int64(v.Stake))
			commission := dShare * int64(v.CommissionBps) / 10_000
			payouts[delegator] += dShare - commission
			validatorTake -= dShare - commission
		}
		payouts[addr] += validatorTake
	}

	accounts := make([]string, 0, len(payouts))
	var distributed int64
	for acct, amt := range payouts {
		accounts = append(accounts, acct)
		distributed += amt
	}
	sort.Strings(accounts)

	// Flooring leftovers carry into the next epoch's pool.
	l.feePool = amount.Amount(total - distributed)

	rewards := make([]Reward, 0, len(accounts))
	for _, acct := range accounts {
		if payouts[acct] > 0 {
			rewards = append(rewards, Reward{Account: acct, Amount: amount.Amount(payouts[acct])})
		}
	}

	logrus.WithFields(logrus.Fields{
		"height":     height,
		"recipients": len(rewards),
		"total":      total,
	}).Info("epoch rewards accrued")
	return rewards
}

// Slash burns fraction of everything bonded to the validator,
// including delegations and stake still unbonding, then jails it.
func (l *Ledger) Slash(addr string, fraction float64, height int64, reason string) (amount.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.validators[addr]
	if !exists {
		return 0, ErrNotValidator
	}

	var burned amount.Amount
	cut := v.Stake.MulF64(fraction)
	v.Stake -= cut
	v.VotingPower = votingPower(v.Stake)
	burned += cut

	// Delegation records shrink in step; their cut is already part of
	// the validator's total stake cut.
	for _, byValidator := range l.delegations {
		if amt, ok := byValidator[addr]; ok {
			byValidator[addr] = amt - amt.MulF64(fraction)
		}
	}
	for i := range l.unbonding {
		if l.unbonding[i].Validator == addr {
			uCut := l.unbonding[i].Amount.MulF64(fraction)
			l.unbonding[i].Amount -= uCut
			burned += uCut
		}
	}

	v.Jailed = true
	v.JailedUntil = height + config.JailBlocks

	logrus.WithFields(logrus.Fields{
		"validator": addr,
		"fraction":  fraction,
		"burned":    int64(burned),
		"reason":    reason,
		"until":     v.JailedUntil,
	}).Warn("validator slashed and jailed")
	return burned, nil
}

// Unjail restores a jailed validator after its jail period.
func (l *Ledger) Unjail(addr string, height int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, exists := l.validators[addr]
	if !exists {
		return ErrNotValidator
	}
	if !v.Jailed {
		return ErrNotJailed
	}
	if height < v.JailedUntil {
		return fmt.Errorf("%w: until height %d", ErrJailNotExpired, v.JailedUntil)
	}
	v.Jailed = false
	v.JailedUntil = 0
	return nil
}

// ActiveSet returns the validators eligible for consensus, sorted by
// address.
func (l *Ledger) ActiveSet() []*types.Validator {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var active []*types.Validator
	for _, v := range l.validators {
		if v.Jailed || int64(v.Stake) < config.MinValidatorStake || v.VotingPower <= 0 {
			continue
		}
		active = append(active, v.Clone())
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Address < active[j].Address })
	return active
}

// Validator returns a copy of the validator at addr.
func (l *Ledger) Validator(addr string) (*types.Validator, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.validators[addr]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Delegation returns the amount delegator has bonded to validator.
func (l *Ledger) Delegation(delegator, validator string) amount.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delegations[delegator][validator]
}

// TotalStaked is everything bonded to validators, delegations
// included.
func (l *Ledger) TotalStaked() amount.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total amount.Amount
	for _, v := range l.validators {
		total += v.Stake
	}
	return total
}

func (l *Ledger) ValidatorCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.validators)
}

// Snapshot serializes the whole staking state for persistence.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := snapshot{
		Unbonding: l.unbonding,
		FeePool:   l.feePool,
	}
	for _, addr := range sortedKeys(l.validators) {
		snap.Validators = append(snap.Validators, l.validators[addr])
	}
	for _, delegator := range sortedKeys(l.delegations) {
		for _, validator := range sortedKeys(l.delegations[delegator]) {
			snap.Delegations = append(snap.Delegations, Delegation{
				Delegator: delegator,
				Validator: validator,
				Amount:    l.delegations[delegator][validator],
			})
		}
	}
	return cbor.Marshal(&snap)
}

// Restore replaces the ledger contents with a snapshot.
func (l *Ledger) Restore(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding staking snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.validators = make(map[string]*types.Validator, len(snap.Validators))
	for _, v := range snap.Validators {
		l.validators[v.Address] = v
	}
	l.delegations = make(map[string]map[string]amount.Amount)
	for _, d := range snap.Delegations {
		if l.delegations[d.Delegator] == nil {
			l.delegations[d.Delegator] = make(map[string]amount.Amount)
		}
		l.delegations[d.Delegator][d.Validator] = d.Amount
	}
	l.unbonding = snap.Unbonding
	l.feePool = snap.FeePool
	return nil
}

// delegatedToLocked sums all delegations bonded to validator. Callers
// hold l.mu.
func (l *Ledger) delegatedToLocked(validator string) amount.Amount {
	var total amount.Amount
	for _, byValidator := range l.delegations {
		total += byValidator[validator]
	}
	return total
}

func votingPower(stake amount.Amount) int64 {
	return int64(stake) / config.PowerReduction
}

// mulDiv computes x*num/den without intermediate overflow.
func mulDiv(x, num, den int64) int64 {
	r := new(big.Int).Mul(big.NewInt(x), big.NewInt(num))
	r.Div(r, big.NewInt(den))
	return r.Int64()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
