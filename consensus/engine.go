package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/chain"
	"github.com/helix-labs/helix/consensus/validator"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/types"
)

// BlockSource produces, judges and finalizes candidate blocks on behalf
// of the engine. Implementations own the ledger; the engine owns only
// the agreement protocol. All three methods run on the engine's receive
// goroutine and must not call back into the engine.
type BlockSource interface {
	// CreateCandidate assembles and proposer-signs a block for this
	// node to offer at the given height.
	CreateCandidate(height int64, proposer string) (*types.Block, error)
	// ValidateCandidate replays a proposed block against local state.
	ValidateCandidate(b *types.Block) error
	// CommitBlock finalizes a block that gathered a precommit quorum.
	// A non-nil returned set replaces the validator set for the next
	// height and must already carry its rotation state (a freshly
	// built set does); when nil, the engine rotates the current set.
	CommitBlock(b *types.Block, commit *types.Commit) (*validator.Set, error)
}

// Config carries the engine's identity, timeouts and outbound fan-out.
// The broadcast callbacks run on the engine's receive loop and must not
// block; nil callbacks are skipped.
type Config struct {
	ChainID  string
	Timeouts TimeoutConfig

	BroadcastProposal func(*types.Proposal)
	BroadcastVote     func(*types.Vote)
}

// Engine runs the propose, prevote, precommit and commit steps of each
// height. Every state transition happens on a single receive goroutine
// fed by the proposal, vote and timeout channels, so steps never race.
// A round that fails to commit is retried with the next proposer and
// stretched timeouts; a conflicting block at a committed height halts
// the engine permanently.
type Engine struct {
	mu sync.RWMutex

	cfg    Config
	valSet *validator.Set
	signer Signer
	source BlockSource

	height int64
	round  int32
	step   RoundStep

	proposal      *types.Proposal
	proposalBlock *types.Block

	lockedRound int32
	lockedBlock *types.Block
	validRound  int32
	validBlock  *types.Block

	votes      *HeightVoteSet
	lastCommit *types.Commit

	ticker *TimeoutTicker

	proposalCh chan *types.Proposal
	voteCh     chan *types.Vote

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	haltErr error
}

func NewEngine(cfg Config, valSet *validator.Set, signer Signer, source BlockSource) (*Engine, error) {
	if valSet == nil || valSet.Size() == 0 {
		return nil, fmt.Errorf("%w: engine needs a validator set", ErrInvalidProposal)
	}
	if source == nil {
		return nil, errors.New("engine needs a block source")
	}
	if cfg.Timeouts == (TimeoutConfig{}) {
		cfg.Timeouts = DefaultTimeoutConfig()
	}
	return &Engine{
		cfg:         cfg,
		valSet:      valSet,
		signer:      signer,
		source:      source,
		lockedRound: -1,
		validRound:  -1,
		ticker:      NewTimeoutTicker(cfg.Timeouts),
		proposalCh:  make(chan *types.Proposal, 10),
		voteCh:      make(chan *types.Vote, 1000),
	}, nil
}

// Start begins consensus at the given height. lastCommit is the proof
// that finalized height-1, or nil when starting from genesis. An engine
// is single-use: once stopped it cannot be started again.
func (e *Engine) Start(height int64, lastCommit *types.Commit) error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.started = true
	e.height = height
	e.lastCommit = lastCommit
	e.votes = NewHeightVoteSet(e.cfg.ChainID, height, e.valSet)

	e.ticker.Start()
	e.wg.Add(1)
	go e.receiveRoutine()

	e.enterNewRound(height, 0)
	e.mu.Unlock()
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.started = false
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.ticker.Stop()
	e.wg.Wait()
	return nil
}

// AddProposal hands a proposal from the network to the engine. Full
// queues drop the message; gossip redelivers.
func (e *Engine) AddProposal(p *types.Proposal) {
	select {
	case e.proposalCh <- p:
	default:
	}
}

// AddVote hands a vote from the network to the engine.
func (e *Engine) AddVote(v *types.Vote) {
	select {
	case e.voteCh <- v:
	default:
	}
}

// State reports the engine's position.
func (e *Engine) State() (height int64, round int32, step RoundStep) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height, e.round, e.step
}

// LastCommit returns the proof that finalized the previous height.
func (e *Engine) LastCommit() *types.Commit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCommit
}

// Err returns the fatal error that halted the engine, or nil while it
// is healthy.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.haltErr
}

// Validators returns a copy of the validator set for the current
// height.
func (e *Engine) Validators() *validator.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.valSet.Copy()
}

// SelectProposer returns the proposer for a round of the current
// height. The result depends only on the validator set, so every node
// computes the same answer. It returns nil for heights the engine is
// not at.
func (e *Engine) SelectProposer(height int64, round int32) *types.Validator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if height != e.height || round < 0 {
		return nil
	}
	p := e.proposerForRound(round)
	if p == nil {
		return nil
	}
	return p.Clone()
}

func (e *Engine) proposerForRound(round int32) *types.Validator {
	if round == 0 {
		return e.valSet.Proposer
	}
	cp := e.valSet.Copy()
	cp.IncrementProposerPriority(int(round))
	return cp.Proposer
}

func (e *Engine) receiveRoutine() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case p := <-e.proposalCh:
			e.handleProposal(p)
		case v := <-e.voteCh:
			e.handleVote(v)
		case ti := <-e.ticker.Chan():
			e.handleTimeout(ti)
		}
	}
}

// enterNewRound resets per-round state and kicks off the propose step.
// Callers must hold e.mu.
func (e *Engine) enterNewRound(height int64, round int32) {
	if e.haltErr != nil {
		return
	}
	if e.height != height || round < e.round {
		return
	}
	if round == e.round && e.step > RoundStepNewRound {
		return
	}

	e.round = round
	e.step = RoundStepNewRound
	e.proposal = nil
	e.proposalBlock = nil
	if round == 0 {
		e.validRound = -1
		e.validBlock = nil
	}

	logrus.WithFields(logrus.Fields{
		"height": height,
		"round":  round,
	}).Debug("Entering consensus round")

	e.step = RoundStepPropose
	e.ticker.ScheduleTimeout(TimeoutInfo{Height: height, Round: round, Step: RoundStepPropose})

	prop := e.proposerForRound(round)
	if e.signer != nil && prop != nil && prop.Address == e.signer.Address() {
		e.createProposal(prop)
	}
}

// createProposal builds, signs and adopts this node's proposal for the
// current round. A valid or locked block from an earlier round is
// re-proposed instead of assembling a fresh one.
func (e *Engine) createProposal(prop *types.Validator) {
	var block *types.Block
	switch {
	case e.validBlock != nil:
		block = e.validBlock
	case e.lockedBlock != nil:
		block = e.lockedBlock
	default:
		b, err := e.source.CreateCandidate(e.height, prop.Address)
		if err != nil {
			logrus.WithError(err).WithField("height", e.height).Error("Failed to assemble candidate block")
			return
		}
		block = b
	}

	p := &types.Proposal{
		Height:    e.height,
		Round:     e.round,
		PolRound:  e.validRound,
		Block:     block,
		Timestamp: time.Now().Unix(),
		Proposer:  prop.Address,
	}
	if err := e.signer.SignProposal(e.cfg.ChainID, p); err != nil {
		logrus.WithError(err).Error("Failed to sign proposal")
		return
	}

	e.proposal = p
	e.proposalBlock = block
	logrus.WithFields(logrus.Fields{
		"height": p.Height,
		"round":  p.Round,
		"hash":   block.Hash.String(),
		"txs":    len(block.Transactions),
	}).Info("Proposing block")

	if e.cfg.BroadcastProposal != nil {
		e.cfg.BroadcastProposal(p)
	}
	e.enterPrevote(e.height, e.round)
}

func (e *Engine) handleProposal(p *types.Proposal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil || p == nil || p.Block == nil {
		return
	}
	if p.Height != e.height || p.Round != e.round || e.proposal != nil {
		return
	}
	if p.PolRound < -1 || p.PolRound >= p.Round {
		return
	}
	if p.Block.Height != p.Height {
		return
	}

	expected := e.proposerForRound(e.round)
	if expected == nil || p.Proposer != expected.Address || p.Block.Proposer != expected.Address {
		logrus.WithFields(logrus.Fields{
			"height": p.Height,
			"round":  p.Round,
			"from":   p.Proposer,
		}).Warn("Proposal from a validator that is not this round's proposer")
		return
	}
	if err := verifyProposalSignature(e.cfg.ChainID, p, expected.PubKey); err != nil {
		logrus.WithError(err).Warn("Proposal signature rejected")
		return
	}
	if err := chain.VerifyBlockSignature(p.Block, expected.PubKey); err != nil {
		logrus.WithError(err).Warn("Proposed block signature rejected")
		return
	}

	if err := e.source.ValidateCandidate(p.Block); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"height": p.Height,
			"round":  p.Round,
			"hash":   p.Block.Hash.String(),
		}).Warn("Rejecting invalid proposal")
		// Remember that the round's proposal was seen so duplicates are
		// dropped, but prevote nil for it.
		e.proposal = p
		e.proposalBlock = nil
		e.enterPrevote(e.height, e.round)
		return
	}

	e.proposal = p
	e.proposalBlock = p.Block
	e.enterPrevote(e.height, e.round)
}

func verifyProposalSignature(chainID string, p *types.Proposal, pubKeyBytes []byte) error {
	if len(p.Signature) == 0 {
		return fmt.Errorf("%w: unsigned proposal", types.ErrInvalidSignature)
	}
	pub, err := crypto.NewPublicKeyFromBytes(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: undecodable proposer public key", types.ErrInvalidSignature)
	}
	payload, err := types.ProposalSignBytes(chainID, p)
	if err != nil {
		return fmt.Errorf("failed to serialize proposal for verification: %w", err)
	}
	sig := crypto.NewSignature(p.Signature)
	if err := pub.Verify(payload, &sig); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	return nil
}

// enterPrevote casts this node's prevote: the locked block if any, else
// the accepted proposal, else nil. Callers must hold e.mu.
func (e *Engine) enterPrevote(height int64, round int32) {
	if e.height != height || e.round != round || e.step >= RoundStepPrevote {
		return
	}
	e.step = RoundStepPrevote

	var target []byte
	switch {
	case e.lockedBlock != nil:
		target = e.lockedBlock.Hash.Bytes()
	case e.proposalBlock != nil:
		target = e.proposalBlock.Hash.Bytes()
	}
	e.castVote(types.VoteTypePrevote, target)
}

func (e *Engine) enterPrevoteWait(height int64, round int32) {
	if e.height != height || e.round != round || e.step >= RoundStepPrevoteWait {
		return
	}
	e.step = RoundStepPrevoteWait
	e.ticker.ScheduleTimeout(TimeoutInfo{Height: height, Round: round, Step: RoundStepPrevoteWait})
}

// enterPrecommit applies the locking rules against the round's prevote
// majority. Callers must hold e.mu.
func (e *Engine) enterPrecommit(height int64, round int32) {
	if e.height != height || e.round != round || e.step >= RoundStepPrecommit {
		return
	}
	e.step = RoundStepPrecommit

	var maj []byte
	ok := false
	if prevotes := e.votes.Prevotes(round); prevotes != nil {
		maj, ok = prevotes.TwoThirdsMajority()
	}

	if !ok {
		e.castVote(types.VoteTypePrecommit, nil)
		return
	}
	if maj == nil {
		// Two thirds prevoted against every block: release the lock.
		e.lockedRound = -1
		e.lockedBlock = nil
		e.castVote(types.VoteTypePrecommit, nil)
		return
	}
	if e.lockedBlock != nil && bytes.Equal(e.lockedBlock.Hash.Bytes(), maj) {
		e.lockedRound = round
		e.castVote(types.VoteTypePrecommit, maj)
		return
	}
	if e.proposalBlock != nil && bytes.Equal(e.proposalBlock.Hash.Bytes(), maj) {
		e.lockedRound = round
		e.lockedBlock = e.proposalBlock
		e.validRound = round
		e.validBlock = e.proposalBlock
		e.castVote(types.VoteTypePrecommit, maj)
		return
	}
	// Majority for a block this node does not hold.
	e.castVote(types.VoteTypePrecommit, nil)
}

func (e *Engine) enterPrecommitWait(height int64, round int32) {
	if e.height != height || e.round != round || e.step >= RoundStepPrecommitWait {
		return
	}
	e.step = RoundStepPrecommitWait
	e.ticker.ScheduleTimeout(TimeoutInfo{Height: height, Round: round, Step: RoundStepPrecommitWait})
}

// enterCommit looks for a precommit quorum on a block this node holds,
// scanning from the triggering round downward. Callers must hold e.mu.
func (e *Engine) enterCommit(height int64, round int32) {
	if e.height != height || e.step >= RoundStepCommit {
		return
	}
	start := round
	if e.round > start {
		start = e.round
	}
	for r := start; r >= 0; r-- {
		precommits := e.votes.Precommits(r)
		if precommits == nil {
			continue
		}
		maj, ok := precommits.TwoThirdsMajority()
		if !ok || maj == nil {
			continue
		}
		commit := precommits.MakeCommit()
		if commit == nil {
			continue
		}
		block := e.commitBlockFor(commit)
		if block == nil {
			logrus.WithFields(logrus.Fields{
				"height": height,
				"round":  r,
				"hash":   commit.BlockHash.String(),
			}).Warn("Precommit quorum for a block this node does not hold")
			continue
		}
		e.step = RoundStepCommit
		e.finalizeCommit(height, block, commit)
		return
	}
}

func (e *Engine) commitBlockFor(commit *types.Commit) *types.Block {
	want := commit.BlockHash.Bytes()
	if e.lockedBlock != nil && bytes.Equal(e.lockedBlock.Hash.Bytes(), want) {
		return e.lockedBlock
	}
	if e.proposalBlock != nil && bytes.Equal(e.proposalBlock.Hash.Bytes(), want) {
		return e.proposalBlock
	}
	return nil
}

// finalizeCommit hands the block to the source, then advances to the
// next height with a rotated validator set. Callers must hold e.mu.
func (e *Engine) finalizeCommit(height int64, block *types.Block, commit *types.Commit) {
	block.Commit = commit

	next, err := e.source.CommitBlock(block, commit)
	if err != nil {
		// The source may have partially applied the block; continuing
		// could double-apply it. Halt and leave recovery to the operator.
		e.haltErr = err
		if errors.Is(err, types.ErrForkDetected) {
			logrus.WithError(err).WithField("height", height).Error("Halting consensus: conflicting block at committed height")
		} else {
			logrus.WithError(err).WithField("height", height).Error("Halting consensus: failed to finalize committed block")
		}
		return
	}

	logrus.WithFields(logrus.Fields{
		"height": height,
		"round":  commit.Round,
		"hash":   commit.BlockHash.String(),
		"txs":    len(block.Transactions),
	}).Info("Committed block")

	// A fresh set from the source already carries its rotation state;
	// otherwise rotate the current one by a single round.
	adv := next
	if adv == nil {
		adv = e.valSet.Copy()
		adv.IncrementProposerPriority(1)
	}

	e.lastCommit = commit
	e.height = height + 1
	e.round = 0
	e.step = RoundStepNewHeight
	e.proposal = nil
	e.proposalBlock = nil
	e.lockedRound = -1
	e.lockedBlock = nil
	e.validRound = -1
	e.validBlock = nil
	e.valSet = adv
	e.votes.Reset(e.height, e.valSet)

	e.ticker.ScheduleTimeout(TimeoutInfo{
		Duration: e.cfg.Timeouts.Commit,
		Height:   e.height,
		Round:    0,
		Step:     RoundStepNewHeight,
	})
}

func (e *Engine) handleVote(v *types.Vote) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil || v == nil {
		return
	}
	if v.Height != e.height {
		return
	}

	added, err := e.votes.AddVote(v)
	if err != nil {
		if errors.Is(err, ErrConflictingVote) {
			logrus.WithFields(logrus.Fields{
				"validator": v.ValidatorAddress,
				"height":    v.Height,
				"round":     v.Round,
			}).Warn("Conflicting vote received")
		}
		return
	}
	if !added {
		return
	}
	e.checkVoteTransitions(v)
}

// checkVoteTransitions fires the step transitions a newly counted vote
// can unlock. Callers must hold e.mu.
func (e *Engine) checkVoteTransitions(v *types.Vote) {
	switch v.Type {
	case types.VoteTypePrevote:
		prevotes := e.votes.Prevotes(v.Round)
		if prevotes == nil || v.Round != e.round || e.step != RoundStepPrevote {
			return
		}
		if prevotes.HasTwoThirdsMajority() {
			e.enterPrecommit(e.height, e.round)
		} else if prevotes.HasTwoThirdsAny() {
			e.enterPrevoteWait(e.height, e.round)
		}

	case types.VoteTypePrecommit:
		precommits := e.votes.Precommits(v.Round)
		if precommits == nil {
			return
		}
		if maj, ok := precommits.TwoThirdsMajority(); ok && maj != nil {
			e.enterCommit(e.height, v.Round)
		} else if v.Round == e.round && e.step == RoundStepPrecommit && precommits.HasTwoThirdsAny() {
			e.enterPrecommitWait(e.height, e.round)
		}
	}
}

// castVote signs and counts this node's own vote, then broadcasts it.
// A node outside the validator set stays silent. Callers must hold
// e.mu.
func (e *Engine) castVote(t types.VoteType, blockHash []byte) {
	if e.signer == nil {
		return
	}
	idx, val := e.valSet.GetByAddress(e.signer.Address())
	if val == nil {
		return
	}

	v := &types.Vote{
		Type:             t,
		Height:           e.height,
		Round:            e.round,
		BlockHash:        blockHash,
		ValidatorAddress: val.Address,
		ValidatorIndex:   int32(idx),
		Timestamp:        time.Now().Unix(),
	}
	if err := e.signer.SignVote(e.cfg.ChainID, v); err != nil {
		logrus.WithError(err).Error("Failed to sign vote")
		return
	}
	added, err := e.votes.AddVote(v)
	if err != nil {
		logrus.WithError(err).Warn("Own vote rejected")
		return
	}
	if e.cfg.BroadcastVote != nil {
		e.cfg.BroadcastVote(v)
	}
	if added {
		// In a small set our own vote can complete the quorum.
		e.checkVoteTransitions(v)
	}
}

func (e *Engine) handleTimeout(ti TimeoutInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil {
		return
	}
	if ti.Height != e.height || ti.Round < e.round {
		return
	}

	switch ti.Step {
	case RoundStepPropose:
		if e.step == RoundStepPropose {
			// No valid proposal in time: prevote nil or the lock.
			e.enterPrevote(e.height, e.round)
		}
	case RoundStepPrevoteWait:
		if e.step == RoundStepPrevoteWait {
			e.enterPrecommit(e.height, e.round)
		}
	case RoundStepPrecommitWait:
		if e.step == RoundStepPrecommitWait {
			e.enterNewRound(e.height, e.round+1)
		}
	case RoundStepNewHeight:
		e.enterNewRound(ti.Height, 0)
	}
}
