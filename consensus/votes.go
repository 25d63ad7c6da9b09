package consensus

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/helix-labs/helix/consensus/validator"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

// nilVoteKey indexes votes that reject every proposal in the round.
const nilVoteKey = "nil"

// blockVotes tallies the voting power gathered behind one block hash.
type blockVotes struct {
	votes      []*types.Vote
	totalPower int64
}

// VoteSet collects votes of a single type for one height and round.
// Every vote is signature-checked against the validator set before it
// counts, a second vote from the same validator for the same block is
// ignored, and a second vote for a different block is reported as
// ErrConflictingVote so the caller can raise evidence. The set tracks
// the first block hash to pass two thirds of the total voting power.
type VoteSet struct {
	chainID  string
	height   int64
	round    int32
	voteType types.VoteType
	valSet   *validator.Set
	quorum   int64

	mu           sync.RWMutex
	votes        map[int32]*types.Vote
	votesByBlock map[string]*blockVotes
	sum          int64
	maj23Key     string
}

func NewVoteSet(chainID string, height int64, round int32, voteType types.VoteType, valSet *validator.Set) *VoteSet {
	return &VoteSet{
		chainID:      chainID,
		height:       height,
		round:        round,
		voteType:     voteType,
		valSet:       valSet,
		quorum:       valSet.TwoThirdsMajority(),
		votes:        make(map[int32]*types.Vote),
		votesByBlock: make(map[string]*blockVotes),
	}
}

func blockHashKey(blockHash []byte) string {
	if len(blockHash) == 0 {
		return nilVoteKey
	}
	return hex.EncodeToString(blockHash)
}

// AddVote verifies and records a vote. It returns false with a nil
// error when the vote is an exact duplicate, and false with
// ErrConflictingVote when the validator already voted for a different
// block in this round.
func (vs *VoteSet) AddVote(v *types.Vote) (bool, error) {
	if v == nil {
		return false, ErrInvalidVote
	}
	if v.Height != vs.height || v.Round != vs.round || v.Type != vs.voteType {
		return false, fmt.Errorf("%w: got %d/%d/%s, want %d/%d/%s",
			ErrInvalidVote, v.Height, v.Round, v.Type, vs.height, vs.round, vs.voteType)
	}
	if v.Timestamp <= 0 {
		return false, fmt.Errorf("%w: missing timestamp", ErrInvalidVote)
	}
	if len(v.BlockHash) != 0 && len(v.BlockHash) != hash.HashSize {
		return false, fmt.Errorf("%w: malformed block hash", ErrInvalidVote)
	}

	idx, val := vs.valSet.GetByAddress(v.ValidatorAddress)
	if val == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownValidator, v.ValidatorAddress)
	}
	if v.ValidatorIndex != int32(idx) {
		return false, fmt.Errorf("%w: index %d does not match validator %s",
			ErrInvalidVote, v.ValidatorIndex, v.ValidatorAddress)
	}
	if err := verifyVoteSignature(vs.chainID, v, val.PubKey); err != nil {
		return false, err
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if existing, ok := vs.votes[v.ValidatorIndex]; ok {
		if bytes.Equal(existing.BlockHash, v.BlockHash) {
			return false, nil
		}
		return false, fmt.Errorf("%w: validator %s voted %x then %x at %d/%d",
			ErrConflictingVote, v.ValidatorAddress, existing.BlockHash, v.BlockHash, v.Height, v.Round)
	}

	cp := *v
	vs.votes[v.ValidatorIndex] = &cp
	vs.sum += val.VotingPower

	key := blockHashKey(v.BlockHash)
	bv := vs.votesByBlock[key]
	if bv == nil {
		bv = &blockVotes{}
		vs.votesByBlock[key] = bv
	}
	bv.votes = append(bv.votes, &cp)
	bv.totalPower += val.VotingPower

	if vs.maj23Key == "" && bv.totalPower >= vs.quorum {
		vs.maj23Key = key
	}
	return true, nil
}

func verifyVoteSignature(chainID string, v *types.Vote, pubKeyBytes []byte) error {
	if len(v.Signature) == 0 {
		return fmt.Errorf("%w: unsigned vote", types.ErrInvalidSignature)
	}
	pub, err := crypto.NewPublicKeyFromBytes(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("%w: undecodable validator public key", types.ErrInvalidSignature)
	}
	payload, err := types.VoteSignBytes(chainID, v)
	if err != nil {
		return fmt.Errorf("failed to serialize vote for verification: %w", err)
	}
	sig := crypto.NewSignature(v.Signature)
	if err := pub.Verify(payload, &sig); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidSignature, err)
	}
	return nil
}

// Size returns the number of recorded votes.
func (vs *VoteSet) Size() int {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return len(vs.votes)
}

// TwoThirdsMajority returns the block hash that gathered more than two
// thirds of the voting power. The second return reports whether any
// hash has; a nil first return with true means the majority voted nil.
func (vs *VoteSet) TwoThirdsMajority() ([]byte, bool) {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	if vs.maj23Key == "" {
		return nil, false
	}
	if vs.maj23Key == nilVoteKey {
		return nil, true
	}
	h, err := hex.DecodeString(vs.maj23Key)
	if err != nil {
		return nil, false
	}
	return h, true
}

func (vs *VoteSet) HasTwoThirdsMajority() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.maj23Key != ""
}

// HasTwoThirdsAny reports whether votes carrying a quorum of power have
// arrived, regardless of whether they agree on a block.
func (vs *VoteSet) HasTwoThirdsAny() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.sum >= vs.quorum
}

// Votes returns the recorded votes ordered by validator index.
func (vs *VoteSet) Votes() []*types.Vote {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	out := make([]*types.Vote, 0, len(vs.votes))
	for _, v := range vs.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidatorIndex < out[j].ValidatorIndex })
	return out
}

// MakeCommit assembles the commit proof from a precommit set whose
// majority settled on a real block. Only votes for the committed hash
// are included, ordered by validator index.
func (vs *VoteSet) MakeCommit() *types.Commit {
	vs.mu.RLock()
	defer vs.mu.RUnlock()

	if vs.voteType != types.VoteTypePrecommit {
		return nil
	}
	if vs.maj23Key == "" || vs.maj23Key == nilVoteKey {
		return nil
	}
	bv := vs.votesByBlock[vs.maj23Key]
	if bv == nil || len(bv.votes) == 0 {
		return nil
	}

	blockHash, err := hash.FromBytes(bv.votes[0].BlockHash)
	if err != nil {
		return nil
	}
	votes := append([]*types.Vote(nil), bv.votes...)
	sort.Slice(votes, func(i, j int) bool { return votes[i].ValidatorIndex < votes[j].ValidatorIndex })

	sigs := make([]types.CommitSig, 0, len(votes))
	for _, v := range votes {
		sigs = append(sigs, types.CommitSig{
			ValidatorAddress: v.ValidatorAddress,
			Timestamp:        v.Timestamp,
			Signature:        v.Signature,
		})
	}
	return &types.Commit{
		Height:     vs.height,
		Round:      vs.round,
		BlockHash:  blockHash,
		Signatures: sigs,
	}
}

// HeightVoteSet holds the prevote and precommit sets for every round of
// one height, creating round sets on first use.
type HeightVoteSet struct {
	chainID string

	mu         sync.RWMutex
	height     int64
	valSet     *validator.Set
	prevotes   map[int32]*VoteSet
	precommits map[int32]*VoteSet
}

func NewHeightVoteSet(chainID string, height int64, valSet *validator.Set) *HeightVoteSet {
	hvs := &HeightVoteSet{chainID: chainID}
	hvs.Reset(height, valSet)
	return hvs
}

func (hvs *HeightVoteSet) Height() int64 {
	hvs.mu.RLock()
	defer hvs.mu.RUnlock()
	return hvs.height
}

// Reset discards all vote sets and rebinds the tracker to a new height
// and validator set.
func (hvs *HeightVoteSet) Reset(height int64, valSet *validator.Set) {
	hvs.mu.Lock()
	defer hvs.mu.Unlock()
	hvs.height = height
	hvs.valSet = valSet
	hvs.prevotes = make(map[int32]*VoteSet)
	hvs.precommits = make(map[int32]*VoteSet)
}

// AddVote routes the vote to the set for its round and type.
func (hvs *HeightVoteSet) AddVote(v *types.Vote) (bool, error) {
	if v == nil {
		return false, ErrInvalidVote
	}
	hvs.mu.Lock()
	if v.Height != hvs.height {
		hvs.mu.Unlock()
		return false, fmt.Errorf("%w: vote height %d, tracker height %d", ErrInvalidVote, v.Height, hvs.height)
	}
	var sets map[int32]*VoteSet
	switch v.Type {
	case types.VoteTypePrevote:
		sets = hvs.prevotes
	case types.VoteTypePrecommit:
		sets = hvs.precommits
	default:
		hvs.mu.Unlock()
		return false, fmt.Errorf("%w: unknown vote type %d", ErrInvalidVote, v.Type)
	}
	vs := sets[v.Round]
	if vs == nil {
		vs = NewVoteSet(hvs.chainID, hvs.height, v.Round, v.Type, hvs.valSet)
		sets[v.Round] = vs
	}
	hvs.mu.Unlock()

	return vs.AddVote(v)
}

// Prevotes returns the prevote set for the round, or nil if no prevote
// for that round has been seen.
func (hvs *HeightVoteSet) Prevotes(round int32) *VoteSet {
	hvs.mu.RLock()
	defer hvs.mu.RUnlock()
	return hvs.prevotes[round]
}

// Precommits returns the precommit set for the round, or nil if no
// precommit for that round has been seen.
func (hvs *HeightVoteSet) Precommits(round int32) *VoteSet {
	hvs.mu.RLock()
	defer hvs.mu.RUnlock()
	return hvs.precommits[round]
}
