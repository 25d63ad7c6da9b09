package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/consensus/validator"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/crypto/hash"
	"github.com/helix-labs/helix/types"
)

const testChainID = "helix-test-1"

// newTestSet builds n equal-power validators with fresh keys. The
// returned signers are indexed by their position in the sorted set.
func newTestSet(t *testing.T, n int) ([]*PrivValidator, *validator.Set) {
	t.Helper()

	byAddr := make(map[string]*PrivValidator, n)
	vals := make([]*types.Validator, 0, n)
	for i := 0; i < n; i++ {
		priv, err := crypto.NewPrivateKey()
		require.NoError(t, err)
		pv, err := NewPrivValidator(priv)
		require.NoError(t, err)
		byAddr[pv.Address()] = pv
		vals = append(vals, &types.Validator{
			Address:     pv.Address(),
			PubKey:      pv.PubKey(),
			VotingPower: 25,
		})
	}

	set, err := validator.NewSet(vals)
	require.NoError(t, err)

	ordered := make([]*PrivValidator, 0, n)
	for _, v := range set.Validators {
		ordered = append(ordered, byAddr[v.Address])
	}
	return ordered, set
}

func signedVote(t *testing.T, pv *PrivValidator, set *validator.Set, vt types.VoteType, height int64, round int32, blockHash []byte) *types.Vote {
	t.Helper()
	idx, val := set.GetByAddress(pv.Address())
	require.NotNil(t, val)
	v := &types.Vote{
		Type:             vt,
		Height:           height,
		Round:            round,
		BlockHash:        blockHash,
		ValidatorAddress: pv.Address(),
		ValidatorIndex:   int32(idx),
		Timestamp:        time.Now().Unix(),
	}
	require.NoError(t, pv.SignVote(testChainID, v))
	return v
}

func TestVoteSetQuorum(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)
	blockHash := hash.NewHash([]byte("candidate")).Bytes()

	for i := 0; i < 2; i++ {
		added, err := vs.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrevote, 1, 0, blockHash))
		require.NoError(t, err)
		require.True(t, added)
	}
	require.False(t, vs.HasTwoThirdsMajority(), "50 of 100 power is not a quorum")
	require.False(t, vs.HasTwoThirdsAny())

	added, err := vs.AddVote(signedVote(t, pvs[2], set, types.VoteTypePrevote, 1, 0, blockHash))
	require.NoError(t, err)
	require.True(t, added)

	require.True(t, vs.HasTwoThirdsMajority(), "three of four equal validators are a quorum")
	maj, ok := vs.TwoThirdsMajority()
	require.True(t, ok)
	require.Equal(t, blockHash, maj)
	require.Equal(t, 3, vs.Size())
}

func TestVoteSetNilMajority(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	for i := 0; i < 3; i++ {
		_, err := vs.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrevote, 1, 0, nil))
		require.NoError(t, err)
	}

	maj, ok := vs.TwoThirdsMajority()
	require.True(t, ok, "nil votes form a quorum too")
	require.Nil(t, maj)
}

func TestVoteSetSplitVotesReachNoMajority(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	hashA := hash.NewHash([]byte("a")).Bytes()
	hashB := hash.NewHash([]byte("b")).Bytes()
	_, err := vs.AddVote(signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, hashA))
	require.NoError(t, err)
	_, err = vs.AddVote(signedVote(t, pvs[1], set, types.VoteTypePrevote, 1, 0, hashA))
	require.NoError(t, err)
	_, err = vs.AddVote(signedVote(t, pvs[2], set, types.VoteTypePrevote, 1, 0, hashB))
	require.NoError(t, err)

	require.False(t, vs.HasTwoThirdsMajority())
	require.True(t, vs.HasTwoThirdsAny(), "75 of 100 power has voted, just not for one block")
}

func TestVoteSetDuplicateIsIgnored(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)
	blockHash := hash.NewHash([]byte("candidate")).Bytes()

	v := signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, blockHash)
	added, err := vs.AddVote(v)
	require.NoError(t, err)
	require.True(t, added)

	added, err = vs.AddVote(v)
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 1, vs.Size())
}

func TestVoteSetConflictIsReported(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	_, err := vs.AddVote(signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, hash.NewHash([]byte("a")).Bytes()))
	require.NoError(t, err)

	added, err := vs.AddVote(signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, hash.NewHash([]byte("b")).Bytes()))
	require.ErrorIs(t, err, ErrConflictingVote)
	require.False(t, added)
	require.Equal(t, 1, vs.Size(), "the conflicting vote must not be counted")
}

func TestVoteSetRejectsOutsiders(t *testing.T) {
	_, set := newTestSet(t, 4)
	outsiders, outsiderSet := newTestSet(t, 1)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	v := signedVote(t, outsiders[0], outsiderSet, types.VoteTypePrevote, 1, 0, nil)
	_, err := vs.AddVote(v)
	require.ErrorIs(t, err, ErrUnknownValidator)
}

func TestVoteSetRejectsTamperedSignature(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	v := signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, nil)
	v.BlockHash = hash.NewHash([]byte("swapped")).Bytes()
	_, err := vs.AddVote(v)
	require.ErrorIs(t, err, types.ErrInvalidSignature)
}

func TestVoteSetRejectsWrongRound(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)

	v := signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 3, nil)
	_, err := vs.AddVote(v)
	require.ErrorIs(t, err, ErrInvalidVote)
}

func TestMakeCommit(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	vs := NewVoteSet(testChainID, 5, 1, types.VoteTypePrecommit, set)
	blockHash := hash.NewHash([]byte("committed"))

	// Votes added out of index order; the commit must still come out
	// sorted.
	for _, i := range []int{2, 0, 3} {
		_, err := vs.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrecommit, 5, 1, blockHash.Bytes()))
		require.NoError(t, err)
	}

	commit := vs.MakeCommit()
	require.NotNil(t, commit)
	require.Equal(t, int64(5), commit.Height)
	require.Equal(t, int32(1), commit.Round)
	require.True(t, commit.BlockHash.Equal(blockHash))
	require.Len(t, commit.Signatures, 3)
	require.Equal(t, pvs[0].Address(), commit.Signatures[0].ValidatorAddress)
	require.Equal(t, pvs[2].Address(), commit.Signatures[1].ValidatorAddress)
	require.Equal(t, pvs[3].Address(), commit.Signatures[2].ValidatorAddress)
}

func TestMakeCommitRefusals(t *testing.T) {
	pvs, set := newTestSet(t, 4)

	prevotes := NewVoteSet(testChainID, 1, 0, types.VoteTypePrevote, set)
	blockHash := hash.NewHash([]byte("candidate")).Bytes()
	for i := 0; i < 3; i++ {
		_, err := prevotes.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrevote, 1, 0, blockHash))
		require.NoError(t, err)
	}
	require.Nil(t, prevotes.MakeCommit(), "prevotes never finalize a block")

	precommits := NewVoteSet(testChainID, 1, 0, types.VoteTypePrecommit, set)
	for i := 0; i < 3; i++ {
		_, err := precommits.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrecommit, 1, 0, nil))
		require.NoError(t, err)
	}
	require.Nil(t, precommits.MakeCommit(), "a nil quorum finalizes nothing")

	short := NewVoteSet(testChainID, 1, 0, types.VoteTypePrecommit, set)
	for i := 0; i < 2; i++ {
		_, err := short.AddVote(signedVote(t, pvs[i], set, types.VoteTypePrecommit, 1, 0, blockHash))
		require.NoError(t, err)
	}
	require.Nil(t, short.MakeCommit(), "no commit below the quorum")
}

func TestHeightVoteSetRouting(t *testing.T) {
	pvs, set := newTestSet(t, 4)
	hvs := NewHeightVoteSet(testChainID, 1, set)
	blockHash := hash.NewHash([]byte("candidate")).Bytes()

	require.Nil(t, hvs.Prevotes(0))
	require.Nil(t, hvs.Precommits(0))

	_, err := hvs.AddVote(signedVote(t, pvs[0], set, types.VoteTypePrevote, 1, 0, blockHash))
	require.NoError(t, err)
	_, err = hvs.AddVote(signedVote(t, pvs[1], set, types.VoteTypePrecommit, 1, 2, blockHash))
	require.NoError(t, err)

	require.Equal(t, 1, hvs.Prevotes(0).Size())
	require.Nil(t, hvs.Prevotes(2))
	require.Equal(t, 1, hvs.Precommits(2).Size())
	require.Nil(t, hvs.Precommits(0))

	_, err = hvs.AddVote(signedVote(t, pvs[2], set, types.VoteTypePrevote, 7, 0, blockHash))
	require.ErrorIs(t, err, ErrInvalidVote)

	hvs.Reset(2, set)
	require.Equal(t, int64(2), hvs.Height())
	require.Nil(t, hvs.Prevotes(0), "reset drops every round wholesale")
}
