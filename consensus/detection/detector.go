package detection

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/types"
)

// EvidenceKind classifies observed misbehavior.
type EvidenceKind uint8

const (
	EvidenceDoubleSign EvidenceKind = iota + 1
	EvidenceDowntime
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDoubleSign:
		return "double_sign"
	case EvidenceDowntime:
		return "downtime"
	default:
		return "unknown"
	}
}

// SlashFraction maps evidence to the stake fraction it costs.
func (k EvidenceKind) SlashFraction() float64 {
	switch k {
	case EvidenceDoubleSign:
		return config.SlashFractionDoubleSign
	case EvidenceDowntime:
		return config.SlashFractionDowntime
	default:
		return 0
	}
}

// Evidence is one proven instance of validator misbehavior.
type Evidence struct {
	Kind      EvidenceKind
	Validator string
	Height    int64
	Detail    string
}

type voteRecord struct {
	blockHash []byte
	signature []byte
}

// Detector watches votes and commits for equivocation and downtime.
// It only reports; slashing is the staking ledger's move.
type Detector struct {
	mu sync.Mutex

	// votes remembers the first vote seen per height/round/type and
	// validator so a conflicting second vote is provable.
	votes map[int64]map[string]voteRecord

	windowStart int64
	missed      map[string]int
}

func NewDetector() *Detector {
	return &Detector{
		votes:  make(map[int64]map[string]voteRecord),
		missed: make(map[string]int),
	}
}

// ObserveVote records a vote and returns double-sign evidence when the
// validator already voted differently in the same height, round and
// step.
func (d *Detector) ObserveVote(v *types.Vote) *Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := fmt.Sprintf("%d/%d:%s", v.Round, v.Type, v.ValidatorAddress)
	byKey := d.votes[v.Height]
	if byKey == nil {
		byKey = make(map[string]voteRecord)
		d.votes[v.Height] = byKey
	}

	prev, seen := byKey[key]
	if !seen {
		byKey[key] = voteRecord{blockHash: v.BlockHash, signature: v.Signature}
		return nil
	}
	if bytes.Equal(prev.blockHash, v.BlockHash) {
		return nil
	}

	ev := &Evidence{
		Kind:      EvidenceDoubleSign,
		Validator: v.ValidatorAddress,
		Height:    v.Height,
		Detail: fmt.Sprintf("conflicting %s votes in round %d: %x vs %x",
			v.Type, v.Round, prev.blockHash, v.BlockHash),
	}
	logrus.WithFields(logrus.Fields{
		"validator": v.ValidatorAddress,
		"height":    v.Height,
		"round":     v.Round,
	}).Warn("double sign detected")
	return ev
}

// ObserveCommit tallies which of the active validators signed the
// committed block. Missing more than the allowed share of a window is
// downtime evidence.
func (d *Detector) ObserveCommit(height int64, active []string, signed map[string]bool) []*Evidence {
	d.mu.Lock()
	defer d.mu.Unlock()

	if height >= d.windowStart+config.DowntimeWindowBlocks {
		d.windowStart = height
		d.missed = make(map[string]int)
	}

	var evidence []*Evidence
	for _, addr := range active {
		if signed[addr] {
			continue
		}
		d.missed[addr]++
		if d.missed[addr] >= config.MaxMissedPerWindow {
			evidence = append(evidence, &Evidence{
				Kind:      EvidenceDowntime,
				Validator: addr,
				Height:    height,
				Detail: fmt.Sprintf("missed %d of the last %d blocks",
					d.missed[addr], config.DowntimeWindowBlocks),
			})
			d.missed[addr] = 0
		}
	}
	return evidence
}

// Prune drops vote memory below height. Evidence for pruned heights
// can no longer be produced.
func (d *Detector) Prune(height int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h := range d.votes {
		if h < height {
			delete(d.votes, h)
		}
	}
}
