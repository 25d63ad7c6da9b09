package node

import (
	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/consensus/detection"
	"github.com/helix-labs/helix/types"
)

// Consensus messages from peers enter here. Every vote, inbound or
// self-cast, passes the misbehavior detector before the engine sees
// it; evidence is queued and settled on the next commit so slashing
// happens exactly once, on the apply path.

// HandleVote ingests a vote received from a peer.
func (n *Node) HandleVote(v *types.Vote) {
	if v == nil {
		return
	}
	if ev := n.detector.ObserveVote(v); ev != nil {
		n.queueEvidence(ev)
	}
	n.engine.AddVote(v)
}

// HandleProposal ingests a block proposal received from a peer.
func (n *Node) HandleProposal(p *types.Proposal) {
	if p == nil {
		return
	}
	n.engine.AddProposal(p)
}

// observeOwnVote runs on the engine's broadcast callback. Feeding our
// own votes through the detector keeps its per-height memory complete,
// so a restarted process that re-signs a round convicts itself the
// same way a remote observer would.
func (n *Node) observeOwnVote(v *types.Vote) {
	if ev := n.detector.ObserveVote(v); ev != nil {
		n.queueEvidence(ev)
	}
}

func (n *Node) queueEvidence(ev *detection.Evidence) {
	logrus.WithFields(logrus.Fields{
		"validator": ev.Validator,
		"kind":      ev.Kind.String(),
		"height":    ev.Height,
		"detail":    ev.Detail,
	}).Warn("misbehavior evidence recorded")

	n.evMu.Lock()
	n.evidence = append(n.evidence, ev)
	n.evMu.Unlock()
}

func (n *Node) drainEvidence() []*detection.Evidence {
	n.evMu.Lock()
	defer n.evMu.Unlock()
	evidence := n.evidence
	n.evidence = nil
	return evidence
}

// settleEvidence slashes every queued conviction plus whatever the
// commit itself reveals about downtime. Runs under the state lock as
// part of CommitBlock.
func (n *Node) settleEvidence(height int64, commit *types.Commit) {
	evidence := n.drainEvidence()

	if commit != nil {
		signed := make(map[string]bool, len(commit.Signatures))
		for _, sig := range commit.Signatures {
			signed[sig.ValidatorAddress] = true
		}
		active := make([]string, 0, n.valSet.Size())
		for _, val := range n.valSet.Validators {
			active = append(active, val.Address)
		}
		evidence = append(evidence, n.detector.ObserveCommit(height, active, signed)...)
	}

	for _, ev := range evidence {
		burned, err := n.staking.Slash(ev.Validator, ev.Kind.SlashFraction(), height, ev.Detail)
		if err != nil {
			logrus.WithError(err).WithField("validator", ev.Validator).Warn("slash failed")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"validator": ev.Validator,
			"kind":      ev.Kind.String(),
			"burned":    burned,
			"height":    height,
		}).Warn("validator slashed")
	}
}
