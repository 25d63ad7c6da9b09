package consensus

import (
	"sync"
	"time"
)

// RoundStep is the position of the engine inside one consensus round.
type RoundStep uint8

const (
	RoundStepNewHeight RoundStep = iota
	RoundStepNewRound
	RoundStepPropose
	RoundStepPrevote
	RoundStepPrevoteWait
	RoundStepPrecommit
	RoundStepPrecommitWait
	RoundStepCommit
)

func (s RoundStep) String() string {
	switch s {
	case RoundStepNewHeight:
		return "new_height"
	case RoundStepNewRound:
		return "new_round"
	case RoundStepPropose:
		return "propose"
	case RoundStepPrevote:
		return "prevote"
	case RoundStepPrevoteWait:
		return "prevote_wait"
	case RoundStepPrecommit:
		return "precommit"
	case RoundStepPrecommitWait:
		return "precommit_wait"
	case RoundStepCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// TimeoutConfig holds the base timeout per step and the amount each
// failed round stretches it. Growing timeouts let a partitioned network
// eventually give every proposer enough time to be heard.
type TimeoutConfig struct {
	Propose        time.Duration
	ProposeDelta   time.Duration
	Prevote        time.Duration
	PrevoteDelta   time.Duration
	Precommit      time.Duration
	PrecommitDelta time.Duration
	Commit         time.Duration
}

func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Propose:        3000 * time.Millisecond,
		ProposeDelta:   500 * time.Millisecond,
		Prevote:        1000 * time.Millisecond,
		PrevoteDelta:   500 * time.Millisecond,
		Precommit:      1000 * time.Millisecond,
		PrecommitDelta: 500 * time.Millisecond,
		Commit:         1000 * time.Millisecond,
	}
}

// Duration returns the timeout for a step in a given round.
func (c TimeoutConfig) Duration(step RoundStep, round int32) time.Duration {
	r := time.Duration(round)
	switch step {
	case RoundStepPropose:
		return c.Propose + r*c.ProposeDelta
	case RoundStepPrevoteWait:
		return c.Prevote + r*c.PrevoteDelta
	case RoundStepPrecommitWait:
		return c.Precommit + r*c.PrecommitDelta
	case RoundStepCommit:
		return c.Commit
	default:
		return c.Propose
	}
}

// TimeoutInfo identifies which wait expired. The engine compares it to
// its current height, round and step before acting, so stale timeouts
// from abandoned rounds are harmless.
type TimeoutInfo struct {
	Duration time.Duration
	Height   int64
	Round    int32
	Step     RoundStep
}

// TimeoutTicker runs at most one pending timeout. Scheduling a new
// timeout replaces the old one; only the most recent schedule can fire.
type TimeoutTicker struct {
	config TimeoutConfig

	tickCh chan TimeoutInfo
	tockCh chan TimeoutInfo
	stopCh chan struct{}

	mu      sync.Mutex
	started bool
}

func NewTimeoutTicker(config TimeoutConfig) *TimeoutTicker {
	return &TimeoutTicker{
		config: config,
		tickCh: make(chan TimeoutInfo, 10),
		tockCh: make(chan TimeoutInfo, 10),
		stopCh: make(chan struct{}),
	}
}

func (t *TimeoutTicker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	go t.run()
}

func (t *TimeoutTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	close(t.stopCh)
}

// ScheduleTimeout arms the timer for the given step. The duration is
// filled from the config when the caller leaves it zero.
func (t *TimeoutTicker) ScheduleTimeout(ti TimeoutInfo) {
	if ti.Duration == 0 {
		ti.Duration = t.config.Duration(ti.Step, ti.Round)
	}
	select {
	case t.tickCh <- ti:
	default:
	}
}

// Chan delivers expired timeouts.
func (t *TimeoutTicker) Chan() <-chan TimeoutInfo {
	return t.tockCh
}

func (t *TimeoutTicker) run() {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-t.stopCh:
			return
		case ti := <-t.tickCh:
			if timer != nil {
				timer.Stop()
			}
			fire := ti
			timer = time.AfterFunc(fire.Duration, func() {
				select {
				case t.tockCh <- fire:
				case <-t.stopCh:
				}
			})
		}
	}
}
