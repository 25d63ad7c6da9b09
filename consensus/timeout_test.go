package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeoutDurationGrowsWithRound(t *testing.T) {
	cfg := TimeoutConfig{
		Propose:        100 * time.Millisecond,
		ProposeDelta:   10 * time.Millisecond,
		Prevote:        40 * time.Millisecond,
		PrevoteDelta:   5 * time.Millisecond,
		Precommit:      40 * time.Millisecond,
		PrecommitDelta: 5 * time.Millisecond,
		Commit:         50 * time.Millisecond,
	}

	require.Equal(t, 100*time.Millisecond, cfg.Duration(RoundStepPropose, 0))
	require.Equal(t, 130*time.Millisecond, cfg.Duration(RoundStepPropose, 3))
	require.Equal(t, 50*time.Millisecond, cfg.Duration(RoundStepPrevoteWait, 2))
	require.Equal(t, 45*time.Millisecond, cfg.Duration(RoundStepPrecommitWait, 1))
	require.Equal(t, 50*time.Millisecond, cfg.Duration(RoundStepCommit, 9), "commit timeout does not stretch")
}

func TestTimeoutTickerFires(t *testing.T) {
	ticker := NewTimeoutTicker(DefaultTimeoutConfig())
	ticker.Start()
	defer ticker.Stop()

	want := TimeoutInfo{Duration: 10 * time.Millisecond, Height: 3, Round: 1, Step: RoundStepPrevoteWait}
	ticker.ScheduleTimeout(want)

	select {
	case got := <-ticker.Chan():
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTimeoutTickerReplacesPending(t *testing.T) {
	ticker := NewTimeoutTicker(DefaultTimeoutConfig())
	ticker.Start()
	defer ticker.Stop()

	ticker.ScheduleTimeout(TimeoutInfo{Duration: 300 * time.Millisecond, Height: 1, Round: 0, Step: RoundStepPropose})
	// Give the run loop a moment to arm the first timer before it is
	// replaced.
	time.Sleep(20 * time.Millisecond)
	ticker.ScheduleTimeout(TimeoutInfo{Duration: 30 * time.Millisecond, Height: 1, Round: 1, Step: RoundStepPropose})

	select {
	case got := <-ticker.Chan():
		require.Equal(t, int32(1), got.Round, "the newer schedule wins")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	select {
	case got := <-ticker.Chan():
		t.Fatalf("cancelled timeout still fired: %+v", got)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestTimeoutTickerFillsDurationFromConfig(t *testing.T) {
	cfg := DefaultTimeoutConfig()
	cfg.Propose = 20 * time.Millisecond
	cfg.ProposeDelta = 5 * time.Millisecond

	ticker := NewTimeoutTicker(cfg)
	ticker.Start()
	defer ticker.Stop()

	ticker.ScheduleTimeout(TimeoutInfo{Height: 1, Round: 2, Step: RoundStepPropose})

	select {
	case got := <-ticker.Chan():
		require.Equal(t, 30*time.Millisecond, got.Duration)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}
