package node

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/types"
)

func TestPropagationDeliversInOrder(t *testing.T) {
	p := NewPropagation(4, 64)
	p.Start()
	defer p.Stop()

	var mu sync.Mutex
	var got []uint64
	p.Subscribe("peer-1", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Tx.Nonce)
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		p.Publish(Event{Tx: &types.Transaction{Nonce: uint64(i)}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, nonce := range got {
		// Pinning a subscriber to one worker keeps publish order.
		require.Equal(t, uint64(i), nonce)
	}
	require.Zero(t, p.Dropped())
}

func TestPropagationFanoutAndUnsubscribe(t *testing.T) {
	p := NewPropagation(2, 64)
	p.Start()
	defer p.Stop()

	var a, b atomic.Int64
	p.Subscribe("peer-a", func(Event) { a.Add(1) })
	p.Subscribe("peer-b", func(Event) { b.Add(1) })

	for i := 0; i < 10; i++ {
		p.Publish(Event{})
	}
	require.Eventually(t, func() bool {
		return a.Load() == 10 && b.Load() == 10
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, p.Subscribers())

	p.Unsubscribe("peer-b")
	for i := 0; i < 5; i++ {
		p.Publish(Event{})
	}
	require.Eventually(t, func() bool {
		return a.Load() == 15
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(10), b.Load())
	require.Equal(t, 1, p.Subscribers())
}

func TestPropagationDropsUnderBackpressure(t *testing.T) {
	p := NewPropagation(1, 1)
	p.Start()
	defer p.Stop()

	gate := make(chan struct{})
	var delivered atomic.Int64
	p.Subscribe("slow", func(Event) {
		<-gate
		delivered.Add(1)
	})

	for i := 0; i < 10; i++ {
		p.Publish(Event{})
	}
	// One delivery is in the worker, at most one more fits the queue.
	require.GreaterOrEqual(t, p.Dropped(), int64(8))

	close(gate)
	require.Eventually(t, func() bool {
		return delivered.Load()+p.Dropped() == 10
	}, 5*time.Second, 10*time.Millisecond)
}
