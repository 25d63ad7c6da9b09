package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/stathat/consistent"

	"github.com/helix-labs/helix/types"
)

// Event is one item fanned out to subscribed peers: a transaction
// entering the pool, a consensus message, or a committed block.
type Event struct {
	Tx       *types.Transaction
	Proposal *types.Proposal
	Vote     *types.Vote
	Block    *types.Block
}

// Subscriber consumes events for one peer. Callbacks run on a
// propagation worker; a subscriber that cannot keep up loses events
// instead of stalling the node.
type Subscriber func(Event)

type delivery struct {
	fn Subscriber
	ev Event
}

const defaultQueueDepth = 256

// Propagation fans events out to subscribers over a fixed pool of
// workers. Every subscriber is pinned to one worker through a
// consistent-hash ring, so a single peer always receives events in
// publish order.
type Propagation struct {
	ring    *consistent.Consistent
	queues  map[string]chan delivery
	dropped atomic.Int64

	mu   sync.RWMutex
	subs map[string]Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPropagation(workers, queueDepth int) *Propagation {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Propagation{
		ring:   consistent.New(),
		queues: make(map[string]chan delivery, workers),
		subs:   make(map[string]Subscriber),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		p.ring.Add(name)
		p.queues[name] = make(chan delivery, queueDepth)
	}
	return p
}

func (p *Propagation) Start() {
	for _, queue := range p.queues {
		p.wg.Add(1)
		go p.run(queue)
	}
}

func (p *Propagation) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Propagation) run(queue chan delivery) {
	defer p.wg.Done()
	for {
		select {
		case d := <-queue:
			d.fn(d.ev)
		case <-p.ctx.Done():
			return
		}
	}
}

// Subscribe registers a peer callback under id, replacing any previous
// registration for the same id.
func (p *Propagation) Subscribe(id string, fn Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[id] = fn
}

func (p *Propagation) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subs, id)
}

// Publish enqueues ev for every subscriber. A full worker queue drops
// the delivery and counts it rather than blocking the publisher.
func (p *Propagation) Publish(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, fn := range p.subs {
		worker, err := p.ring.Get(id)
		if err != nil {
			continue
		}
		select {
		case p.queues[worker] <- delivery{fn: fn, ev: ev}:
		default:
			p.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"subscriber": id,
				"worker":     worker,
			}).Warn("propagation queue full, event dropped")
		}
	}
}

// Dropped returns how many deliveries were discarded under backpressure.
func (p *Propagation) Dropped() int64 {
	return p.dropped.Load()
}

// Subscribers returns the number of registered peers.
func (p *Propagation) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
