package node

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/chain"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/consensus"
	"github.com/helix-labs/helix/consensus/detection"
	"github.com/helix-labs/helix/consensus/staking"
	"github.com/helix-labs/helix/consensus/validator"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/shard"
	"github.com/helix-labs/helix/store"
	"github.com/helix-labs/helix/types"
)

var (
	ErrNodeStopped     = errors.New("node is not running")
	ErrUnknownCommand  = errors.New("unknown command type")
	ErrGenesisMismatch = errors.New("store was created with different genesis parameters")
)

const propagationWorkers = 4

// Node is the composition root of one helix process. It owns the
// shard ledgers, the mempools, the committed chain, the staking
// ledger and the consensus engine, and it is the only writer of all
// of them: external surfaces reach state through commands, consensus
// reaches it through the block source callbacks, and both paths
// serialize on the node's state lock.
type Node struct {
	cfg     *config.Config
	genesis *chain.GenesisConfig

	store *store.Store
	chain *chain.Chain

	router    *shard.Router
	executors map[types.ShardID]*shard.Executor
	mempools  map[types.ShardID]*shard.Mempool
	assembler *chain.Assembler

	staking  *staking.Ledger
	detector *detection.Detector
	engine   *consensus.Engine
	pool     *Propagation

	operatorKey crypto.PrivateKey
	signer      *consensus.PrivValidator

	// stateMu guards the shard ledgers and every move of value
	// between a ledger and the staking ledger. The ledgers themselves
	// are single-writer structures.
	stateMu       sync.Mutex
	valSet        *validator.Set
	pendingReport *chain.AssemblyReport
	pendingHeight int64

	evMu     sync.Mutex
	evidence []*detection.Evidence

	commandCh chan types.Command
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
}

// NewNode wires a node over an open store. A fresh store is seeded
// from the genesis config; a resumed store must have been created
// with the same chain id and shard count.
func NewNode(cfg *config.Config, st *store.Store, gen *chain.GenesisConfig, operatorKey crypto.PrivateKey) (*Node, error) {
	if err := checkGenesisParams(st, gen); err != nil {
		return nil, err
	}

	router, err := shard.NewRouter(gen.ShardCount)
	if err != nil {
		return nil, err
	}

	c, err := chain.NewChain(st, gen.ChainID)
	if err != nil {
		return nil, err
	}

	executors := make(map[types.ShardID]*shard.Executor, gen.ShardCount)
	mempools := make(map[types.ShardID]*shard.Mempool, gen.ShardCount)
	for _, id := range router.Shards() {
		ledger := shard.NewLedger(id)
		accounts, err := st.AccountsInShard(id)
		if err != nil {
			return nil, fmt.Errorf("loading shard %d accounts: %w", id, err)
		}
		ledger.Load(accounts)
		executors[id] = shard.NewExecutor(id, ledger, router)
		mempools[id] = shard.NewMempool(id, cfg.MempoolCapacity, config.MinGasFee, st)
	}

	stakingLedger := staking.NewLedger()
	if snapshot, err := st.LoadStakingState(); err != nil {
		return nil, err
	} else if len(snapshot) > 0 {
		if err := stakingLedger.Restore(snapshot); err != nil {
			return nil, fmt.Errorf("restoring staking state: %w", err)
		}
	}

	n := &Node{
		cfg:           cfg,
		genesis:       gen,
		store:         st,
		chain:         c,
		router:        router,
		executors:     executors,
		mempools:      mempools,
		assembler:     chain.NewAssembler(router, executors, mempools, config.MaxBlockTransactions),
		staking:       stakingLedger,
		detector:      detection.NewDetector(),
		pool:          NewPropagation(propagationWorkers, defaultQueueDepth),
		operatorKey:   operatorKey,
		pendingHeight: -1,
		commandCh:     make(chan types.Command, 64),
		stopCh:        make(chan struct{}),
	}

	if operatorKey != nil {
		signer, err := consensus.NewPrivValidator(operatorKey)
		if err != nil {
			return nil, err
		}
		n.signer = signer
	}

	if c.Height() < 0 {
		if err := n.bootstrapGenesis(); err != nil {
			return nil, fmt.Errorf("seeding genesis state: %w", err)
		}
	}

	set, err := validator.NewSet(stakingLedger.ActiveSet())
	if err != nil {
		return nil, fmt.Errorf("building validator set: %w", err)
	}
	n.valSet = set

	timeouts := consensus.DefaultTimeoutConfig()
	timeouts.Commit = time.Duration(cfg.BlockIntervalMs) * time.Millisecond

	engine, err := consensus.NewEngine(consensus.Config{
		ChainID:  gen.ChainID,
		Timeouts: timeouts,
		BroadcastProposal: func(p *types.Proposal) {
			n.pool.Publish(Event{Proposal: p})
		},
		BroadcastVote: func(v *types.Vote) {
			n.observeOwnVote(v)
			n.pool.Publish(Event{Vote: v})
		},
	}, set.Copy(), n.consensusSigner(), n)
	if err != nil {
		return nil, err
	}
	n.engine = engine
	return n, nil
}

func checkGenesisParams(st *store.Store, gen *chain.GenesisConfig) error {
	params, err := st.LoadGenesisParams()
	if err != nil {
		return err
	}
	if params == nil {
		return st.SaveGenesisParams(&store.GenesisParams{
			ChainID:    gen.ChainID,
			ShardCount: gen.ShardCount,
		})
	}
	if params.ChainID != gen.ChainID || params.ShardCount != gen.ShardCount {
		return fmt.Errorf("%w: store has %s/%d shards, genesis has %s/%d",
			ErrGenesisMismatch, params.ChainID, params.ShardCount, gen.ChainID, gen.ShardCount)
	}
	return nil
}

// consensusSigner returns the signer as the engine's interface type,
// keeping a nil PrivValidator from becoming a non-nil interface.
func (n *Node) consensusSigner() consensus.Signer {
	if n.signer == nil {
		return nil
	}
	return n.signer
}

// bootstrapGenesis seeds the shard ledgers with the genesis alloc,
// bonds the genesis validators out of their allocations and commits
// the height-zero block.
func (n *Node) bootstrapGenesis() error {
	for addr := range n.genesis.Alloc {
		id, err := n.router.Route(addr)
		if err != nil {
			return err
		}
		n.executors[id].Ledger().Credit(addr, n.genesis.AllocAmount(addr))
	}

	for _, gv := range n.genesis.Validators {
		id, err := n.router.Route(gv.Address)
		if err != nil {
			return err
		}
		ledger := n.executors[id].Ledger()
		acc, ok := ledger.Account(gv.Address)
		if !ok || int64(acc.Balance) < gv.Stake {
			return fmt.Errorf("genesis validator %s stake %d exceeds its alloc", gv.Address, gv.Stake)
		}
		acc.Balance -= amount.FromNano(gv.Stake)
		if err := n.staking.Bond(gv.Address, gv.PubKey, amount.FromNano(gv.Stake), gv.CommissionBps, 0); err != nil {
			return err
		}
	}

	roots := make([]types.ShardRoot, 0, len(n.executors))
	for _, id := range n.router.Shards() {
		root, err := n.executors[id].Ledger().StateRoot()
		if err != nil {
			return err
		}
		roots = append(roots, types.ShardRoot{Shard: id, Root: root})
	}

	genesisBlock, err := chain.NewGenesisBlock(n.genesis, roots)
	if err != nil {
		return err
	}
	if err := n.chain.AddBlock(genesisBlock); err != nil {
		return err
	}

	for _, id := range n.router.Shards() {
		if err := n.store.SaveAccounts(id, n.executors[id].Ledger().Accounts()); err != nil {
			return err
		}
	}
	if err := n.persistStaking(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"chain_id":   n.genesis.ChainID,
		"shards":     n.genesis.ShardCount,
		"validators": len(n.genesis.Validators),
		"hash":       genesisBlock.Hash.String(),
	}).Info("genesis state committed")
	return nil
}

// Start launches the command loop, the propagation pool and the
// consensus engine at the height after the committed tip.
func (n *Node) Start() error {
	if !n.running.CompareAndSwap(false, true) {
		return consensus.ErrAlreadyStarted
	}

	n.pool.Start()
	n.wg.Add(1)
	go n.commandLoop()

	height := n.chain.Height()
	var lastCommit *types.Commit
	if height > 0 {
		tip, err := n.chain.GetBlock(height)
		if err != nil {
			return err
		}
		lastCommit = tip.Commit
	}
	return n.engine.Start(height+1, lastCommit)
}

// Stop halts consensus and drains the command loop. The store stays
// open; the caller that opened it closes it.
func (n *Node) Stop() error {
	if !n.running.CompareAndSwap(true, false) {
		return consensus.ErrNotStarted
	}
	err := n.engine.Stop()
	close(n.stopCh)
	n.wg.Wait()
	n.pool.Stop()
	return err
}

// Chain exposes the committed chain for read-only collaborators.
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Propagation exposes the fan-out pool for peer subscriptions.
func (n *Node) Propagation() *Propagation {
	return n.pool
}

// OperatorAddress returns the address of this node's signing key, or
// an empty string for an observer node.
func (n *Node) OperatorAddress() string {
	if n.signer == nil {
		return ""
	}
	return n.signer.Address()
}

func (n *Node) commandLoop() {
	defer n.wg.Done()
	for {
		select {
		case cmd := <-n.commandCh:
			n.dispatch(cmd)
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) persistStaking() error {
	snapshot, err := n.staking.Snapshot()
	if err != nil {
		return err
	}
	return n.store.SaveStakingState(snapshot)
}
