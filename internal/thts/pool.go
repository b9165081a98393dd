package thts

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// Pool runs trials concurrently over one shared tree. Each worker goroutine
// runs one trial at a time from start to completion; coordination is through
// per-node locks and atomic counters only. Termination is cooperative:
// workers check the trials-remaining counter, the stop flag and the context
// deadline between trials, never inside one.
type Pool[S, A comparable] struct {
	mgr        *Manager[S, A]
	root       *DNode[S, A]
	numWorkers int

	logger *Logger[S, A]

	trialsRemaining atomic.Int64
	trialsCompleted atomic.Int64
	stopped         atomic.Bool
	startTime       time.Time
}

// NewPool builds a pool of numWorkers workers over the tree rooted at root.
// The logger may be nil.
func NewPool[S, A comparable](mgr *Manager[S, A], root *DNode[S, A], numWorkers int, logger *Logger[S, A]) *Pool[S, A] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool[S, A]{
		mgr:        mgr,
		root:       root,
		numWorkers: numWorkers,
		logger:     logger,
	}
}

// Root returns the root decision node.
func (p *Pool[S, A]) Root() *DNode[S, A] { return p.root }

// TrialsCompleted returns the number of finished trials.
func (p *Pool[S, A]) TrialsCompleted() int64 { return p.trialsCompleted.Load() }

// Stop requests cooperative termination: each worker finishes its current
// trial and returns. No cancellation propagates into a trial in progress.
func (p *Pool[S, A]) Stop() { p.stopped.Store(true) }

// Run executes numTrials trials and blocks until they complete, the context
// is done, or a worker reports a fatal error.
func (p *Pool[S, A]) Run(ctx context.Context, numTrials int) error {
	p.stopped.Store(false)
	p.trialsRemaining.Store(int64(numTrials))
	p.startTime = time.Now()
	if p.logger != nil {
		p.logger.reset(p.startTime)
	}

	var wg errgroup.Group
	for workerID := 0; workerID < p.numWorkers; workerID++ {
		wg.Go(func() error {
			return p.workerLoop(ctx, workerID)
		})
	}
	err := wg.Wait()

	if klog.V(1).Enabled() {
		elapsed := time.Since(p.startTime)
		done := p.trialsCompleted.Load()
		klog.Infof("%s pool finished %d trials in %s (%.1f trials/s, %d workers)",
			p.mgr.Alg.Name(), done, elapsed, float64(done)/elapsed.Seconds(), p.numWorkers)
	}
	return err
}

// RunFor executes trials until the duration elapses.
func (p *Pool[S, A]) RunFor(ctx context.Context, d time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := p.Run(deadlineCtx, math.MaxInt32)
	if deadlineCtx.Err() != nil && ctx.Err() == nil {
		return nil // deadline elapsing is normal termination
	}
	return err
}

func (p *Pool[S, A]) workerLoop(ctx context.Context, workerID int) error {
	rng := thtsrand.New(p.mgr.Opts.Seed, workerID)
	for {
		if p.stopped.Load() || ctx.Err() != nil {
			return nil
		}
		if p.trialsRemaining.Add(-1) < 0 {
			return nil
		}
		tctx := p.mgr.SampleContext(workerID, rng)
		if err := p.runTrial(tctx); err != nil {
			klog.Errorf("worker %d stopping after trial error: %v", workerID, err)
			p.stopped.Store(true)
			return err
		}
		p.trialsCompleted.Add(1)
		if p.logger != nil {
			p.logger.maybeLog(p)
		}
	}
}

// visitedPair records one (decision node, chance node) step of the selection
// phase, in trial order.
type visitedPair[S, A comparable] struct {
	d *DNode[S, A]
	c *CNode[S, A]
}

func (p *Pool[S, A]) shouldContinueSelection(d *DNode[S, A], newNodeThisTrial bool) bool {
	if newNodeThisTrial {
		// First-visit termination: algorithms bootstrap the new tip with a
		// heuristic instead of descending further.
		return false
	}
	if d.IsSink() {
		return false
	}
	return d.Depth() < p.mgr.Opts.MaxDepth
}

// runTrial performs one selection pass from the root followed by the backup
// pass over the visited pairs in reverse.
func (p *Pool[S, A]) runTrial(tctx *TrialContext) error {
	alg := p.mgr.Alg

	var pairs []visitedPair[S, A]
	var rewards []vecmath.Vec

	cur := p.root
	newNodeThisTrial := false

	// Selection: alternate D-node select_action and C-node
	// sample_observation, holding exactly one node lock at a time (D-lock
	// then C-lock, never both).
	for p.shouldContinueSelection(cur, newNodeThisTrial) {
		cur.Lock()
		cur.visit(tctx)
		a, err := alg.SelectAction(cur, tctx)
		if err != nil {
			cur.Unlock()
			return err
		}
		c, ok := cur.Child(a)
		cur.Unlock()
		if !ok {
			return Invariantf("%s selected action %v without creating its child", alg.Name(), a)
		}

		c.Lock()
		c.visit(tctx)
		preChildren := c.NumChildren()
		_, child, err := c.SampleObservation(tctx)
		if err != nil {
			c.Unlock()
			return err
		}
		if c.NumChildren() > preChildren {
			newNodeThisTrial = true
		}
		c.Unlock()

		c.addVirtualLoss()
		pairs = append(pairs, visitedPair[S, A]{d: cur, c: c})
		rewards = append(rewards, c.LocalReward())
		cur = child
	}

	// Tip: visit, and append the heuristic value (zero at sinks) as the last
	// reward of the trial.
	cur.Lock()
	cur.visit(tctx)
	tipValue := cur.Heuristic()
	cur.Unlock()
	rewards = append(rewards, tipValue)

	return p.runBackupPhase(pairs, rewards, tctx)
}

func (p *Pool[S, A]) runBackupPhase(pairs []visitedPair[S, A], rewards []vecmath.Vec, tctx *TrialContext) error {
	alg := p.mgr.Alg
	dim := p.mgr.RewardDim()

	totalReturn := vecmath.Zero(dim)
	for _, r := range rewards {
		totalReturn.Add(r)
	}

	rewardsBefore := rewards[:len(rewards)-1]
	tipValue := rewards[len(rewards)-1]
	rewardsAfter := []vecmath.Vec{tipValue}
	returnAfter := tipValue.Clone()

	for i := len(pairs) - 1; i >= 0; i-- {
		reward := rewardsBefore[len(rewardsBefore)-1]
		rewardsBefore = rewardsBefore[:len(rewardsBefore)-1]
		rewardsAfter = append(rewardsAfter, reward)
		returnAfter.Add(reward)

		bk := &BackupArgs{
			RewardsBefore: rewardsBefore,
			RewardsAfter:  rewardsAfter,
			ReturnAfter:   returnAfter,
			TotalReturn:   totalReturn,
		}

		c := pairs[i].c
		c.Lock()
		err := alg.BackupC(c, bk, tctx)
		c.Unlock()
		c.removeVirtualLoss()
		if err != nil {
			return err
		}

		d := pairs[i].d
		d.Lock()
		err = alg.BackupD(d, bk, tctx)
		d.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Recommend asks the algorithm for the action to report at the root, using a
// fresh context from the given RNG.
func (p *Pool[S, A]) Recommend(rng *thtsrand.Manager) (A, error) {
	tctx := p.mgr.SampleContext(0, rng)
	p.root.Lock()
	defer p.root.Unlock()
	return p.mgr.Alg.RecommendAction(p.root, tctx)
}
