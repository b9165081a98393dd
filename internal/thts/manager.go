package thts

import (
	"github.com/trialsearch/go-thts/internal/thtsrand"
	"github.com/trialsearch/go-thts/internal/vecmath"
)

// DStats is the per-family statistic block of a decision node. The core
// treats it as opaque; algorithm packages type-assert to their own type.
type DStats any

// CStats is the per-family statistic block of a chance node.
type CStats any

// BackupArgs carries the reward decomposition of a completed trial to a
// node's backup: rewards before and after the node in trial order, the
// running return over the suffix after the node, and the total trial return.
type BackupArgs struct {
	RewardsBefore []vecmath.Vec
	RewardsAfter  []vecmath.Vec
	ReturnAfter   vecmath.Vec
	TotalReturn   vecmath.Vec
}

// Algorithm specialises the selection and backup rules of the search. One
// Algorithm instance is shared by all workers; per-node state goes in the
// statistic blocks, per-trial state in the TrialContext.
//
// Select/Visit/Backup calls on a node are always made with that node's lock
// held by the caller (the trial pool).
type Algorithm[S, A comparable] interface {
	Name() string

	// NewDStats and NewCStats build the statistic block for a freshly created
	// node.
	NewDStats(d *DNode[S, A]) DStats
	NewCStats(c *CNode[S, A]) CStats

	// VisitD and VisitC run family-specific visit work (lazy initialisation,
	// budget bookkeeping). The core increments num_visits itself.
	VisitD(d *DNode[S, A], ctx *TrialContext)
	VisitC(c *CNode[S, A], ctx *TrialContext)

	// SelectAction chooses an action at d, creating the corresponding child
	// chance node if it does not exist. Must be deterministic given ctx and
	// the current node state.
	SelectAction(d *DNode[S, A], ctx *TrialContext) (A, error)

	// RecommendAction produces the action reported to the caller at the end
	// of search; distinct from SelectAction.
	RecommendAction(d *DNode[S, A], ctx *TrialContext) (A, error)

	// BackupD and BackupC update the statistic blocks from a completed trial.
	BackupD(d *DNode[S, A], bk *BackupArgs, ctx *TrialContext) error
	BackupC(c *CNode[S, A], bk *BackupArgs, ctx *TrialContext) error
}

// Manager owns the pieces shared by every node of one search: the
// environment, the options, the algorithm, the optional heuristic and prior,
// and the transposition table.
type Manager[S, A comparable] struct {
	Env  Env[S, A]
	Opts Options
	Alg  Algorithm[S, A]

	Heuristic HeuristicFn[S, A]
	Prior     PriorFn[S, A]

	tt *transpositionTable[S, A]
}

// NewManager validates the configuration and builds a manager. The Alg field
// must be set by the algorithm package before the first node is created.
func NewManager[S, A comparable](env Env[S, A], opts Options) (*Manager[S, A], error) {
	if env.RewardDim() < 1 {
		return nil, Configf("environment reward dimension %d < 1", env.RewardDim())
	}
	if opts.RewardDim == 0 {
		opts.RewardDim = env.RewardDim()
	} else if opts.RewardDim != env.RewardDim() {
		return nil, Configf("manager reward dim %d does not match environment reward dim %d",
			opts.RewardDim, env.RewardDim())
	}
	if _, ok := env.(TransitionEnumerator[S, A]); !ok {
		if _, ok := env.(TransitionSampler[S, A]); !ok {
			return nil, Configf("environment implements neither TransitionDistribution nor SampleTransition")
		}
	}
	m := &Manager[S, A]{Env: env, Opts: opts}
	if opts.UseTransposition {
		m.tt = newTranspositionTable[S, A]()
	}
	return m, nil
}

// RewardDim returns the reward dimensionality of the search.
func (m *Manager[S, A]) RewardDim() int {
	return m.Opts.RewardDim
}

// SampleContext acquires a fresh per-trial context, deferring to the
// environment if it implements ContextSampler. The default for
// multi-objective environments draws a uniform-random simplex weight.
func (m *Manager[S, A]) SampleContext(workerID int, rng *thtsrand.Manager) *TrialContext {
	if cs, ok := m.Env.(ContextSampler); ok {
		ctx := cs.SampleContext(workerID, rng)
		ctx.WorkerID = workerID
		ctx.RNG = rng
		return ctx
	}
	ctx := NewTrialContext(workerID, rng)
	if m.RewardDim() > 1 {
		ctx.Weight = rng.SimplexWeight(m.RewardDim())
	}
	return ctx
}

// heuristicValue evaluates the heuristic at a non-sink state, or returns the
// zero vector.
func (m *Manager[S, A]) heuristicValue(s S) vecmath.Vec {
	if m.Heuristic == nil || m.Env.IsSinkState(s) {
		return vecmath.Zero(m.RewardDim())
	}
	return m.Heuristic(s, m.Env)
}

// NewRoot creates the root decision node at the environment's initial state.
func (m *Manager[S, A]) NewRoot() (*DNode[S, A], error) {
	if m.Alg == nil {
		return nil, Configf("manager has no algorithm attached")
	}
	return m.newDNode(m.Env.InitialState(), 0, 0, nil)
}
