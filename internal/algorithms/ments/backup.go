package ments

import (
	"math"

	"github.com/trialsearch/go-thts/internal/distributions"
	"github.com/trialsearch/go-thts/internal/thts"
)

// BackupD implements thts.Algorithm: the family's soft backup, plus the
// entropy backup for DENTS and the DP backup for DB-MENTS.
func (a *Alg[S, A]) BackupD(d *thts.DNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := dstats[S, A](d)
	snap := a.snapshotChildren(d)

	if a.opts.Variant == DBMents && a.opts.UseAvgReturn {
		st.NumBackups++
		st.AvgBackups++
		st.AvgReturn += (thts.Scalarise(bk.ReturnAfter, ctx) - st.AvgReturn) / float64(st.AvgBackups)
		st.aliasStale = true
		return nil
	}

	switch a.opts.Variant {
	case Tents:
		a.backupTents(d, st, snap, ctx)
	default:
		a.backupSoft(d, st, snap, ctx)
	}

	if a.opts.Variant == Dents {
		a.backupEntropy(d, st, snap, ctx)
	}
	if a.opts.Variant == DBMents {
		a.backupDP(d, st, snap)
		st.AvgBackups++
		st.AvgReturn += (thts.Scalarise(bk.ReturnAfter, ctx) - st.AvgReturn) / float64(st.AvgBackups)
	}

	st.aliasStale = true
	return nil
}

// backupSoft performs V(s) = opp_coeff * temp * (log sum_a exp(opp_coeff *
// Q(s,a)/temp - M) + M). With the max-heap enabled, only the just-descended
// action's term and its heap entry (O(log n)) are refreshed; when the maximum
// changes, the running sum and every cached term are rescaled by
// exp(old_max - new_max), which is O(n). Otherwise the full log-sum-exp is
// recomputed from the child snapshot.
func (a *Alg[S, A]) backupSoft(d *thts.DNode[S, A], st *DStats[A], snap map[A]childValues, ctx *thts.TrialContext) {
	st.NumBackups++
	oppCoeff := d.OppCoeff()
	temp := a.getTemp(d)

	if a.opts.UseMaxHeap {
		a.backupSoftMaxHeap(d, st, snap, ctx, oppCoeff, temp)
		return
	}

	_, sumWeights, normTerm := a.computeActionWeights(d, snap, ctx)
	st.SoftValue = oppCoeff * temp * (math.Log(sumWeights) + normTerm)
}

func (a *Alg[S, A]) backupSoftMaxHeap(
	d *thts.DNode[S, A], st *DStats[A], snap map[A]childValues, ctx *thts.TrialContext,
	oppCoeff, temp float64,
) {
	if st.heap == nil {
		// First backup: build the full state once.
		st.heap = distributions.NewMaxHeap[A](len(d.Actions()))
		st.sumExpTerms = make(map[A]float64, len(d.Actions()))
		st.maxQOverTemp = math.Inf(-1)
		for _, action := range d.Actions() {
			q := a.softQValue(d, action, snap[action], oppCoeff) / temp
			st.heap.PushOrUpdate(action, q)
			if q > st.maxQOverTemp {
				st.maxQOverTemp = q
			}
		}
		st.sumExpTotal = 0
		for _, action := range d.Actions() {
			q, _ := st.heap.Value(action)
			term := math.Exp(q - st.maxQOverTemp)
			st.sumExpTerms[action] = term
			st.sumExpTotal += term
		}
		st.SoftValue = oppCoeff * temp * (math.Log(st.sumExpTotal) + st.maxQOverTemp)
		return
	}

	action, ok := ctx.Slot(d.Depth()).Action.(A)
	if !ok {
		// No recorded selection (e.g. a transposition hit): fall back to the
		// full recompute.
		_, sumWeights, normTerm := a.computeActionWeights(d, snap, ctx)
		st.SoftValue = oppCoeff * temp * (math.Log(sumWeights) + normTerm)
		return
	}

	newQ := a.softQValue(d, action, snap[action], oppCoeff) / temp
	st.heap.PushOrUpdate(action, newQ)
	newMax := st.heap.PeekValue()
	if newMax != st.maxQOverTemp {
		scale := math.Exp(st.maxQOverTemp - newMax)
		st.sumExpTotal *= scale
		for act, term := range st.sumExpTerms {
			st.sumExpTerms[act] = term * scale
		}
		st.maxQOverTemp = newMax
	}
	newTerm := math.Exp(newQ - st.maxQOverTemp)
	st.sumExpTotal += newTerm - st.sumExpTerms[action]
	st.sumExpTerms[action] = newTerm

	st.SoftValue = oppCoeff * temp * (math.Log(st.sumExpTotal) + st.maxQOverTemp)
}

// backupEntropy maintains the DENTS policy entropy: local entropy of the
// current selection policy (negated when acting as the opponent) plus the
// policy-weighted child subtree entropies.
func (a *Alg[S, A]) backupEntropy(d *thts.DNode[S, A], st *DStats[A], snap map[A]childValues, ctx *thts.TrialContext) {
	st.EntBackups++

	distr := a.computeActionDistribution(d, snap, ctx)
	var total float64
	for _, p := range distr {
		total += p
	}

	st.LocalEntropy = 0
	for _, p := range distr {
		p /= total
		if p > 0 {
			st.LocalEntropy -= p * math.Log(p)
		}
	}

	st.SubtreeEntropy = d.OppCoeff() * st.LocalEntropy
	for action, p := range distr {
		st.SubtreeEntropy += (p / total) * snap[action].subtreeEntropy
	}
}

// backupDP maintains the DB-MENTS DP value: V(s) = max_a Q(s,a), min at
// opponent nodes. Children with zero backups are skipped so half-initialised
// concurrent children cannot erase real values.
func (a *Alg[S, A]) backupDP(d *thts.DNode[S, A], st *DStats[A], snap map[A]childValues) {
	st.DPBackups++
	oppCoeff := d.OppCoeff()
	best := math.Inf(-1)
	for _, cv := range snap {
		if !cv.exists || cv.numBackups == 0 {
			continue
		}
		if oppCoeff*cv.dpValue > best {
			best = oppCoeff * cv.dpValue
		}
	}
	if !math.IsInf(best, -1) {
		st.DPValue = oppCoeff * best
	}
}

// BackupC implements thts.Algorithm: the chance-node soft backup is
// soft_value = R(s,a) + E_s'[child.soft_value], estimated as a
// backup-weighted running mean over existing children. Children observed with
// zero backups are skipped: a concurrent trial may have created a child it
// has not backed up yet, and dividing by its zero count would poison the
// value with NaNs.
func (a *Alg[S, A]) BackupC(c *thts.CNode[S, A], bk *thts.BackupArgs, ctx *thts.TrialContext) error {
	st := cstats(c)
	st.NumBackups++

	localReward := thts.Scalarise(c.LocalReward(), ctx)

	if a.opts.Variant == DBMents && a.opts.UseAvgReturn {
		st.AvgBackups++
		st.AvgReturn += (thts.Scalarise(bk.ReturnAfter, ctx) - st.AvgReturn) / float64(st.AvgBackups)
		return nil
	}

	type childVals struct {
		numBackups     int64
		softValue      float64
		subtreeEntropy float64
		entBackups     int64
		dpValue        float64
		dpBackups      int64
	}
	children := make([]childVals, 0, c.NumChildren())
	for _, child := range c.Children() {
		child.Lock()
		ds := child.Stats.(*DStats[A])
		children = append(children, childVals{
			numBackups:     ds.NumBackups,
			softValue:      ds.SoftValue,
			subtreeEntropy: ds.SubtreeEntropy,
			entBackups:     ds.EntBackups,
			dpValue:        ds.DPValue,
			dpBackups:      ds.DPBackups,
		})
		child.Unlock()
	}

	st.SoftValue = 0
	var sumBackups float64
	for _, cv := range children {
		if cv.numBackups == 0 {
			continue
		}
		sumBackups += float64(cv.numBackups)
		st.SoftValue *= (sumBackups - float64(cv.numBackups)) / sumBackups
		st.SoftValue += float64(cv.numBackups) * cv.softValue / sumBackups
	}
	st.SoftValue += localReward

	if a.opts.Variant == Dents {
		st.EntBackups++
		st.SubtreeEntropy = 0
		var sumEntBackups float64
		for _, cv := range children {
			if cv.entBackups == 0 {
				continue
			}
			sumEntBackups += float64(cv.entBackups)
			st.SubtreeEntropy *= (sumEntBackups - float64(cv.entBackups)) / sumEntBackups
			st.SubtreeEntropy += float64(cv.entBackups) * cv.subtreeEntropy / sumEntBackups
		}
	}

	if a.opts.Variant == DBMents {
		st.DPBackups++
		st.DPValue = 0
		var sumDPBackups float64
		for _, cv := range children {
			if cv.dpBackups == 0 {
				continue
			}
			sumDPBackups += float64(cv.dpBackups)
			st.DPValue *= (sumDPBackups - float64(cv.dpBackups)) / sumDPBackups
			st.DPValue += float64(cv.dpBackups) * cv.dpValue / sumDPBackups
		}
		st.DPValue += localReward
		st.AvgBackups++
		st.AvgReturn += (thts.Scalarise(bk.ReturnAfter, ctx) - st.AvgReturn) / float64(st.AvgBackups)
	}
	return nil
}
