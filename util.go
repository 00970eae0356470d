package dcop

import (
	"strconv"
	"time"
)

// denseUtil is the UTIL strategy for single-variable areas (rooms and
// zones). The utility is a dense multi-dimensional array whose axes
// are named by dimensionsOrder; the local axis carries this agent's id.
type denseUtil struct{}

func (denseUtil) Propagate(rc *roundContext) error {
	self := rc.area.ID
	logTo(rc.logger, self, LogInfo, "Util Start")

	rc.join = collectChildDense(rc)

	// An agent the traversal never reached has no parent; it behaves
	// like a root over its own axis instead of addressing agent 0.
	hasParent := !rc.tree.IsRoot && rc.tree.Parent != 0
	if hasParent {
		rc.join = combineRelation(rc, rc.tree.Parent)
		for _, pp := range rc.tree.PseudoParents {
			rc.join = combineRelation(rc, pp)
		}
	}

	// Add the private constraint costs along the local axis. Only this
	// agent knows them.
	local := localUtility(rc.params, rc.area)
	join, err := CombineDense(rc.join, local)
	if err != nil {
		// Unreachable: local is never nil. Kept for symmetry with the
		// child-merge path.
		logCritical(rc.logger, TopicAgent(self), err.Error())
		join = local
	}
	rc.join = join

	if rank := rc.join.Rank(); rank > rc.params.MaxTreeRank {
		return &ErrRankOverflow{Agent: self, Rank: rank, Max: rc.params.MaxTreeRank}
	}

	if !hasParent {
		// The root keeps its own axis to pick its own value; an
		// orphan does the same and has nobody to send to.
		rc.util = rc.join
		return nil
	}

	rc.util = rc.join.Project(self)

	envelope, err := EncodeDenseUtil(rc.util.Dims(), rc.util)
	if err != nil {
		return err
	}
	rc.publish(TopicAgent(rc.tree.Parent), EncodeUtilMsg(envelope))
	logTo(rc.logger, self, LogUtil, "sent rank "+strconv.Itoa(rc.util.Rank()))
	return nil
}

// collectChildDense waits for one UTIL message per child, bounded by
// the phase timeout, and merges them cell-wise aligned on shared
// dimensions. On expiry the agent proceeds with whatever it has.
func collectChildDense(rc *roundContext) *Dense {
	var join *Dense
	deadline := time.Now().Add(rc.params.Timeout)

	for count := 0; count < len(rc.tree.Children); {
		m, ok := rc.mailbox.Util.PopWait(rc.ctx, time.Until(deadline))
		if !ok {
			rc.logger.Warn("util timeout, proceeding with partial join",
				"topic", TopicAgent(rc.area.ID), "type", LogUtil,
				"received", count, "expected", len(rc.tree.Children))
			break
		}
		p, err := DecodeUtil(rc.params, m.UtilRaw)
		if err != nil {
			rc.logger.Warn(err.Error(), "topic", TopicAgent(rc.area.ID), "type", LogUtil)
			continue
		}
		if p.Dense == nil {
			rc.logger.Warn("dropping non-dense util payload",
				"topic", TopicAgent(rc.area.ID), "type", LogUtil)
			continue
		}
		merged, err := CombineDense(join, p.Dense)
		if err != nil {
			logCritical(rc.logger, TopicAgent(rc.area.ID), err.Error())
			continue
		}
		join = merged
		count++
		logTo(rc.logger, rc.area.ID, LogUtil, "combined child tensor, rank "+strconv.Itoa(join.Rank()))
	}
	return join
}

// combineRelation joins the pairwise neighborhood relation with the
// given ancestor into the running tensor, unless a child already
// accounted for that ancestor.
func combineRelation(rc *roundContext, ancestor AgentID) *Dense {
	if rc.join != nil && rc.join.axis(ancestor) >= 0 {
		return rc.join
	}
	r := relationFor(rc.params, rc.area.ID, ancestor)
	join, err := CombineDense(rc.join, r)
	if err != nil {
		logCritical(rc.logger, TopicAgent(rc.area.ID), err.Error())
		return r
	}
	return join
}

// relationFor builds the two-dimensional C3 relation R[self, ancestor].
func relationFor(p Params, self, ancestor AgentID) *Dense {
	n := p.DomainSize()
	r := NewDense(n, self, ancestor)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			r.Set(C3NeighborsSync(p, p.Domain[i], p.Domain[j]), i, j)
		}
	}
	return r
}

// localUtility builds the one-dimensional private cost vector over the
// local axis.
func localUtility(p Params, a *Area) *Dense {
	t := NewDense(p.DomainSize(), a.ID)
	for i, v := range p.Domain {
		t.Set(LocalCost(p, a, v), i)
	}
	return t
}

// sparseUtil is the UTIL strategy for multivariable zones: the utility
// is an explicit list of tuples, one variable per room plus one
// derived variable for the zone itself.
type sparseUtil struct{}

func (sparseUtil) Propagate(rc *roundContext) error {
	self := rc.area.ID
	logTo(rc.logger, self, LogInfo, "Util Start")

	if rank := len(rc.area.Rooms) + 1 + len(rc.tree.PseudoParents) + 1; rank > rc.params.MaxTreeRank {
		return &ErrRankOverflow{Agent: self, Rank: rank, Max: rc.params.MaxTreeRank}
	}

	rc.sjoin = collectChildSparse(rc)

	hasParent := !rc.tree.IsRoot && rc.tree.Parent != 0
	if hasParent {
		rc.sjoin = combineSparseRelation(rc, rc.tree.Parent)
		for _, pp := range rc.tree.PseudoParents {
			rc.sjoin = combineSparseRelation(rc, pp)
		}
	}

	// Add the private room costs exactly once, after all relations.
	local := localRows(rc.params, rc.area)
	join, err := CombineSparse(rc.sjoin, local)
	if err != nil {
		logCritical(rc.logger, TopicAgent(self), err.Error())
		join = local
	}
	rc.sjoin = join

	if !hasParent {
		rc.sutil = rc.sjoin
		return nil
	}

	rc.sutil = ProjectSparse(rc.sjoin, localVars(rc.area))

	envelope, err := EncodeSparseUtil(rc.params, rc.sutil)
	if err != nil {
		return err
	}
	rc.publish(TopicAgent(rc.tree.Parent), EncodeUtilMsg(envelope))
	logTo(rc.logger, self, LogUtil, "sent "+strconv.Itoa(len(rc.sutil.Rows))+" rows")
	return nil
}

func collectChildSparse(rc *roundContext) *Sparse {
	var join *Sparse
	deadline := time.Now().Add(rc.params.Timeout)

	for count := 0; count < len(rc.tree.Children); {
		m, ok := rc.mailbox.Util.PopWait(rc.ctx, time.Until(deadline))
		if !ok {
			rc.logger.Warn("util timeout, proceeding with partial join",
				"topic", TopicAgent(rc.area.ID), "type", LogUtil,
				"received", count, "expected", len(rc.tree.Children))
			break
		}
		p, err := DecodeUtil(rc.params, m.UtilRaw)
		if err != nil {
			rc.logger.Warn(err.Error(), "topic", TopicAgent(rc.area.ID), "type", LogUtil)
			continue
		}
		if p.Sparse == nil {
			rc.logger.Warn("dropping non-tuple util payload",
				"topic", TopicAgent(rc.area.ID), "type", LogUtil)
			continue
		}
		merged, err := CombineSparse(join, p.Sparse)
		if err != nil {
			logCritical(rc.logger, TopicAgent(rc.area.ID), err.Error())
			continue
		}
		join = merged
		count++
	}
	return join
}

// combineSparseRelation merges the neighborhood relation against one
// ancestor zone into the running join, unless a child already bound
// that ancestor. Relation rows bind the rooms at zero cost; only the
// ancestor cell carries the sync penalty, so private costs are never
// counted twice.
func combineSparseRelation(rc *roundContext, ancestor AgentID) *Sparse {
	if rc.sjoin.HasVar(ZoneVar(ancestor)) {
		return rc.sjoin
	}
	rel := relationRows(rc.params, rc.area, ancestor)
	join, err := CombineSparse(rc.sjoin, rel)
	if err != nil {
		logCritical(rc.logger, TopicAgent(rc.area.ID), err.Error())
		return rel
	}
	return join
}

// localRows is the cartesian product of the zone's room variables.
// Each row binds every room to one domain index with its private
// cost, plus the derived zone variable — the minimum of the room
// values — that children and ancestors constrain against.
func localRows(p Params, zone *Area) *Sparse {
	rows := []SparseRow{{}}
	for _, room := range zone.Rooms {
		var next []SparseRow
		for _, row := range rows {
			for i, v := range p.Domain {
				cell := SparseCell{Var: RoomVar(room.ID), Index: i, Cost: LocalCost(p, room, v)}
				next = append(next, append(append(SparseRow(nil), row...), cell))
			}
		}
		rows = next
	}
	out := &Sparse{}
	for _, row := range rows {
		minIdx := p.InfinityIndex()
		for _, cell := range row {
			if cell.Index < minIdx {
				minIdx = cell.Index
			}
		}
		out.Rows = append(out.Rows, append(row, SparseCell{Var: ZoneVar(zone.ID), Index: minIdx}))
	}
	return out
}

// relationRows enumerates every room arrangement crossed with every
// ancestor value. Room cells cost zero here; the ancestor cell carries
// the summed neighborhood penalty between the ancestor and each room.
func relationRows(p Params, zone *Area, ancestor AgentID) *Sparse {
	rows := []SparseRow{{}}
	for _, room := range zone.Rooms {
		var next []SparseRow
		for _, row := range rows {
			for i := range p.Domain {
				cell := SparseCell{Var: RoomVar(room.ID), Index: i}
				next = append(next, append(append(SparseRow(nil), row...), cell))
			}
		}
		rows = next
	}

	out := &Sparse{}
	for j, vj := range p.Domain {
		for _, row := range rows {
			var sync Cost
			minIdx := p.InfinityIndex()
			for _, cell := range row {
				sync = satAdd(sync, C3NeighborsSync(p, p.Domain[cell.Index], vj))
				if cell.Index < minIdx {
					minIdx = cell.Index
				}
			}
			extended := append(append(SparseRow(nil), row...),
				SparseCell{Var: ZoneVar(zone.ID), Index: minIdx},
				SparseCell{Var: ZoneVar(ancestor), Index: j, Cost: sync})
			out.Rows = append(out.Rows, extended)
		}
	}
	return out
}

// localVars names the variables a multivariable zone projects away
// before sending upward: its rooms and its derived zone variable.
func localVars(zone *Area) map[string]bool {
	vars := map[string]bool{ZoneVar(zone.ID): true}
	for _, room := range zone.Rooms {
		vars[RoomVar(room.ID)] = true
	}
	return vars
}
