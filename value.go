package dcop

import "strconv"

// denseValue is the VALUE strategy for single-variable areas.
type denseValue struct{}

func (denseValue) Propagate(rc *roundContext) error {
	self := rc.area.ID
	logTo(rc.logger, self, LogInfo, "Value Start")

	values := awaitParentValues(rc)
	idx := chooseDenseIndex(rc, values)

	rc.area.CurrentV = rc.params.Domain[idx]
	values.Set(self, idx)

	for _, child := range rc.tree.Children {
		rc.publish(TopicAgent(child), EncodeValues(values))
	}
	if rc.tree.IsLeaf() {
		rc.publish(TopicServer, EncodeValues(values))
	}
	logTo(rc.logger, self, LogValue, "v="+strconv.Itoa(rc.area.CurrentV))
	return nil
}

// awaitParentValues waits for the parent's VALUE mapping. The root has
// no parent and starts from an empty mapping. After the timeout the
// agent continues with free ancestors: optimality degrades locally but
// liveness is preserved.
func awaitParentValues(rc *roundContext) Assignment {
	if rc.tree.IsRoot {
		return Assignment{}
	}
	if rc.tree.Parent == 0 {
		// Never visited by the traversal; nobody will send a VALUE.
		rc.logger.Warn("no parent after dfs, selecting with free ancestors",
			"topic", TopicAgent(rc.area.ID), "type", LogValue)
		return Assignment{}
	}
	deadline := rc.params.Timeout
	for {
		m, ok := rc.mailbox.Value.PopWait(rc.ctx, deadline)
		if !ok {
			rc.logger.Warn("no VALUE from parent, selecting with free ancestors",
				"topic", TopicAgent(rc.area.ID), "type", LogValue)
			return Assignment{}
		}
		if m.Values != nil {
			return m.Values
		}
	}
}

func chooseDenseIndex(rc *roundContext, values Assignment) int {
	if rc.join == nil {
		logCritical(rc.logger, TopicAgent(rc.area.ID), "value selection with no join tensor")
		return rc.params.InfinityIndex()
	}
	if rc.tree.IsRoot {
		// The root takes the smallest index achieving the minimum:
		// root election is biased toward urgency.
		idx, _ := rc.join.BestIndex(rc.area.ID, nil, false)
		return idx
	}

	// Ancestors are consumed in the order pseudo-parents, parent, then
	// the remaining recorded dimensions; only rank-1 of them can be
	// bound.
	fixed := make(map[AgentID]int)
	for _, anc := range ancestorOrder(rc) {
		if len(fixed) == rc.join.Rank()-1 {
			break
		}
		if anc == rc.area.ID || rc.join.axis(anc) < 0 {
			continue
		}
		if idx, ok := values.Get(anc); ok {
			fixed[anc] = idx
		}
	}
	idx, _ := rc.join.BestIndex(rc.area.ID, fixed, true)
	return idx
}

func ancestorOrder(rc *roundContext) []AgentID {
	order := rc.tree.Ancestors()
	for _, d := range rc.join.Dims() {
		if d != rc.area.ID && !contains(order, d) {
			order = append(order, d)
		}
	}
	return order
}

// sparseValue is the VALUE strategy for multivariable zones: one index
// per room, the zone's own value derived as their minimum.
type sparseValue struct{}

func (sparseValue) Propagate(rc *roundContext) error {
	self := rc.area.ID
	logTo(rc.logger, self, LogInfo, "Value Start")

	values := awaitParentValues(rc)

	fixed := make(map[string]int)
	for _, anc := range rc.tree.Ancestors() {
		if idx, ok := values.Get(anc); ok {
			fixed[ZoneVar(anc)] = idx
		}
	}

	minIdx := rc.params.InfinityIndex()
	if rc.sjoin == nil {
		logCritical(rc.logger, TopicAgent(self), "value selection with no join rows")
		for _, room := range rc.area.Rooms {
			room.CurrentV = Infinity
			values.Set(room.ID, minIdx)
		}
	} else {
		row, _ := rc.sjoin.BestRow(fixed)
		for _, room := range rc.area.Rooms {
			idx := rc.params.InfinityIndex()
			if cell, ok := row.find(RoomVar(room.ID)); ok {
				idx = cell.Index
			}
			room.CurrentV = rc.params.Domain[idx]
			values.Set(room.ID, idx)
			if idx < minIdx {
				minIdx = idx
			}
		}
	}

	rc.area.CurrentV = rc.params.Domain[minIdx]
	values[ZoneVar(self)] = minIdx

	for _, child := range rc.tree.Children {
		rc.publish(TopicAgent(child), EncodeValues(values))
	}
	if rc.tree.IsLeaf() {
		rc.publish(TopicServer, EncodeValues(values))
	}
	logTo(rc.logger, self, LogValue, "v="+strconv.Itoa(rc.area.CurrentV))
	return nil
}
