package dcop

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// PseudoTree is the rooted spanning arrangement one agent discovers
// during the DFS phase. Tree edges are exactly (self, parent); every
// non-tree constraint edge is a (pseudo parent, pseudo child) pair
// between an ancestor and a descendant.
type PseudoTree struct {
	Self           AgentID   `json:"id"`
	IsRoot         bool      `json:"is_root"`
	Parent         AgentID   `json:"parent,omitempty"`
	Children       []AgentID `json:"children"`
	PseudoParents  []AgentID `json:"pseudo_parent"`
	PseudoChildren []AgentID `json:"pseudo_children"`
}

// IsLeaf reports whether the agent has no tree children.
func (t *PseudoTree) IsLeaf() bool { return len(t.Children) == 0 }

// Ancestors returns parent and pseudo-parents, pseudo-parents first —
// the lookup order used when fixing ancestor values in the VALUE
// phase.
func (t *PseudoTree) Ancestors() []AgentID {
	out := append([]AgentID(nil), t.PseudoParents...)
	if !t.IsRoot && t.Parent != 0 {
		out = append(out, t.Parent)
	}
	return out
}

func (t *PseudoTree) String() string {
	b, _ := json.Marshal(t)
	return string(b)
}

// roundContext carries one agent's per-round state through the three
// phases. It is created at round start from the area snapshot and
// released when the round ends; retaining tensors across rounds is a
// leak.
type roundContext struct {
	ctx     context.Context
	params  Params
	area    *Area // snapshot, never the live area
	mailbox *Mailbox
	broker  Broker
	logger  *slog.Logger
	tree    PseudoTree

	// dense path (room and single-variable zone)
	join *Dense
	util *Dense

	// sparse path (multivariable zone)
	sjoin *Sparse
	sutil *Sparse
}

func (rc *roundContext) publish(topic, payload string) {
	if err := rc.broker.Publish(rc.ctx, topic, payload); err != nil {
		rc.logger.Warn("publish failed", "topic", topic, "type", LogInfo, "error", err.Error())
	}
}

// dfsBuilder runs the depth-first pseudo-tree construction. It is the
// same for every area kind.
type dfsBuilder struct{}

// Build walks the CHILD/PSEUDO token exchange. Each token wait is
// bounded by Params.Round on its own; no deadline spans the whole walk.
// When a wait expires the agent proceeds with the partial tree it has.
func (dfsBuilder) Build(rc *roundContext) error {
	t := &rc.tree
	t.Self = rc.area.ID

	if rc.area.Degree() == 0 {
		logTo(rc.logger, t.Self, LogDfs, t.String())
		return nil
	}

	var open []AgentID
	visited := false

	if t.IsRoot {
		open = rc.area.NeighborsSorted()
		visited = true
		next := open[0]
		open = open[1:]
		t.Children = append(t.Children, next)
		rc.publish(TopicAgent(next), EncodeChild(t.Self))
	}

	for {
		m, ok := rc.mailbox.Child.PopWait(rc.ctx, rc.params.Round)
		if !ok {
			rc.logger.Warn("dfs stalled, keeping partial tree",
				"topic", TopicAgent(t.Self), "type", LogDfs)
			return nil
		}
		yi := m.Sender

		switch {
		case !visited:
			// First visit: the sender becomes the parent.
			visited = true
			t.Parent = yi
			open = rc.area.NeighborsSortedExcept(yi)

		case m.Kind == KindChild && contains(open, yi):
			// A CHILD token from an already-open neighbor makes it a
			// pseudo child; tell it so and wait for the next token.
			open = remove(open, yi)
			t.PseudoChildren = append(t.PseudoChildren, yi)
			rc.publish(TopicAgent(yi), EncodePseudo(t.Self))
			continue

		case m.Kind == KindPseudo:
			// The neighbor was optimistically added as a child; it is
			// actually an ancestor.
			t.Children = remove(t.Children, yi)
			t.PseudoParents = append(t.PseudoParents, yi)
		}

		if len(open) > 0 {
			next := open[0]
			open = open[1:]
			t.Children = append(t.Children, next)
			rc.publish(TopicAgent(next), EncodeChild(t.Self))
			continue
		}

		if !t.IsRoot {
			// Backtrack.
			rc.publish(TopicAgent(t.Parent), EncodeChild(t.Self))
		}
		logTo(rc.logger, t.Self, LogDfs, t.String())
		return nil
	}
}

func contains(ids []AgentID, id AgentID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func remove(ids []AgentID, id AgentID) []AgentID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// electRoot publishes this agent's bid and waits for the coordinator's
// ROOT broadcast. Returns whether this agent was elected.
func electRoot(rc *roundContext) bool {
	rc.publish(TopicServerRoot, EncodeBid(Bid{ID: rc.area.ID, Degree: rc.area.Degree()}))

	deadline := time.Now().Add(rc.params.Timeout)
	for time.Now().Before(deadline) {
		m, ok := rc.mailbox.Waiting.PopWait(rc.ctx, time.Until(deadline))
		if !ok {
			break
		}
		if m.Kind == KindRoot {
			return m.Root == rc.area.ID
		}
		// Stale ON or similar; keep waiting.
	}
	rc.logger.Warn("no root broadcast, assuming non-root",
		"topic", TopicAgent(rc.area.ID), "type", LogDfs)
	return false
}
