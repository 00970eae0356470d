package dcop

import (
	"context"
	"sync"
	"testing"
)

// dfsHarness wires one roundContext per area over the in-package
// broker and runs the builder on every agent concurrently.
func dfsHarness(t *testing.T, root AgentID, areas ...*Area) map[AgentID]*PseudoTree {
	t.Helper()
	refreshDegrees(areas...)

	broker := newChanBroker()
	ctx := context.Background()
	params := testParams()

	contexts := make(map[AgentID]*roundContext)
	for _, area := range areas {
		mb := NewMailbox()
		rc := &roundContext{
			ctx:     ctx,
			params:  params,
			area:    area.Snapshot(),
			mailbox: mb,
			broker:  broker,
			logger:  NopLogger(),
		}
		rc.tree.IsRoot = area.ID == root
		contexts[area.ID] = rc
		if _, err := broker.Subscribe(ctx, TopicAgent(area.ID), func(_, payload string) {
			mb.Dispatch(payload)
		}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for _, rc := range contexts {
		wg.Add(1)
		go func(rc *roundContext) {
			defer wg.Done()
			if err := (dfsBuilder{}).Build(rc); err != nil {
				t.Errorf("agent %d: %v", rc.area.ID, err)
			}
		}(rc)
	}
	wg.Wait()

	trees := make(map[AgentID]*PseudoTree)
	for id, rc := range contexts {
		trees[id] = &rc.tree
	}
	return trees
}

func TestDFSChain(t *testing.T) {
	a1, a2, a3 := quietRoom(1), quietRoom(2), quietRoom(3)
	linkAreas(a1, a2)
	linkAreas(a2, a3)

	trees := dfsHarness(t, 2, a1, a2, a3)

	root := trees[2]
	if !root.IsRoot || len(root.Children) != 2 {
		t.Fatalf("root tree: %+v", root)
	}
	if trees[1].Parent != 2 || trees[3].Parent != 2 {
		t.Errorf("parents: %d and %d, want 2 and 2", trees[1].Parent, trees[3].Parent)
	}
	if !trees[1].IsLeaf() || !trees[3].IsLeaf() {
		t.Error("chain ends must be leaves")
	}
	assertSpanningTree(t, trees, map[AgentID][]AgentID{1: {2}, 2: {1, 3}, 3: {2}})
}

func TestDFSTrianglePseudoEdges(t *testing.T) {
	a1, a2, a3 := quietRoom(1), quietRoom(2), quietRoom(3)
	linkAreas(a1, a2)
	linkAreas(a2, a3)
	linkAreas(a1, a3)

	trees := dfsHarness(t, 1, a1, a2, a3)

	if got := trees[1].Children; len(got) != 1 || got[0] != 2 {
		t.Fatalf("root children: %v, want [2]", got)
	}
	if got := trees[1].PseudoChildren; len(got) != 1 || got[0] != 3 {
		t.Errorf("root pseudo children: %v, want [3]", got)
	}
	if got := trees[3].PseudoParents; len(got) != 1 || got[0] != 1 {
		t.Errorf("agent 3 pseudo parents: %v, want [1]", got)
	}
	if trees[2].Parent != 1 || trees[3].Parent != 2 {
		t.Errorf("parents: %d, %d", trees[2].Parent, trees[3].Parent)
	}
	assertSpanningTree(t, trees, map[AgentID][]AgentID{1: {2, 3}, 2: {1, 3}, 3: {1, 2}})
}

// assertSpanningTree checks the structural invariants: tree edges form
// a spanning tree of the graph and every non-tree edge shows up as a
// pseudo pair, with the neighbor sets exactly partitioned.
func assertSpanningTree(t *testing.T, trees map[AgentID]*PseudoTree, adjacency map[AgentID][]AgentID) {
	t.Helper()

	edges := 0
	for id, tree := range trees {
		if tree.IsRoot {
			continue
		}
		edges++
		parentTree := trees[tree.Parent]
		if !contains(parentTree.Children, id) {
			t.Errorf("agent %d has parent %d, which does not list it as a child", id, tree.Parent)
		}
	}
	if edges != len(trees)-1 {
		t.Errorf("tree edges = %d, want %d", edges, len(trees)-1)
	}

	for id, tree := range trees {
		covered := append([]AgentID(nil), tree.Children...)
		covered = append(covered, tree.PseudoParents...)
		covered = append(covered, tree.PseudoChildren...)
		if !tree.IsRoot {
			covered = append(covered, tree.Parent)
		}
		for _, n := range adjacency[id] {
			if !contains(covered, n) {
				t.Errorf("agent %d: neighbor %d not covered by tree relations %v", id, n, covered)
			}
		}
		if len(covered) != len(adjacency[id]) {
			t.Errorf("agent %d: relations %v exceed neighbors %v", id, covered, adjacency[id])
		}
	}
}

func TestDFSIsolatedAgent(t *testing.T) {
	a := quietRoom(1)
	trees := dfsHarness(t, 1, a)
	tree := trees[1]
	if !tree.IsRoot || !tree.IsLeaf() || len(tree.PseudoParents)+len(tree.PseudoChildren) != 0 {
		t.Errorf("isolated agent tree: %+v", tree)
	}
}
