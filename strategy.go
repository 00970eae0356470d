package dcop

// The engine is assembled from one strategy per phase. Room and
// single-variable zone agents share the dense tensor path and differ
// only through LocalCost; multivariable zones run the tuple-list path.
// Flat dispatch on the area kind keeps the engine free of the concrete
// representations.

// DfsStrategy builds the pseudo-tree.
type DfsStrategy interface {
	Build(rc *roundContext) error
}

// UtilStrategy runs the bottom-up utility propagation.
type UtilStrategy interface {
	Propagate(rc *roundContext) error
}

// ValueStrategy runs the top-down assignment propagation.
type ValueStrategy interface {
	Propagate(rc *roundContext) error
}

type strategySet struct {
	dfs   DfsStrategy
	util  UtilStrategy
	value ValueStrategy
}

func strategiesFor(kind AreaKind) strategySet {
	if kind == ZoneMulti {
		return strategySet{dfs: dfsBuilder{}, util: sparseUtil{}, value: sparseValue{}}
	}
	return strategySet{dfs: dfsBuilder{}, util: denseUtil{}, value: denseValue{}}
}
