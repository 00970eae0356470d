package dcop

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// A Dense tensor is a utility function U : D^k -> [0, Infinity] stored
// as a row-major multi-dimensional array. Every axis has the same
// length (the domain size) and is named after the agent whose variable
// it indexes; dims records the axis order.
type Dense struct {
	dims []AgentID
	n    int
	data []Cost
}

// NewDense allocates a zero tensor of the given axis names over a
// domain of size n.
func NewDense(n int, dims ...AgentID) *Dense {
	size := 1
	for range dims {
		size *= n
	}
	return &Dense{
		dims: append([]AgentID(nil), dims...),
		n:    n,
		data: make([]Cost, size),
	}
}

// Rank returns the number of axes.
func (t *Dense) Rank() int { return len(t.dims) }

// Dims returns the axis order. The caller must not mutate it.
func (t *Dense) Dims() []AgentID { return t.dims }

// axis returns the position of the named axis, or -1.
func (t *Dense) axis(id AgentID) int {
	for i, d := range t.dims {
		if d == id {
			return i
		}
	}
	return -1
}

func (t *Dense) offset(idx []int) int {
	off := 0
	for _, i := range idx {
		off = off*t.n + i
	}
	return off
}

// At returns the cell at the given index vector (one index per axis,
// in dims order).
func (t *Dense) At(idx ...int) Cost { return t.data[t.offset(idx)] }

// Set writes the cell at the given index vector.
func (t *Dense) Set(c Cost, idx ...int) { t.data[t.offset(idx)] = c }

// Equal reports structural equality: same axis order and same cells.
func (t *Dense) Equal(o *Dense) bool {
	if t.n != o.n || len(t.dims) != len(o.dims) || len(t.data) != len(o.data) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != o.dims[i] {
			return false
		}
	}
	for i := range t.data {
		if t.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// CombineDense joins two tensors by cell-wise saturating addition
// aligned on shared named axes: the result's axes are the union of the
// operands' axes (a's order first, then b's new ones) and each result
// cell is a[proj_a] + b[proj_b]. A nil operand is the join identity.
// Two nil operands are an error the caller logs as critical and
// recovers from with a zero tensor.
func CombineDense(a, b *Dense) (*Dense, error) {
	if a == nil && b == nil {
		return nil, errAbsentTensors
	}
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	dims := append([]AgentID(nil), a.dims...)
	for _, d := range b.dims {
		if a.axis(d) < 0 {
			dims = append(dims, d)
		}
	}
	out := NewDense(a.n, dims...)

	// Precompute, per operand, where each of its axes sits in the
	// result index vector.
	amap := make([]int, len(a.dims))
	for i, d := range a.dims {
		amap[i] = axisIn(dims, d)
	}
	bmap := make([]int, len(b.dims))
	for i, d := range b.dims {
		bmap[i] = axisIn(dims, d)
	}

	idx := make([]int, len(dims))
	ai := make([]int, len(a.dims))
	bi := make([]int, len(b.dims))
	for off := range out.data {
		decompose(off, out.n, idx)
		for i, p := range amap {
			ai[i] = idx[p]
		}
		for i, p := range bmap {
			bi[i] = idx[p]
		}
		out.data[off] = satAdd(a.At(ai...), b.At(bi...))
	}
	return out, nil
}

func axisIn(dims []AgentID, id AgentID) int {
	for i, d := range dims {
		if d == id {
			return i
		}
	}
	return -1
}

// decompose writes the index vector of a row-major offset into idx.
func decompose(off, n int, idx []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i] = off % n
		off /= n
	}
}

// Project eliminates the named axis by minimizing over it. Projecting
// the only axis returns the tensor unchanged, matching the engine's
// root behavior of keeping its own axis.
func (t *Dense) Project(id AgentID) *Dense {
	ax := t.axis(id)
	if ax < 0 || t.Rank() <= 1 {
		return t
	}
	dims := make([]AgentID, 0, len(t.dims)-1)
	for i, d := range t.dims {
		if i != ax {
			dims = append(dims, d)
		}
	}
	out := NewDense(t.n, dims...)
	for i := range out.data {
		out.data[i] = Infinity
	}

	idx := make([]int, t.Rank())
	kept := make([]int, len(dims))
	for off := range t.data {
		decompose(off, t.n, idx)
		k := 0
		for i, v := range idx {
			if i != ax {
				kept[k] = v
				k++
			}
		}
		if c := t.data[off]; c < out.At(kept...) {
			out.Set(c, kept...)
		}
	}
	return out
}

// BestIndex searches the axis named own for the index minimizing the
// tensor, with the other axes either fixed by the assignment or free
// (minimized over). When several indices tie, tieLargest selects the
// largest one (the non-root bias toward not calling); otherwise the
// smallest wins (the root's urgency bias).
func (t *Dense) BestIndex(own AgentID, fixed map[AgentID]int, tieLargest bool) (int, Cost) {
	ax := t.axis(own)
	if ax < 0 {
		return len(t.dims) - 1, Infinity
	}

	bestIdx, bestCost := 0, Cost(Infinity+1)
	idx := make([]int, t.Rank())
	for off := range t.data {
		decompose(off, t.n, idx)
		ok := true
		for i, d := range t.dims {
			if i == ax {
				continue
			}
			if want, bound := fixed[d]; bound && idx[i] != want {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		c := t.data[off]
		better := c < bestCost
		if c == bestCost {
			if tieLargest {
				better = idx[ax] > bestIdx
			} else {
				better = idx[ax] < bestIdx
			}
		}
		if better {
			bestCost = c
			bestIdx = idx[ax]
		}
	}
	return bestIdx, bestCost
}

// --- sparse (multivariable zone) representation ---

// A SparseCell binds one variable to one domain index with a partial
// cost. Room variables are named by their decimal id; zone ancestors
// carry a "Z" prefix.
type SparseCell struct {
	Var   string
	Index int
	Cost  Cost
}

// A SparseRow is one explicit tuple of the utility relation; its total
// cost is the saturated sum of its cells.
type SparseRow []SparseCell

// RowCost returns the saturated total cost of the row.
func (r SparseRow) RowCost() Cost {
	var c Cost
	for _, cell := range r {
		c = satAdd(c, cell.Cost)
	}
	return c
}

func (r SparseRow) find(name string) (SparseCell, bool) {
	for _, cell := range r {
		if cell.Var == name {
			return cell, true
		}
	}
	return SparseCell{}, false
}

// Sparse is the list-of-tuples utility representation used by
// multivariable zones, where one tuple mixes several local variables.
type Sparse struct {
	Rows []SparseRow
}

// HasVar reports whether any row binds the named variable.
func (s *Sparse) HasVar(name string) bool {
	if s == nil {
		return false
	}
	for _, row := range s.Rows {
		if _, ok := row.find(name); ok {
			return true
		}
	}
	return false
}

// CombineSparse joins two tuple lists: rows agreeing on the
// intersection of their variables merge into one row over the union,
// with shared cells summing their costs. A nil operand is the join
// identity; two nil operands are the same error as for CombineDense.
func CombineSparse(a, b *Sparse) (*Sparse, error) {
	if a == nil && b == nil {
		return nil, errAbsentTensors
	}
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	out := &Sparse{}
	for _, ra := range a.Rows {
		for _, rb := range b.Rows {
			merged, ok := mergeRows(ra, rb)
			if ok {
				out.Rows = append(out.Rows, merged)
			}
		}
	}
	return out, nil
}

func mergeRows(ra, rb SparseRow) (SparseRow, bool) {
	merged := append(SparseRow(nil), ra...)
	for _, cell := range rb {
		if own, ok := merged.find(cell.Var); ok {
			if own.Index != cell.Index {
				return nil, false
			}
			for i := range merged {
				if merged[i].Var == cell.Var {
					merged[i].Cost = satAdd(merged[i].Cost, cell.Cost)
				}
			}
			continue
		}
		merged = append(merged, cell)
	}
	return merged, true
}

// ProjectSparse eliminates the named local variables by minimizing
// over them: rows are grouped by their remaining cells' (var, index)
// pairs and each group keeps the minimum total cost, folded into the
// first remaining cell.
func ProjectSparse(s *Sparse, locals map[string]bool) *Sparse {
	if s == nil {
		return nil
	}
	type group struct {
		cells SparseRow
		cost  Cost
		seen  bool
	}
	groups := make(map[string]*group)
	var order []string

	for _, row := range s.Rows {
		var kept SparseRow
		for _, cell := range row {
			if !locals[cell.Var] {
				kept = append(kept, SparseCell{Var: cell.Var, Index: cell.Index})
			}
		}
		key := rowKey(kept)
		g, ok := groups[key]
		if !ok {
			g = &group{cells: kept}
			groups[key] = g
			order = append(order, key)
		}
		if c := row.RowCost(); !g.seen || c < g.cost {
			g.cost = c
			g.seen = true
		}
	}

	out := &Sparse{}
	for _, key := range order {
		g := groups[key]
		cells := append(SparseRow(nil), g.cells...)
		if len(cells) > 0 {
			cells[0].Cost = g.cost
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

func rowKey(r SparseRow) string {
	key := ""
	for _, cell := range r {
		key += cell.Var + "=" + strconv.Itoa(cell.Index) + ";"
	}
	return key
}

// BestRow returns the row matching the fixed ancestor assignment with
// the minimum total cost. Ties keep the last matching row, the
// multivariable counterpart of the largest-index bias.
func (s *Sparse) BestRow(fixed map[string]int) (SparseRow, Cost) {
	var best SparseRow
	bestCost := Cost(Infinity + 1)
	for _, row := range s.Rows {
		ok := true
		for name, want := range fixed {
			if cell, bound := row.find(name); bound && cell.Index != want {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if c := row.RowCost(); c <= bestCost {
			bestCost = c
			best = row
		}
	}
	return best, bestCost
}

// --- wire codec ---

// utilEnvelope is the on-wire JSON shape of a UTIL payload. Dense
// tensors serialize data as nested arrays (self-describing via
// nesting); sparse tensors as a list of [var, value, cost] tuple rows.
type utilEnvelope struct {
	Vars []AgentID       `json:"vars"`
	Data json.RawMessage `json:"data"`
}

// UtilPayload is a decoded UTIL message: exactly one of Dense or
// Sparse is set.
type UtilPayload struct {
	Vars   []AgentID
	Dense  *Dense
	Sparse *Sparse
}

// EncodeDenseUtil renders a dense tensor and its dimension order as
// the UTIL wire JSON.
func EncodeDenseUtil(vars []AgentID, t *Dense) (string, error) {
	if vars == nil {
		vars = []AgentID{}
	}
	data, err := json.Marshal(denseToNested(t, nil))
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(utilEnvelope{Vars: vars, Data: data})
	return string(env), err
}

func denseToNested(t *Dense, prefix []int) any {
	if len(prefix) == t.Rank() {
		idx := make([]int, len(prefix))
		copy(idx, prefix)
		return int(t.At(idx...))
	}
	out := make([]any, t.n)
	for i := 0; i < t.n; i++ {
		out[i] = denseToNested(t, append(prefix, i))
	}
	return out
}

// EncodeSparseUtil renders a tuple-list tensor as the UTIL wire JSON.
// Cells carry domain values, not indices, so the payload stays
// self-describing for readers without the domain table.
func EncodeSparseUtil(p Params, s *Sparse) (string, error) {
	rows := make([][][3]any, 0, len(s.Rows))
	for _, row := range s.Rows {
		wire := make([][3]any, 0, len(row))
		for _, cell := range row {
			wire = append(wire, [3]any{cell.Var, p.Domain[cell.Index], int(cell.Cost)})
		}
		rows = append(rows, wire)
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	env, err := json.Marshal(utilEnvelope{Vars: []AgentID{}, Data: data})
	return string(env), err
}

// DecodeUtil parses a UTIL wire payload, detecting the representation
// from the JSON shape of data.
func DecodeUtil(p Params, payload string) (*UtilPayload, error) {
	var env utilEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, &ErrMalformed{Payload: payload, Reason: err.Error()}
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(env.Data, &probe); err != nil {
		// A bare number: a rank-0 tensor is not a thing on the wire.
		return nil, &ErrMalformed{Payload: payload, Reason: "data is not an array"}
	}
	if len(probe) > 0 && isTupleRow(probe[0]) {
		s, err := decodeSparse(p, env.Data)
		if err != nil {
			return nil, &ErrMalformed{Payload: payload, Reason: err.Error()}
		}
		return &UtilPayload{Vars: env.Vars, Sparse: s}, nil
	}
	d, err := decodeDense(p, env.Data, env.Vars)
	if err != nil {
		return nil, &ErrMalformed{Payload: payload, Reason: err.Error()}
	}
	return &UtilPayload{Vars: env.Vars, Dense: d}, nil
}

// isTupleRow distinguishes [["1",0,3],...] rows from nested numeric
// arrays: a tuple row is an array whose first element is itself an
// array starting with a string.
func isTupleRow(raw json.RawMessage) bool {
	var row []json.RawMessage
	if err := json.Unmarshal(raw, &row); err != nil || len(row) == 0 {
		return false
	}
	var cell []json.RawMessage
	if err := json.Unmarshal(row[0], &cell); err != nil || len(cell) == 0 {
		return false
	}
	var s string
	return json.Unmarshal(cell[0], &s) == nil
}

func decodeDense(p Params, raw json.RawMessage, vars []AgentID) (*Dense, error) {
	rank := nestingDepth(raw)
	if rank == 0 {
		return nil, fmt.Errorf("empty dense payload")
	}
	if len(vars) != rank {
		return nil, fmt.Errorf("vars count %d does not match rank %d", len(vars), rank)
	}
	t := NewDense(p.DomainSize(), vars...)
	idx := make([]int, 0, rank)
	if err := fillDense(t, raw, idx); err != nil {
		return nil, err
	}
	return t, nil
}

func nestingDepth(raw json.RawMessage) int {
	depth := 0
	for {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			return depth
		}
		depth++
		raw = arr[0]
	}
}

func fillDense(t *Dense, raw json.RawMessage, idx []int) error {
	if len(idx) == t.Rank() {
		var c int
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if c < 0 || c > Infinity {
			return fmt.Errorf("cost %d out of range", c)
		}
		t.Set(Cost(c), idx...)
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return err
	}
	if len(arr) != t.n {
		return fmt.Errorf("axis length %d, want %d", len(arr), t.n)
	}
	for i, sub := range arr {
		if err := fillDense(t, sub, append(idx, i)); err != nil {
			return err
		}
	}
	return nil
}

func decodeSparse(p Params, raw json.RawMessage) (*Sparse, error) {
	var rows [][][3]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	out := &Sparse{}
	for _, wire := range rows {
		row := make(SparseRow, 0, len(wire))
		for _, cell := range wire {
			var name string
			var value, cost int
			if err := json.Unmarshal(cell[0], &name); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(cell[1], &value); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(cell[2], &cost); err != nil {
				return nil, err
			}
			idx := p.IndexOf(value)
			if idx < 0 {
				return nil, fmt.Errorf("value %d not in domain", value)
			}
			row = append(row, SparseCell{Var: name, Index: idx, Cost: Cost(cost)})
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// ZoneVar names a zone agent's variable in sparse rows and
// multivariable VALUE mappings.
func ZoneVar(id AgentID) string { return "Z" + strconv.Itoa(int(id)) }

// RoomVar names a room variable in sparse rows.
func RoomVar(id AgentID) string { return strconv.Itoa(int(id)) }
