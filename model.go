package dcop

import (
	"encoding/json"
	"sort"
	"sync"
)

// Device is a connected medical device inside a monitored area.
type Device struct {
	ID        int  `json:"id"`
	EndOfProg int  `json:"end_of_prog"` // minutes until the current program completes, clipped to Infinity
	InCritic  bool `json:"is_in_critic"`
}

// Neighbor is a back-reference to an adjacent area. Agents never hold
// references to other agents, only peer ids; the degree is recorded at
// topology-build time so the DFS ordering does not need a remote
// lookup.
type Neighbor struct {
	ID     AgentID `json:"id"`
	Degree int     `json:"degree"`
}

// AreaKind selects the engine strategy for an area.
type AreaKind int

const (
	// Room is a single-variable area.
	Room AreaKind = iota
	// Zone aggregates rooms under one variable.
	Zone
	// ZoneMulti aggregates rooms and keeps one variable per room.
	ZoneMulti
)

func (k AreaKind) String() string {
	switch k {
	case Zone:
		return "zone"
	case ZoneMulti:
		return "zone_multi"
	default:
		return "room"
	}
}

// Area is the mutable local state of one monitored area. The event
// goroutine mutates it through its methods; the worker clones it at
// round start and computes on the snapshot, so mid-round mutations
// only affect the next round.
type Area struct {
	ID        AgentID    `json:"id"`
	Kind      AreaKind   `json:"kind"`
	Neighbors []Neighbor `json:"neighbors"` // at most three: left, right, front
	Rooms     []*Area    `json:"rooms,omitempty"`
	Devices   []Device   `json:"devices"`
	Tau       int        `json:"tau"` // minutes since the last human visit
	CurrentV  int        `json:"current_v"`
	PreviousV int        `json:"previous_v"`

	mu sync.Mutex
}

// Snapshot returns a deep copy safe to use for a whole round while the
// event goroutine keeps mutating the original.
func (a *Area) Snapshot() *Area {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cloneLocked()
}

func (a *Area) cloneLocked() *Area {
	c := &Area{
		ID:        a.ID,
		Kind:      a.Kind,
		Neighbors: append([]Neighbor(nil), a.Neighbors...),
		Devices:   append([]Device(nil), a.Devices...),
		Tau:       a.Tau,
		CurrentV:  a.CurrentV,
		PreviousV: a.PreviousV,
	}
	for _, r := range a.Rooms {
		r.mu.Lock()
		c.Rooms = append(c.Rooms, r.cloneLocked())
		r.mu.Unlock()
	}
	return c
}

// Degree returns the number of neighbors.
func (a *Area) Degree() int { return len(a.Neighbors) }

// NeighborsSorted returns all neighbor ids ordered by descending
// degree, ties broken by ascending id. Ordering by degree tends to
// produce shorter pseudo-trees.
func (a *Area) NeighborsSorted() []AgentID {
	return a.NeighborsSortedExcept(0)
}

// NeighborsSortedExcept returns NeighborsSorted minus the given id.
func (a *Area) NeighborsSortedExcept(except AgentID) []AgentID {
	ns := make([]Neighbor, 0, len(a.Neighbors))
	for _, n := range a.Neighbors {
		if n.ID != except {
			ns = append(ns, n)
		}
	}
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Degree != ns[j].Degree {
			return ns[i].Degree > ns[j].Degree
		}
		return ns[i].ID < ns[j].ID
	})
	ids := make([]AgentID, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	return ids
}

// HasNoDevices reports whether the area has zero devices. A zone has
// no devices when any of its rooms has none.
func (a *Area) HasNoDevices() bool {
	if a.Kind == Room {
		return len(a.Devices) == 0
	}
	for _, r := range a.Rooms {
		if len(r.Devices) == 0 {
			return true
		}
	}
	return len(a.Rooms) == 0
}

// InCriticalState reports whether at least one device is in critical
// state. For zones the check covers every room.
func (a *Area) InCriticalState() bool {
	for _, d := range a.Devices {
		if d.InCritic {
			return true
		}
	}
	for _, r := range a.Rooms {
		if r.InCriticalState() {
			return true
		}
	}
	return false
}

// MinEndOfProg returns the minimum end-of-program over all devices, or
// Infinity when there is none.
func (a *Area) MinEndOfProg() int {
	minimum := Infinity
	for _, d := range a.Devices {
		if d.EndOfProg < minimum {
			minimum = d.EndOfProg
		}
	}
	return minimum
}

// TauTooHigh reports whether the last human visit is overdue: more
// than 180 minutes ago with five or more devices, or more than 210
// minutes ago with at least one. The condition hits as soon as either
// clause fires.
func (a *Area) TauTooHigh() bool {
	return (len(a.Devices) >= 5 && a.Tau > 180) || (len(a.Devices) >= 1 && a.Tau > 210)
}

// AdvanceTime adds elapsed minutes to tau, counts device programs
// down, and detects a completed intervention (a program rolling over
// resets tau). Zones propagate to their rooms.
func (a *Area) AdvanceTime(minutes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Tau += minutes
	a.PreviousV = a.CurrentV - minutes
	for i := range a.Devices {
		if a.Devices[i].EndOfProg == Infinity {
			// A freshly reprogrammed device means someone was here.
			a.Tau = 0
		}
		a.Devices[i].EndOfProg -= minutes
		if a.Devices[i].EndOfProg < 0 {
			a.Devices[i].EndOfProg = 0
		}
	}
	for _, r := range a.Rooms {
		r.AdvanceTime(minutes)
	}
}

// SetValue records the value chosen for this round. PreviousV is
// maintained by AdvanceTime at round start, not here.
func (a *Area) SetValue(v int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CurrentV = v
}

// DeviceCount returns the number of devices, synchronized with the
// event goroutine. The unsynchronized accessors above are for round
// snapshots only.
func (a *Area) DeviceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Devices)
}

// Value returns the last chosen value.
func (a *Area) Value() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CurrentV
}

// UpsertDevice updates the device with the same id or appends it.
// It reports whether the device flipped into critical state.
func (a *Area) UpsertDevice(d Device) (becameCritical bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.Devices {
		if a.Devices[i].ID == d.ID {
			becameCritical = d.InCritic && !a.Devices[i].InCritic
			a.Devices[i] = d
			return becameCritical
		}
	}
	a.Devices = append(a.Devices, d)
	return d.InCritic
}

// SetDeviceCritical flips the first device into critical state and
// reports whether anything changed.
func (a *Area) SetDeviceCritical() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Devices) == 0 {
		return false
	}
	if a.Devices[0].InCritic {
		return false
	}
	a.Devices[0].InCritic = true
	return true
}

// PopOrReprogramDevices simulates a healthcare professional pass:
// critical devices are either removed or reset to a full program.
// keep decides, per device, whether it stays (reset) or goes.
func (a *Area) PopOrReprogramDevices(keep func(Device) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.Devices[:0]
	for _, d := range a.Devices {
		if d.InCritic && !keep(d) {
			continue
		}
		d.InCritic = false
		d.EndOfProg = Infinity
		kept = append(kept, d)
	}
	a.Devices = kept
}

// RoomsNeedingIntervention lists the zone's rooms whose state warrants
// a visit: overdue tau, a critical device, or a program ending inside
// the zone's current call window.
func (a *Area) RoomsNeedingIntervention(p Params) []AgentID {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []AgentID
	for _, r := range a.Rooms {
		if r.TauTooHigh() || r.InCriticalState() || r.MinEndOfProg() < a.CurrentV+p.SyncWindow {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// StateJSON renders the area state for the structured State log entry.
func (a *Area) StateJSON() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, _ := json.Marshal(a)
	return string(b)
}
