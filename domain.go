package dcop

import "time"

// Infinity is both the largest cost and the domain value meaning
// "do not call". Any cost sum that reaches it saturates there.
const Infinity = 241

// Cost is a constraint cost in [0, Infinity].
type Cost int

// satAdd adds two costs, saturating at Infinity.
func satAdd(a, b Cost) Cost {
	if s := a + b; s < Infinity {
		return s
	}
	return Infinity
}

// AgentID identifies a monitored area. IDs are strictly positive;
// zero means "no agent".
type AgentID int

// DefaultDomain is the shared, ordered, closed list of candidate
// time-to-call values in minutes. The last entry (Infinity) means
// "do not call".
var DefaultDomain = []int{0, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 120, 180, 210, 241}

// Params holds the tunable engine constants. The zero value is not
// usable; start from DefaultParams.
type Params struct {
	// Domain is the ordered candidate-value list. Its last entry must
	// be Infinity.
	Domain []int

	// UrgentTime is the threshold (minutes) under which an
	// intervention counts as urgent.
	UrgentTime int

	// SyncWindow is the neighborhood synchronization window: two
	// neighbors calling within (0, SyncWindow] of each other pay a
	// soft penalty.
	SyncWindow int

	// ThreeHours is the quiescence horizon for the nothing-to-report
	// constraint.
	ThreeHours int

	// Timeout bounds the root-election, UTIL and VALUE message waits.
	// DFS token waits are bounded by Round instead.
	Timeout time.Duration

	// Round is the coordinator period and the bound on a whole round.
	Round time.Duration

	// MaxTreeRank caps the utility-tensor rank. A round that would
	// exceed it fails with ErrRankOverflow instead of exhausting
	// memory.
	MaxTreeRank int
}

// DefaultParams returns the standard engine constants.
func DefaultParams() Params {
	return Params{
		Domain:      DefaultDomain,
		UrgentTime:  30,
		SyncWindow:  30,
		ThreeHours:  180,
		Timeout:     60 * time.Second,
		Round:       120 * time.Second,
		MaxTreeRank: 6,
	}
}

// DomainSize returns |D|.
func (p Params) DomainSize() int { return len(p.Domain) }

// InfinityIndex returns the index of the "do not call" value.
func (p Params) InfinityIndex() int { return len(p.Domain) - 1 }

// IndexOf returns the domain index of value v, or -1 when v is not in
// the domain.
func (p Params) IndexOf(v int) int {
	for i, d := range p.Domain {
		if d == v {
			return i
		}
	}
	return -1
}
