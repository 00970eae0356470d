// Package dcop is a distributed constraint-optimization runtime for a
// hospital monitoring fleet.
//
// Each monitored area (a room, or a zone aggregating several rooms) runs one
// [Agent]. Every synchronization round the agents cooperate to decide when
// each area should next request a human intervention — a single value per
// agent picked from a shared 17-value domain — by minimizing the sum of local
// constraints (device state, elapsed time since the last visit, critical
// conditions) and the pairwise neighborhood synchronization constraint.
//
// The engine implements DPOP (Dynamic Programming Optimization Protocol):
// a pseudo-tree is built over the communication graph by depth-first
// traversal, utility tensors are propagated bottom-up (UTIL phase), and
// assignments are propagated top-down (VALUE phase). A single [Coordinator]
// drives rounds: it elects a pseudo-tree root, collects results, updates
// per-agent priorities, and preempts the schedule with an urgent round
// whenever a device enters a critical state.
//
// # Core Interfaces
//
//   - [Broker] — topic-based publish/subscribe transport
//   - [RoundStore] — persistence for round results and priorities
//
// # Included Implementations
//
// Brokers: broker/memory (in-process), broker/redis (Redis pub/sub).
// Stores: store/sqlite (local), store/postgres (server-grade).
//
// See the cmd/dcop-sim directory for a complete single-process simulation.
package dcop
