package dcop

import (
	"errors"
	"fmt"
)

// ErrRankOverflow reports a utility tensor that would exceed the
// configured MaxTreeRank. It is fatal to the current round only: the
// agent resets its per-round state and waits for the next ON.
type ErrRankOverflow struct {
	Agent AgentID
	Rank  int
	Max   int
}

func (e *ErrRankOverflow) Error() string {
	return fmt.Sprintf("agent %d: tensor rank %d exceeds cap %d", e.Agent, e.Rank, e.Max)
}

// ErrMalformed reports a message that could not be parsed. Malformed
// messages are dropped and logged; they never break a round.
type ErrMalformed struct {
	Payload string
	Reason  string
}

func (e *ErrMalformed) Error() string {
	return fmt.Sprintf("malformed message %q: %s", truncate(e.Payload, 64), e.Reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// errAbsentTensors is logged as critical when a combine is attempted
// with two absent operands; the engine recovers with a zero tensor
// over the local axis.
var errAbsentTensors = errors.New("combine: both tensors absent")

// errBrokerClosed names a lost broker connection. No worker loop
// returns it: Agent.Run does not observe a subscription that ends after
// it was established.
var errBrokerClosed = errors.New("broker connection closed")
