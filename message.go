package dcop

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Topics. Every agent listens on its own topic; the coordinator
// listens on the server topics.
const (
	topicPrefix     = "DCOP/"
	TopicServer     = "DCOP/SERVER/"
	TopicServerRoot = "DCOP/SERVER/ROOT"
)

// TopicAgent returns the topic an agent receives on.
func TopicAgent(id AgentID) string {
	return topicPrefix + strconv.Itoa(int(id))
}

// Kind discriminates the wire message types.
type Kind int

const (
	KindUnknown Kind = iota
	KindOn
	KindRoot
	KindChild
	KindPseudo
	KindUtil
	KindValues
	KindUrgent
)

func (k Kind) String() string {
	switch k {
	case KindOn:
		return "ON"
	case KindRoot:
		return "ROOT"
	case KindChild:
		return "CHILD"
	case KindPseudo:
		return "PSEUDO"
	case KindUtil:
		return "UTIL"
	case KindValues:
		return "VALUES"
	case KindUrgent:
		return "URGT"
	default:
		return "UNKNOWN"
	}
}

// Assignment maps variable names to chosen value indices. Room and
// zone agents are keyed by their decimal id; multivariable zones key
// their own variable with a "Z" prefix.
type Assignment map[string]int

// Get returns the index assigned to an agent's variable, checking both
// the plain and the zone-prefixed key.
func (a Assignment) Get(id AgentID) (int, bool) {
	if v, ok := a[RoomVar(id)]; ok {
		return v, true
	}
	v, ok := a[ZoneVar(id)]
	return v, ok
}

// Set binds an agent's variable.
func (a Assignment) Set(id AgentID, idx int) { a[RoomVar(id)] = idx }

// Covers reports whether every listed agent has a binding.
func (a Assignment) Covers(ids []AgentID) bool {
	for _, id := range ids {
		if _, ok := a.Get(id); !ok {
			return false
		}
	}
	return true
}

// Merge copies all bindings of o into a.
func (a Assignment) Merge(o Assignment) {
	for k, v := range o {
		a[k] = v
	}
}

// Clone returns a copy.
func (a Assignment) Clone() Assignment {
	c := make(Assignment, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Message is one parsed wire message.
type Message struct {
	Kind    Kind
	Sender  AgentID    // CHILD, PSEUDO, URGT
	Root    AgentID    // ROOT
	UtilRaw string     // UTIL payload, decoded later with the domain in hand
	Values  Assignment // VALUES
	Bid     *Bid       // root-election bid, server side only
	Size    int        // raw payload size in bytes, for the adapter metrics
}

// ParseMessage parses one of the literal wire formats. Unknown or
// unparseable payloads return *ErrMalformed; callers drop and log.
func ParseMessage(payload string) (Message, error) {
	m := Message{Size: len(payload)}
	switch {
	case payload == "ON":
		m.Kind = KindOn
		return m, nil

	case strings.HasPrefix(payload, "ROOT_"):
		id, err := parseID(strings.TrimPrefix(payload, "ROOT_"))
		if err != nil {
			return m, &ErrMalformed{Payload: payload, Reason: "bad root id"}
		}
		m.Kind, m.Root = KindRoot, id
		return m, nil

	case strings.HasPrefix(payload, "CHILD "):
		id, err := parseID(strings.TrimPrefix(payload, "CHILD "))
		if err != nil {
			return m, &ErrMalformed{Payload: payload, Reason: "bad child sender"}
		}
		m.Kind, m.Sender = KindChild, id
		return m, nil

	case strings.HasPrefix(payload, "PSEUDO "):
		id, err := parseID(strings.TrimPrefix(payload, "PSEUDO "))
		if err != nil {
			return m, &ErrMalformed{Payload: payload, Reason: "bad pseudo sender"}
		}
		m.Kind, m.Sender = KindPseudo, id
		return m, nil

	case strings.HasPrefix(payload, "UTIL "):
		m.Kind = KindUtil
		m.UtilRaw = strings.TrimPrefix(payload, "UTIL ")
		return m, nil

	case strings.HasPrefix(payload, "VALUES "):
		values := make(Assignment)
		if err := json.Unmarshal([]byte(strings.TrimPrefix(payload, "VALUES ")), &values); err != nil {
			return m, &ErrMalformed{Payload: payload, Reason: "bad values json"}
		}
		m.Kind, m.Values = KindValues, values
		return m, nil

	case strings.HasPrefix(payload, "URGT_"):
		id, err := parseID(strings.TrimPrefix(payload, "URGT_"))
		if err != nil {
			return m, &ErrMalformed{Payload: payload, Reason: "bad urgent id"}
		}
		m.Kind, m.Sender = KindUrgent, id
		return m, nil
	}
	return m, &ErrMalformed{Payload: payload, Reason: "unknown kind"}
}

func parseID(s string) (AgentID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad agent id %q", s)
	}
	return AgentID(n), nil
}

// Encoders for the literal wire strings.

func EncodeOn() string               { return "ON" }
func EncodeRoot(id AgentID) string   { return "ROOT_" + strconv.Itoa(int(id)) }
func EncodeChild(id AgentID) string  { return "CHILD " + strconv.Itoa(int(id)) }
func EncodePseudo(id AgentID) string { return "PSEUDO " + strconv.Itoa(int(id)) }
func EncodeUrgent(id AgentID) string { return "URGT_" + strconv.Itoa(int(id)) }

// EncodeUtilMsg prefixes an already-encoded tensor envelope.
func EncodeUtilMsg(envelope string) string { return "UTIL " + envelope }

// EncodeValues renders a VALUES message.
func EncodeValues(a Assignment) string {
	b, _ := json.Marshal(a)
	return "VALUES " + string(b)
}

// Bid is an agent's root-election bid. The coordinator scores it as
// degree + 2*priority with its own priority table.
type Bid struct {
	ID     AgentID
	Degree int
}

// EncodeBid renders "<id>:<degree>".
func EncodeBid(b Bid) string {
	return strconv.Itoa(int(b.ID)) + ":" + strconv.Itoa(b.Degree)
}

// ParseBid parses "<id>:<degree>".
func ParseBid(payload string) (Bid, error) {
	head, tail, ok := strings.Cut(payload, ":")
	if !ok {
		return Bid{}, &ErrMalformed{Payload: payload, Reason: "bid missing separator"}
	}
	id, err := parseID(head)
	if err != nil {
		return Bid{}, &ErrMalformed{Payload: payload, Reason: "bad bid id"}
	}
	deg, err := strconv.Atoi(strings.TrimSpace(tail))
	if err != nil || deg < 0 {
		return Bid{}, &ErrMalformed{Payload: payload, Reason: "bad bid degree"}
	}
	return Bid{ID: id, Degree: deg}, nil
}
