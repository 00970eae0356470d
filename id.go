package dcop

import "github.com/google/uuid"

// NewRoundID returns a unique id for one coordinator round. Round ids
// tag log entries and persisted results so urgent rounds can be told
// apart from scheduled ones after the fact.
func NewRoundID() string { return uuid.NewString() }
