package dcop

import (
	"context"
	"time"
)

// RoundRecord is one completed round as persisted by a RoundStore.
type RoundRecord struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Urgent     bool            `json:"urgent"`
	Root       AgentID         `json:"root"`
	Results    Assignment      `json:"results"`    // variable -> chosen value index
	Priorities map[AgentID]int `json:"priorities"` // post-update priorities
}

// RoundStore persists round results and priority history. The core
// writes records; it never reads them back during a round.
type RoundStore interface {
	// Init creates the schema.
	Init(ctx context.Context) error

	// SaveRound appends one completed round.
	SaveRound(ctx context.Context, rec RoundRecord) error

	// LastRound returns the most recent record, or ok=false when the
	// store is empty.
	LastRound(ctx context.Context) (rec RoundRecord, ok bool, err error)

	// Close releases the underlying connection.
	Close() error
}
