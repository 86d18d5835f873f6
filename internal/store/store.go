package store

import (
	"context"
	"time"
)

type Session struct {
	Account   string    `json:"account"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	Account   string    `json:"account"`
	SessionID string    `json:"session_id"`
	ID        string    `json:"message_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	// Seq is the arrival position of the message within its session,
	// assigned by the worker that fetched it. Reads order by it.
	Seq int `json:"seq"`
}

type MatchHit struct {
	PatternID string   `json:"pattern_id"`
	Account   string   `json:"account"`
	SessionID string   `json:"session_id"`
	MessageID string   `json:"message_id"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	Groups    []string `json:"groups,omitempty"`
	Excerpt   string   `json:"excerpt,omitempty"`
}

type MessageFilter struct {
	Account   string
	SessionID string
	Limit     int
}

type MatchFilter struct {
	PatternID string
	Account   string
	SessionID string
	Limit     int
}

// Stats summarizes stored rows for status/reporting output.
type Stats struct {
	Accounts int
	Sessions int
	Messages int
	Matches  int
}

type Store interface {
	// Writes are idempotent upserts keyed by the entity's identity and are
	// safe to call from concurrent workers.
	PutSession(ctx context.Context, s Session) error
	PutMessage(ctx context.Context, m Message) error
	PutMatch(ctx context.Context, h MatchHit) error

	// Reads stream rows one at a time. Messages come back in per-session
	// arrival order. A filter Limit <= 0 streams every matching row.
	// Returning an error from fn stops the iteration.
	ForEachMessage(ctx context.Context, f MessageFilter, fn func(Message) error) error
	ForEachMatch(ctx context.Context, f MatchFilter, fn func(MatchHit) error) error

	ListSessions(ctx context.Context, account string) ([]Session, error)
	Counts(ctx context.Context) (Stats, error)

	Close() error
}
