// Package channel abstracts the live broadcast transport presence rides on.
// Implementations are pure pub/sub: best-effort delivery, no history, no
// ordering across senders. Updates from a single sender are assumed to
// arrive in send order, which is what makes last-write-wins merging safe.
package channel

import (
	"context"

	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

// Event is one remote roster change. A nil Record is a tombstone: the actor
// left explicitly rather than going silent.
type Event struct {
	ScopeID string
	ActorID string
	Record  *presence.Record
}

// ConnectionState is the only error surface the adapter exposes for
// transport trouble; consumers render it as a muted indicator, never as a
// thrown error.
type ConnectionState int

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Channel is one actor's subscription to one scope's broadcast medium.
//
// Publish sends a partial update for the local actor only and is
// fire-and-forget: no acknowledgment is exposed. Events is a stream rather
// than a callback registration; it is closed by Leave, so draining the
// channel is the whole unsubscribe story. Missed deltas are never replayed:
// a reconnecting adapter resyncs the full roster instead, surfacing it as
// plain Events.
type Channel interface {
	Join(ctx context.Context, local presence.Record) error
	Publish(ctx context.Context, delta presence.Delta)
	Events() <-chan Event
	States() <-chan ConnectionState
	Leave(ctx context.Context) error
}
