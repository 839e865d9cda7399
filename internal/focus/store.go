package focus

import (
	"context"
	"errors"
)

// ErrNoActiveSession is returned when a trip has no live session.
var ErrNoActiveSession = errors.New("no active focus session")

// Store persists the single active session per trip. Implementations are
// plain key-value: no listing, no history.
type Store interface {
	// Save upserts the trip's active session, superseding any prior one.
	Save(ctx context.Context, s Session) error
	// GetActive returns the trip's session or ErrNoActiveSession. Lazy
	// expiry is the caller's concern; the store may also enforce it via TTL.
	GetActive(ctx context.Context, tripID string) (Session, error)
	// Delete removes the trip's session, used on explicit end.
	Delete(ctx context.Context, tripID string) error
}
