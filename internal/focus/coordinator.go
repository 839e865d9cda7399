package focus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tripweave/tripweave/presence-go/internal/typeid"
)

var (
	// ErrSessionMismatch means the caller named a session that is no longer
	// the trip's active one.
	ErrSessionMismatch = errors.New("focus session mismatch")
	// ErrNotInitiator guards End, which only the initiator may call.
	ErrNotInitiator = errors.New("only the initiator may end a focus session")
)

// Notification event names, prefixed by the transport when broadcast.
const (
	EventStarted = "started"
	EventJoined  = "joined"
	EventLeft    = "left"
	EventEnded   = "ended"
)

// OpPhase tracks a mutation through its two-phase life: tentative local
// state first, then reconciled against the store result.
type OpPhase int

const (
	OpNone OpPhase = iota
	OpPending
	OpCommitted
	OpFailed
)

func (p OpPhase) String() string {
	switch p {
	case OpPending:
		return "pending"
	case OpCommitted:
		return "committed"
	case OpFailed:
		return "failed"
	}
	return "none"
}

// OpState is the per-trip outcome of the most recent mutation. Failures are
// captured here for the caller to render; nothing escapes as a panic or a
// stray goroutine error.
type OpState struct {
	Phase OpPhase
	Err   error
}

// StartParams describes a new session. ExpiresIn of zero means no deadline
// beyond the store's backstop TTL.
type StartParams struct {
	TripID          string
	TargetSectionID string
	TargetPath      string
	TargetLabel     string
	Message         string
	ExpiresIn       time.Duration
}

// Coordinator runs the per-trip session machine: none -> active ->
// (ended | expired). Mutations apply tentatively to the local view, then
// reconcile with the store write: commit keeps the tentative state and
// notifies, failure rolls back to the prior snapshot.
type Coordinator struct {
	store  Store
	notify func(event string, s Session)
	now    func() time.Time

	mu    sync.Mutex
	local map[string]*Session
	ops   map[string]OpState
}

func NewCoordinator(store Store, notify func(event string, s Session)) *Coordinator {
	if notify == nil {
		notify = func(string, Session) {}
	}
	return &Coordinator{
		store:  store,
		notify: notify,
		now:    time.Now,
		local:  make(map[string]*Session),
		ops:    make(map[string]OpState),
	}
}

// Start creates a new active session with the initiator as sole participant.
// A prior active session for the trip is superseded, keeping the at-most-one
// invariant without requiring an explicit End first.
func (c *Coordinator) Start(ctx context.Context, initiator Participant, p StartParams) (Session, error) {
	if p.TripID == "" {
		return Session{}, fmt.Errorf("start focus session: missing trip id")
	}
	now := c.now()
	initiator.JoinedAt = now

	sess := Session{
		ID:              typeid.NewFocusSessionID(),
		TripID:          p.TripID,
		InitiatorID:     initiator.ActorID,
		TargetSectionID: p.TargetSectionID,
		TargetPath:      p.TargetPath,
		TargetLabel:     p.TargetLabel,
		Active:          true,
		Message:         p.Message,
		CreatedAt:       now,
		Participants:    []Participant{initiator},
	}
	if p.ExpiresIn > 0 {
		exp := now.Add(p.ExpiresIn)
		sess.ExpiresAt = &exp
	}

	return c.mutate(ctx, p.TripID, EventStarted, func(*Session) (*Session, error) {
		next := sess.Clone()
		return &next, nil
	})
}

// Join adds the actor to the session's roster. Joining twice is a no-op that
// still commits, so retries are harmless.
func (c *Coordinator) Join(ctx context.Context, tripID, sessionID string, p Participant) (Session, error) {
	return c.mutate(ctx, tripID, EventJoined, func(cur *Session) (*Session, error) {
		if cur == nil || cur.ID != sessionID {
			return nil, ErrSessionMismatch
		}
		next := cur.Clone()
		p.JoinedAt = c.now()
		next.addParticipant(p)
		return &next, nil
	})
}

// Leave removes the actor. A session that empties out stays active; only End
// or expiry finishes it.
func (c *Coordinator) Leave(ctx context.Context, tripID, sessionID, actorID string) (Session, error) {
	return c.mutate(ctx, tripID, EventLeft, func(cur *Session) (*Session, error) {
		if cur == nil || cur.ID != sessionID {
			return nil, ErrSessionMismatch
		}
		next := cur.Clone()
		next.removeParticipant(actorID)
		return &next, nil
	})
}

// End is the terminal transition. Only the initiator may end a session.
func (c *Coordinator) End(ctx context.Context, tripID, sessionID, actorID string) (Session, error) {
	return c.mutate(ctx, tripID, EventEnded, func(cur *Session) (*Session, error) {
		if cur == nil || cur.ID != sessionID {
			return nil, ErrSessionMismatch
		}
		if cur.InitiatorID != actorID {
			return nil, ErrNotInitiator
		}
		next := cur.Clone()
		next.Active = false
		return &next, nil
	})
}

// Active returns the trip's live session, consulting the local view first
// and falling back to the store, with lazy expiry applied in both paths.
func (c *Coordinator) Active(ctx context.Context, tripID string) (Session, error) {
	now := c.now()

	c.mu.Lock()
	if cur, ok := c.local[tripID]; ok && cur.ActiveAt(now) {
		out := cur.Clone()
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	sess, err := c.store.GetActive(ctx, tripID)
	if err != nil {
		return Session{}, err
	}
	if !sess.ActiveAt(now) {
		return Session{}, ErrNoActiveSession
	}

	c.mu.Lock()
	cached := sess.Clone()
	c.local[tripID] = &cached
	c.mu.Unlock()
	return sess, nil
}

// ApplyRemote folds a session snapshot broadcast by another node into the
// local view. An inactive snapshot clears the trip's entry.
func (c *Coordinator) ApplyRemote(s Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.ActiveAt(c.now()) {
		delete(c.local, s.TripID)
		return
	}
	stored := s.Clone()
	c.local[s.TripID] = &stored
}

// LastOp reports the phase and captured error of the trip's most recent
// mutation.
func (c *Coordinator) LastOp(tripID string) OpState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ops[tripID]
}

// mutate runs the two-phase update: derive the next state from the current
// one, apply it tentatively, write to the store, then commit or roll back.
func (c *Coordinator) mutate(ctx context.Context, tripID, event string, step func(cur *Session) (*Session, error)) (Session, error) {
	cur, err := c.current(ctx, tripID)
	if err != nil && !errors.Is(err, ErrNoActiveSession) {
		c.setOp(tripID, OpState{Phase: OpFailed, Err: err})
		return Session{}, err
	}

	next, err := step(cur)
	if err != nil {
		c.setOp(tripID, OpState{Phase: OpFailed, Err: err})
		return Session{}, err
	}

	// Tentative apply so local readers see the change immediately.
	c.mu.Lock()
	prior := c.local[tripID]
	tentative := next.Clone()
	c.local[tripID] = &tentative
	c.ops[tripID] = OpState{Phase: OpPending}
	c.mu.Unlock()

	if event == EventEnded {
		err = c.store.Delete(ctx, tripID)
	} else {
		err = c.store.Save(ctx, *next)
	}
	if err != nil {
		// Roll back the tentative state.
		c.mu.Lock()
		if prior != nil {
			c.local[tripID] = prior
		} else {
			delete(c.local, tripID)
		}
		c.ops[tripID] = OpState{Phase: OpFailed, Err: err}
		c.mu.Unlock()
		return Session{}, err
	}

	c.mu.Lock()
	if !next.Active {
		delete(c.local, tripID)
	}
	c.ops[tripID] = OpState{Phase: OpCommitted}
	c.mu.Unlock()

	c.notify(event, next.Clone())
	return next.Clone(), nil
}

// current resolves the trip's current session for a mutation, local
// view first, store second.
func (c *Coordinator) current(ctx context.Context, tripID string) (*Session, error) {
	now := c.now()

	c.mu.Lock()
	if cur, ok := c.local[tripID]; ok && cur.ActiveAt(now) {
		out := cur.Clone()
		c.mu.Unlock()
		return &out, nil
	}
	c.mu.Unlock()

	sess, err := c.store.GetActive(ctx, tripID)
	if errors.Is(err, ErrNoActiveSession) {
		return nil, ErrNoActiveSession
	}
	if err != nil {
		return nil, err
	}
	if !sess.ActiveAt(now) {
		return nil, ErrNoActiveSession
	}
	return &sess, nil
}

func (c *Coordinator) setOp(tripID string, st OpState) {
	c.mu.Lock()
	c.ops[tripID] = st
	c.mu.Unlock()
}
