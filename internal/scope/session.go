// Package scope gives a client one handle per observed trip: an explicit,
// constructed session owning its aggregator and channel, created on scope
// entry and torn down on exit. There is no ambient singleton; everything the
// presence UI needs hangs off the Session.
package scope

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tripweave/tripweave/presence-go/internal/channel"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultSweepInterval     = 15 * time.Second
)

// Options tunes a session's timers. Zero values take defaults.
type Options struct {
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	CursorInterval    time.Duration
}

// Session is one actor's live view of one scope. All reads go through the
// aggregator it owns; all local mutations flow out through the channel.
type Session struct {
	ActorID string
	ScopeID string

	agg      *presence.Aggregator
	ch       channel.Channel
	resolver *presence.Resolver
	tracker  *presence.Tracker
	local    presence.Record

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	connState channel.ConnectionState
	closed    bool

	heartbeatEvery time.Duration
	sweepEvery     time.Duration
	cursorEvery    time.Duration
}

// Enter joins the scope's channel and starts the session's event pump. The
// aggregator is passed in rather than created here so callers control its
// liveness timeout and can share it across reads.
func Enter(ctx context.Context, agg *presence.Aggregator, ch channel.Channel, local presence.Record, opts Options) (*Session, error) {
	rec, err := agg.Enter(local)
	if err != nil {
		return nil, err
	}
	if err := ch.Join(ctx, rec); err != nil {
		agg.Remove(local.ScopeID, local.ActorID)
		return nil, err
	}

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.CursorInterval <= 0 {
		opts.CursorInterval = presence.DefaultCursorInterval
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ActorID:        local.ActorID,
		ScopeID:        local.ScopeID,
		agg:            agg,
		ch:             ch,
		resolver:       presence.NewResolver(agg),
		local:          rec,
		cancel:         cancel,
		done:           make(chan struct{}),
		connState:      channel.StateConnecting,
		heartbeatEvery: opts.HeartbeatInterval,
		sweepEvery:     opts.SweepInterval,
		cursorEvery:    opts.CursorInterval,
	}
	s.tracker = presence.NewTracker(opts.CursorInterval, func(d presence.Delta) {
		s.applyAndPublish(context.Background(), d)
	})

	go s.pump(pumpCtx)
	return s, nil
}

// pump is the session's single event loop: remote updates, connection state,
// heartbeats, stale sweeps, and cursor flushes all run here.
func (s *Session) pump(ctx context.Context) {
	defer close(s.done)

	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()
	sweep := time.NewTicker(s.sweepEvery)
	defer sweep.Stop()
	cursorFlush := time.NewTicker(s.cursorEvery)
	defer cursorFlush.Stop()

	events := s.ch.Events()
	states := s.ch.States()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ActorID == s.ActorID {
				continue
			}
			s.agg.ApplyRemoteUpdate(ev.ScopeID, ev.ActorID, ev.Record)

		case st, ok := <-states:
			if !ok {
				return
			}
			s.mu.Lock()
			s.connState = st
			s.mu.Unlock()

		case <-heartbeat.C:
			s.heartbeat(ctx)

		case now := <-sweep.C:
			s.agg.SweepStale(now)

		case <-cursorFlush.C:
			s.tracker.Flush()

		case <-ctx.Done():
			return
		}
	}
}

// heartbeat restamps the local record and publishes the liveness signal. If
// the record was swept while the process was suspended, the heartbeat
// re-enters the scope rather than going silent for good.
func (s *Session) heartbeat(ctx context.Context) {
	if _, ok := s.agg.Heartbeat(s.ScopeID, s.ActorID); !ok {
		if _, err := s.agg.Enter(s.local); err != nil {
			slog.Warn("re-enter scope", "error", err, "scope", s.ScopeID)
			return
		}
	}
	s.ch.Publish(ctx, presence.Delta{})
}

// Roster returns the scope's current live records.
func (s *Session) Roster() []presence.Record {
	return s.agg.RosterFor(s.ScopeID)
}

// Self returns the local actor's record.
func (s *Session) Self() (presence.Record, bool) {
	return s.agg.Get(s.ScopeID, s.ActorID)
}

// ConnectionState reports the channel's last known transport state.
func (s *Session) ConnectionState() channel.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// StartEditing asks the resolver for the soft lock on an item. Denial is a
// normal outcome carrying the competing editors for the UI's fallback badge;
// only on permit does the local status transition to editing.
func (s *Session) StartEditing(ctx context.Context, itemID string) presence.Decision {
	d := s.resolver.CheckEdit(s.ScopeID, itemID, s.ActorID)
	if !d.Allowed {
		return d
	}
	status := presence.StatusEditing
	s.applyAndPublish(ctx, presence.Delta{Status: &status, EditingItemID: &itemID})
	return d
}

// StopEditing reverts to online. It must run on every teardown path: an
// orphaned editing record blocks all other actors until the liveness sweep
// finally clears it.
func (s *Session) StopEditing(ctx context.Context) {
	status := presence.StatusOnline
	empty := ""
	s.applyAndPublish(ctx, presence.Delta{Status: &status, EditingItemID: &empty})
}

// EditorsOf lists the other live actors editing an item.
func (s *Session) EditorsOf(itemID string) []presence.Record {
	return s.resolver.Editors(s.ScopeID, itemID, s.ActorID)
}

// SetAway and SetActive are driven by the caller's idle detection. Away is a
// hint, not a lock state, and never combines with editing.
func (s *Session) SetAway(ctx context.Context) {
	status := presence.StatusAway
	s.applyAndPublish(ctx, presence.Delta{Status: &status})
}

func (s *Session) SetActive(ctx context.Context) {
	status := presence.StatusOnline
	s.applyAndPublish(ctx, presence.Delta{Status: &status})
}

// SetLocation publishes the sub-area of the scope the actor is viewing.
func (s *Session) SetLocation(ctx context.Context, pagePath, sectionPath string) {
	s.applyAndPublish(ctx, presence.Delta{PagePath: &pagePath, SectionPath: &sectionPath})
}

// SampleCursor feeds a normalized pointer position into the throttled
// tracker.
func (s *Session) SampleCursor(c presence.Cursor) {
	s.tracker.Sample(c)
}

// ClearCursor publishes an explicit no-cursor state on pointer leave or
// tracking disable.
func (s *Session) ClearCursor() {
	s.tracker.Clear()
}

// SectionCounts groups the roster by section path prefix.
func (s *Session) SectionCounts(sections []presence.Section) map[string]int {
	return presence.SectionCounts(s.Roster(), sections)
}

// Close tears the session down: stop editing first so no edit lock outlives
// the scope, then leave the channel, then stop the pump. Close is what scope
// exit must call unconditionally; cleanup failures are logged, not thrown,
// because the liveness sweep backstops them.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if self, ok := s.Self(); ok && self.Status == presence.StatusEditing {
		s.StopEditing(ctx)
	}

	if err := s.ch.Leave(ctx); err != nil {
		slog.Debug("channel leave", "error", err, "scope", s.ScopeID)
	}
	s.agg.Remove(s.ScopeID, s.ActorID)

	s.cancel()
	<-s.done
}

func (s *Session) applyAndPublish(ctx context.Context, d presence.Delta) {
	if _, ok := s.agg.ApplyLocalChange(s.ScopeID, s.ActorID, d); !ok {
		return
	}
	s.ch.Publish(ctx, d)
}
