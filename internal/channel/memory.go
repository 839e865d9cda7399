package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tripweave/tripweave/presence-go/internal/presence"
)

var errNotJoined = errors.New("channel not joined")

const eventBuffer = 64

// Broker is an in-process broadcast medium: every member of a scope sees
// every other member's publishes. It backs tests and single-node loopback
// deployments where the relay and its clients share a process.
type Broker struct {
	mu     sync.RWMutex
	scopes map[string]map[*MemoryChannel]struct{}
}

func NewBroker() *Broker {
	return &Broker{scopes: make(map[string]map[*MemoryChannel]struct{})}
}

// Channel returns a new unjoined subscription handle.
func (b *Broker) Channel() *MemoryChannel {
	return &MemoryChannel{
		broker: b,
		events: make(chan Event, eventBuffer),
		states: make(chan ConnectionState, 4),
	}
}

func (b *Broker) join(m *MemoryChannel, scopeID string) []presence.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.scopes[scopeID]
	if members == nil {
		members = make(map[*MemoryChannel]struct{})
		b.scopes[scopeID] = members
	}

	// Snapshot current members so the joiner starts with a full roster. Each
	// peer's record is read under that peer's own lock: a concurrent Publish
	// mutates last in place.
	var roster []presence.Record
	for peer := range members {
		if rec, ok := peer.snapshot(); ok {
			roster = append(roster, rec)
		}
	}
	members[m] = struct{}{}
	return roster
}

func (b *Broker) leave(m *MemoryChannel, scopeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.scopes[scopeID]
	if members == nil {
		return
	}
	delete(members, m)
	if len(members) == 0 {
		delete(b.scopes, scopeID)
	}
}

func (b *Broker) broadcast(from *MemoryChannel, scopeID string, ev Event) {
	b.mu.RLock()
	peers := make([]*MemoryChannel, 0, len(b.scopes[scopeID]))
	for peer := range b.scopes[scopeID] {
		if peer != from {
			peers = append(peers, peer)
		}
	}
	b.mu.RUnlock()

	for _, peer := range peers {
		peer.deliver(ev)
	}
}

// MemoryChannel is a Broker subscription implementing Channel.
type MemoryChannel struct {
	broker *Broker

	mu      sync.Mutex
	scopeID string
	actorID string
	last    *presence.Record
	joined  bool
	closed  bool

	events chan Event
	states chan ConnectionState
}

func (m *MemoryChannel) Join(_ context.Context, local presence.Record) error {
	if local.Status == "" {
		local.Status = presence.StatusOnline
	}
	if local.LastHeartbeat.IsZero() {
		local.LastHeartbeat = time.Now()
	}
	if err := local.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.joined {
		m.mu.Unlock()
		return errors.New("channel already joined")
	}
	m.scopeID = local.ScopeID
	m.actorID = local.ActorID
	stored := local.Clone()
	m.last = &stored
	m.joined = true
	m.mu.Unlock()

	m.pushState(StateConnecting)
	roster := m.broker.join(m, local.ScopeID)
	m.pushState(StateConnected)

	// Existing peers arrive as ordinary events, same as a live update.
	for i := range roster {
		rec := roster[i]
		m.deliver(Event{ScopeID: local.ScopeID, ActorID: rec.ActorID, Record: &rec})
	}

	m.broker.broadcast(m, local.ScopeID, Event{ScopeID: local.ScopeID, ActorID: local.ActorID, Record: &local})
	return nil
}

func (m *MemoryChannel) Publish(_ context.Context, delta presence.Delta) {
	m.mu.Lock()
	if !m.joined || m.closed {
		m.mu.Unlock()
		return
	}
	m.last.Apply(delta, time.Now())
	out := m.last.Clone()
	scopeID, actorID := m.scopeID, m.actorID
	m.mu.Unlock()

	m.broker.broadcast(m, scopeID, Event{ScopeID: scopeID, ActorID: actorID, Record: &out})
}

func (m *MemoryChannel) Events() <-chan Event { return m.events }

func (m *MemoryChannel) States() <-chan ConnectionState { return m.states }

func (m *MemoryChannel) Leave(_ context.Context) error {
	m.mu.Lock()
	if !m.joined {
		m.mu.Unlock()
		return errNotJoined
	}
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	scopeID, actorID := m.scopeID, m.actorID
	m.mu.Unlock()

	m.broker.leave(m, scopeID)
	m.broker.broadcast(m, scopeID, Event{ScopeID: scopeID, ActorID: actorID, Record: nil})

	m.mu.Lock()
	select {
	case m.states <- StateDisconnected:
	default:
	}
	close(m.events)
	close(m.states)
	m.mu.Unlock()
	return nil
}

func (m *MemoryChannel) snapshot() (presence.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return presence.Record{}, false
	}
	return m.last.Clone(), true
}

// deliver sends under the lock so a concurrent Leave cannot close the event
// channel mid-send.
func (m *MemoryChannel) deliver(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		slog.Warn("presence event buffer full, dropping", "scope", ev.ScopeID, "actor", ev.ActorID)
	}
}

func (m *MemoryChannel) pushState(s ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.states <- s:
	default:
	}
}
