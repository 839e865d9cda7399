package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultLivenessTimeout is how long a record may go without a heartbeat
// before every reader treats it as absent.
const DefaultLivenessTimeout = 45 * time.Second

// Aggregator owns the authoritative roster of every scope the process
// observes: scopeID -> actorID -> Record. It is the single source of truth
// for presence; no other component mutates records directly. Each actor only
// ever writes its own key, so there is no cross-record transaction to worry
// about.
type Aggregator struct {
	mu      sync.RWMutex
	timeout time.Duration
	now     func() time.Time
	scopes  map[string]map[string]*Record
}

func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}
	return &Aggregator{
		timeout: timeout,
		now:     time.Now,
		scopes:  make(map[string]map[string]*Record),
	}
}

// Enter installs the initial record for an actor joining a scope, replacing
// any prior record under the same key.
func (a *Aggregator) Enter(rec Record) (Record, error) {
	rec.LastHeartbeat = a.now()
	if rec.Status == "" {
		rec.Status = StatusOnline
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	scope := a.scopes[rec.ScopeID]
	if scope == nil {
		scope = make(map[string]*Record)
		a.scopes[rec.ScopeID] = scope
	}
	stored := rec.Clone()
	scope[rec.ActorID] = &stored
	return rec, nil
}

// ApplyLocalChange merges a delta into the given actor's own record and
// returns the full merged record for the channel adapter to publish. The
// caller must only pass its own actorID; the aggregator never lets one
// actor's change touch another's key.
func (a *Aggregator) ApplyLocalChange(scopeID, actorID string, d Delta) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	scope := a.scopes[scopeID]
	if scope == nil {
		return Record{}, false
	}
	rec := scope[actorID]
	if rec == nil {
		return Record{}, false
	}
	rec.Apply(d, a.now())
	return rec.Clone(), true
}

// Heartbeat restamps the actor's liveness without other changes.
func (a *Aggregator) Heartbeat(scopeID, actorID string) (Record, bool) {
	return a.ApplyLocalChange(scopeID, actorID, Delta{})
}

// ApplyRemoteUpdate merges a remote actor's record into the roster,
// last-write-wins keyed on the heartbeat timestamp: a strictly newer record
// replaces, an equal or older one is dropped so out-of-order delivery cannot
// clobber fresher state. A nil record is a tombstone and removes the entry.
// It reports whether the roster changed.
func (a *Aggregator) ApplyRemoteUpdate(scopeID, actorID string, rec *Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	scope := a.scopes[scopeID]

	if rec == nil {
		if scope == nil {
			return false
		}
		if _, ok := scope[actorID]; !ok {
			return false
		}
		delete(scope, actorID)
		if len(scope) == 0 {
			delete(a.scopes, scopeID)
		}
		return true
	}

	if err := rec.Validate(); err != nil {
		slog.Warn("dropping invalid remote presence", "actor", actorID, "scope", scopeID, "error", err)
		return false
	}
	if !rec.Status.Live() {
		// An offline status on the wire is a tombstone in disguise.
		return a.applyTombstoneLocked(scope, scopeID, actorID)
	}

	if scope == nil {
		scope = make(map[string]*Record)
		a.scopes[scopeID] = scope
	}
	if prior, ok := scope[actorID]; ok && !rec.LastHeartbeat.After(prior.LastHeartbeat) {
		return false
	}
	stored := rec.Clone()
	scope[actorID] = &stored
	return true
}

func (a *Aggregator) applyTombstoneLocked(scope map[string]*Record, scopeID, actorID string) bool {
	if scope == nil {
		return false
	}
	if _, ok := scope[actorID]; !ok {
		return false
	}
	delete(scope, actorID)
	if len(scope) == 0 {
		delete(a.scopes, scopeID)
	}
	return true
}

// Remove discards an actor's record, used on explicit leave.
func (a *Aggregator) Remove(scopeID, actorID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applyTombstoneLocked(a.scopes[scopeID], scopeID, actorID)
}

// SweepStale removes every record whose heartbeat is older than the liveness
// timeout and returns the removed records. It runs on a periodic timer: the
// absence of a heartbeat is not itself an event, so it cannot be handled
// event-driven.
func (a *Aggregator) SweepStale(now time.Time) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	var removed []Record
	for scopeID, scope := range a.scopes {
		for actorID, rec := range scope {
			if rec.Stale(now, a.timeout) {
				removed = append(removed, rec.Clone())
				delete(scope, actorID)
			}
		}
		if len(scope) == 0 {
			delete(a.scopes, scopeID)
		}
	}
	return removed
}

// RosterFor returns the live records for a scope, sorted by actor for
// deterministic iteration. Records past the liveness timeout are excluded
// even if a sweep has not run yet.
func (a *Aggregator) RosterFor(scopeID string) []Record {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	scope := a.scopes[scopeID]
	if len(scope) == 0 {
		return nil
	}
	out := make([]Record, 0, len(scope))
	for _, rec := range scope {
		if rec.Stale(now, a.timeout) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// Get returns one actor's record if it is present and live.
func (a *Aggregator) Get(scopeID, actorID string) (Record, bool) {
	now := a.now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	scope := a.scopes[scopeID]
	if scope == nil {
		return Record{}, false
	}
	rec, ok := scope[actorID]
	if !ok || rec.Stale(now, a.timeout) {
		return Record{}, false
	}
	return rec.Clone(), true
}
