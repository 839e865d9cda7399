package focus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mapStore is an in-memory Store for coordinator tests; failNext makes the
// next write fail to exercise the rollback path.
type mapStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	failNext error
}

func newMapStore() *mapStore {
	return &mapStore{sessions: make(map[string]Session)}
}

func (m *mapStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.sessions[s.TripID] = s.Clone()
	return nil
}

func (m *mapStore) GetActive(_ context.Context, tripID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tripID]
	if !ok {
		return Session{}, ErrNoActiveSession
	}
	return s.Clone(), nil
}

func (m *mapStore) Delete(_ context.Context, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	delete(m.sessions, tripID)
	return nil
}

type notified struct {
	events []string
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mapStore, *notified, *time.Time) {
	t.Helper()
	store := newMapStore()
	n := &notified{}
	c := NewCoordinator(store, func(event string, _ Session) {
		n.events = append(n.events, event)
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, store, n, &now
}

func alice() Participant { return Participant{ActorID: "user_alice", DisplayName: "Alice"} }
func carol() Participant { return Participant{ActorID: "user_carol", DisplayName: "Carol"} }

func TestStartCreatesActiveSession(t *testing.T) {
	c, _, n, _ := newTestCoordinator(t)
	ctx := context.Background()

	sess, err := c.Start(ctx, alice(), StartParams{TripID: "trip_42", Message: "Join me!"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sess.Active || sess.InitiatorID != "user_alice" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if len(sess.Participants) != 1 || sess.Participants[0].ActorID != "user_alice" {
		t.Errorf("initiator must be the sole participant, got %+v", sess.Participants)
	}

	got, err := c.Active(ctx, "trip_42")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("active session mismatch: %s vs %s", got.ID, sess.ID)
	}
	if st := c.LastOp("trip_42"); st.Phase != OpCommitted {
		t.Errorf("expected committed, got %s", st.Phase)
	}
	if len(n.events) != 1 || n.events[0] != EventStarted {
		t.Errorf("expected started notification, got %v", n.events)
	}
}

func TestStartSupersedesPriorSession(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	first, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42"})
	second, err := c.Start(ctx, carol(), StartParams{TripID: "trip_42"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	got, err := c.Active(ctx, "trip_42")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != second.ID || got.ID == first.ID {
		t.Error("a new session must supersede the prior active one")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	sess, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42"})

	if _, err := c.Join(ctx, "trip_42", sess.ID, carol()); err != nil {
		t.Fatalf("first join: %v", err)
	}
	got, err := c.Join(ctx, "trip_42", sess.ID, carol())
	if err != nil {
		t.Fatalf("second join: %v", err)
	}

	count := 0
	for _, p := range got.Participants {
		if p.ActorID == "user_carol" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("joining twice must leave one entry, got %d", count)
	}
}

func TestJoinWrongSessionID(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.Start(ctx, alice(), StartParams{TripID: "trip_42"})
	_, err := c.Join(ctx, "trip_42", "fs_stale", carol())
	if !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("expected ErrSessionMismatch, got %v", err)
	}
}

func TestLeaveKeepsEmptySessionActive(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	sess, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42"})
	got, err := c.Leave(ctx, "trip_42", sess.ID, "user_alice")
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if len(got.Participants) != 0 {
		t.Errorf("expected empty roster, got %+v", got.Participants)
	}
	if !got.Active {
		t.Error("an emptied session stays active until End or expiry")
	}
	if _, err := c.Active(ctx, "trip_42"); err != nil {
		t.Errorf("session should still be active: %v", err)
	}
}

func TestEndIsTerminal(t *testing.T) {
	c, _, n, _ := newTestCoordinator(t)
	ctx := context.Background()

	sess, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42"})

	if _, err := c.End(ctx, "trip_42", sess.ID, "user_carol"); !errors.Is(err, ErrNotInitiator) {
		t.Errorf("non-initiator end should fail, got %v", err)
	}

	got, err := c.End(ctx, "trip_42", sess.ID, "user_alice")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if got.Active {
		t.Error("ended session must be inactive")
	}
	if _, err := c.Active(ctx, "trip_42"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("no session should remain active, got %v", err)
	}
	if n.events[len(n.events)-1] != EventEnded {
		t.Errorf("expected ended notification, got %v", n.events)
	}

	if _, err := c.Join(ctx, "trip_42", sess.ID, carol()); err == nil {
		t.Error("joining an ended session must fail")
	}
}

func TestLazyExpiry(t *testing.T) {
	c, _, _, nowRef := newTestCoordinator(t)
	ctx := context.Background()

	sess, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42", ExpiresIn: 10 * time.Minute})

	*nowRef = nowRef.Add(11 * time.Minute)
	if _, err := c.Active(ctx, "trip_42"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expired session must read as inactive before any teardown write, got %v", err)
	}
	if _, err := c.Join(ctx, "trip_42", sess.ID, carol()); !errors.Is(err, ErrSessionMismatch) {
		t.Errorf("joining an expired session must fail, got %v", err)
	}
}

func TestFailedWriteRollsBack(t *testing.T) {
	c, store, n, _ := newTestCoordinator(t)
	ctx := context.Background()

	sess, _ := c.Start(ctx, alice(), StartParams{TripID: "trip_42"})

	store.failNext = errors.New("redis down")
	_, err := c.Join(ctx, "trip_42", sess.ID, carol())
	if err == nil {
		t.Fatal("join should surface the store failure")
	}

	st := c.LastOp("trip_42")
	if st.Phase != OpFailed || st.Err == nil {
		t.Errorf("failure must be captured in the op state, got %+v", st)
	}

	// The tentative join was rolled back.
	got, err := c.Active(ctx, "trip_42")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if _, ok := got.Participant("user_carol"); ok {
		t.Error("tentative participant must be rolled back on store failure")
	}

	// Only the start notification went out.
	for _, ev := range n.events {
		if ev == EventJoined {
			t.Error("failed mutation must not notify")
		}
	}
}
