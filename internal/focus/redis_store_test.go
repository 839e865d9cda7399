package focus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisStoreWithClient(client), s
}

func testSession(tripID string) Session {
	return Session{
		ID:          "fs_test",
		TripID:      tripID,
		InitiatorID: "user_alice",
		Active:      true,
		CreatedAt:   time.Now(),
		Participants: []Participant{
			{ActorID: "user_alice", DisplayName: "Alice", JoinedAt: time.Now()},
		},
	}
}

func TestSaveAndGetActive(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	sess := testSession("trip_42")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetActive(ctx, "trip_42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != sess.ID || got.InitiatorID != "user_alice" {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
}

func TestGetActiveMissing(t *testing.T) {
	store, _ := setupTestStore(t)
	_, err := store.GetActive(context.Background(), "trip_nope")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestSaveSupersedes(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first := testSession("trip_42")
	store.Save(ctx, first)

	second := testSession("trip_42")
	second.ID = "fs_newer"
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.GetActive(ctx, "trip_42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "fs_newer" {
		t.Errorf("one active session per trip: expected fs_newer, got %s", got.ID)
	}
}

func TestExpiryViaTTL(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	sess := testSession("trip_42")
	exp := time.Now().Add(time.Minute)
	sess.ExpiresAt = &exp
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.GetActive(ctx, "trip_42"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("expired session should be gone, got %v", err)
	}
}

func TestSaveAlreadyExpiredRejected(t *testing.T) {
	store, _ := setupTestStore(t)

	sess := testSession("trip_42")
	exp := time.Now().Add(-time.Minute)
	sess.ExpiresAt = &exp
	if err := store.Save(context.Background(), sess); err == nil {
		t.Error("saving an already-expired session should fail")
	}
}

func TestDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	store.Save(ctx, testSession("trip_42"))
	if err := store.Delete(ctx, "trip_42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetActive(ctx, "trip_42"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("deleted session should be gone, got %v", err)
	}
}

func TestInactiveSnapshotReadsAsAbsent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	sess := testSession("trip_42")
	sess.Active = false
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.GetActive(ctx, "trip_42"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("inactive snapshot must read as no session, got %v", err)
	}
}
