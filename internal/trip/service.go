// Package trip is the membership collaborator: it decides which actors may
// observe and publish presence for a trip. Authorization runs before the
// channel join; the presence core assumes a join that happened was allowed.
package trip

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripweave/tripweave/presence-go/internal/directory"
	"github.com/tripweave/tripweave/presence-go/internal/typeid"
)

var (
	ErrNotFound  = errors.New("trip not found")
	ErrNotMember = errors.New("not a trip member")
)

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type Trip struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	CreatedAt string `json:"createdAt"`
}

type Member struct {
	ActorID     string `json:"actorId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type Service struct {
	pool  *pgxpool.Pool
	users *directory.Service
}

func NewService(pool *pgxpool.Pool, users *directory.Service) *Service {
	return &Service{pool: pool, users: users}
}

func (s *Service) Create(ctx context.Context, name, ownerID string) (*Trip, error) {
	tripID := typeid.NewTripID()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var t Trip
	err = tx.QueryRow(ctx,
		`INSERT INTO trips (id, name, owner_id) VALUES ($1, $2, $3)
		 RETURNING id, name, owner_id, created_at::text`,
		tripID, name, ownerID).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trip_members (trip_id, actor_id, role) VALUES ($1, $2, $3)`,
		tripID, ownerID, RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("add owner as member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &t, nil
}

func (s *Service) Get(ctx context.Context, tripID, actorID string) (*Trip, error) {
	if err := s.RequireMember(ctx, tripID, actorID); err != nil {
		return nil, err
	}

	var t Trip
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, created_at::text FROM trips WHERE id = $1`,
		tripID).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return &t, nil
}

// RequireMember is the presence-join authorization check.
func (s *Service) RequireMember(ctx context.Context, tripID, actorID string) error {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM trip_members WHERE trip_id = $1 AND actor_id = $2`,
		tripID, actorID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotMember
	}
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	return nil
}

// Invite adds a user, looked up by email, as a member. The inviter must be a
// member already. Inviting an existing member is a no-op.
func (s *Service) Invite(ctx context.Context, tripID, inviterID, email string) (*Member, error) {
	if err := s.RequireMember(ctx, tripID, inviterID); err != nil {
		return nil, err
	}

	user, _, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO trip_members (trip_id, actor_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (trip_id, actor_id) DO NOTHING`,
		tripID, user.ID, RoleMember)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	return &Member{
		ActorID:     user.ID,
		Role:        RoleMember,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}, nil
}

func (s *Service) ListMembers(ctx context.Context, tripID, actorID string) ([]Member, error) {
	if err := s.RequireMember(ctx, tripID, actorID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.actor_id, m.role, u.display_name, u.email
		 FROM trip_members m JOIN users u ON u.id = m.actor_id
		 WHERE m.trip_id = $1 ORDER BY m.joined_at`,
		tripID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ActorID, &m.Role, &m.DisplayName, &m.Email); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Service) ListForActor(ctx context.Context, actorID string) ([]Trip, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.name, t.owner_id, t.created_at::text
		 FROM trips t JOIN trip_members m ON m.trip_id = t.id
		 WHERE m.actor_id = $1 ORDER BY t.created_at DESC`,
		actorID)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	var trips []Trip
	for rows.Next() {
		var t Trip
		if err := rows.Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}
