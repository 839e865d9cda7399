// Package directory is the user directory collaborator: it resolves actor
// IDs to display data that presence snapshots at join time. Presence
// tolerates staleness, so readers never block a roster render on this
// lookup.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tripweave/tripweave/presence-go/internal/typeid"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Snapshot is the denormalized slice of a user that presence records carry.
type Snapshot struct {
	DisplayName string
	AvatarRef   string
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) Create(ctx context.Context, email, passwordHash, displayName string) (User, error) {
	u := User{
		ID:          typeid.NewUserID(),
		Email:       email,
		DisplayName: displayName,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password, display_name) VALUES ($1, $2, $3, $4)`,
		u.ID, email, passwordHash, displayName)
	if err != nil {
		if isDuplicateKeyError(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetByEmail also returns the password hash for the auth service to verify.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, string, error) {
	var u User
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password, display_name, COALESCE(avatar_ref, '') FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Email, &hash, &u.DisplayName, &u.AvatarRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, "", ErrNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("get user by email: %w", err)
	}
	return u, hash, nil
}

func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, display_name, COALESCE(avatar_ref, '') FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Lookup resolves the presence snapshot for an actor. A missing user yields
// an empty snapshot rather than an error: the roster renders with what it
// has.
func (s *Service) Lookup(ctx context.Context, actorID string) Snapshot {
	u, err := s.GetByID(ctx, actorID)
	if err != nil {
		return Snapshot{}
	}
	return Snapshot{DisplayName: u.DisplayName, AvatarRef: u.AvatarRef}
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
