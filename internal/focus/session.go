// Package focus coordinates ephemeral shared-focus sessions: one actor
// invites the rest of a trip to jointly view a section. Sessions are
// advisory and short-lived; the store is a plain key-value collaborator and
// the only query it must answer is "active session for trip X".
package focus

import (
	"time"
)

// Participant is one member of a session's roster, unique by actor.
type Participant struct {
	ActorID     string    `json:"actorId"`
	DisplayName string    `json:"displayName,omitempty"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Session is the full snapshot of one focus session. Snapshots are small, so
// the wire and the store both carry the whole thing rather than patches.
type Session struct {
	ID              string        `json:"id"`
	TripID          string        `json:"tripId"`
	InitiatorID     string        `json:"initiatorId"`
	TargetSectionID string        `json:"targetSectionId,omitempty"`
	TargetPath      string        `json:"targetPath,omitempty"`
	TargetLabel     string        `json:"targetLabel,omitempty"`
	Active          bool          `json:"active"`
	Message         string        `json:"message,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`
	Participants    []Participant `json:"participants"`
}

// Expired reports lazy expiry: a session past its deadline is inactive for
// every reader even before a teardown write lands.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// ActiveAt is the read-side liveness check combining the flag and expiry.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.Active && !s.Expired(now)
}

// Participant returns the entry for an actor, if present.
func (s *Session) Participant(actorID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ActorID == actorID {
			return p, true
		}
	}
	return Participant{}, false
}

// addParticipant appends an actor, idempotently: a second join for the same
// actor leaves the roster unchanged. It reports whether the roster grew.
func (s *Session) addParticipant(p Participant) bool {
	if _, ok := s.Participant(p.ActorID); ok {
		return false
	}
	s.Participants = append(s.Participants, p)
	return true
}

// removeParticipant drops an actor from the roster, reporting whether it was
// present. An emptied session stays active; only End or expiry finishes it.
func (s *Session) removeParticipant(actorID string) bool {
	for i, p := range s.Participants {
		if p.ActorID == actorID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *Session) Clone() Session {
	out := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	out.Participants = make([]Participant, len(s.Participants))
	copy(out.Participants, s.Participants)
	return out
}
