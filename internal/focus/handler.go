package focus

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tripweave/tripweave/presence-go/internal/auth"
	"github.com/tripweave/tripweave/presence-go/internal/directory"
	"github.com/tripweave/tripweave/presence-go/internal/trip"
)

// Handler exposes focus-session mutations over REST. Mutations are
// membership-gated like the WebSocket join; failures come back as explicit,
// actionable JSON errors for the UI to retry.
type Handler struct {
	coord *Coordinator
	trips *trip.Service
	users *directory.Service
}

func NewHandler(coord *Coordinator, trips *trip.Service, users *directory.Service) *Handler {
	return &Handler{coord: coord, trips: trips, users: users}
}

type startRequest struct {
	TargetSectionID string `json:"targetSectionId,omitempty"`
	TargetPath      string `json:"targetPath,omitempty"`
	TargetLabel     string `json:"targetLabel,omitempty"`
	Message         string `json:"message,omitempty"`
	ExpiresInSec    int    `json:"expiresInSec,omitempty"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	tripID := mux.Vars(r)["tripId"]

	if err := h.trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		handleError(w, err)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sess, err := h.coord.Start(r.Context(), h.participant(r, actorID), StartParams{
		TripID:          tripID,
		TargetSectionID: req.TargetSectionID,
		TargetPath:      req.TargetPath,
		TargetLabel:     req.TargetLabel,
		Message:         req.Message,
		ExpiresIn:       time.Duration(req.ExpiresInSec) * time.Second,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	vars := mux.Vars(r)
	tripID, sessionID := vars["tripId"], vars["sessionId"]

	if err := h.trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		handleError(w, err)
		return
	}

	sess, err := h.coord.Join(r.Context(), tripID, sessionID, h.participant(r, actorID))
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	vars := mux.Vars(r)
	tripID, sessionID := vars["tripId"], vars["sessionId"]

	if err := h.trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		handleError(w, err)
		return
	}

	sess, err := h.coord.Leave(r.Context(), tripID, sessionID, actorID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	vars := mux.Vars(r)
	tripID, sessionID := vars["tripId"], vars["sessionId"]

	if err := h.trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		handleError(w, err)
		return
	}

	sess, err := h.coord.End(r.Context(), tripID, sessionID, actorID)
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	tripID := mux.Vars(r)["tripId"]

	if err := h.trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		handleError(w, err)
		return
	}

	sess, err := h.coord.Active(r.Context(), tripID)
	if errors.Is(err, ErrNoActiveSession) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": nil})
		return
	}
	if err != nil {
		handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"session": sess})
}

// participant snapshots the actor's display data from the directory; a
// stale or missing snapshot is fine, the roster renders what it has.
func (h *Handler) participant(r *http.Request, actorID string) Participant {
	snap := h.users.Lookup(r.Context(), actorID)
	return Participant{
		ActorID:     actorID,
		DisplayName: snap.DisplayName,
		AvatarRef:   snap.AvatarRef,
	}
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trip.ErrNotMember):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a trip member"})
	case errors.Is(err, ErrSessionMismatch), errors.Is(err, ErrNoActiveSession):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "focus session is no longer active"})
	case errors.Is(err, ErrNotInitiator):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only the initiator may end the session"})
	default:
		slog.Error("focus session operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "couldn't update focus session, try again"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
