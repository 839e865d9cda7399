package trip

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tripweave/tripweave/presence-go/internal/auth"
	"github.com/tripweave/tripweave/presence-go/internal/directory"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	trip, err := h.service.Create(r.Context(), req.Name, actorID)
	if err != nil {
		slog.Error("create trip failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, trip)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	tripID := mux.Vars(r)["tripId"]

	trip, err := h.service.Get(r.Context(), tripID, actorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())

	trips, err := h.service.ListForActor(r.Context(), actorID)
	if err != nil {
		slog.Error("list trips failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, trips)
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	tripID := mux.Vars(r)["tripId"]

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	member, err := h.service.Invite(r.Context(), tripID, actorID, req.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no user with that email"})
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, member)
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	actorID := auth.ActorIDFromContext(r.Context())
	tripID := mux.Vars(r)["tripId"]

	members, err := h.service.ListMembers(r.Context(), tripID, actorID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrNotMember):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a trip member"})
	default:
		slog.Error("service error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
