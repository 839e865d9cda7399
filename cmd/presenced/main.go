package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tripweave/tripweave/presence-go/internal/auth"
	"github.com/tripweave/tripweave/presence-go/internal/config"
	"github.com/tripweave/tripweave/presence-go/internal/db"
	"github.com/tripweave/tripweave/presence-go/internal/directory"
	"github.com/tripweave/tripweave/presence-go/internal/focus"
	mw "github.com/tripweave/tripweave/presence-go/internal/middleware"
	"github.com/tripweave/tripweave/presence-go/internal/presence"
	"github.com/tripweave/tripweave/presence-go/internal/relay"
	"github.com/tripweave/tripweave/presence-go/internal/trip"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	users := directory.NewService(pool)
	authService := auth.NewService(users, cfg.JWTSecret)
	authHandler := auth.NewHandler(authService)

	tripService := trip.NewService(pool, users)
	tripHandler := trip.NewHandler(tripService)

	roster := presence.NewAggregator(cfg.LivenessTimeout)
	hub := relay.NewHub(roster, cfg.SweepInterval)
	go hub.Run()

	focusStore, err := focus.NewRedisStore(cfg.RedisURL)
	if err != nil {
		slog.Error("connect to redis", "error", err)
		os.Exit(1)
	}
	defer focusStore.Close()

	coordinator := focus.NewCoordinator(focusStore, hub.BroadcastFocus)
	focusHandler := focus.NewHandler(coordinator, tripService, users)

	r := mux.NewRouter()

	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.CORS(cfg.AllowedOrigins))

	r.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	r.HandleFunc("/auth/login", authHandler.Login).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.Middleware)

	api.HandleFunc("/trips", tripHandler.List).Methods("GET")
	api.HandleFunc("/trips", tripHandler.Create).Methods("POST")
	api.HandleFunc("/trips/{tripId}", tripHandler.Get).Methods("GET")
	api.HandleFunc("/trips/{tripId}/invite", tripHandler.Invite).Methods("POST")
	api.HandleFunc("/trips/{tripId}/members", tripHandler.ListMembers).Methods("GET")

	api.HandleFunc("/trips/{tripId}/focus", focusHandler.GetActive).Methods("GET")
	api.HandleFunc("/trips/{tripId}/focus", focusHandler.Start).Methods("POST")
	api.HandleFunc("/trips/{tripId}/focus/{sessionId}/join", focusHandler.Join).Methods("POST")
	api.HandleFunc("/trips/{tripId}/focus/{sessionId}/leave", focusHandler.Leave).Methods("POST")
	api.HandleFunc("/trips/{tripId}/focus/{sessionId}", focusHandler.End).Methods("DELETE")

	originPatterns := wsOriginPatterns(cfg.AllowedOrigins)
	r.HandleFunc("/ws/trip/{tripId}", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, hub, authService, tripService, users, originPatterns)
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server")
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleWebSocket(w http.ResponseWriter, r *http.Request, hub *relay.Hub, authSvc *auth.Service, trips *trip.Service, users *directory.Service, originPatterns []string) {
	tripID := mux.Vars(r)["tripId"]

	// Browsers cannot set headers on a WebSocket handshake, so the token
	// rides a query parameter here.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	actorID, err := authSvc.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Membership is checked before the channel join; once a client is in a
	// room the presence core assumes it belongs there.
	if err := trips.RequireMember(r.Context(), tripID, actorID); err != nil {
		http.Error(w, "not a trip member", http.StatusForbidden)
		return
	}

	snap := users.Lookup(r.Context(), actorID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		slog.Error("websocket accept", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := relay.NewClient(hub, conn, actorID, snap.DisplayName, snap.AvatarRef, tripID, clientID)

	hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// wsOriginPatterns strips schemes off the configured origins; the websocket
// library matches host patterns only.
func wsOriginPatterns(allowedOrigins string) []string {
	var patterns []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		} else {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
